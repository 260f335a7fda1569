package reputation

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const maxScore = 5.0

// Stats are the aggregate transaction outcomes of one agent.
type Stats struct {
	Total              int64
	Released           int64
	Disputed           int64
	Refunded           int64
	Volume             decimal.Decimal // USD-equivalent
	AvgCompletionHours float64
}

// Breakdown explains how a score was reached.
type Breakdown struct {
	SuccessRate float64 `json:"success_rate"`
	DisputeRate float64 `json:"dispute_rate"`
	VolumeBonus float64 `json:"volume_bonus"`
	SpeedBonus  float64 `json:"speed_bonus"`
	RawScore    float64 `json:"raw_score"`
}

// Result is the output of the counts-based scoring path.
type Result struct {
	Score            float64   `json:"score"`
	Tier             Tier      `json:"tier"`
	TransactionCount int64     `json:"transaction_count"`
	Breakdown        Breakdown `json:"breakdown"`
}

// Engine scores agents. It is pure and safe for concurrent use.
type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the policy the engine was built with.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Score computes the counts-based score and tier. This is the only path that
// may feed escrow policy.
func (e *Engine) Score(s Stats) Result {
	var b Breakdown
	if s.Total > 0 {
		b.SuccessRate = float64(s.Released) / float64(s.Total)
		b.DisputeRate = float64(s.Disputed) / float64(s.Total)
	}

	for _, threshold := range e.policy.VolumeBonusThresholds {
		if s.Volume.GreaterThan(decimal.NewFromFloat(threshold)) {
			b.VolumeBonus += e.policy.BonusStep
		}
	}
	if s.AvgCompletionHours > 0 && s.AvgCompletionHours < e.policy.FastCompletionHours {
		b.SpeedBonus = e.policy.BonusStep
	}

	b.RawScore = maxScore*b.SuccessRate - 2*b.DisputeRate + b.VolumeBonus + b.SpeedBonus
	score := math.Max(0, math.Min(maxScore, b.RawScore))

	return Result{
		Score:            score,
		Tier:             e.TierFor(score, s.Total),
		TransactionCount: s.Total,
		Breakdown:        b,
	}
}

// TierFor assigns a tier; the order of checks matters.
func (e *Engine) TierFor(score float64, total int64) Tier {
	p := e.policy
	switch {
	case total < p.NewCount:
		return TierNew
	case score >= p.TrustedScore && total >= p.TrustedCount:
		return TierTrusted
	case score >= p.ReliableScore && total >= p.ReliableCount:
		return TierReliable
	case score >= p.StandardScore:
		return TierStandard
	default:
		return TierCaution
	}
}

// DisputeWindowHours maps a tier to the buyer protection window. Unknown
// tiers get the most protective window.
func (e *Engine) DisputeWindowHours(t Tier) int {
	if h, ok := e.policy.DisputeWindowByTier[t]; ok {
		return h
	}
	return e.policy.DisputeWindowByTier[TierCaution]
}

// VolumeUSD converts a minor-unit amount to USD.
func (e *Engine) VolumeUSD(minorUnits int64) decimal.Decimal {
	return decimal.NewFromInt(minorUnits).Div(decimal.NewFromInt(e.policy.MinorUnitsPerUSD))
}

// Rating is one feedback entry for the display-only score.
type Rating struct {
	Rating    int
	CreatedAt time.Time
}

// FeedbackScore returns the recency-weighted average rating, oldest entries
// weighted RecencyMin and newest RecencyMax. ok is false without entries.
// Display only: never feed this into escrow policy.
func (e *Engine) FeedbackScore(entries []Rating) (avg float64, ok bool) {
	if len(entries) == 0 {
		return 0, false
	}

	sorted := make([]Rating, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	n := len(sorted)
	var weighted, total float64
	for i, r := range sorted {
		w := e.policy.RecencyMax
		if n > 1 {
			w = e.policy.RecencyMin + (e.policy.RecencyMax-e.policy.RecencyMin)*float64(i)/float64(n-1)
		}
		weighted += w * float64(r.Rating)
		total += w
	}
	return weighted / total, true
}
