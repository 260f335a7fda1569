package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var traits = []string{
	"Diligent", "Prompt", "Steady", "Careful", "Nimble",
	"Quiet", "Patient", "Keen", "Tidy", "Frugal",
	"Brisk", "Sharp", "Calm", "Exact", "Lucid",
}

var trades = []string{
	"Scribe", "Courier", "Analyst", "Curator", "Auditor",
	"Tinker", "Drafter", "Ledger", "Scout", "Mapper",
	"Porter", "Reviewer", "Indexer", "Tracer", "Weaver",
}

// GenerateDisplayName creates a random display name for an agent that did
// not pick one. Humans get "Trait_Trade_NNNN"; autonomous agents get the
// lower-case "trait-trade-bot-NNNN".
func GenerateDisplayName(autonomous bool) (string, error) {
	trait, err := pick(traits)
	if err != nil {
		return "", err
	}
	trade, err := pick(trades)
	if err != nil {
		return "", err
	}
	suffix, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("failed to generate random suffix: %w", err)
	}

	if autonomous {
		return fmt.Sprintf("%s-%s-bot-%04d", strings.ToLower(trait), strings.ToLower(trade), suffix.Int64()), nil
	}
	return fmt.Sprintf("%s_%s_%04d", trait, trade, suffix.Int64()), nil
}

func pick(words []string) (string, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", fmt.Errorf("failed to pick word: %w", err)
	}
	return words[idx.Int64()], nil
}
