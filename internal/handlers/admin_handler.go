package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bounty-escrow/internal/blockchain"
	"bounty-escrow/internal/jobs"
	"bounty-escrow/internal/models"
	"bounty-escrow/internal/services"
)

// Sweeper runs one dispute-window sweep on demand
type Sweeper interface {
	SweepOnce(ctx context.Context) (jobs.SweepResult, error)
}

// RailDiagnostics checks the funds rail's connectivity
type RailDiagnostics interface {
	RunDiagnostics(ctx context.Context) *blockchain.Diagnostics
}

// AdminHandler serves arbiter endpoints. Routes are guarded by
// auth.AdminMiddleware.
type AdminHandler struct {
	escrowService     *services.EscrowService
	reputationService *services.ReputationService
	sweeper           Sweeper
	diagnostics       RailDiagnostics // nil in dry-run mode
	logger            *zap.Logger
}

func NewAdminHandler(
	escrowService *services.EscrowService,
	reputationService *services.ReputationService,
	sweeper Sweeper,
	diagnostics RailDiagnostics,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		escrowService:     escrowService,
		reputationService: reputationService,
		sweeper:           sweeper,
		diagnostics:       diagnostics,
		logger:            logger,
	}
}

// ResolveDispute settles a disputed transaction as RELEASED or REFUNDED
// POST /api/admin/transactions/:id/resolve
func (h *AdminHandler) ResolveDispute(c *gin.Context) {
	arbiterID, ok := caller(c)
	if !ok {
		return
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req models.ResolveDisputeRequest
	if !bind(c, &req) {
		return
	}

	tx, err := h.escrowService.ResolveDispute(c.Request.Context(), txID, arbiterID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.Info("dispute resolved",
		zap.String("tx_id", txID.String()),
		zap.String("arbiter_id", arbiterID.String()),
		zap.String("outcome", string(req.Outcome)),
	)
	c.JSON(http.StatusOK, tx)
}

// Sweep runs the dispute-window sweep now
// POST /api/admin/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	result, err := h.sweeper.SweepOnce(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RefreshReputation recomputes one agent's reputation entry
// POST /api/admin/agents/:id/reputation/refresh
func (h *AdminHandler) RefreshReputation(c *gin.Context) {
	agentID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if _, err := h.reputationService.Refresh(c.Request.Context(), agentID); err != nil {
		respondError(c, err)
		return
	}
	view, err := h.reputationService.Score(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// RailStatus reports funds rail connectivity
// GET /api/admin/rail
func (h *AdminHandler) RailStatus(c *gin.Context) {
	if h.diagnostics == nil {
		c.JSON(http.StatusOK, gin.H{"mode": "dry-run"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":        "solana",
		"diagnostics": h.diagnostics.RunDiagnostics(c.Request.Context()),
	})
}
