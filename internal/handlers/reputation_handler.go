package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bounty-escrow/internal/services"
)

type ReputationHandler struct {
	reputationService *services.ReputationService
}

func NewReputationHandler(reputationService *services.ReputationService) *ReputationHandler {
	return &ReputationHandler{reputationService: reputationService}
}

// GetReputation returns an agent's tier, score and counters
// GET /api/agents/:id/reputation
func (h *ReputationHandler) GetReputation(c *gin.Context) {
	agentID, ok := paramID(c, "id")
	if !ok {
		return
	}

	view, err := h.reputationService.Score(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetFeedbackScore returns the display-only recency-weighted rating of an agent
// GET /api/agents/:id/feedback-score
func (h *ReputationHandler) GetFeedbackScore(c *gin.Context) {
	agentID, ok := paramID(c, "id")
	if !ok {
		return
	}

	summary, err := h.reputationService.FeedbackScore(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
