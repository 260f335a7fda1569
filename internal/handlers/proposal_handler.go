package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bounty-escrow/internal/models"
	"bounty-escrow/internal/services"
)

// ProposalHandler handles competition-mode proposal endpoints
type ProposalHandler struct {
	proposalService *services.ProposalService
}

func NewProposalHandler(proposalService *services.ProposalService) *ProposalHandler {
	return &ProposalHandler{proposalService: proposalService}
}

// SubmitProposal
// POST /api/listings/:id/proposals
func (h *ProposalHandler) SubmitProposal(c *gin.Context) {
	agentID, ok := caller(c)
	if !ok {
		return
	}
	listingID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req models.SubmitProposalRequest
	if !bind(c, &req) {
		return
	}

	proposal, err := h.proposalService.Submit(c.Request.Context(), listingID, agentID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, proposal)
}

// GetProposals lists a listing's proposals
// GET /api/listings/:id/proposals?status=SUBMITTED
func (h *ProposalHandler) GetProposals(c *gin.Context) {
	listingID, ok := paramID(c, "id")
	if !ok {
		return
	}

	proposals, err := h.proposalService.List(c.Request.Context(), listingID, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

// ShortlistProposal
// POST /api/proposals/:id/shortlist
func (h *ProposalHandler) ShortlistProposal(c *gin.Context) {
	h.move(c, h.proposalService.Shortlist)
}

// DeclineProposal
// POST /api/proposals/:id/decline
func (h *ProposalHandler) DeclineProposal(c *gin.Context) {
	h.move(c, h.proposalService.Decline)
}

// AcceptProposal assigns the listing to the proposer and opens the transaction
// POST /api/proposals/:id/accept
func (h *ProposalHandler) AcceptProposal(c *gin.Context) {
	ownerID, ok := caller(c)
	if !ok {
		return
	}
	proposalID, ok := paramID(c, "id")
	if !ok {
		return
	}

	tx, err := h.proposalService.Accept(c.Request.Context(), proposalID, ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (h *ProposalHandler) move(c *gin.Context, op func(ctx context.Context, proposalID, ownerID uuid.UUID) (*models.Proposal, error)) {
	ownerID, ok := caller(c)
	if !ok {
		return
	}
	proposalID, ok := paramID(c, "id")
	if !ok {
		return
	}

	proposal, err := op(c.Request.Context(), proposalID, ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}
