package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bounty-escrow/internal/models"
	"bounty-escrow/internal/services"
)

// TransactionHandler handles escrow transaction endpoints
type TransactionHandler struct {
	escrowService     *services.EscrowService
	reputationService *services.ReputationService
}

func NewTransactionHandler(escrowService *services.EscrowService, reputationService *services.ReputationService) *TransactionHandler {
	return &TransactionHandler{
		escrowService:     escrowService,
		reputationService: reputationService,
	}
}

// GetMyTransactions lists the caller's transactions as buyer or seller
// GET /api/transactions?limit=20&offset=0
func (h *TransactionHandler) GetMyTransactions(c *gin.Context) {
	agentID, ok := caller(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := h.escrowService.ListForAgent(c.Request.Context(), agentID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// GetTransaction returns state, history and remaining dispute minutes
// GET /api/transactions/:id
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	txID, ok := paramID(c, "id")
	if !ok {
		return
	}

	status, err := h.escrowService.Status(c.Request.Context(), txID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// FundTransaction records the buyer's funding
// POST /api/transactions/:id/fund
func (h *TransactionHandler) FundTransaction(c *gin.Context) {
	buyerID, ok := caller(c)
	if !ok {
		return
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req models.FundRequest
	if !bind(c, &req) {
		return
	}

	tx, err := h.escrowService.ConfirmFunding(c.Request.Context(), txID, buyerID, req.FundingRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// DeliverTransaction starts the dispute window
// POST /api/transactions/:id/deliver
func (h *TransactionHandler) DeliverTransaction(c *gin.Context) {
	sellerID, ok := caller(c)
	if !ok {
		return
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req models.DeliverRequest
	if !bind(c, &req) {
		return
	}

	tx, err := h.escrowService.Deliver(c.Request.Context(), txID, sellerID, req.Deliverable)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ReleaseTransaction pays the seller on the buyer's approval
// POST /api/transactions/:id/release
func (h *TransactionHandler) ReleaseTransaction(c *gin.Context) {
	buyerID, ok := caller(c)
	if !ok {
		return
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return
	}

	tx, err := h.escrowService.Release(c.Request.Context(), txID, buyerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// DisputeTransaction
// POST /api/transactions/:id/dispute
func (h *TransactionHandler) DisputeTransaction(c *gin.Context) {
	buyerID, ok := caller(c)
	if !ok {
		return
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req models.DisputeRequest
	if !bind(c, &req) {
		return
	}

	tx, err := h.escrowService.Dispute(c.Request.Context(), txID, buyerID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// SubmitFeedback rates the seller of a released transaction
// POST /api/transactions/:id/feedback
func (h *TransactionHandler) SubmitFeedback(c *gin.Context) {
	buyerID, ok := caller(c)
	if !ok {
		return
	}
	txID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req models.FeedbackRequest
	if !bind(c, &req) {
		return
	}

	feedback, err := h.reputationService.SubmitFeedback(c.Request.Context(), txID, buyerID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, feedback)
}
