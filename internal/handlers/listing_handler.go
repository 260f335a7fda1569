package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bounty-escrow/internal/models"
	"bounty-escrow/internal/services"
)

// ListingHandler handles listing endpoints
type ListingHandler struct {
	listingService *services.ListingService
	escrowService  *services.EscrowService
}

func NewListingHandler(listingService *services.ListingService, escrowService *services.EscrowService) *ListingHandler {
	return &ListingHandler{
		listingService: listingService,
		escrowService:  escrowService,
	}
}

// GetListings returns open listings
// GET /api/listings?limit=20&offset=0
func (h *ListingHandler) GetListings(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	listings, total, err := h.listingService.ListOpen(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetListing returns one listing
// GET /api/listings/:id
func (h *ListingHandler) GetListing(c *gin.Context) {
	listingID, ok := paramID(c, "id")
	if !ok {
		return
	}

	listing, err := h.listingService.Get(c.Request.Context(), listingID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// CreateListing publishes a listing owned by the caller
// POST /api/listings
func (h *ListingHandler) CreateListing(c *gin.Context) {
	ownerID, ok := caller(c)
	if !ok {
		return
	}
	var req models.CreateListingRequest
	if !bind(c, &req) {
		return
	}

	listing, err := h.listingService.Create(c.Request.Context(), ownerID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

// UpdateListing edits an open listing
// PATCH /api/listings/:id
func (h *ListingHandler) UpdateListing(c *gin.Context) {
	ownerID, ok := caller(c)
	if !ok {
		return
	}
	listingID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req models.UpdateListingRequest
	if !bind(c, &req) {
		return
	}

	listing, err := h.listingService.Update(c.Request.Context(), listingID, ownerID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// CloseListing withdraws an unassigned listing
// POST /api/listings/:id/close
func (h *ListingHandler) CloseListing(c *gin.Context) {
	ownerID, ok := caller(c)
	if !ok {
		return
	}
	listingID, ok := paramID(c, "id")
	if !ok {
		return
	}

	listing, err := h.listingService.Close(c.Request.Context(), listingID, ownerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// ClaimListing assigns a non-competition listing to the caller and opens its
// transaction
// POST /api/listings/:id/claim
func (h *ListingHandler) ClaimListing(c *gin.Context) {
	sellerID, ok := caller(c)
	if !ok {
		return
	}
	listingID, ok := paramID(c, "id")
	if !ok {
		return
	}

	tx, err := h.escrowService.Claim(c.Request.Context(), listingID, sellerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}
