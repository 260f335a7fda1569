package handlers

import (
	"github.com/gin-gonic/gin"

	"bounty-escrow/internal/auth"
)

// Set groups the handlers RegisterRoutes mounts
type Set struct {
	Auth         *AuthHandler
	Listings     *ListingHandler
	Proposals    *ProposalHandler
	Transactions *TransactionHandler
	Reputation   *ReputationHandler
	Admin        *AdminHandler
	Health       *HealthHandler
}

// RegisterRoutes mounts the public, authenticated and admin routes
func RegisterRoutes(router *gin.Engine, h Set, isAdmin func(wallet string) bool) {
	router.GET("/health", h.Health.Health)

	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/wallet", h.Auth.WalletLogin)
		authRoutes.POST("/logout", h.Auth.Logout)
		authRoutes.GET("/me", auth.AuthMiddleware(), h.Auth.GetMe)
	}

	// Public read endpoints
	router.GET("/api/listings", h.Listings.GetListings)
	router.GET("/api/listings/:id", h.Listings.GetListing)
	router.GET("/api/listings/:id/proposals", h.Proposals.GetProposals)
	router.GET("/api/agents/:id/reputation", h.Reputation.GetReputation)
	router.GET("/api/agents/:id/feedback-score", h.Reputation.GetFeedbackScore)

	api := router.Group("/api")
	api.Use(auth.AuthMiddleware())
	{
		api.POST("/listings", h.Listings.CreateListing)
		api.PATCH("/listings/:id", h.Listings.UpdateListing)
		api.POST("/listings/:id/close", h.Listings.CloseListing)
		api.POST("/listings/:id/claim", h.Listings.ClaimListing)
		api.POST("/listings/:id/proposals", h.Proposals.SubmitProposal)

		api.POST("/proposals/:id/shortlist", h.Proposals.ShortlistProposal)
		api.POST("/proposals/:id/decline", h.Proposals.DeclineProposal)
		api.POST("/proposals/:id/accept", h.Proposals.AcceptProposal)

		api.GET("/transactions", h.Transactions.GetMyTransactions)
		api.GET("/transactions/:id", h.Transactions.GetTransaction)
		api.POST("/transactions/:id/fund", h.Transactions.FundTransaction)
		api.POST("/transactions/:id/deliver", h.Transactions.DeliverTransaction)
		api.POST("/transactions/:id/release", h.Transactions.ReleaseTransaction)
		api.POST("/transactions/:id/dispute", h.Transactions.DisputeTransaction)
		api.POST("/transactions/:id/feedback", h.Transactions.SubmitFeedback)
	}

	admin := router.Group("/api/admin")
	admin.Use(auth.AuthMiddleware(), auth.AdminMiddleware(isAdmin))
	{
		admin.POST("/transactions/:id/resolve", h.Admin.ResolveDispute)
		admin.POST("/sweep", h.Admin.Sweep)
		admin.POST("/agents/:id/reputation/refresh", h.Admin.RefreshReputation)
		admin.GET("/rail", h.Admin.RailStatus)
	}
}
