package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bounty-escrow/internal/auth"
	"bounty-escrow/internal/blockchain"
	"bounty-escrow/internal/models"
	"bounty-escrow/internal/services"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	agentService *services.AgentService
	loginMessage string
	logger       *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(agentService *services.AgentService, loginMessage string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		agentService: agentService,
		loginMessage: loginMessage,
		logger:       logger,
	}
}

// WalletLogin authenticates an agent by wallet address and a signature of
// the login message, registering it on first login.
// POST /auth/wallet
func (h *AuthHandler) WalletLogin(c *gin.Context) {
	var req struct {
		WalletAddress string           `json:"wallet_address" binding:"required"`
		Signature     string           `json:"signature" binding:"required"`
		Kind          models.AgentKind `json:"kind"`
		DisplayName   string           `json:"display_name"`
	}
	if !bind(c, &req) {
		return
	}

	if !blockchain.ValidateWalletAddress(req.WalletAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
		return
	}

	if err := auth.VerifyWalletSignature(req.WalletAddress, h.loginMessage, req.Signature); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrSignatureFailed) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	agent, err := h.agentService.ProcessWalletLogin(c.Request.Context(), req.WalletAddress, req.Kind, req.DisplayName)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := auth.GenerateToken(agent.ID, agent.WalletAddress)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"agent": agent,
	})
}

// Logout is client-side only for stateless JWTs
// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}

// GetMe returns the authenticated agent
// GET /auth/me
func (h *AuthHandler) GetMe(c *gin.Context) {
	agentID, ok := caller(c)
	if !ok {
		return
	}

	agent, err := h.agentService.GetAgentByID(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"agent": agent})
}
