package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/naivechain/internal/auth"
	"github.com/jmerrifield20/naivechain/internal/config"
	"go.uber.org/zap"
)

// PeerHandler lists connected peers and connects to new ones.
type PeerHandler struct {
	node   NodeService
	admin  *auth.Issuer
	logger *zap.Logger
}

// NewPeerHandler creates a PeerHandler.
func NewPeerHandler(n NodeService, admin *auth.Issuer, logger *zap.Logger) *PeerHandler {
	return &PeerHandler{node: n, admin: admin, logger: logger}
}

// Register mounts the peer routes on the given router group.
func (h *PeerHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/peers", h.ListPeers)
	rg.POST("/addPeer", auth.RequireAdmin(h.admin), h.AddPeer)
}

type addPeerRequest struct {
	Peer string `json:"peer" binding:"required"`
}

// ListPeers handles GET /peers: returns the remote address of every session.
func (h *PeerHandler) ListPeers(c *gin.Context) {
	peers, err := h.node.Peers(c.Request.Context())
	if err != nil {
		h.logger.Error("list peers", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node unavailable"})
		return
	}
	c.JSON(http.StatusOK, peers)
}

// AddPeer handles POST /addPeer: starts a connection attempt to the given
// ws:// address. The attempt completes in the background; a failure is only
// logged.
func (h *PeerHandler) AddPeer(c *gin.Context) {
	var req addPeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := config.ValidatePeerAddress(req.Peer); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.node.Connect([]string{req.Peer}); err != nil {
		h.logger.Error("add peer", zap.String("peer", req.Peer), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"peer": req.Peer, "status": "connecting"})
}

// AuthHandler exchanges the admin secret for an admin token.
type AuthHandler struct {
	admin  *auth.Issuer
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(admin *auth.Issuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{admin: admin, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.Token)
}

type tokenRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// Token handles POST /auth/token.
func (h *AuthHandler) Token(c *gin.Context) {
	if !h.admin.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "admin authentication is not enabled"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := h.admin.Exchange(req.Secret)
	if errors.Is(err, auth.ErrBadSecret) {
		h.logger.Warn("admin token request with wrong secret", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
		return
	}
	if err != nil {
		h.logger.Error("issue admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}
