// Package api is the node's administrative HTTP surface. It lets an operator
// inspect the chain, mine blocks, and manage peer connections. It only talks
// to the node through the narrow NodeService interface.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/naivechain/internal/auth"
	"github.com/jmerrifield20/naivechain/internal/ledger"
	"github.com/jmerrifield20/naivechain/internal/node"
	"go.uber.org/zap"
)

// NodeService is the subset of *node.Node used by the handlers.
type NodeService interface {
	Blocks(ctx context.Context) ([]ledger.Block, error)
	Block(ctx context.Context, index int64) (ledger.Block, error)
	Summary(ctx context.Context) (node.Summary, error)
	Verify(ctx context.Context) (node.Verification, error)
	Mine(ctx context.Context, data string) (ledger.Block, error)
	Peers(ctx context.Context) ([]string, error)
	Connect(addresses []string) error
}

// ChainHandler exposes the chain read endpoints and block mining.
type ChainHandler struct {
	node   NodeService
	admin  *auth.Issuer
	logger *zap.Logger
}

// NewChainHandler creates a ChainHandler.
func NewChainHandler(n NodeService, admin *auth.Issuer, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{node: n, admin: admin, logger: logger}
}

// Register mounts the chain routes on the given router group.
func (h *ChainHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/blocks", h.ListBlocks)
	rg.GET("/blocks/:index", h.GetBlock)
	rg.POST("/mineBlock", auth.RequireAdmin(h.admin), h.MineBlock)

	c := rg.Group("/chain")
	{
		c.GET("", h.Overview)
		c.GET("/verify", h.Verify)
	}
}

type mineRequest struct {
	Data string `json:"data"`
}

// ListBlocks handles GET /blocks: returns the whole chain.
func (h *ChainHandler) ListBlocks(c *gin.Context) {
	blocks, err := h.node.Blocks(c.Request.Context())
	if err != nil {
		h.unavailable(c, "list blocks", err)
		return
	}
	c.JSON(http.StatusOK, blocks)
}

// GetBlock handles GET /blocks/:index: returns a single block.
func (h *ChainHandler) GetBlock(c *gin.Context) {
	idx, err := strconv.ParseInt(c.Param("index"), 10, 64)
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a non-negative integer"})
		return
	}

	b, err := h.node.Block(c.Request.Context(), idx)
	if errors.Is(err, ledger.ErrBlockNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "block not found"})
		return
	}
	if err != nil {
		h.unavailable(c, "get block", err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// MineBlock handles POST /mineBlock: builds a block carrying the supplied
// data on top of the tip, appends it, and announces it to all peers.
func (h *ChainHandler) MineBlock(c *gin.Context) {
	var req mineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b, err := h.node.Mine(c.Request.Context(), req.Data)
	if errors.Is(err, node.ErrMineFailed) {
		h.logger.Error("mined block rejected by ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mined block was rejected"})
		return
	}
	if err != nil {
		h.unavailable(c, "mine block", err)
		return
	}
	h.logger.Info("block added", zap.Int64("index", b.Index), zap.String("hash", b.Hash))
	c.JSON(http.StatusOK, b)
}

// Overview handles GET /chain: returns the chain length, tip and peer count.
func (h *ChainHandler) Overview(c *gin.Context) {
	s, err := h.node.Summary(c.Request.Context())
	if err != nil {
		h.unavailable(c, "chain summary", err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Verify handles GET /chain/verify: walks the held chain and reports integrity.
func (h *ChainHandler) Verify(c *gin.Context) {
	v, err := h.node.Verify(c.Request.Context())
	if err != nil {
		h.unavailable(c, "verify chain", err)
		return
	}
	if !v.Valid {
		h.logger.Warn("chain integrity check failed", zap.String("error", v.Error))
	}
	c.JSON(http.StatusOK, v)
}

func (h *ChainHandler) unavailable(c *gin.Context, op string, err error) {
	h.logger.Error(op, zap.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node unavailable"})
}
