package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/service"
	"golang.org/x/time/rate"
)

// Health reports that the process is serving
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ClearanceHandlers contains HTTP handlers for clearance endpoints
type ClearanceHandlers struct {
	clearance   *service.ClearanceService
	coordinator *service.FailureCoordinator
	limiter     *rate.Limiter
}

// NewClearanceHandlers creates new clearance handlers
func NewClearanceHandlers(clearance *service.ClearanceService, coordinator *service.FailureCoordinator, limiter *rate.Limiter) *ClearanceHandlers {
	return &ClearanceHandlers{
		clearance:   clearance,
		coordinator: coordinator,
		limiter:     limiter,
	}
}

// Status returns the clearance cache snapshot
func (h *ClearanceHandlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.clearance.Stats(),
	})
}

// Refresh forces a clearance refresh, joining one already in flight
func (h *ClearanceHandlers) Refresh(c *gin.Context) {
	if !h.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"message": core.ErrRefreshThrottled.Error(),
		})
		return
	}

	if !h.coordinator.NotifyPossibleChallengeBlock(c.Request.Context()) {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": "Clearance refresh failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Clearance refreshed",
	})
}

// TokenHandlers contains HTTP handlers for token administration
type TokenHandlers struct {
	pool *service.TokenPool
}

// NewTokenHandlers creates new token handlers
func NewTokenHandlers(pool *service.TokenPool) *TokenHandlers {
	return &TokenHandlers{pool: pool}
}

// List returns every token in the pool
func (h *TokenHandlers) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.pool.List(),
		"counts":  h.pool.Counts(),
	})
}

// Add registers a token
func (h *TokenHandlers) Add(c *gin.Context) {
	var req struct {
		Token  string                  `json:"token" binding:"required"`
		Tier   string                  `json:"tier"`
		Quotas map[core.Capability]int `json:"quotas"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	tier := core.TierStandard
	if req.Tier != "" {
		var err error
		if tier, err = core.ParseTier(req.Tier); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tier"})
			return
		}
	}

	ctx := c.Request.Context()
	token, err := h.pool.Add(ctx, req.Token, tier)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Failed to add token"

		switch {
		case errors.Is(err, core.ErrTokenExists):
			statusCode = http.StatusConflict
			errorMsg = "Token already exists"
		case errors.Is(err, core.ErrInvalidToken):
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid token"
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	for name, remaining := range req.Quotas {
		capability, err := core.ParseCapability(string(name))
		if err != nil {
			continue
		}
		if err := h.pool.UpdateQuota(ctx, token.ID, capability, remaining); err == nil {
			token.Quotas[capability] = remaining
		}
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": token})
}

// Delete removes a token
func (h *TokenHandlers) Delete(c *gin.Context) {
	if err := h.pool.Delete(c.Request.Context(), c.Param("id")); err != nil {
		tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Token deleted"})
}

// Reset clears the failure history of a token
func (h *TokenHandlers) Reset(c *gin.Context) {
	if err := h.pool.ResetFailure(c.Request.Context(), c.Param("id")); err != nil {
		tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Token failures reset"})
}

// UpdateQuota sets the remaining quota of a token for one capability
func (h *TokenHandlers) UpdateQuota(c *gin.Context) {
	var req struct {
		Capability string `json:"capability"`
		Remaining  *int   `json:"remaining" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	capability, err := core.ParseCapability(req.Capability)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid capability"})
		return
	}

	if err := h.pool.UpdateQuota(c.Request.Context(), c.Param("id"), capability, *req.Remaining); err != nil {
		tokenError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Quota updated"})
}

func tokenError(c *gin.Context, err error) {
	if errors.Is(err, core.ErrTokenNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Token not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Token operation failed"})
}
