package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/service"
	"github.com/rs/zerolog"
)

// RelayHandlers streams upstream calls back to relay clients
type RelayHandlers struct {
	gateway *service.GatewayService
	logger  zerolog.Logger
}

// NewRelayHandlers creates new relay handlers
func NewRelayHandlers(gateway *service.GatewayService, logger zerolog.Logger) *RelayHandlers {
	return &RelayHandlers{gateway: gateway, logger: logger}
}

// Relay forwards the request body upstream and streams the response as NDJSON.
// The capability is picked with the "capability" query parameter.
func (h *RelayHandlers) Relay(c *gin.Context) {
	capability, err := core.ParseCapability(c.Query("capability"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid capability"})
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	units, err := h.gateway.Relay(ctx, capability, payload, connected(ctx))
	if err != nil {
		var denial *core.DenialError
		switch {
		case errors.As(err, &denial):
			c.JSON(denial.StatusCode, gin.H{"error": denial.Kind.Reason(), "detail": denial.Message})
		case errors.Is(err, core.ErrNoTokenAvailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No token available"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream unavailable"})
		}
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	for unit, err := range units {
		if err != nil {
			h.logger.Warn().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("relay stream ended early")
			return
		}
		if _, err := c.Writer.Write(append(unit, '\n')); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

// connected reports the caller as gone once its request context is done
func connected(ctx context.Context) service.LivenessProbe {
	return func(context.Context) (bool, error) {
		select {
		case <-ctx.Done():
			return false, nil
		default:
			return true, nil
		}
	}
}
