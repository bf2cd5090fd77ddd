package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Sternrassler/learnforge/pkg/cache"
	"github.com/Sternrassler/learnforge/pkg/gateway"
	"github.com/Sternrassler/learnforge/pkg/telemetry"
	"github.com/gin-gonic/gin"
)

func (s *Server) health(c *gin.Context) {
	stats := s.svc.CacheStats()
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"durable_configured": stats.DurableConfigured,
		"durable_available":  stats.DurableAvailable,
	})
}

func (s *Server) generate(c *gin.Context) {
	var req gateway.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req.Identity = s.svc.Resolve(credential(c), c.ClientIP())

	resp := s.svc.Handle(c.Request.Context(), req)

	switch resp.Status {
	case gateway.StatusOK, gateway.StatusPartialFailure:
		c.JSON(http.StatusOK, resp)
	case gateway.StatusDenied:
		c.Header("Retry-After", strconv.Itoa(max(resp.RetryAfterSeconds, 1)))
		c.JSON(http.StatusTooManyRequests, resp)
	default:
		status := http.StatusBadGateway
		if errors.Is(resp.Err, gateway.ErrInvalidInput) || errors.Is(resp.Err, gateway.ErrUnknownOperation) {
			status = http.StatusBadRequest
		}
		if resp.Err != nil {
			_ = c.Error(resp.Err)
		}
		c.JSON(status, resp)
	}
}

// telemetryResponse is the telemetry snapshot plus the cache counters.
type telemetryResponse struct {
	telemetry.Stats
	Cache cache.Stats `json:"cache"`
}

func (s *Server) telemetrySnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, telemetryResponse{
		Stats: s.svc.Stats(),
		Cache: s.svc.CacheStats(),
	})
}

type invalidateRequest struct {
	Namespace string            `json:"namespace"`
	Operation gateway.Operation `json:"operation"`
	Topic     string            `json:"topic"`
}

func (s *Server) invalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	namespace := req.Namespace
	var err error
	if namespace != "" {
		err = s.svc.Invalidate(ctx, namespace)
	} else {
		namespace, err = s.svc.InvalidateTopic(ctx, req.Operation, req.Topic)
	}

	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"namespace": namespace, "status": "invalidated"})
	case errors.Is(err, cache.ErrCacheUnavailable):
		// The local bump took effect; other replicas catch up when their
		// local entries expire.
		c.JSON(http.StatusAccepted, gin.H{
			"namespace": namespace,
			"status":    "invalidated_locally",
			"warning":   err.Error(),
		})
	case errors.Is(err, gateway.ErrInvalidInput), errors.Is(err, gateway.ErrUnknownOperation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
