// Package v1 provides the public HTTP API.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/carechat/internal/domain"
	"github.com/xiaot623/carechat/internal/service"
)

// ConnectionStats reports live WebSocket usage.
type ConnectionStats interface {
	GetConnectionCount() int
	GetSessionCount() int
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	stats   ConnectionStats
}

// NewHandler creates a new handler. stats may be nil.
func NewHandler(service *service.Service, stats ConnectionStats) *Handler {
	return &Handler{
		service: service,
		stats:   stats,
	}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/chat", h.Chat)

	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.POST("/v1/sessions/:session_id/patient", h.BindPatient)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)
	e.GET("/v1/sessions/:session_id/polls", h.ListSessionPolls)
	e.POST("/v1/sessions/:session_id/cancel", h.CancelPoll)
	e.POST("/v1/sessions/:session_id/retry", h.RetryPoll)

	e.GET("/v1/polls/:poll_id", h.GetPoll)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	resp := map[string]interface{}{
		"status":  "healthy",
		"version": "0.1.0",
	}
	if h.stats != nil {
		resp["connections"] = h.stats.GetConnectionCount()
		resp["sessions"] = h.stats.GetSessionCount()
	}
	return c.JSON(http.StatusOK, resp)
}

// errorResponse maps service errors onto status codes.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionBusy), errors.Is(err, domain.ErrNothingToRetry):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrServiceClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrPollNotFound), errors.Is(err, domain.ErrNoActivePoll):
		status = http.StatusNotFound
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
