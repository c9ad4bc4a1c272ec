// Package http provides the HTTP server implementation for carechat.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/carechat/internal/hub"
	"github.com/xiaot623/carechat/internal/metrics"
	"github.com/xiaot623/carechat/internal/service"
	v1 "github.com/xiaot623/carechat/internal/transport/http/v1"
	"github.com/xiaot623/carechat/internal/transport/ws"
)

// NewServer creates the echo server carrying the REST API, the chat
// WebSocket and the metrics endpoint.
func NewServer(svc *service.Service, h *hub.Hub, wsServer *ws.Server, m *metrics.Metrics, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc, h).RegisterRoutes(e)
	e.GET("/ws", wsServer.HandleWebSocket)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	return e
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Debug("request", fields...)
			return nil
		},
	})
}
