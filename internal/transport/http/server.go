// Package http provides the HTTP server for lectern.
package http

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/service"
	v1 "github.com/xiaot623/lectern/internal/transport/http/v1"
	"github.com/xiaot623/lectern/internal/transport/ws"
)

// NewServer creates and configures the public HTTP server: the v1 REST API
// plus the WebSocket endpoint backed by hub.
func NewServer(svc *service.Service, hub *ws.Hub, logger *slog.Logger) *echo.Echo {
	logger = logging.Or(logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1.NewHandler(svc, logger).RegisterRoutes(e)
	ws.NewServer(svc, hub, ws.Options{}, logger).RegisterRoutes(e)

	return e
}

// requestLogger sends access logs through slog.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(context.Background(), level, "request", attrs...)
			return nil
		},
	})
}
