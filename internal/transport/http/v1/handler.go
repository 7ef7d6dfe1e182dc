// Package v1 provides the versioned HTTP handlers for lectern.
package v1

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logging.Or(logger),
	}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Conversation
	e.POST("/v1/chat", h.Chat)
	e.POST("/v1/chat/stream", h.ChatStream)

	// Videos
	e.GET("/v1/videos", h.ListVideos)
	e.POST("/v1/videos/:video_id/transcript", h.IngestTranscript)
	e.GET("/v1/videos/:video_id/segments", h.GetSegments)
	e.GET("/v1/videos/:video_id/search", h.Search)
	e.GET("/v1/videos/:video_id/predictions", h.GetPredictions)
	e.POST("/v1/videos/:video_id/pauses", h.RecordPause)
	e.GET("/v1/videos/:video_id/summary", h.GetSummary)

	// Sessions and traces
	e.GET("/v1/sessions/:session_id", h.GetSession)
	e.GET("/v1/sessions/:session_id/messages", h.GetSessionMessages)
	e.GET("/v1/turns/:turn_id/events", h.GetTurnEvents)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// httpStatus maps domain errors to response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTranscript),
		errors.Is(err, domain.ErrOutOfRangeTimestamp),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrVideoNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionVideoMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSessionBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGenerationFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c echo.Context, err error) error {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

// floatParam parses an optional query parameter.
func floatParam(c echo.Context, name string) (*float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &val, nil
}

func intParam(c echo.Context, name string, defaultVal int) int {
	if raw := c.QueryParam(name); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil {
			return val
		}
	}
	return defaultVal
}

// timeRangeParams reads the optional start/end pair. A missing end is open.
func timeRangeParams(c echo.Context) (*domain.TimeRange, error) {
	start, err := floatParam(c, "start")
	if err != nil {
		return nil, err
	}
	end, err := floatParam(c, "end")
	if err != nil {
		return nil, err
	}
	if start == nil && end == nil {
		return nil, nil
	}
	r := &domain.TimeRange{End: math.MaxFloat64}
	if start != nil {
		r.Start = *start
	}
	if end != nil {
		r.End = *end
	}
	return r, nil
}
