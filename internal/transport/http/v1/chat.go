package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/lectern/internal/domain"
)

// Chat runs one turn.
// POST /v1/chat
func (h *Handler) Chat(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	resp, err := h.service.Chat(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// ChatStream runs one turn and streams it as server-sent events.
// POST /v1/chat/stream
func (h *Handler) ChatStream(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// Headers go out with the first frame so validation errors keep their status.
	started := false
	emit := func(ev domain.StreamEvent) error {
		if !started {
			started = true
			header := c.Response().Header()
			header.Set("Content-Type", "text/event-stream")
			header.Set("Cache-Control", "no-cache")
			header.Set("Connection", "keep-alive")
			c.Response().WriteHeader(http.StatusOK)
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return err
		}
		c.Response().Flush()
		return nil
	}

	_, err := h.service.ChatStream(c.Request().Context(), req, emit)
	if err != nil {
		if started {
			// Status is already sent; the client sees the stream end.
			h.logger.Warn("chat stream aborted", "session_id", req.SessionID, "error", err)
			return nil
		}
		return h.fail(c, err)
	}
	return nil
}
