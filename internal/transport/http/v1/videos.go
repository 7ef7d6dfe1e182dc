package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/lectern/internal/domain"
)

// ListVideos lists ingested videos.
// GET /v1/videos
func (h *Handler) ListVideos(c echo.Context) error {
	videos, err := h.service.Videos(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"videos": videos,
	})
}

// IngestTranscript stores a transcript for a video.
// POST /v1/videos/:video_id/transcript
func (h *Handler) IngestTranscript(c echo.Context) error {
	var req domain.IngestRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	resp, err := h.service.IngestTranscript(c.Request().Context(), c.Param("video_id"), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetSegments returns a video's segments.
// GET /v1/videos/:video_id/segments
func (h *Handler) GetSegments(c echo.Context) error {
	segs, err := h.service.Segments(c.Request().Context(), c.Param("video_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"video_id": c.Param("video_id"),
		"segments": segs,
	})
}

// Search ranks transcript evidence for a query.
// GET /v1/videos/:video_id/search?q=&top_k=&start=&end=
func (h *Handler) Search(c echo.Context) error {
	r, err := timeRangeParams(c)
	if err != nil {
		return badRequest(c, "start and end must be numbers")
	}

	items, err := h.service.Search(c.Request().Context(), c.Param("video_id"), c.QueryParam("q"), intParam(c, "top_k", 0), r)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": items,
	})
}

// GetPredictions anticipates questions at a pause point.
// GET /v1/videos/:video_id/predictions?t=&session_id=
func (h *Handler) GetPredictions(c echo.Context) error {
	t, err := floatParam(c, "t")
	if err != nil || t == nil {
		return badRequest(c, "t is required and must be a number")
	}

	resp, err := h.service.Predict(c.Request().Context(), c.Param("video_id"), *t, c.QueryParam("session_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RecordPause records a pause and returns its context.
// POST /v1/videos/:video_id/pauses
func (h *Handler) RecordPause(c echo.Context) error {
	var req domain.PauseRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	resp, err := h.service.RecordPause(c.Request().Context(), c.Param("video_id"), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetSummary summarizes a video or a range of it.
// GET /v1/videos/:video_id/summary?start=&end=
func (h *Handler) GetSummary(c echo.Context) error {
	r, err := timeRangeParams(c)
	if err != nil {
		return badRequest(c, "start and end must be numbers")
	}

	resp, err := h.service.Summarize(c.Request().Context(), c.Param("video_id"), r)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
