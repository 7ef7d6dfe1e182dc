// Package mcp exposes the tutor as Model Context Protocol tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/service"
)

// Server wraps an MCP server whose tools call the service.
type Server struct {
	mcp     *server.MCPServer
	service *service.Service
	logger  *slog.Logger
}

// NewServer registers the tutor tools.
func NewServer(svc *service.Service, version string, logger *slog.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer("lectern", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		service: svc,
		logger:  logging.Or(logger),
	}

	s.mcp.AddTool(mcplib.NewTool("ask_video",
		mcplib.WithDescription("Ask a question about a video. The answer is grounded in the transcript and cites the segments it used."),
		mcplib.WithString("video_id", mcplib.Required(), mcplib.Description("Id of an ingested video")),
		mcplib.WithString("message", mcplib.Required(), mcplib.Description("The learner's question")),
		mcplib.WithString("session_id", mcplib.Description("Conversation to continue; defaults to one per video")),
		mcplib.WithNumber("pause_timestamp", mcplib.Description("Playback position in seconds the question refers to")),
	), s.askVideo)

	s.mcp.AddTool(mcplib.NewTool("predict_questions",
		mcplib.WithDescription("Anticipate the questions a learner is likely to have when pausing at a point in the video."),
		mcplib.WithString("video_id", mcplib.Required(), mcplib.Description("Id of an ingested video")),
		mcplib.WithNumber("t", mcplib.Required(), mcplib.Description("Pause position in seconds")),
		mcplib.WithString("session_id", mcplib.Description("Session whose pause history boosts repeated struggle")),
	), s.predictQuestions)

	s.mcp.AddTool(mcplib.NewTool("summarize_video",
		mcplib.WithDescription("Summarize a video, or part of it, as topic sections with a short overview."),
		mcplib.WithString("video_id", mcplib.Required(), mcplib.Description("Id of an ingested video")),
		mcplib.WithNumber("start", mcplib.Description("Range start in seconds")),
		mcplib.WithNumber("end", mcplib.Description("Range end in seconds")),
	), s.summarizeVideo)

	s.mcp.AddTool(mcplib.NewTool("search_transcript",
		mcplib.WithDescription("Find the transcript passages most relevant to a query."),
		mcplib.WithString("video_id", mcplib.Required(), mcplib.Description("Id of an ingested video")),
		mcplib.WithString("query", mcplib.Required(), mcplib.Description("What to look for")),
		mcplib.WithNumber("top_k", mcplib.Description("Maximum number of passages")),
		mcplib.WithNumber("start", mcplib.Description("Range start in seconds")),
		mcplib.WithNumber("end", mcplib.Description("Range end in seconds")),
	), s.searchTranscript)

	s.mcp.AddTool(mcplib.NewTool("list_videos",
		mcplib.WithDescription("List the videos with an ingested transcript."),
	), s.listVideos)

	return s
}

// Serve speaks MCP over the given streams until ctx ends or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) askVideo(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	videoID, err := req.RequireString("video_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	message, err := req.RequireString("message")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}

	chat := domain.ChatRequest{
		VideoID:        videoID,
		SessionID:      req.GetString("session_id", "mcp-"+videoID),
		Message:        message,
		PauseTimestamp: optionalFloat(req, "pause_timestamp"),
	}
	resp, err := s.service.Chat(ctx, chat)
	if err != nil {
		return s.toolError("ask_video", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) predictQuestions(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	videoID, err := req.RequireString("video_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	t, err := req.RequireFloat("t")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}

	resp, err := s.service.Predict(ctx, videoID, t, req.GetString("session_id", ""))
	if err != nil {
		return s.toolError("predict_questions", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) summarizeVideo(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	videoID, err := req.RequireString("video_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}

	resp, err := s.service.Summarize(ctx, videoID, timeRange(req))
	if err != nil {
		return s.toolError("summarize_video", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) searchTranscript(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	videoID, err := req.RequireString("video_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}

	items, err := s.service.Search(ctx, videoID, query, req.GetInt("top_k", 0), timeRange(req))
	if err != nil {
		return s.toolError("search_transcript", err), nil
	}
	return jsonResult(map[string]interface{}{"results": items})
}

func (s *Server) listVideos(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	videos, err := s.service.Videos(ctx)
	if err != nil {
		return s.toolError("list_videos", err), nil
	}
	return jsonResult(map[string]interface{}{"videos": videos})
}

func (s *Server) toolError(tool string, err error) *mcplib.CallToolResult {
	s.logger.Warn("mcp tool failed", "tool", tool, "error", err)
	return mcplib.NewToolResultError(err.Error())
}

func jsonResult(v interface{}) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func optionalFloat(req mcplib.CallToolRequest, key string) *float64 {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	val := req.GetFloat(key, 0)
	return &val
}

// timeRange reads optional start/end arguments. A missing end is open.
func timeRange(req mcplib.CallToolRequest) *domain.TimeRange {
	start := optionalFloat(req, "start")
	end := optionalFloat(req, "end")
	if start == nil && end == nil {
		return nil
	}
	r := &domain.TimeRange{End: math.MaxFloat64}
	if start != nil {
		r.Start = *start
	}
	if end != nil {
		r.End = *end
	}
	return r
}
