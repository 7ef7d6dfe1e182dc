package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/internal/videoid"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var title string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "ingest <video> <transcript-file>",
		Short: "Ingest a transcript from an SRT or JSON file",
		Long: `Ingest a transcript for a video.

The video may be a YouTube URL, a bare 11-character id, or any local id made
of letters, digits, '-' and '_'. The transcript is an SRT file, a JSON array
of {text, start, duration} snippets, or a JSON object {title, snippets}.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID, err := resolveVideoID(args[0])
			if err != nil {
				return err
			}
			req, err := readTranscript(args[1])
			if err != nil {
				return err
			}
			if title != "" {
				req.Title = title
			}

			rt, err := ctx.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			resp, err := rt.service.IngestTranscript(cmd.Context(), videoID, req)
			if err != nil {
				return err
			}
			if wantJSON(cmd, jsonOut) {
				return writeJSON(cmd, resp)
			}
			printTable(cmd, []column{
				{header: "Video"},
				{header: "Segments", align: alignRight},
				{header: "Duration"},
				{header: "Indexed"},
			}, [][]string{{
				resp.VideoID,
				strconv.Itoa(resp.SegmentCount),
				resp.Duration,
				strconv.FormatBool(resp.Indexed),
			}})
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Video title")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

var localID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// resolveVideoID extracts the id from a video URL, falling back to local ids.
func resolveVideoID(ref string) (string, error) {
	id, err := videoid.Extract(ref)
	if err == nil {
		return id, nil
	}
	if ref = strings.TrimSpace(ref); localID.MatchString(ref) {
		return ref, nil
	}
	return "", err
}

func readTranscript(path string) (domain.IngestRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.IngestRequest{}, fmt.Errorf("read transcript: %w", err)
	}
	return decodeTranscript(filepath.Ext(path), data)
}

func decodeTranscript(ext string, data []byte) (domain.IngestRequest, error) {
	var req domain.IngestRequest
	switch strings.ToLower(ext) {
	case ".srt":
		snippets, err := segment.ParseSRT(string(data))
		if err != nil {
			return req, err
		}
		req.Snippets = snippets
	case ".json":
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal(data, &req.Snippets); err != nil {
				return req, fmt.Errorf("decode transcript: %w", err)
			}
			return req, nil
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("decode transcript: %w", err)
		}
	default:
		return req, fmt.Errorf("unsupported transcript format %q (want .srt or .json)", ext)
	}
	return req, nil
}
