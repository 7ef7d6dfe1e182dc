package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/segment"
)

const textColumnWidth = 72

func newVideosCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "videos",
		Short: "List ingested videos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			videos, err := rt.service.Videos(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd, jsonOut) {
				return writeJSON(cmd, videos)
			}
			rows := make([][]string, 0, len(videos))
			for _, v := range videos {
				rows = append(rows, []string{
					v.VideoID,
					v.Title,
					strconv.Itoa(v.SegmentCount),
					segment.FormatDuration(v.DurationSeconds),
				})
			}
			printTable(cmd, []column{
				{header: "Video"},
				{header: "Title", maxWidth: 40},
				{header: "Segments", align: alignRight},
				{header: "Duration"},
			}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newSegmentsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "segments <video>",
		Short: "Show the normalized transcript segments of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID, err := resolveVideoID(args[0])
			if err != nil {
				return err
			}
			rt, err := ctx.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			segs, err := rt.service.Segments(cmd.Context(), videoID)
			if err != nil {
				return err
			}
			if wantJSON(cmd, jsonOut) {
				return writeJSON(cmd, segs)
			}
			rows := make([][]string, 0, len(segs))
			for _, seg := range segs {
				rows = append(rows, []string{
					strconv.Itoa(seg.SequenceIndex),
					segment.FormatClock(seg.StartTime),
					segment.FormatClock(seg.EndTime),
					seg.Text,
				})
			}
			printTable(cmd, []column{
				{header: "#", align: alignRight},
				{header: "Start"},
				{header: "End"},
				{header: "Text", maxWidth: textColumnWidth},
			}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var sessionID string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "predict <video> <timestamp>",
		Short: "Predict the questions a learner may have at a pause",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID, err := resolveVideoID(args[0])
			if err != nil {
				return err
			}
			t, err := parseTimestamp(args[1])
			if err != nil {
				return err
			}
			rt, err := ctx.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			resp, err := rt.service.Predict(cmd.Context(), videoID, t, sessionID)
			if err != nil {
				return err
			}
			if wantJSON(cmd, jsonOut) {
				return writeJSON(cmd, resp)
			}
			rows := make([][]string, 0, len(resp.Questions))
			for _, q := range resp.Questions {
				rows = append(rows, []string{
					q.Text,
					string(q.Kind),
					strconv.FormatFloat(q.ConfidenceScore, 'f', 2, 64),
				})
			}
			printTable(cmd, []column{
				{header: "Question", maxWidth: textColumnWidth},
				{header: "Kind"},
				{header: "Confidence", align: alignRight},
			}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session whose pause history is considered")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newSummaryCommand(ctx *commandContext) *cobra.Command {
	var start, end string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "summary <video>",
		Short: "Summarize a video as topic sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID, err := resolveVideoID(args[0])
			if err != nil {
				return err
			}
			r, err := rangeFlags(start, end)
			if err != nil {
				return err
			}
			rt, err := ctx.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			resp, err := rt.service.Summarize(cmd.Context(), videoID, r)
			if err != nil {
				return err
			}
			if wantJSON(cmd, jsonOut) {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			if resp.Degraded {
				fmt.Fprintln(out, "(extractive summary, generation unavailable)")
			}
			fmt.Fprintln(out, resp.SummaryText)
			rows := make([][]string, 0, len(resp.TopicBoundaries))
			for _, sec := range resp.TopicBoundaries {
				rows = append(rows, []string{
					segment.FormatClock(sec.StartTime),
					segment.FormatClock(sec.EndTime),
					sec.Title,
					strings.Join(sec.KeyTopics, ", "),
				})
			}
			printTable(cmd, []column{
				{header: "Start"},
				{header: "End"},
				{header: "Section", maxWidth: 40},
				{header: "Key topics", maxWidth: 48},
			}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Range start (seconds or MM:SS)")
	cmd.Flags().StringVar(&end, "end", "", "Range end (seconds or MM:SS)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var start, end string
	var topK int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "search <video> <query>",
		Short: "Find the transcript passages most relevant to a query",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID, err := resolveVideoID(args[0])
			if err != nil {
				return err
			}
			r, err := rangeFlags(start, end)
			if err != nil {
				return err
			}
			rt, err := ctx.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			items, err := rt.service.Search(cmd.Context(), videoID, strings.Join(args[1:], " "), topK, r)
			if err != nil {
				return err
			}
			if wantJSON(cmd, jsonOut) {
				return writeJSON(cmd, items)
			}
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					segment.FormatClock(item.StartTime),
					strconv.FormatFloat(item.RelevanceScore, 'f', 3, 64),
					item.Text,
				})
			}
			printTable(cmd, []column{
				{header: "At"},
				{header: "Score", align: alignRight},
				{header: "Text", maxWidth: textColumnWidth},
			}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Range start (seconds or MM:SS)")
	cmd.Flags().StringVar(&end, "end", "", "Range end (seconds or MM:SS)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Maximum number of passages")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	return cmd
}

// rangeFlags builds an optional time range; an open end runs to the end of the video.
func rangeFlags(start, end string) (*domain.TimeRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	r := &domain.TimeRange{End: math.MaxFloat64}
	if start != "" {
		v, err := parseTimestamp(start)
		if err != nil {
			return nil, err
		}
		r.Start = v
	}
	if end != "" {
		v, err := parseTimestamp(end)
		if err != nil {
			return nil, err
		}
		r.End = v
	}
	return r, nil
}
