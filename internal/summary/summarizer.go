// Package summary produces a sectioned overview of a video transcript.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/xiaot623/lectern/internal/adapter/llm"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/internal/textutil"
)

const (
	// DefaultShiftThreshold is the TF-IDF cosine below which adjacent
	// segments start a new section.
	DefaultShiftThreshold = 0.15

	// mergeJaccard merges neighbouring sections with overlapping key topics.
	mergeJaccard = 0.5

	keyTopicCount  = 5
	titleTermCount = 2
	excerptLimit   = 600
	sentenceLimit  = 200
)

const summaryInstructions = `You summarize lecture videos for learners.
Write one short paragraph describing what the video %q covers, in order.
Use only the transcript sections below and mention each section briefly.`

// Options tunes a Summarizer.
type Options struct {
	Model             string
	ShiftThreshold    float64
	GenerationTimeout time.Duration
}

// Summarizer builds topic sections and a summary paragraph.
type Summarizer struct {
	segments *segment.Store
	llm      llm.LLMClient
	opts     Options
	logger   *slog.Logger
}

// New creates a summarizer.
func New(segments *segment.Store, client llm.LLMClient, opts Options, logger *slog.Logger) *Summarizer {
	if opts.ShiftThreshold <= 0 {
		opts.ShiftThreshold = DefaultShiftThreshold
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 30 * time.Second
	}
	return &Summarizer{segments: segments, llm: client, opts: opts, logger: logging.Or(logger)}
}

// Summarize returns the sections of videoID, optionally restricted to r,
// and a summary paragraph. Generation failures fall back to an extractive
// summary marked degraded.
func (s *Summarizer) Summarize(ctx context.Context, videoID string, r *domain.TimeRange) (*domain.SummaryResponse, error) {
	if r != nil && !r.Valid() {
		return nil, fmt.Errorf("%w: time range [%.2f, %.2f]", domain.ErrInvalidRequest, r.Start, r.End)
	}
	video, err := s.segments.Video(ctx, videoID)
	if err != nil {
		return nil, err
	}
	segs, err := s.segments.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if r != nil {
		segs = segment.InRange(segs, *r)
	}

	resp := &domain.SummaryResponse{
		VideoID:         videoID,
		TopicBoundaries: Sections(segs, s.opts.ShiftThreshold),
	}
	if len(segs) == 0 {
		return resp, nil
	}

	text, err := s.generate(ctx, video.Title, resp.TopicBoundaries, segs)
	if err != nil {
		s.logger.Warn("summary generation failed, using extractive fallback", "video_id", videoID, "error", err)
		resp.SummaryText = Extractive(resp.TopicBoundaries, segs)
		resp.Degraded = true
		return resp, nil
	}
	resp.SummaryText = text
	return resp, nil
}

func (s *Summarizer) generate(ctx context.Context, title string, sections []domain.TopicSection, segs []domain.TranscriptSegment) (string, error) {
	if s.llm == nil {
		return "", fmt.Errorf("%w: no generation client", domain.ErrGenerationFailure)
	}
	if title == "" {
		title = "this video"
	}

	byID := indexSegments(segs)
	var b strings.Builder
	b.WriteString("Transcript sections:\n")
	for n, sec := range sections {
		fmt.Fprintf(&b, "[S%d] (%s-%s) %s: %s\n", n+1,
			segment.FormatClock(sec.StartTime), segment.FormatClock(sec.EndTime),
			sec.Title, truncate(sectionText(sec, byID), excerptLimit))
	}

	genCtx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()

	resp, err := s.llm.CreateChatCompletion(genCtx, &llm.ChatCompletionRequest{
		Model: s.opts.Model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(summaryInstructions, title)},
			{Role: "user", Content: strings.TrimRight(b.String(), "\n")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailure, err)
	}
	text := strings.TrimSpace(resp.Content())
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", domain.ErrGenerationFailure)
	}
	return text, nil
}

// Sections splits segments into topic sections where the TF-IDF cosine of
// adjacent segments drops below threshold, then merges neighbours whose key
// topics overlap.
func Sections(segs []domain.TranscriptSegment, threshold float64) []domain.TopicSection {
	if len(segs) == 0 {
		return []domain.TopicSection{}
	}

	corpus := textutil.NewCorpus()
	prints := make([]*textutil.Fingerprint, len(segs))
	for n, seg := range segs {
		prints[n] = textutil.NewFingerprint(seg.Text)
		corpus.Add(prints[n])
	}
	idf := corpus.IDF()
	for n := range prints {
		prints[n] = prints[n].WithIDF(idf)
	}

	var groups [][]int
	current := []int{0}
	for n := 1; n < len(segs); n++ {
		// Segments without content never open a section.
		if prints[n] != nil && prints[n-1] != nil && textutil.CosineSimilarity(prints[n-1], prints[n]) < threshold {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, n)
	}
	groups = append(groups, current)

	merged := [][]int{groups[0]}
	topics := [][]string{groupTerms(segs, groups[0], idf)}
	for _, group := range groups[1:] {
		terms := groupTerms(segs, group, idf)
		last := len(merged) - 1
		if textutil.Jaccard(topics[last], terms) >= mergeJaccard {
			merged[last] = append(merged[last], group...)
			topics[last] = groupTerms(segs, merged[last], idf)
			continue
		}
		merged = append(merged, group)
		topics = append(topics, terms)
	}

	sections := make([]domain.TopicSection, len(merged))
	for i, group := range merged {
		sections[i] = newSection(segs, group, topics[i])
	}
	return sections
}

func newSection(segs []domain.TranscriptSegment, group []int, terms []string) domain.TopicSection {
	sec := domain.TopicSection{
		StartTime: segs[group[0]].StartTime,
		EndTime:   segs[group[len(group)-1]].EndTime,
		KeyTopics: terms,
		Title:     title(terms),
	}
	for _, n := range group {
		sec.SegmentIDs = append(sec.SegmentIDs, segs[n].SegmentID)
	}
	return sec
}

// groupTerms returns the top TF-IDF terms of the grouped segments.
func groupTerms(segs []domain.TranscriptSegment, group []int, idf map[string]float64) []string {
	var tokens []string
	for _, n := range group {
		tokens = append(tokens, textutil.ContentTokens(segs[n].Text)...)
	}
	fp := textutil.FromTokens(tokens)
	// A term present in every segment has zero IDF; keep raw counts then.
	if weighted := fp.WithIDF(idf); weighted != nil {
		fp = weighted
	}
	terms := fp.Terms()
	if len(terms) > keyTopicCount {
		terms = terms[:keyTopicCount]
	}
	if terms == nil {
		terms = []string{}
	}
	return terms
}

var titleCaser = cases.Title(language.English)

func title(terms []string) string {
	if len(terms) == 0 {
		return "Untitled section"
	}
	n := titleTermCount
	if len(terms) < n {
		n = len(terms)
	}
	words := make([]string, n)
	for i, term := range terms[:n] {
		words[i] = titleCaser.String(term)
	}
	return strings.Join(words, " and ")
}

// Extractive builds a summary from the first sentence of each section.
func Extractive(sections []domain.TopicSection, segs []domain.TranscriptSegment) string {
	byID := indexSegments(segs)
	parts := make([]string, 0, len(sections))
	for _, sec := range sections {
		sentence := firstSentence(sectionText(sec, byID))
		if sentence == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s", segment.FormatClock(sec.StartTime), sentence))
	}
	return strings.Join(parts, " ")
}

func indexSegments(segs []domain.TranscriptSegment) map[string]domain.TranscriptSegment {
	byID := make(map[string]domain.TranscriptSegment, len(segs))
	for _, seg := range segs {
		byID[seg.SegmentID] = seg
	}
	return byID
}

func sectionText(sec domain.TopicSection, byID map[string]domain.TranscriptSegment) string {
	texts := make([]string, 0, len(sec.SegmentIDs))
	for _, id := range sec.SegmentIDs {
		if seg, ok := byID[id]; ok && seg.Text != "" {
			texts = append(texts, seg.Text)
		}
	}
	return strings.Join(texts, " ")
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	end := strings.IndexAny(text, ".?!")
	if end >= 0 {
		text = text[:end+1]
	}
	text = truncate(text, sentenceLimit)
	r, size := utf8.DecodeRuneInString(text)
	return string(unicode.ToUpper(r)) + text[size:]
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := strings.LastIndex(text[:limit], " ")
	if cut <= 0 {
		cut = limit
	}
	return strings.TrimSpace(text[:cut]) + "..."
}
