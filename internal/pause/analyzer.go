// Package pause derives the local context of a pause: the surrounding
// window of transcript, the concepts flagged there and the dominant topic.
package pause

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/internal/textutil"
)

// Scoring weights for concept detection.
const (
	glossaryWeight = 3.0
	formulaWeight  = 2.0
	lengthWeight   = 1.0

	minAnomalousLength = 7
	lengthSigma        = 1.5
)

// Defaults used when Options leave a field unset.
const (
	DefaultWindow      = 30.0
	DefaultMaxConcepts = 5
	DefaultThreshold   = 1.0
)

var (
	formulaCall  = regexp.MustCompile(`^[a-z]+'*\([^()]*\)`)
	hasDigit     = regexp.MustCompile(`[0-9]`)
	hasLetter    = regexp.MustCompile(`[a-z]`)
	plainToken   = regexp.MustCompile(`^[a-z0-9]{3,}$`)
	edgePunct    = ".,;:!?\"“”"
	formulaOpSet = "=^"
)

// Options tunes an Analyzer.
type Options struct {
	Window      float64
	Glossary    []string
	MaxConcepts int
	Threshold   float64
}

// Concept is one flagged term with its score and where it occurs.
type Concept struct {
	Term       string   `json:"term"`
	Score      float64  `json:"score"`
	Salience   float64  `json:"salience"`
	SegmentIDs []string `json:"segment_ids"`
	FirstStart float64  `json:"first_start"`
}

// Context is the analysis of a single pause.
type Context struct {
	VideoID       string                     `json:"video_id"`
	Timestamp     float64                    `json:"timestamp"`
	Window        domain.TimeRange           `json:"window"`
	Segments      []domain.TranscriptSegment `json:"window_segments"`
	Covering      *domain.TranscriptSegment  `json:"covering_segment,omitempty"`
	Concepts      []Concept                  `json:"concepts"`
	DominantTopic string                     `json:"dominant_topic"`
}

// FlaggedConcepts returns the flagged terms in rank order.
func (c Context) FlaggedConcepts() []string {
	out := make([]string, len(c.Concepts))
	for i, concept := range c.Concepts {
		out[i] = concept.Term
	}
	return out
}

// Event converts the context into a PauseEvent for session history.
func (c Context) Event() domain.PauseEvent {
	return domain.PauseEvent{
		Timestamp:       c.Timestamp,
		WindowStart:     c.Window.Start,
		WindowEnd:       c.Window.End,
		FlaggedConcepts: c.FlaggedConcepts(),
	}
}

// Analyzer computes pause contexts. It holds no mutable state.
type Analyzer struct {
	segments *segment.Store
	opts     Options
	glossary map[string]struct{}
	logger   *slog.Logger
}

// NewAnalyzer creates a pause analyzer.
func NewAnalyzer(segments *segment.Store, opts Options, logger *slog.Logger) *Analyzer {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxConcepts <= 0 {
		opts.MaxConcepts = DefaultMaxConcepts
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	glossary := make(map[string]struct{}, len(opts.Glossary))
	for _, term := range opts.Glossary {
		term = strings.ToLower(strings.Join(strings.Fields(term), " "))
		if term != "" {
			glossary[term] = struct{}{}
		}
	}
	return &Analyzer{segments: segments, opts: opts, glossary: glossary, logger: logging.Or(logger)}
}

// Window returns the configured half-width in seconds.
func (a *Analyzer) Window() float64 {
	return a.opts.Window
}

// AnalyzePause returns the context around timestamp t of videoID.
func (a *Analyzer) AnalyzePause(ctx context.Context, videoID string, t float64) (Context, error) {
	segments, err := a.segments.Get(ctx, videoID)
	if err != nil {
		return Context{}, err
	}
	duration := segments[len(segments)-1].EndTime
	if math.IsNaN(t) || t < 0 || t > duration {
		return Context{}, fmt.Errorf("%w: %.2f not in [0, %.2f]", domain.ErrOutOfRangeTimestamp, t, duration)
	}

	window := domain.TimeRange{
		Start: math.Max(0, t-a.opts.Window),
		End:   math.Min(duration, t+a.opts.Window),
	}
	pc := Context{
		VideoID:   videoID,
		Timestamp: t,
		Window:    window,
		Segments:  segment.InRange(segments, window),
		Concepts:  []Concept{},
	}
	if cover, ok := segment.Covering(segments, t); ok {
		pc.Covering = &cover
	}

	stats := newVideoStats(segments)
	pc.Concepts = a.rank(stats, pc.Segments)
	if pc.Covering != nil {
		cover := a.score(stats, []domain.TranscriptSegment{*pc.Covering})
		if len(cover) > 0 {
			pc.DominantTopic = cover[0].Term
		}
	}

	a.logger.Debug("pause analyzed",
		"video_id", videoID,
		"timestamp", t,
		"concepts", len(pc.Concepts),
		"dominant_topic", pc.DominantTopic)
	return pc, nil
}

// rank scores the window and keeps the flagged top concepts.
func (a *Analyzer) rank(stats *videoStats, window []domain.TranscriptSegment) []Concept {
	scored := a.score(stats, window)
	out := make([]Concept, 0, a.opts.MaxConcepts)
	for _, c := range scored {
		if c.Score < a.opts.Threshold {
			continue
		}
		out = append(out, c)
		if len(out) == a.opts.MaxConcepts {
			break
		}
	}
	if len(out) > 0 {
		top := out[0].Score
		for i := range out {
			out[i].Salience = math.Round(out[i].Score/top*10000) / 10000
		}
	}
	return out
}

// score returns every candidate term of segs ordered by score desc, then lexically.
func (a *Analyzer) score(stats *videoStats, segs []domain.TranscriptSegment) []Concept {
	counts := make(map[string]int)
	where := make(map[string][]int)
	maxCount := 0
	for n, seg := range segs {
		seen := make(map[string]bool)
		for _, term := range extractTerms(seg.Text) {
			counts[term]++
			if counts[term] > maxCount {
				maxCount = counts[term]
			}
			if !seen[term] {
				seen[term] = true
				where[term] = append(where[term], n)
			}
		}
	}

	concepts := make([]Concept, 0, len(counts))
	for term, count := range counts {
		score := 0.0
		if _, ok := a.glossary[term]; ok {
			score += glossaryWeight
		}
		if isFormula(term) {
			score += formulaWeight
		}
		if stats.isLong(term) {
			score += lengthWeight
		}
		score += float64(count) / float64(maxCount) * stats.idf[term]

		c := Concept{Term: term, Score: math.Round(score*10000) / 10000}
		for i, n := range where[term] {
			if i == 0 {
				c.FirstStart = segs[n].StartTime
			}
			c.SegmentIDs = append(c.SegmentIDs, segs[n].SegmentID)
		}
		concepts = append(concepts, c)
	}

	sort.Slice(concepts, func(i, j int) bool {
		if concepts[i].Score != concepts[j].Score {
			return concepts[i].Score > concepts[j].Score
		}
		return concepts[i].Term < concepts[j].Term
	})
	return concepts
}

// videoStats holds whole-video statistics used by anomaly scoring.
type videoStats struct {
	idf        map[string]float64
	lengthMean float64
	lengthStd  float64
}

func newVideoStats(segments []domain.TranscriptSegment) *videoStats {
	corpus := textutil.NewCorpus()
	var lengths []float64
	for _, seg := range segments {
		corpus.Add(textutil.FromTokens(extractTerms(seg.Text)))
		for _, tok := range textutil.ContentTokens(seg.Text) {
			lengths = append(lengths, float64(len(tok)))
		}
	}
	stats := &videoStats{idf: corpus.IDF()}
	if len(lengths) == 0 {
		return stats
	}
	var sum float64
	for _, l := range lengths {
		sum += l
	}
	stats.lengthMean = sum / float64(len(lengths))
	var variance float64
	for _, l := range lengths {
		variance += (l - stats.lengthMean) * (l - stats.lengthMean)
	}
	stats.lengthStd = math.Sqrt(variance / float64(len(lengths)))
	return stats
}

func (s *videoStats) isLong(term string) bool {
	if strings.Contains(term, " ") || isFormula(term) {
		return false
	}
	l := float64(len(term))
	return l >= minAnomalousLength && l >= s.lengthMean+lengthSigma*s.lengthStd
}

// extractTerms returns the candidate terms of text with multiplicity:
// content unigrams, bigrams of adjacent content tokens and formula-like tokens.
func extractTerms(text string) []string {
	tokens := textutil.Tokenize(text)
	var terms []string
	for i, tok := range tokens {
		if textutil.IsStopword(tok) {
			continue
		}
		terms = append(terms, tok)
		if i+1 < len(tokens) && !textutil.IsStopword(tokens[i+1]) {
			terms = append(terms, tok+" "+tokens[i+1])
		}
	}
	for _, field := range strings.Fields(strings.ToLower(text)) {
		field = strings.Trim(field, edgePunct)
		if !plainToken.MatchString(field) && isFormula(field) {
			terms = append(terms, field)
		}
	}
	return terms
}

// isFormula reports whether a token looks like math: f(x), x^2, a=b, 2x.
func isFormula(token string) bool {
	if token == "" || strings.Contains(token, " ") {
		return false
	}
	if strings.ContainsAny(token, formulaOpSet) {
		return hasLetter.MatchString(token) || hasDigit.MatchString(token)
	}
	if formulaCall.MatchString(token) {
		return true
	}
	return hasDigit.MatchString(token) && hasLetter.MatchString(token)
}
