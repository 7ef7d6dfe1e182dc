// Package prediction anticipates the questions a learner is likely to ask
// at a pause point.
package prediction

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/logging"
	"github.com/xiaot623/lectern/internal/pause"
	"github.com/xiaot623/lectern/internal/segment"
	"github.com/xiaot623/lectern/internal/session"
	"github.com/xiaot623/lectern/internal/textutil"
)

const (
	minQuestions = 3
	maxQuestions = 5

	// struggleStep is the boost per prior pause near t, capped at struggleCap repeats.
	struggleStep = 0.15
	struggleCap  = 4
)

// Options tunes an Engine.
type Options struct {
	StruggleWindow float64
	DedupThreshold float64
}

// Engine ranks anticipated questions for a pause.
type Engine struct {
	pauses   *pause.Analyzer
	sessions *session.Manager
	opts     Options
	logger   *slog.Logger
}

// NewEngine creates a prediction engine. sessions may be nil, in which case
// predictions ignore pause history and nothing is recorded.
func NewEngine(pauses *pause.Analyzer, sessions *session.Manager, opts Options, logger *slog.Logger) *Engine {
	if opts.StruggleWindow <= 0 {
		opts.StruggleWindow = 10
	}
	if opts.DedupThreshold <= 0 {
		opts.DedupThreshold = 0.7
	}
	return &Engine{pauses: pauses, sessions: sessions, opts: opts, logger: logging.Or(logger)}
}

// Predict returns 3 to 5 ranked questions for a pause at t. When sessionID
// is set, struggle is read from the session's pause history and the pause
// is appended after ranking, all inside the session's exclusive section.
func (e *Engine) Predict(ctx context.Context, videoID string, t float64, sessionID string) ([]domain.PredictedQuestion, error) {
	pc, err := e.pauses.AnalyzePause(ctx, videoID, t)
	if err != nil {
		return nil, err
	}
	if sessionID == "" || e.sessions == nil {
		return Rank(pc, nil, e.opts), nil
	}

	var questions []domain.PredictedQuestion
	err = e.sessions.Exclusive(ctx, sessionID, videoID, func(s *session.Scope) error {
		questions = Rank(pc, s.PauseHistory(), e.opts)
		return s.AppendPause(ctx, pc.Event())
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("predicted questions",
		"video_id", videoID,
		"session_id", sessionID,
		"timestamp", t,
		"count", len(questions))
	return questions, nil
}

type candidate struct {
	question domain.PredictedQuestion
	start    float64
	tokens   []string
}

// Rank turns a pause context and prior pauses into the final question list.
// It is a pure function of its inputs.
func Rank(pc pause.Context, history []domain.PauseEvent, opts Options) []domain.PredictedQuestion {
	struggle := countStruggle(history, pc.Timestamp, opts.StruggleWindow)

	var cands []candidate
	add := func(tpl template, salience float64, sources []string, start float64, args ...string) {
		boost := struggleStep * float64(struggle)
		if boostsStruggle(tpl.kind) {
			boost *= 2
		}
		score := tpl.weight * (0.55 + 0.45*salience) * (1 + boost)
		text := tpl.render(args...)
		cands = append(cands, candidate{
			question: domain.PredictedQuestion{
				Text:             text,
				ConfidenceScore:  confidence(score),
				Kind:             tpl.kind,
				SourceSegmentIDs: append([]string{}, sources...),
			},
			start:  start,
			tokens: textutil.Tokenize(text),
		})
	}

	for n, c := range pc.Concepts {
		add(definitionTemplate, c.Salience, c.SegmentIDs, c.FirstStart, c.Term)
		add(rationaleTemplate, c.Salience, c.SegmentIDs, c.FirstStart, c.Term)
		add(exampleTemplate, c.Salience, c.SegmentIDs, c.FirstStart, c.Term)
		if n+1 < len(pc.Concepts) {
			partner := pc.Concepts[n+1]
			add(contrastTemplate, c.Salience, mergeIDs(c.SegmentIDs, partner.SegmentIDs), math.Min(c.FirstStart, partner.FirstStart), c.Term, partner.Term)
		}
	}
	if pc.DominantTopic != "" && pc.Covering != nil {
		add(topicTemplate, 1, []string{pc.Covering.SegmentID}, pc.Covering.StartTime, pc.DominantTopic)
	}

	ranked := dedup(sortCandidates(cands), opts.DedupThreshold)
	if len(ranked) > maxQuestions {
		ranked = ranked[:maxQuestions]
	}

	if len(ranked) < minQuestions {
		sources, start := recapSources(pc)
		var fillers []candidate
		for _, tpl := range recapTemplates {
			before := len(cands)
			add(tpl, 0, sources, start, segment.FormatClock(pc.Window.Start), segment.FormatClock(pc.Window.End))
			fillers = append(fillers, cands[before])
		}
		ranked = dedup(append(ranked, fillers...), opts.DedupThreshold)
		if len(ranked) > minQuestions {
			ranked = ranked[:minQuestions]
		}
		ranked = sortCandidates(ranked)
	}

	out := make([]domain.PredictedQuestion, len(ranked))
	for i, c := range ranked {
		out[i] = c.question
	}
	return out
}

// countStruggle counts prior pauses within window seconds of t.
func countStruggle(history []domain.PauseEvent, t, window float64) int {
	n := 0
	for _, p := range history {
		if math.Abs(p.Timestamp-t) <= window {
			n++
		}
	}
	if n > struggleCap {
		n = struggleCap
	}
	return n
}

func confidence(score float64) float64 {
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*10000) / 10000
}

func sortCandidates(cands []candidate) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.question.ConfidenceScore != b.question.ConfidenceScore {
			return a.question.ConfidenceScore > b.question.ConfidenceScore
		}
		if a.start != b.start {
			return a.start < b.start
		}
		return a.question.Text < b.question.Text
	})
	return cands
}

// dedup drops any candidate too similar to a higher ranked one.
func dedup(cands []candidate, threshold float64) []candidate {
	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		dup := false
		for _, kept := range out {
			if kept.question.Text == c.question.Text || textutil.Jaccard(kept.tokens, c.tokens) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

func recapSources(pc pause.Context) ([]string, float64) {
	if pc.Covering != nil {
		return []string{pc.Covering.SegmentID}, pc.Covering.StartTime
	}
	ids := make([]string, 0, len(pc.Segments))
	for _, seg := range pc.Segments {
		ids = append(ids, seg.SegmentID)
	}
	start := pc.Window.Start
	if len(pc.Segments) > 0 {
		start = pc.Segments[0].StartTime
	}
	return ids, start
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range append(append([]string{}, a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
