package segment

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/xiaot623/lectern/internal/domain"
)

// segmentNamespace scopes the name-based UUIDs used for segment ids.
var segmentNamespace = uuid.MustParse("6f1c2a9e-3b7d-4d1e-9a55-0c6b7e2f4a10")

type piece struct {
	text       string
	start, end float64
}

// Build normalizes raw caption fragments into ordered, non-overlapping
// segments. Fragments shorter than minDuration are merged into the previous
// segment; a short first fragment absorbs its successor instead.
func Build(videoID string, raw []domain.RawSnippet, minDuration float64) ([]domain.TranscriptSegment, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no fragments", domain.ErrInvalidTranscript)
	}

	pieces := make([]piece, 0, len(raw))
	for i, s := range raw {
		if math.IsNaN(s.Start) || math.IsNaN(s.Duration) || math.IsInf(s.Start, 0) || math.IsInf(s.Duration, 0) {
			return nil, fmt.Errorf("%w: fragment %d has a non-finite time", domain.ErrInvalidTranscript, i)
		}
		if s.Start < 0 {
			return nil, fmt.Errorf("%w: fragment %d starts at %.3f", domain.ErrInvalidTranscript, i, s.Start)
		}
		if s.Duration < 0 {
			return nil, fmt.Errorf("%w: fragment %d has negative duration", domain.ErrInvalidTranscript, i)
		}
		if i > 0 && s.Start < raw[i-1].Start {
			return nil, fmt.Errorf("%w: fragment %d starts before fragment %d", domain.ErrInvalidTranscript, i, i-1)
		}
		text := Normalize(s.Text)
		if text == "" {
			continue
		}
		pieces = append(pieces, piece{text: text, start: s.Start, end: s.Start + s.Duration})
	}
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: every fragment is empty", domain.ErrInvalidTranscript)
	}

	// Clip caption overlap so a fragment ends no later than its successor starts.
	for i := 0; i+1 < len(pieces); i++ {
		if pieces[i].end > pieces[i+1].start {
			pieces[i].end = pieces[i+1].start
		}
	}

	merged := make([]piece, 0, len(pieces))
	var pending *piece
	for _, p := range pieces {
		if pending != nil {
			p.start = pending.start
			p.text = pending.text + " " + p.text
			pending = nil
		}
		short := p.end-p.start < minDuration
		switch {
		case !short:
			merged = append(merged, p)
		case len(merged) > 0:
			last := &merged[len(merged)-1]
			last.text += " " + p.text
			last.end = p.end
		default:
			cp := p
			pending = &cp
		}
	}
	if pending != nil {
		// Everything was short; keep it as a single segment.
		merged = append(merged, *pending)
	}

	segments := make([]domain.TranscriptSegment, len(merged))
	for i, p := range merged {
		segments[i] = domain.TranscriptSegment{
			SegmentID:     SegmentID(videoID, i, p.start, p.end),
			VideoID:       videoID,
			Text:          p.text,
			StartTime:     p.start,
			EndTime:       p.end,
			SequenceIndex: i,
		}
	}
	return segments, nil
}

// SegmentID derives a stable id from a segment's position and boundaries.
func SegmentID(videoID string, seq int, start, end float64) string {
	name := fmt.Sprintf("%s|%d|%.3f|%.3f", videoID, seq, start, end)
	id := uuid.NewSHA1(segmentNamespace, []byte(name))
	return "seg_" + strings.ReplaceAll(id.String(), "-", "")[:16]
}

// InRange returns the segments whose span intersects r, in order.
func InRange(segments []domain.TranscriptSegment, r domain.TimeRange) []domain.TranscriptSegment {
	var out []domain.TranscriptSegment
	for _, seg := range segments {
		if r.Intersects(seg.StartTime, seg.EndTime) {
			out = append(out, seg)
		}
	}
	return out
}

// Covering returns the segment containing t. A t equal to the final end
// time resolves to the last segment; a t inside a gap resolves to the
// closest preceding segment.
func Covering(segments []domain.TranscriptSegment, t float64) (domain.TranscriptSegment, bool) {
	var best domain.TranscriptSegment
	found := false
	for _, seg := range segments {
		if seg.Contains(t) {
			return seg, true
		}
		if seg.StartTime <= t {
			best = seg
			found = true
		}
	}
	return best, found
}
