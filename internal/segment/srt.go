package segment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xiaot623/lectern/internal/domain"
)

// ParseSRT converts SubRip captions into raw fragments.
//
//	1                                sequence number
//	00:00:00,000 --> 00:00:01,830    start --> end
//	I'm happy to                     line
//	have you here today.             line
func ParseSRT(text string) ([]domain.RawSnippet, error) {
	text = strings.ReplaceAll(strings.TrimPrefix(text, "\ufeff"), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty subtitle file", domain.ErrInvalidTranscript)
	}

	var snippets []domain.RawSnippet
	var current *domain.RawSnippet
	var lines []string

	flush := func() {
		if current != nil && len(lines) > 0 {
			current.Text = strings.Join(lines, " ")
			snippets = append(snippets, *current)
		}
		current = nil
		lines = nil
	}

	for lineNo, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.Contains(line, "-->"):
			flush()
			parts := strings.SplitN(line, "-->", 2)
			start, err := parseSRTTime(parts[0])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidTranscript, lineNo+1, err)
			}
			// Position hints may follow the end time.
			endField := strings.Fields(parts[1])
			if len(endField) == 0 {
				return nil, fmt.Errorf("%w: line %d: missing end time", domain.ErrInvalidTranscript, lineNo+1)
			}
			end, err := parseSRTTime(endField[0])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidTranscript, lineNo+1, err)
			}
			if end < start {
				end = start
			}
			current = &domain.RawSnippet{Start: start, Duration: end - start}
		case current == nil && isDigitOnly(line):
			// Sequence number
		case current != nil:
			lines = append(lines, line)
		}
	}
	flush()

	if len(snippets) == 0 {
		return nil, fmt.Errorf("%w: no cues found", domain.ErrInvalidTranscript)
	}
	return snippets, nil
}

// parseSRTTime parses HH:MM:SS,mmm (a '.' separator is also accepted).
func parseSRTTime(s string) (float64, error) {
	s = strings.Replace(strings.TrimSpace(s), ",", ".", 1)
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed hours in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed minutes in %q", s)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed seconds in %q", s)
	}
	return float64(h*3600+m*60) + sec, nil
}

func isDigitOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
