package conversation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xiaot623/lectern/internal/adapter/llm"
	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/segment"
)

var citationMarker = regexp.MustCompile(`\[S(\d+)\]`)

const systemInstructions = `You are a tutor helping a learner with the video %q.
Answer only from the transcript evidence below. Do not use outside knowledge.
If the evidence does not contain the answer, say explicitly that the video does not cover it.
Cite the evidence you use with markers such as [S1] right after the sentence it supports.
Keep answers short and clear.`

// Canned replies for turns that never reach generation.
const (
	offTopicReply   = "I can only help with what is covered in this video. Try asking about something from the lecture."
	emptyQueryReply = "Could you tell me which idea or moment in the video you are asking about?"
	degradedReply   = "Answer generation is temporarily unavailable. Please try again in a moment."
)

// buildMessages assembles the generation request: instructions with the
// evidence block, bounded history and the learner's message.
func buildMessages(title string, evidence []domain.EvidenceItem, history []domain.Message, message string, pause *float64) []llm.ChatMessage {
	if title == "" {
		title = "this video"
	}
	var sys strings.Builder
	fmt.Fprintf(&sys, systemInstructions, title)
	sys.WriteString("\n\nTranscript evidence:\n")
	if len(evidence) == 0 {
		sys.WriteString("(no relevant transcript passages were found)\n")
	}
	for n, item := range evidence {
		fmt.Fprintf(&sys, "[S%d] (%s-%s) %s\n", n+1,
			segment.FormatClock(item.StartTime), segment.FormatClock(item.EndTime), item.Text)
	}

	messages := make([]llm.ChatMessage, 0, len(history)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: strings.TrimRight(sys.String(), "\n")})
	for _, msg := range history {
		messages = append(messages, llm.ChatMessage{Role: string(msg.Role), Content: msg.Text})
	}

	content := message
	if pause != nil {
		content = fmt.Sprintf("(paused at %s) %s", segment.FormatClock(*pause), message)
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: content})
	return messages
}

// extractCitations maps [S<n>] markers to evidence in order of first
// appearance. Without valid markers the whole evidence set is cited.
func extractCitations(answer string, evidence []domain.EvidenceItem) []domain.EvidenceItem {
	seen := make(map[int]bool)
	var cited []domain.EvidenceItem
	for _, m := range citationMarker.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(evidence) || seen[n] {
			continue
		}
		seen[n] = true
		cited = append(cited, evidence[n-1])
	}
	if len(cited) == 0 {
		return append([]domain.EvidenceItem{}, evidence...)
	}
	return cited
}

func segmentIDs(items []domain.EvidenceItem) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.SegmentID
	}
	return ids
}
