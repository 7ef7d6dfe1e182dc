package conversation

import (
	"regexp"
	"strings"

	"github.com/xiaot623/lectern/internal/domain"
	"github.com/xiaot623/lectern/internal/textutil"
)

var (
	examplePattern     = regexp.MustCompile(`\b(example|examples|for instance|show me|demonstrate|illustrate|such as|sample)\b`)
	explanationPattern = regexp.MustCompile(`^(explain|why|how (does|do|is|are|can)|describe|elaborate|walk me through|clarify|what do you mean)\b|\b(i don'?t (get|understand)|confused|confusing|lost me)\b`)
	offTopicPattern    = regexp.MustCompile(`\b(weather|joke|movie|sports?|recipe|song|stock price|lottery|horoscope)\b`)

	fillerPattern = regexp.MustCompile(`\b(um+|uh+|erm|hmm+|you know|i mean|basically|actually|so|okay|ok|hey|hi|hello|please|can you|could you|would you|tell me|i want to know|i wonder|kind of|sort of|quick question)\b`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// smalltalk words make up greetings and thanks.
var smalltalk = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "thanks": {}, "thank": {}, "you": {}, "bye": {},
	"goodbye": {}, "cool": {}, "nice": {}, "great": {}, "lol": {}, "good": {}, "morning": {},
	"evening": {}, "afternoon": {}, "how": {}, "are": {}, "doing": {}, "ok": {}, "okay": {},
	"so": {}, "much": {}, "there": {}, "awesome": {},
}

// ClassifyIntent assigns a rule-based intent to a learner message.
func ClassifyIntent(message string) domain.Intent {
	text := strings.ToLower(strings.TrimSpace(message))
	switch {
	case isSmalltalk(text) || offTopicPattern.MatchString(text):
		return domain.IntentOffTopic
	case examplePattern.MatchString(text):
		return domain.IntentExample
	case explanationPattern.MatchString(text):
		return domain.IntentExplanation
	default:
		return domain.IntentQuestion
	}
}

func isSmalltalk(text string) bool {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && r != '\''
	})
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if _, ok := smalltalk[w]; !ok {
			return false
		}
	}
	return true
}

// ExtractQuery strips conversational fillers, leaving the searchable query.
func ExtractQuery(message string) string {
	q := strings.ToLower(message)
	q = fillerPattern.ReplaceAllString(q, " ")
	q = spacePattern.ReplaceAllString(q, " ")
	return strings.Trim(q, " ,.!?;:")
}

// queryTerms counts the content terms left in a query.
func queryTerms(query string) int {
	return len(textutil.ContentTokens(query))
}
