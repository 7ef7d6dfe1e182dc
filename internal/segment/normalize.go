package segment

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	// annotationPattern matches caption annotations such as [Music] or (applause).
	annotationPattern = regexp.MustCompile(`\[[^\]]*\]|\((?i:music|applause|laughter|laughs|inaudible|silence|cheering)[^)]*\)`)
	musicNotes        = strings.NewReplacer("♪", " ", "♫", " ", "♬", " ")
	lowerCaser        = cases.Lower(language.Und)
)

// Normalize applies NFKC, drops caption annotations, folds case and collapses whitespace.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = annotationPattern.ReplaceAllString(text, " ")
	text = musicNotes.Replace(text)
	text = lowerCaser.String(text)
	return strings.Join(strings.Fields(text), " ")
}
