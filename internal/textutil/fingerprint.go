package textutil

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// tokenSplitPattern matches non-alphanumeric character sequences for tokenization.
var tokenSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "all": {},
	"any": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {}, "out": {},
	"has": {}, "have": {}, "him": {}, "his": {}, "how": {}, "its": {}, "let": {}, "may": {},
	"now": {}, "see": {}, "she": {}, "that": {}, "this": {}, "then": {}, "than": {}, "them": {},
	"they": {}, "there": {}, "these": {}, "those": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "while": {}, "who": {}, "whom": {}, "why": {}, "will": {}, "with": {},
	"would": {}, "could": {}, "should": {}, "about": {}, "into": {}, "from": {}, "just": {},
	"like": {}, "some": {}, "more": {}, "most": {}, "very": {}, "also": {}, "been": {},
	"being": {}, "were": {}, "does": {}, "did": {}, "doing": {}, "your": {}, "yours": {},
	"here": {}, "over": {}, "only": {}, "such": {}, "each": {}, "other": {}, "because": {},
	"going": {}, "gonna": {}, "okay": {}, "yeah": {}, "really": {}, "thing": {}, "things": {},
	"get": {}, "got": {}, "say": {}, "said": {}, "well": {}, "know": {}, "mean": {}, "means": {},
	"use": {}, "used": {}, "using": {}, "way": {}, "want": {}, "need": {}, "look": {}, "make": {},
	"explain": {}, "tell": {}, "please": {}, "give": {}, "show": {}, "example": {}, "examples": {},
	"question": {}, "video": {}, "talk": {}, "talking": {}, "something": {}, "again": {},
}

// Fingerprint represents a term-frequency vector for text similarity comparison.
type Fingerprint struct {
	tokens map[string]float64
	norm   float64
}

// NewFingerprint creates a fingerprint from the content tokens of text.
// Returns nil if the text produces no valid tokens.
func NewFingerprint(text string) *Fingerprint {
	return FromTokens(ContentTokens(text))
}

// FromTokens builds a fingerprint from already tokenized terms.
func FromTokens(tokens []string) *Fingerprint {
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	var norm float64
	for _, count := range counts {
		norm += count * count
	}
	return &Fingerprint{
		tokens: counts,
		norm:   math.Sqrt(norm),
	}
}

// Tokenize splits text into lowercase tokens, filtering short tokens.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	raw := tokenSplitPattern.Split(lowered, -1)
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		if len(token) < 3 {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// ContentTokens is Tokenize without stopwords.
func ContentTokens(text string) []string {
	tokens := Tokenize(text)
	out := tokens[:0]
	for _, token := range tokens {
		if IsStopword(token) {
			continue
		}
		out = append(out, token)
	}
	return out
}

// IsStopword reports whether token carries no topical content.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// TokenCount returns the number of unique tokens in the fingerprint.
func (f *Fingerprint) TokenCount() int {
	if f == nil {
		return 0
	}
	return len(f.tokens)
}

// Weight returns the weight of term, or zero when absent.
func (f *Fingerprint) Weight(term string) float64 {
	if f == nil {
		return 0
	}
	return f.tokens[term]
}

// Terms returns the fingerprint's terms ordered by weight desc, then lexically.
func (f *Fingerprint) Terms() []string {
	if f == nil {
		return nil
	}
	terms := make([]string, 0, len(f.tokens))
	for term := range f.tokens {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		wi, wj := f.tokens[terms[i]], f.tokens[terms[j]]
		if wi != wj {
			return wi > wj
		}
		return terms[i] < terms[j]
	})
	return terms
}

// WithIDF returns a new Fingerprint with TF-IDF weights applied.
// Each term's count is multiplied by its IDF weight. The norm is recomputed.
// Terms absent from the IDF map retain their original weight.
func (f *Fingerprint) WithIDF(idf map[string]float64) *Fingerprint {
	if f == nil || len(idf) == 0 {
		return f
	}
	weighted := make(map[string]float64, len(f.tokens))
	var norm float64
	for token, count := range f.tokens {
		w := count
		if idfVal, ok := idf[token]; ok {
			w *= idfVal
		}
		if w == 0 {
			continue
		}
		weighted[token] = w
		norm += w * w
	}
	if len(weighted) == 0 {
		return nil
	}
	return &Fingerprint{
		tokens: weighted,
		norm:   math.Sqrt(norm),
	}
}

// Corpus collects document frequency statistics for IDF computation.
type Corpus struct {
	docCount int
	docFreq  map[string]int
}

// NewCorpus creates an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{docFreq: make(map[string]int)}
}

// Add registers a fingerprint's unique terms in the corpus.
// Nil fingerprints still count as documents.
func (c *Corpus) Add(fp *Fingerprint) {
	if c == nil {
		return
	}
	c.docCount++
	if fp == nil {
		return
	}
	for token := range fp.tokens {
		c.docFreq[token]++
	}
}

// Docs returns the number of documents added.
func (c *Corpus) Docs() int {
	if c == nil {
		return 0
	}
	return c.docCount
}

// IDF computes inverse document frequency weights: log((N+1)/(1+df)) for each term.
func (c *Corpus) IDF() map[string]float64 {
	if c == nil || c.docCount == 0 {
		return nil
	}
	idf := make(map[string]float64, len(c.docFreq))
	n := float64(c.docCount)
	for term, df := range c.docFreq {
		idf[term] = math.Log((n + 1) / (1 + float64(df)))
	}
	return idf
}
