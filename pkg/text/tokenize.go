// Package text holds the tokenizer shared by keyword scoring and the
// offline hash embedder.
package text

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {}, "it": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"with": {},
}

// Tokenize lower-cases s, splits it on anything that is not a letter or a
// digit, and drops common English stopwords.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]struct{} {
	tokens := Tokenize(s)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Overlap returns the fraction of query tokens that also occur in content,
// in [0, 1]. An empty query scores 0.
func Overlap(query, content string) float64 {
	q := TokenSet(query)
	if len(q) == 0 {
		return 0
	}
	c := TokenSet(content)
	hits := 0
	for t := range q {
		if _, ok := c[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(q))
}
