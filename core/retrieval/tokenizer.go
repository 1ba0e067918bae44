// Package retrieval implements keyword, vector, and hybrid search over
// ingested document chunks.
package retrieval

import (
	"strings"
	"unicode"
)

// stopwords are dropped from keyword queries. The list covers common
// English function words; everything else counts as a query term.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "did": {}, "do": {},
	"does": {}, "for": {}, "from": {}, "had": {}, "has": {}, "have": {},
	"how": {}, "i": {}, "if": {}, "in": {}, "is": {}, "it": {},
	"its": {}, "me": {}, "my": {}, "no": {}, "not": {}, "of": {},
	"on": {}, "or": {}, "our": {}, "so": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "we": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"why": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

const minTermLength = 3

// Tokenize lowercases the question, splits on non-alphanumeric runes,
// and drops stopwords and terms shorter than three characters. The
// returned terms are deduplicated in first-seen order.
func Tokenize(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) < minTermLength {
			continue
		}
		if _, stop := stopwords[field]; stop {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		terms = append(terms, field)
	}
	return terms
}
