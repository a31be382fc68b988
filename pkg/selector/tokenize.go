package selector

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "how": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "that": true, "the": true, "this": true, "to": true,
	"what": true, "when": true, "which": true, "with": true, "my": true, "our": true,
	"do": true, "does": true, "i": true, "we": true, "if": true, "me": true,
}

// fold normalizes s to NFKC and applies Unicode case folding. A Caser is
// stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

// tokenize splits s into folded terms on anything that is not a letter or
// digit. Underscored identifiers such as risk_free split into their words.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// equalFold compares filter values after normalization. An empty want matches
// everything.
func equalFold(want, got string) bool {
	if strings.TrimSpace(want) == "" {
		return true
	}
	return fold(strings.TrimSpace(want)) == fold(strings.TrimSpace(got))
}
