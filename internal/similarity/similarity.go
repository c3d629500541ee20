// Package similarity implements tokenized Jaccard similarity for issue
// deduplication, clustering, and regression matching.
package similarity

import "regexp"

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// stopwords are dropped before comparison so similarity reflects the
// distinctive vocabulary of an issue, not English glue words.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "shall": {},
	"should": {}, "may": {}, "might": {}, "must": {}, "can": {}, "could": {},
	"to": {}, "of": {}, "in": {}, "for": {}, "on": {}, "with": {}, "at": {},
	"by": {}, "from": {}, "as": {}, "into": {}, "through": {}, "during": {},
	"before": {}, "after": {}, "above": {}, "below": {}, "between": {},
	"out": {}, "off": {}, "over": {}, "under": {}, "again": {}, "further": {},
	"then": {}, "once": {}, "and": {}, "but": {}, "or": {}, "nor": {},
	"not": {}, "no": {}, "so": {}, "than": {}, "too": {}, "very": {},
	"just": {}, "that": {}, "this": {}, "it": {}, "its": {}, "i": {},
	"me": {}, "my": {}, "we": {}, "our": {},
}

// Tokenize lowercases text, extracts alphanumeric runs, and removes
// stopwords. The result is a set: token multiplicity is ignored.
func Tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(lower(text), -1) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		tokens[tok] = struct{}{}
	}
	return tokens
}

// Jaccard returns |A∩B| / |A∪B| for two token sets. Either set being
// empty yields 0, including two empty sets.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Score is Jaccard over tokenized text, the common case.
func Score(a, b string) float64 {
	return Jaccard(Tokenize(a), Tokenize(b))
}

func lower(s string) string {
	// ASCII lowering is enough: the token pattern only admits [a-z0-9].
	buf := []byte(s)
	for i, c := range buf {
		if c >= 'A' && c <= 'Z' {
			buf[i] = c + 32
		}
	}
	return string(buf)
}
