// Package textmatch implements the fuzzy string comparison used by the
// reconciliation engine to decide whether two merchant names or descriptions
// refer to the same transaction.
package textmatch

import (
	"regexp"
	"strings"
	"unicode"
)

// jaccardThreshold is the minimum token-set similarity accepted as a match.
const jaccardThreshold = 0.5

var maskedCardSuffixRe = regexp.MustCompile(`\*{2,}\s*\d{2,4}`)

// Normalize lowercases s and strips every non-alphanumeric rune.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokens splits s into lowercase alphanumeric words.
func tokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard returns the token-set Jaccard similarity of a and b in [0,1].
func Jaccard(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// Fuzzy reports whether a and b refer to the same text: equal after
// normalization, one normalized form containing the other, or token-set
// Jaccard similarity at or above the threshold.
func Fuzzy(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}
	return Jaccard(a, b) >= jaccardThreshold
}

// HasMaskedCardSuffix reports whether s contains a masked card number
// fragment such as "****1234", the pattern card-paid app rows carry in their
// free text.
func HasMaskedCardSuffix(s string) bool {
	return maskedCardSuffixRe.MatchString(s)
}
