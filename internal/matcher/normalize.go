package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	providerSuffix = regexp.MustCompile(`(?i)\s*\(\s*careskills\s*\)\s*$`)
	stepSuffix     = regexp.MustCompile(`(?i)\s*(?:\(\s*step\s*\d+\s*\)|-\s*step\s*\d+|\bstep\s*\d+)\s*$`)
)

// FoldKey is the comparison key for exact matches: NFC, case folded,
// whitespace collapsed and trimmed.
func FoldKey(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// NormalizeCourseName strips trailing provider and step markers and folds the
// result. "Moving & Handling - Step 2 (Careskills)" and "moving & handling"
// normalize to the same key.
func NormalizeCourseName(name string) string {
	s := strings.TrimSpace(name)
	for {
		stripped := stepSuffix.ReplaceAllString(providerSuffix.ReplaceAllString(s, ""), "")
		if stripped == s {
			break
		}
		s = strings.TrimSpace(stripped)
	}
	return FoldKey(s)
}

// tokenize splits a normalized name into words, dropping tokens made only of punctuation
func tokenize(normalized string) []string {
	fields := strings.Fields(normalized)
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// overlapRatio is the share of source tokens that are a substring or
// superstring of some catalog token
func overlapRatio(source, catalog []string) float64 {
	if len(source) == 0 || len(catalog) == 0 {
		return 0
	}
	hits := 0
	for _, s := range source {
		for _, c := range catalog {
			if strings.Contains(c, s) || strings.Contains(s, c) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(source))
}
