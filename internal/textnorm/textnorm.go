// Package textnorm holds the Cyrillic case-folding helper used by the
// sport normalizer's name index.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	upper             = cases.Upper(language.Russian)
	nonWordNonSpace   = regexp.MustCompile(`[^\p{L}\p{N}\s\-]+`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
)

// Fold uppercases the input, replaces "ё" with "е", strips characters that
// are neither letters, digits, whitespace nor hyphen, and collapses
// whitespace runs to a single space. It is the normalization the sport-name
// index uses before comparing strings.
func Fold(s string) string {
	s = upper.String(s)
	s = strings.ReplaceAll(s, "Ё", "Е")
	s = nonWordNonSpace.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Collapse collapses whitespace runs without upper-casing or stripping
// punctuation — used where the caller needs clean-but-original-case text.
func Collapse(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
