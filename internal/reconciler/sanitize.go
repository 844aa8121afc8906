package reconciler

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// strictPolicy removes every HTML tag and attribute
var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup and unprintable characters from free text
// supplied by users, then trims surrounding whitespace. Entities escaped by
// the policy are decoded again so "R&D" stays readable.
func SanitizeText(s string) string {
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1
	}, s)
	return strings.TrimSpace(s)
}
