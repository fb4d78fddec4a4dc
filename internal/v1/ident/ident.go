// Package ident produces the normalized lookup form of display names.
// Every name-keyed table in the server is keyed by this form, so two names
// that collapse identically are the same identity.
package ident

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// marks decomposes, drops combining marks, then recomposes, which folds
// diacritics onto their base characters.
var marks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Collapse lowercases s, removes all Unicode whitespace and strips
// diacritics. The result is empty when s holds no non-whitespace
// characters. Collapse is idempotent.
func Collapse(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	folded, _, err := transform.String(marks, s)
	if err != nil {
		return s
	}
	return folded
}
