// Package match compares person names across sources that disagree on
// accents, casing, and spacing.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold normalizes a name for comparison: diacritics stripped, lowercased,
// interior whitespace collapsed to single spaces.
func Fold(name string) string {
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Same reports whether two names are equal after folding.
func Same(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Contains reports whether the folded text contains the folded name.
// Wikipedia titles like "José Ferrer (actor)" match the bare name this way.
func Contains(text, name string) bool {
	f := Fold(name)
	if f == "" {
		return false
	}
	return strings.Contains(Fold(text), f)
}
