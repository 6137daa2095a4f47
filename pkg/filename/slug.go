package filename

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify turns a journalist designation such as "Quintuple Cant" into an
// alias usable inside a filename ("quintuple_cant"). Accents are folded to
// their base letter; anything outside [a-z0-9_-] is dropped.
func Slugify(designation string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, designation)
	if err != nil {
		folded = designation
	}

	folded = strings.ReplaceAll(strings.ToLower(folded), " ", "_")

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
