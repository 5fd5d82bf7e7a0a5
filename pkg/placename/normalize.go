// Package placename normalizes place names for exact comparison across
// scripts, cases and diacritics.
package placename

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that carry no combining mark under NFD and must be folded by hand.
// The fold runs after mark removal so that ǿ, which decomposes to ø plus an
// acute, lands on o too. The Turkish dotless ı is handled here; İ lowercases
// to i plus U+0307, which the mark removal drops.
var fold = strings.NewReplacer(
	"ı", "i",
	"ø", "o",
	"ß", "ss",
	"æ", "ae",
	"œ", "oe",
	"đ", "d",
	"ð", "d",
	"ł", "l",
	"þ", "th",
	"ħ", "h",
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var keepAlnum = runes.Remove(runes.Predicate(func(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}))

// Normalize folds s to its comparison form: lowercased, without diacritics,
// with only letters and digits kept. Normalize(Normalize(s)) == Normalize(s).
//
//	Normalize("İstanbul")   == "istanbul"
//	Normalize("Kadıköy")    == "kadikoy"
//	Normalize("Şanlı-Urfa") == "sanliurfa"
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s, _, _ = transform.String(stripMarks, strings.ToLower(s))
	s = fold.Replace(s)
	s, _, _ = transform.String(keepAlnum, s)
	return s
}

// Equal reports whether a and b are the same name once normalized.
// Two empty forms are never equal.
func Equal(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

// Set is a set of normalized names.
type Set map[string]struct{}

// NormalizeAll returns the set of non-empty normalized forms of names.
func NormalizeAll(names []string) Set {
	set := make(Set, len(names))
	for _, n := range names {
		if k := Normalize(n); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// Has reports whether the normalized form of name is in the set.
func (s Set) Has(name string) bool {
	k := Normalize(name)
	if k == "" {
		return false
	}
	_, ok := s[k]
	return ok
}
