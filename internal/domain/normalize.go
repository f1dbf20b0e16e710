package domain

import (
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// NormalizeName lowercases a product name, strips punctuation and collapses
// whitespace so that trivially different spellings hash identically.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// HashName returns the blocking/exact-match hash of a normalized name.
func HashName(normalized string) uint64 {
	return xxhash.Sum64String(normalized)
}

// Fingerprint fills NormalizedName and NameHash from Name.
func (l *RawListing) Fingerprint() {
	l.NormalizedName = NormalizeName(l.Name)
	l.NameHash = HashName(l.NormalizedName)
}
