// Package textnorm normalizes and classifies raw spreadsheet cell values.
// Originals are never mutated; folded forms are for comparison and keys only.
package textnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKC, trims, and collapses internal whitespace runs to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// Fold returns the case-folded normalized form of s, used for case-insensitive comparison.
func Fold(s string) string {
	// Casers are stateful; a fresh one per call keeps Fold safe for concurrent use.
	return cases.Fold().String(Normalize(s))
}

// Equal reports whether a and b are equal after folding.
func Equal(a, b string) bool {
	return Fold(a) == Fold(b)
}

// ValueHash returns the content address of a text value: hex SHA-256 of its folded form.
func ValueHash(s string) string {
	sum := sha256.Sum256([]byte(Fold(s)))
	return hex.EncodeToString(sum[:])
}

// Kind classifies a raw cell value.
type Kind int

const (
	KindEmpty Kind = iota
	KindNull
	KindBoolean
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	default:
		return "text"
	}
}

var nullMarkers = map[string]struct{}{
	"-": {}, "--": {}, "—": {}, "n/a": {}, "na": {}, "null": {}, "none": {}, "nil": {},
}

var booleanMarkers = map[string]bool{
	"x": true, "✓": true, "✔": true, "yes": true, "y": true, "true": true,
	"no": false, "n": false, "false": false,
}

// Classify reports whether s is empty, a null marker, a boolean marker, or free text.
func Classify(s string) Kind {
	f := Fold(s)
	if f == "" {
		return KindEmpty
	}
	if _, ok := nullMarkers[f]; ok {
		return KindNull
	}
	if _, ok := booleanMarkers[f]; ok {
		return KindBoolean
	}
	return KindText
}

// Bool returns the value of a boolean marker. ok is false when s is not one.
func Bool(s string) (value, ok bool) {
	value, ok = booleanMarkers[Fold(s)]
	return value, ok
}

// IsEmbeddable reports whether s carries free text worth embedding.
func IsEmbeddable(s string) bool {
	return Classify(s) == KindText
}
