// Package signature computes canonical structural signatures of SKU grammars.
package signature

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/gramaudit/internal/models"
	"github.com/hyperjump/gramaudit/internal/textnorm"
)

// Canonicalize returns the structural signature of positions, which must be sorted by
// Index ascending with no gaps or duplicates. Label order is significant; option order is not.
// An empty list yields the signature of the empty canonical form.
func Canonicalize(positions []models.Position) (*models.StructuralSignature, error) {
	form := make([]models.CanonicalPosition, 0, len(positions))
	for i, p := range positions {
		if i > 0 {
			prev := positions[i-1].Index
			switch {
			case p.Index == prev:
				return nil, &models.MalformedInputError{Reason: fmt.Sprintf("duplicate position index %d", p.Index)}
			case p.Index < prev:
				return nil, &models.MalformedInputError{Reason: fmt.Sprintf("position %d listed after %d", p.Index, prev)}
			case p.Index != prev+1:
				return nil, &models.MalformedInputError{Reason: fmt.Sprintf("gap between positions %d and %d", prev, p.Index)}
			}
		}
		label, err := textnorm.NewLabel(p.Label)
		if err != nil {
			return nil, &models.MalformedInputError{Reason: fmt.Sprintf("position %d: %v", p.Index, err)}
		}
		form = append(form, models.CanonicalPosition{
			Label:   label.Normalized(),
			Options: CanonicalOptions(p.OptionCodes),
		})
	}
	return &models.StructuralSignature{
		CanonicalForm: form,
		Hash:          Hash(form),
	}, nil
}

// CanonicalOptions trims, de-duplicates, and sorts option codes. Codes keep their case.
func CanonicalOptions(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Encode returns the canonical byte representation of form. Every string is length-prefixed,
// so no label or code content can collide with the framing.
func Encode(form []models.CanonicalPosition) []byte {
	var buf []byte
	buf = binary.AppendUvarint(buf, uint64(len(form)))
	for _, p := range form {
		buf = appendString(buf, p.Label)
		buf = binary.AppendUvarint(buf, uint64(len(p.Options)))
		for _, o := range p.Options {
			buf = appendString(buf, o)
		}
	}
	return buf
}

// Hash returns the hex SHA-256 of the canonical encoding of form.
func Hash(form []models.CanonicalPosition) string {
	sum := sha256.Sum256(Encode(form))
	return hex.EncodeToString(sum[:])
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// Normalize returns a copy of positions with NormalizedLabel filled and option codes canonicalized.
func Normalize(positions []models.Position) []models.Position {
	out := make([]models.Position, len(positions))
	for i, p := range positions {
		p.NormalizedLabel = textnorm.Fold(p.Label)
		p.OptionCodes = CanonicalOptions(p.OptionCodes)
		out[i] = p
	}
	return out
}
