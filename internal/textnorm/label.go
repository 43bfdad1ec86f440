package textnorm

import "errors"

// ErrEmptyLabel is returned by NewLabel for blank input.
var ErrEmptyLabel = errors.New("label is empty")

// Label is an attribute label as authored in a grammar. The label set is open-ended,
// so it is validated text rather than an enum.
type Label struct {
	raw string
}

// NewLabel validates raw and returns a Label preserving its original casing.
func NewLabel(raw string) (Label, error) {
	if Normalize(raw) == "" {
		return Label{}, ErrEmptyLabel
	}
	return Label{raw: raw}, nil
}

// Raw returns the label exactly as authored.
func (l Label) Raw() string { return l.raw }

// Display returns the whitespace-normalized label with casing preserved.
func (l Label) Display() string { return Normalize(l.raw) }

// Normalized returns the folded label used for structural comparison.
func (l Label) Normalized() string { return Fold(l.raw) }

func (l Label) String() string { return l.Display() }
