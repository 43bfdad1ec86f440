package models

import "math"

// TaxonomyEntry is one canonical value of a reference taxonomy.
type TaxonomyEntry struct {
	CanonicalValue string    `json:"canonical_value" yaml:"value"`
	Source         string    `json:"source" yaml:"-"`
	Vector         []float32 `json:"-" yaml:"vector,omitempty"`
}

// TaxonomySet is the read-only entry list of one taxonomy source.
type TaxonomySet struct {
	Source  string          `json:"source"`
	Entries []TaxonomyEntry `json:"entries"`
}

// Verdict is the per-taxonomy outcome of a reconciliation.
type Verdict string

const (
	VerdictYes     Verdict = "yes"
	VerdictPartial Verdict = "partial"
	VerdictNo      Verdict = "no"
)

// Candidate is a ranked taxonomy value considered for a match.
type Candidate struct {
	Value   string  `json:"value"`
	Score   float64 `json:"score"`
	Percent int     `json:"percent"`
}

// TaxonomyVerdict reports one taxonomy's verdict for a value.
type TaxonomyVerdict struct {
	Source     string      `json:"source"`
	Verdict    Verdict     `json:"verdict"`
	Score      float64     `json:"score"`
	Percent    int         `json:"percent"`
	Best       *Candidate  `json:"best,omitempty"`
	Candidates []Candidate `json:"candidates"`
}

// ReconciliationResult holds one verdict per taxonomy, in the order the taxonomies were given.
type ReconciliationResult struct {
	ValueHash  string            `json:"value_hash"`
	RawValue   string            `json:"value"`
	Taxonomies []TaxonomyVerdict `json:"taxonomies"`
}

// Verdict returns the verdict for source, or false when source was not evaluated.
func (r *ReconciliationResult) Verdict(source string) (TaxonomyVerdict, bool) {
	for _, v := range r.Taxonomies {
		if v.Source == source {
			return v, true
		}
	}
	return TaxonomyVerdict{}, false
}

// MatchPercent converts a similarity score to the displayed percentage.
func MatchPercent(score float64) int {
	return int(math.Round(score * 100))
}
