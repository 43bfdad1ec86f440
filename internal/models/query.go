package models

import "fmt"

// ReconcileQuery is a request to reconcile free-text values against the loaded taxonomies.
type ReconcileQuery struct {
	Values    []string `json:"values"`
	Source    string   `json:"source,omitempty"`    // provenance recorded on first sight of a value
	Threshold *float64 `json:"threshold,omitempty"` // nil means use the configured threshold
}

// Validate ensures the query has values and a usable threshold.
// Blank values are dropped; a threshold outside [0,1] is rejected.
func (q *ReconcileQuery) Validate() error {
	values := q.Values[:0]
	for _, v := range q.Values {
		if v != "" {
			values = append(values, v)
		}
	}
	q.Values = values
	if len(q.Values) == 0 {
		return fmt.Errorf("values cannot be empty")
	}
	return validateThreshold(q.Threshold)
}

// SimilarQuery asks for cached labels similar to Value.
type SimilarQuery struct {
	Value     string   `json:"value"`
	Threshold *float64 `json:"threshold,omitempty"` // nil means use the configured threshold
	Limit     int      `json:"limit,omitempty"`
}

// Validate ensures the value is set and normalizes limit and threshold bounds.
func (q *SimilarQuery) Validate() error {
	if q.Value == "" {
		return fmt.Errorf("value cannot be empty")
	}
	if err := validateThreshold(q.Threshold); err != nil {
		return err
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}

// Threshold returns a pointer to t for the optional threshold fields. An explicit 0 keeps every
// candidate; nil defers to the configured threshold.
func Threshold(t float64) *float64 { return &t }

// ThresholdOr returns *t, or def when t is nil.
func ThresholdOr(t *float64, def float64) float64 {
	if t == nil {
		return def
	}
	return *t
}

func validateThreshold(t *float64) error {
	if t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("threshold must be within [0,1], got %g", *t)
	}
	return nil
}

// LabelQuery searches indexed labels by keyword and by embedding similarity.
type LabelQuery struct {
	Query          string  `json:"query"`
	Kind           string  `json:"kind,omitempty"`
	Source         string  `json:"source,omitempty"`
	Fuzziness      int     `json:"fuzziness,omitempty"`
	Limit          int     `json:"limit,omitempty"`
	KeywordWeight  float64 `json:"keyword_weight,omitempty"`
	SemanticWeight float64 `json:"semantic_weight,omitempty"`
}

// Validate ensures the query is set and applies defaults. Both weights zero means an even split.
func (q *LabelQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Fuzziness < 0 || q.Fuzziness > 2 {
		return fmt.Errorf("fuzziness must be 0, 1 or 2, got %d", q.Fuzziness)
	}
	if q.KeywordWeight < 0 || q.SemanticWeight < 0 {
		return fmt.Errorf("weights cannot be negative")
	}
	if q.KeywordWeight == 0 && q.SemanticWeight == 0 {
		q.KeywordWeight, q.SemanticWeight = 0.5, 0.5
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}
