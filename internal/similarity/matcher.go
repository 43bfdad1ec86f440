// Package similarity scores embedding vectors against candidate pools and groups near-duplicates.
package similarity

import (
	"sort"

	"github.com/hyperjump/gramaudit/internal/vector"
)

// Candidate is a keyed vector in a candidate pool.
type Candidate struct {
	Key    string
	Vector []float32
}

// Scored is a candidate key with its cosine similarity to a source vector.
type Scored struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}

// Match scores every candidate against source and returns those with score >= threshold,
// highest score first, equal scores ordered by key. There is no default threshold.
func Match(source []float32, candidates []Candidate, threshold float64) []Scored {
	out := make([]Scored, 0)
	for _, c := range candidates {
		s := vector.Cosine(source, c.Vector)
		if s >= threshold {
			out = append(out, Scored{Key: c.Key, Score: s})
		}
	}
	sortScored(out)
	return out
}

// Rank scores every candidate against source without a threshold.
func Rank(source []float32, candidates []Candidate) []Scored {
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{Key: c.Key, Score: vector.Cosine(source, c.Vector)}
	}
	sortScored(out)
	return out
}

func sortScored(s []Scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].Key < s[j].Key
	})
}
