package similarity

import (
	"reflect"
	"testing"
)

func pool() []Candidate {
	return []Candidate{
		{Key: "delta", Vector: []float32{0, 1}},
		{Key: "alpha", Vector: []float32{1, 0}},
		{Key: "beta", Vector: []float32{1, 0}},
		{Key: "gamma", Vector: []float32{1, 1}},
		{Key: "short", Vector: []float32{1}},
	}
}

func keys(s []Scored) []string {
	out := make([]string, len(s))
	for i, m := range s {
		out[i] = m.Key
	}
	return out
}

func TestMatch_OrderAndTieBreak(t *testing.T) {
	got := Match([]float32{1, 0}, pool(), 0.5)
	want := []string{"alpha", "beta", "gamma"}
	if !reflect.DeepEqual(keys(got), want) {
		t.Errorf("keys = %v, want %v", keys(got), want)
	}
	if got[0].Score != 1 || got[1].Score != 1 {
		t.Errorf("scores: %v", got)
	}
}

func TestMatch_EmptyCandidates(t *testing.T) {
	got := Match([]float32{1, 0}, nil, 0)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestMatch_ThresholdInclusive(t *testing.T) {
	got := Match([]float32{1, 0}, []Candidate{{Key: "x", Vector: []float32{1, 0}}}, 1.0)
	if len(got) != 1 {
		t.Errorf("score equal to threshold should be kept, got %v", got)
	}
}

func TestMatch_ThresholdMonotonic(t *testing.T) {
	source := []float32{0.8, 0.6}
	thresholds := []float64{-1, 0, 0.3, 0.5, 0.7, 0.8, 0.9, 1}
	for i := 0; i < len(thresholds); i++ {
		for j := i; j < len(thresholds); j++ {
			lo := Match(source, pool(), thresholds[i])
			hi := Match(source, pool(), thresholds[j])
			set := make(map[string]bool)
			for _, m := range lo {
				set[m.Key] = true
			}
			for _, m := range hi {
				if !set[m.Key] {
					t.Errorf("match at %.1f has %s missing at %.1f", thresholds[j], m.Key, thresholds[i])
				}
			}
		}
	}
}

func TestMatch_Deterministic(t *testing.T) {
	a := Match([]float32{1, 1}, pool(), 0)
	b := Match([]float32{1, 1}, pool(), 0)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("results differ: %v vs %v", a, b)
	}
}

func TestRank(t *testing.T) {
	got := Rank([]float32{0, 1}, pool())
	if len(got) != len(pool()) {
		t.Fatalf("rank should keep all candidates, got %d", len(got))
	}
	if got[0].Key != "delta" {
		t.Errorf("best: got %s, want delta", got[0].Key)
	}
}
