package audit

import (
	"math"
	"testing"

	"github.com/hyperjump/gramaudit/internal/keyword"
	"github.com/hyperjump/gramaudit/internal/similarity"
)

func TestNormalizeKeywordScores(t *testing.T) {
	hits := []*keyword.LabelHit{
		{ID: "a", Kind: keyword.KindAttribute, Value: "Bluetooth", Score: 4},
		{ID: "b", Kind: keyword.KindTaxonomy, Value: "BLUETOOTH ", Score: 2},
		{ID: "c", Kind: keyword.KindAttribute, Value: "Bluetooth Version", Score: 1},
	}
	scores, display, kinds := normalizeKeywordScores(hits)
	if len(scores) != 2 {
		t.Fatalf("expected 2 keys, got %v", scores)
	}
	if scores["bluetooth"] != 1 {
		t.Errorf("best hit should win and normalize to 1, got %f", scores["bluetooth"])
	}
	if scores["bluetooth version"] != 0.25 {
		t.Errorf("got %f, want 0.25", scores["bluetooth version"])
	}
	if display["bluetooth"] != "Bluetooth" {
		t.Errorf("display: %q", display["bluetooth"])
	}
	if len(kinds["bluetooth"]) != 2 {
		t.Errorf("kinds: %v", kinds["bluetooth"])
	}

	scores, _, _ = normalizeKeywordScores(nil)
	if len(scores) != 0 {
		t.Error("no hits should give no scores")
	}
}

func TestSemanticScores(t *testing.T) {
	scored := []similarity.Scored{
		{Key: "h1", Score: 0.9},
		{Key: "h2", Score: -0.3},
		{Key: "h3", Score: 0.95},
	}
	raw := map[string]string{"h1": "Memory", "h2": "Color", "h3": "memory"}
	scores, display := semanticScores(scored, raw)
	if scores["memory"] != 0.95 || display["memory"] != "memory" {
		t.Errorf("best raw value should represent the key: %f %q", scores["memory"], display["memory"])
	}
	if scores["color"] != 0 {
		t.Errorf("negative scores clamp to zero, got %f", scores["color"])
	}
}

func TestFuse(t *testing.T) {
	kw := map[string]float64{"bluetooth": 1, "bt": 0.5}
	sem := map[string]float64{"bluetooth": 0.8, "memory": 0.6}
	got := fuse(kw, sem, 0.5, 0.5)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	if got[0].Key != "bluetooth" || math.Abs(got[0].Score-0.9) > 1e-9 {
		t.Errorf("first: %+v", got[0])
	}
	// bt scores 0.25 and memory 0.3.
	if got[1].Key != "memory" || got[2].Key != "bt" {
		t.Errorf("order: %s, %s", got[1].Key, got[2].Key)
	}

	tied := fuse(map[string]float64{"b": 1, "a": 1}, nil, 1, 0)
	if tied[0].Key != "a" {
		t.Errorf("ties should break by key, got %s first", tied[0].Key)
	}
}
