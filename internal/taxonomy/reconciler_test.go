package taxonomy

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/gramaudit/internal/models"
)

func bluetoothSets() []models.TaxonomySet {
	return []models.TaxonomySet{
		{Source: "zebra", Entries: []models.TaxonomyEntry{
			{CanonicalValue: "Wi-Fi 6", Vector: []float32{0, 1}},
			{CanonicalValue: "Bluetooth 5.0", Vector: []float32{1, 0}},
		}},
		{Source: "htb", Entries: []models.TaxonomyEntry{
			{CanonicalValue: "Bluetooth 5", Vector: []float32{0.9, float32(math.Sqrt(1 - 0.81))}},
			{CanonicalValue: "NFC", Vector: []float32{0, 1}},
		}},
	}
}

func TestReconcile_BluetoothScenario(t *testing.T) {
	value := &models.EmbeddingRecord{ValueHash: "h", RawValue: "Bluetooth 5.0", Vector: []float32{1, 0}}
	res, err := NewReconciler().Reconcile(context.Background(), value, bluetoothSets(), 0.85)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Taxonomies) != 2 || res.Taxonomies[0].Source != "zebra" || res.Taxonomies[1].Source != "htb" {
		t.Fatalf("verdicts out of input order: %+v", res.Taxonomies)
	}

	zebra := res.Taxonomies[0]
	if zebra.Verdict != models.VerdictYes || zebra.Score != 1 || zebra.Percent != 100 {
		t.Errorf("zebra: %+v", zebra)
	}

	htb, ok := res.Verdict("htb")
	if !ok {
		t.Fatal("htb verdict missing")
	}
	if htb.Verdict != models.VerdictPartial {
		t.Errorf("htb verdict: got %s, want partial", htb.Verdict)
	}
	if math.Abs(htb.Score-0.9) > 1e-6 || htb.Percent != 90 {
		t.Errorf("htb score: %f (%d%%)", htb.Score, htb.Percent)
	}
	if htb.Best == nil || htb.Best.Value != "Bluetooth 5" {
		t.Errorf("htb best: %+v", htb.Best)
	}
	if len(htb.Candidates) != 2 || htb.Candidates[1].Value != "NFC" {
		t.Errorf("htb candidates: %+v", htb.Candidates)
	}
}

func TestReconcile_ExactMatchSkipsVectors(t *testing.T) {
	// No vectors anywhere: only the exact path can succeed.
	sets := []models.TaxonomySet{
		{Source: "zebra", Entries: []models.TaxonomyEntry{{CanonicalValue: "Memory"}}},
		{Source: "htb", Entries: []models.TaxonomyEntry{{CanonicalValue: "MEMORY"}}},
	}
	value := &models.EmbeddingRecord{RawValue: "  memory "}
	res, err := NewReconciler().Reconcile(context.Background(), value, sets, 0.85)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range res.Taxonomies {
		if v.Verdict != models.VerdictYes || v.Score != 1 {
			t.Errorf("%s: %+v", v.Source, v)
		}
	}
	if res.Taxonomies[1].Best.Value != "MEMORY" {
		t.Errorf("best should carry the canonical spelling, got %s", res.Taxonomies[1].Best.Value)
	}
}

func TestReconcile_BelowThreshold(t *testing.T) {
	value := &models.EmbeddingRecord{RawValue: "Bluetooth 5.0", Vector: []float32{1, 0}}
	res, err := NewReconciler().Reconcile(context.Background(), value, bluetoothSets()[1:], 0.95)
	if err != nil {
		t.Fatal(err)
	}
	v := res.Taxonomies[0]
	if v.Verdict != models.VerdictNo || v.Best != nil {
		t.Errorf("expected no verdict without best, got %+v", v)
	}
	if v.Percent != 90 || len(v.Candidates) == 0 {
		t.Errorf("supporting candidates should still be reported: %+v", v)
	}
}

func TestReconcile_EmptyTaxonomy(t *testing.T) {
	value := &models.EmbeddingRecord{RawValue: "x", Vector: []float32{1}}
	res, err := NewReconciler().Reconcile(context.Background(), value, []models.TaxonomySet{{Source: "empty"}}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if res.Taxonomies[0].Verdict != models.VerdictNo || len(res.Taxonomies[0].Candidates) != 0 {
		t.Errorf("empty taxonomy: %+v", res.Taxonomies[0])
	}
}

func TestReconcile_Errors(t *testing.T) {
	ctx := context.Background()
	r := NewReconciler()
	if _, err := r.Reconcile(ctx, nil, bluetoothSets(), 0.5); err == nil {
		t.Error("expected error for nil value")
	}
	if _, err := r.Reconcile(ctx, &models.EmbeddingRecord{RawValue: "x"}, bluetoothSets(), 1.5); err == nil {
		t.Error("expected error for threshold out of range")
	}
	if _, err := r.Reconcile(ctx, &models.EmbeddingRecord{RawValue: "Zigbee"}, bluetoothSets(), 0.5); err == nil {
		t.Error("expected error when fuzzy path has no value vector")
	}
	sets := []models.TaxonomySet{{Source: "s", Entries: []models.TaxonomyEntry{{CanonicalValue: "a"}}}}
	if _, err := r.Reconcile(ctx, &models.EmbeddingRecord{RawValue: "b", Vector: []float32{1}}, sets, 0.5); err == nil {
		t.Error("expected error when entry has no vector")
	}
}

func TestReconcile_MaxCandidatesAndDeterminism(t *testing.T) {
	entries := []models.TaxonomyEntry{
		{CanonicalValue: "b", Vector: []float32{1, 0}},
		{CanonicalValue: "a", Vector: []float32{1, 0}},
		{CanonicalValue: "c", Vector: []float32{0, 1}},
	}
	value := &models.EmbeddingRecord{RawValue: "z", Vector: []float32{1, 0}}
	r := NewReconciler(WithMaxCandidates(2))
	sets := []models.TaxonomySet{{Source: "s", Entries: entries}}

	first, err := r.Reconcile(context.Background(), value, sets, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	v := first.Taxonomies[0]
	if len(v.Candidates) != 2 || v.Candidates[0].Value != "a" || v.Candidates[1].Value != "b" {
		t.Errorf("candidates: %+v", v.Candidates)
	}
	for i := 0; i < 5; i++ {
		again, _ := r.Reconcile(context.Background(), value, sets, 0.5)
		if again.Taxonomies[0].Best.Value != v.Best.Value {
			t.Fatal("result changed between runs")
		}
	}
}
