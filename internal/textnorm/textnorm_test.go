package textnorm

import (
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Memory  ", "Memory"},
		{"Battery\t\nLife", "Battery Life"},
		{"ＲＡＭ", "RAM"}, // fullwidth folds under NFKC
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFold(t *testing.T) {
	if Fold("MEMORY ") != Fold("memory") {
		t.Error("case and trailing space should fold together")
	}
	if Fold("Straße") != Fold("STRASSE") {
		t.Errorf("full case folding expected: %q vs %q", Fold("Straße"), Fold("STRASSE"))
	}
	if !Equal("Bluetooth  5.0", "bluetooth 5.0") {
		t.Error("Equal should ignore case and whitespace runs")
	}
}

func TestValueHash(t *testing.T) {
	h1 := ValueHash("Memory")
	h2 := ValueHash("  MEMORY ")
	if h1 != h2 {
		t.Errorf("same normalized value should share a hash: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected hex sha256, got %q", h1)
	}
	if ValueHash("Battery") == h1 {
		t.Error("different values should hash differently")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"", KindEmpty},
		{"  ", KindEmpty},
		{"N/A", KindNull},
		{"-", KindNull},
		{"None", KindNull},
		{"X", KindBoolean},
		{"✓", KindBoolean},
		{"Yes", KindBoolean},
		{"Bluetooth 5.0", KindText},
		{"Memory", KindText},
	}
	for _, tt := range tests {
		if got := Classify(tt.in); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if v, ok := Bool("TRUE"); !ok || !v {
		t.Errorf("Bool(TRUE) = %v, %v", v, ok)
	}
	if v, ok := Bool("no"); !ok || v {
		t.Errorf("Bool(no) = %v, %v", v, ok)
	}
	if _, ok := Bool("Memory"); ok {
		t.Error("free text is not a boolean marker")
	}
}

func TestNewLabel(t *testing.T) {
	if _, err := NewLabel("   "); err != ErrEmptyLabel {
		t.Errorf("blank label: got %v", err)
	}
	l, err := NewLabel("  Battery   Type ")
	if err != nil {
		t.Fatal(err)
	}
	if l.Raw() != "  Battery   Type " {
		t.Errorf("raw should be preserved: %q", l.Raw())
	}
	if l.Display() != "Battery Type" {
		t.Errorf("display: %q", l.Display())
	}
	if l.Normalized() != "battery type" {
		t.Errorf("normalized: %q", l.Normalized())
	}
}
