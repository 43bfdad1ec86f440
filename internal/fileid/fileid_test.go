package fileid

import (
	"strings"
	"testing"
)

func TestGrammarID(t *testing.T) {
	id1 := GrammarID("/grammars/pump.xlsx")
	id2 := GrammarID("/grammars/pump.xlsx")
	if id1 != id2 {
		t.Errorf("same path should give same ID: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, prefix) {
		t.Errorf("ID should have prefix %q: got %q", prefix, id1)
	}
	if !IsGrammarID(id1) {
		t.Errorf("IsGrammarID(%q) = false", id1)
	}
}

func TestGrammarID_differentPaths(t *testing.T) {
	if GrammarID("/grammars/pump.xlsx") == GrammarID("/grammars/valve.xlsx") {
		t.Error("different paths should give different IDs")
	}
}

func TestGrammarID_normalized(t *testing.T) {
	id1 := GrammarID("/grammars/pump.xlsx")
	for _, p := range []string{"/grammars/./pump.xlsx", "/grammars//pump.xlsx", "/grammars/x/../pump.xlsx"} {
		if got := GrammarID(p); got != id1 {
			t.Errorf("GrammarID(%q) = %q, want %q", p, got, id1)
		}
	}
}

func TestIsGrammarID(t *testing.T) {
	for _, id := range []string{"", "grammar:", "file:abc", "grammar:zz" + strings.Repeat("0", 30)} {
		if IsGrammarID(id) {
			t.Errorf("IsGrammarID(%q) = true", id)
		}
	}
}
