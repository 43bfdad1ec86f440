package keyword

import "testing"

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "ab", 2},
		{"memory", "memory", 0},
		{"memory", "memroy", 1},
		{"bluetooth", "bluetoth", 1},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := EditDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("EditDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSuggester_Suggest(t *testing.T) {
	s := NewSuggester(map[string]int{"memory": 4, "memo": 1, "bluetooth": 2, "mercury": 9}, 2)
	got := s.Suggest("memroy", 5)
	if len(got) == 0 || got[0].Term != "memory" || got[0].Distance != 1 {
		t.Fatalf("Suggest(memroy) = %+v", got)
	}
	for _, sg := range got {
		if sg.Term == "bluetooth" {
			t.Errorf("bluetooth is too far from memroy: %+v", got)
		}
	}
	if got := s.Suggest("memory", 5); len(got) == 0 || got[0].Term == "memory" {
		t.Errorf("a known term should not suggest itself: %+v", got)
	}
}

func TestSuggester_Correct(t *testing.T) {
	s := NewSuggester(map[string]int{"memory": 4, "size": 3}, 0)
	got, ok := s.Correct("Memroy size")
	if !ok || got != "memory size" {
		t.Errorf("Correct = %q, %v", got, ok)
	}
	if _, ok := s.Correct("memory size"); ok {
		t.Error("known terms should not be corrected")
	}
}
