package keyword

import (
	"sort"
	"strings"
)

// Suggestion is a known term close to a query term.
type Suggestion struct {
	Term      string `json:"term"`
	Distance  int    `json:"distance"`
	Frequency int    `json:"frequency"`
}

// Suggester proposes "did you mean" corrections from a term dictionary.
type Suggester struct {
	terms       map[string]int
	maxDistance int
}

// NewSuggester builds a Suggester over terms (term to document frequency).
// maxDistance below 1 defaults to 2.
func NewSuggester(terms map[string]int, maxDistance int) *Suggester {
	if maxDistance < 1 {
		maxDistance = 2
	}
	return &Suggester{terms: terms, maxDistance: maxDistance}
}

// Suggest returns up to limit known terms within the edit distance of term,
// closest first, then most frequent, then alphabetical.
func (s *Suggester) Suggest(term string, limit int) []Suggestion {
	term = strings.ToLower(term)
	var out []Suggestion
	for t, freq := range s.terms {
		if t == term || abs(len([]rune(t))-len([]rune(term))) > s.maxDistance {
			continue
		}
		if d := EditDistance(term, t); d <= s.maxDistance {
			out = append(out, Suggestion{Term: t, Distance: d, Frequency: freq})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Term < out[j].Term
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Correct replaces each unknown term of query with its best suggestion.
// ok is false when nothing changed.
func (s *Suggester) Correct(query string) (corrected string, ok bool) {
	terms := tokenizeQuery(query)
	for i, t := range terms {
		if _, known := s.terms[t]; known {
			continue
		}
		if best := s.Suggest(t, 1); len(best) > 0 {
			terms[i] = best[0].Term
			ok = true
		}
	}
	return strings.Join(terms, " "), ok
}

// EditDistance is the optimal string alignment distance between a and b:
// insertions, deletions, substitutions, and adjacent transpositions each cost one.
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	// Three rolling rows: two back for transpositions.
	prev2 := make([]int, len(rb)+1)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				curr[j] = min(curr[j], prev2[j-2]+1)
			}
		}
		prev2, prev, curr = prev, curr, prev2
	}
	return prev[len(rb)]
}

func tokenizeQuery(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
