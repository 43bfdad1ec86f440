package similarity

import (
	"sort"

	"github.com/hyperjump/gramaudit/internal/vector"
)

// Pair is two candidates whose similarity met a threshold. A < B.
type Pair struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Score float64 `json:"score"`
}

// Pairs returns every unordered pair of items with score >= threshold, highest first,
// ties ordered by A then B. Items with a repeated key are ignored after the first.
func Pairs(items []Candidate, threshold float64) []Pair {
	items = uniqueByKey(items)
	results := make([]Pair, 0)
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			s := vector.Cosine(items[i].Vector, items[j].Vector)
			if s < threshold {
				continue
			}
			a, b := items[i].Key, items[j].Key
			if b < a {
				a, b = b, a
			}
			results = append(results, Pair{A: a, B: b, Score: s})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].A != results[j].A {
			return results[i].A < results[j].A
		}
		return results[i].B < results[j].B
	})
	return results
}

// GroupNearDuplicates returns the connected components of the pair graph at threshold.
// Members of each group are sorted; groups are ordered by their first member. Items with no
// near-duplicate are left out.
func GroupNearDuplicates(items []Candidate, threshold float64) [][]string {
	uf := newUnionFind()
	for _, p := range Pairs(items, threshold) {
		uf.union(p.A, p.B)
	}

	byRoot := make(map[string][]string)
	for key := range uf.parent {
		root := uf.find(key)
		byRoot[root] = append(byRoot[root], key)
	}

	groups := make([][]string, 0, len(byRoot))
	for _, members := range byRoot {
		sort.Strings(members)
		groups = append(groups, members)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

func uniqueByKey(items []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(items))
	out := make([]Candidate, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.Key]; ok {
			continue
		}
		seen[it.Key] = struct{}{}
		out = append(out, it)
	}
	return out
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Smaller key becomes the root so results do not depend on pair order.
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
