package audit

import (
	"sort"

	"github.com/hyperjump/gramaudit/internal/keyword"
	"github.com/hyperjump/gramaudit/internal/similarity"
	"github.com/hyperjump/gramaudit/internal/textnorm"
)

// FusedLabel is a label value with fused keyword and semantic scores.
type FusedLabel struct {
	Key           string   `json:"key"`
	Value         string   `json:"value"`
	Kinds         []string `json:"kinds,omitempty"`
	Score         float64  `json:"score"`
	KeywordScore  float64  `json:"keyword_score"`
	SemanticScore float64  `json:"semantic_score"`
}

// normalizeKeywordScores folds hits into value keys and scales scores to [0,1] by the maximum.
// A value hit more than once keeps its best score.
func normalizeKeywordScores(hits []*keyword.LabelHit) (scores map[string]float64, display map[string]string, kinds map[string][]string) {
	scores = make(map[string]float64)
	display = make(map[string]string)
	kinds = make(map[string][]string)
	maxScore := 0.0
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	for _, h := range hits {
		key := textnorm.Fold(h.Value)
		score := 0.0
		if maxScore > 0 {
			score = h.Score / maxScore
		}
		if prev, ok := scores[key]; !ok || score > prev {
			scores[key] = score
		}
		if _, ok := display[key]; !ok {
			display[key] = textnorm.Normalize(h.Value)
		}
		if !contains(kinds[key], h.Kind) {
			kinds[key] = append(kinds[key], h.Kind)
		}
	}
	return scores, display, kinds
}

// semanticScores keys cosine scores by the folded raw value; negative scores count as zero.
func semanticScores(scored []similarity.Scored, rawByKey map[string]string) (map[string]float64, map[string]string) {
	scores := make(map[string]float64, len(scored))
	display := make(map[string]string, len(scored))
	for _, s := range scored {
		raw := rawByKey[s.Key]
		key := textnorm.Fold(raw)
		score := s.Score
		if score < 0 {
			score = 0
		}
		if prev, ok := scores[key]; !ok || score > prev {
			scores[key] = score
			display[key] = raw
		}
	}
	return scores, display
}

// fuse merges keyword and semantic score maps with weights. Ties break by key.
func fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedLabel {
	byKey := make(map[string]*FusedLabel)
	for key, score := range keywordScores {
		byKey[key] = &FusedLabel{Key: key, KeywordScore: score}
	}
	for key, score := range semanticScores {
		if r, ok := byKey[key]; ok {
			r.SemanticScore = score
		} else {
			byKey[key] = &FusedLabel{Key: key, SemanticScore: score}
		}
	}
	out := make([]*FusedLabel, 0, len(byKey))
	for _, r := range byKey {
		r.Score = keywordWeight*r.KeywordScore + semanticWeight*r.SemanticScore
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
