package search

import (
	"sort"

	"github.com/hyperjump/mnemo/internal/models"
	"github.com/hyperjump/mnemo/pkg/utils"
)

// Scored is a raw per-signal score for one document.
type Scored struct {
	ID    string
	Score float64
}

// Normalize min-max scales scores over the candidate set, keyed by document ID.
// A single candidate, or a set where every score ties, normalizes to 1.
func Normalize(hits []Scored) map[string]float64 {
	scores := make([]float64, len(hits))
	for i, h := range hits {
		scores[i] = h.Score
	}
	utils.MinMax(scores)
	normalized := make(map[string]float64, len(hits))
	for i, h := range hits {
		normalized[h.ID] = scores[i]
	}
	return normalized
}

// Fuse merges normalized vector and lexical scores over the union of both candidate sets.
// A document missing from one signal scores 0 there. Results are sorted by combined
// score descending, then DocID ascending.
func Fuse(vectorScores, lexicalScores map[string]float64, vectorWeight, lexicalWeight float64) []*models.SearchResult {
	scoreMap := make(map[string]*models.SearchResult, len(vectorScores)+len(lexicalScores))
	for id, score := range vectorScores {
		scoreMap[id] = &models.SearchResult{DocID: id, VectorScore: score}
	}
	for id, score := range lexicalScores {
		if result, exists := scoreMap[id]; exists {
			result.LexicalScore = score
		} else {
			scoreMap[id] = &models.SearchResult{DocID: id, LexicalScore: score}
		}
	}
	results := make([]*models.SearchResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.CombinedScore = vectorWeight*result.VectorScore + lexicalWeight*result.LexicalScore
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].DocID < results[j].DocID
	})
	return results
}
