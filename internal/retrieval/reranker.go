package retrieval

import (
	"sort"
	"strings"
)

// DefaultConfidenceThreshold gates the low-confidence answer strategy.
const DefaultConfidenceThreshold = 0.52

// Reranker re-scores candidates by query-term overlap. It stands in for a
// learned model: the overlap ratio is normalized by max(6, |query terms|)
// so very short queries cannot inflate scores, and capped at 1.
type Reranker struct {
	Threshold float64
}

func NewReranker(threshold float64) *Reranker {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Reranker{Threshold: threshold}
}

// Rerank orders candidates by overlap ratio descending, breaking ties by
// title length, and truncates to k. k <= 0 keeps all candidates.
func (r *Reranker) Rerank(query string, candidates []RetrievedChunk, k int) []RetrievedChunk {
	qTerms := queryTerms(query)

	ranked := make([]RetrievedChunk, len(candidates))
	copy(ranked, candidates)
	ratios := make(map[string]float64, len(ranked))
	for _, c := range ranked {
		ratios[c.ID] = overlapRatio(qTerms, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := ratios[ranked[i].ID], ratios[ranked[j].ID]
		if ri != rj {
			return ri > rj
		}
		return len(ranked[i].Title) > len(ranked[j].Title)
	})

	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// Confidence is the best overlap ratio across the candidate set.
func (r *Reranker) Confidence(query string, candidates []RetrievedChunk) float64 {
	qTerms := queryTerms(query)
	best := 0.0
	for _, c := range candidates {
		if ratio := overlapRatio(qTerms, c); ratio > best {
			best = ratio
		}
	}
	return best
}

// IsLowConfidence reports whether the caller should fall back to a
// clarifying prompt strategy instead of answering directly.
func (r *Reranker) IsLowConfidence(confidence float64) bool {
	return confidence < r.Threshold
}

func queryTerms(query string) map[string]bool {
	terms := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(query)) {
		terms[t] = true
	}
	return terms
}

func overlapRatio(qTerms map[string]bool, c RetrievedChunk) float64 {
	if len(qTerms) == 0 {
		return 0
	}

	docTerms := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(c.Title + "\n" + c.ContentMD)) {
		docTerms[t] = true
	}

	overlap := 0
	for t := range qTerms {
		if docTerms[t] {
			overlap++
		}
	}

	denom := len(qTerms)
	if denom < 6 {
		denom = 6
	}
	ratio := float64(overlap) / float64(denom)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}
