// Package retrieval implements hybrid lexical plus vector search over
// indexed chunks, with a term-overlap reranker and confidence scoring.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/visionllm/ingestor/internal/embedding"
	"github.com/visionllm/ingestor/internal/trace"
)

// Per-leg candidate cap. Each search leg fetches at most this many rows
// regardless of the requested result size.
const maxPerLeg = 50

// RetrievedChunk is one search candidate with its backend score. Lexical
// scores are ts_rank values, vector scores are cosine similarities; the
// union keeps whichever is larger without normalizing across the two.
type RetrievedChunk struct {
	ID        string  `json:"id"`
	URL       string  `json:"url,omitempty"`
	Title     string  `json:"title,omitempty"`
	Product   string  `json:"product,omitempty"`
	ContentMD string  `json:"content_md"`
	Score     float64 `json:"score"`
}

// LexicalSearcher runs full-text search.
type LexicalSearcher interface {
	LexicalSearch(ctx context.Context, query string, limit int) ([]RetrievedChunk, error)
}

// VectorSearcher runs nearest-neighbor search over embeddings.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, vector []float32, limit int) ([]RetrievedChunk, error)
}

// Service unions the two search legs. Either leg may degrade to empty
// without failing the query; only a total loss of both legs still returns
// an empty result rather than an error, matching read-path availability
// over strictness.
type Service struct {
	lexical  LexicalSearcher
	vector   VectorSearcher
	embedder embedding.Embedder
	logger   *QueryLogger
}

func NewService(lexical LexicalSearcher, vector VectorSearcher, embedder embedding.Embedder, logger *QueryLogger) *Service {
	return &Service{lexical: lexical, vector: vector, embedder: embedder, logger: logger}
}

// HybridSearch returns up to topK chunks ordered by score descending.
// Duplicate ids across legs keep the higher score; on an exact tie the
// lexical row wins.
func (s *Service) HybridSearch(ctx context.Context, query string, topK int) ([]RetrievedChunk, error) {
	start := time.Now()

	kEach := topK
	if kEach < 1 {
		kEach = 1
	}
	if kEach > maxPerLeg {
		kEach = maxPerLeg
	}

	var lex, vec []RetrievedChunk
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if s.lexical == nil {
			return nil
		}
		rows, err := s.lexical.LexicalSearch(gctx, query, kEach)
		if err != nil {
			slog.WarnContext(gctx, "lexical search degraded", "error", err)
			return nil
		}
		lex = rows
		return nil
	})

	g.Go(func() error {
		if s.vector == nil || s.embedder == nil {
			return nil
		}
		emb, err := s.embedder.Embed(gctx, query)
		if err != nil {
			slog.WarnContext(gctx, "query embedding degraded", "error", err)
			return nil
		}
		rows, err := s.vector.VectorSearch(gctx, emb, kEach)
		if err != nil {
			slog.WarnContext(gctx, "vector search degraded", "error", err)
			return nil
		}
		vec = rows
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	combined := make(map[string]RetrievedChunk, len(lex)+len(vec))
	for _, r := range lex {
		combined[r.ID] = r
	}
	for _, r := range vec {
		if cur, ok := combined[r.ID]; ok && r.Score <= cur.Score {
			continue
		}
		combined[r.ID] = r
	}

	results := make([]RetrievedChunk, 0, len(combined))
	for _, r := range combined {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			Query:         query,
			NumResults:    len(results),
			Duration:      time.Since(start),
			CorrelationID: trace.GetCorrelationID(ctx),
		})
	}
	return results, nil
}
