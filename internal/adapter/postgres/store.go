// Package postgres persists chunks in a rag_chunks table with a pgvector
// embedding column and serves both search legs from it.
package postgres

import (
	"context"
	"database/sql"

	"github.com/pgvector/pgvector-go"

	"github.com/visionllm/ingestor/internal/pipeline"
	"github.com/visionllm/ingestor/internal/retrieval"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertChunk(ctx context.Context, c pipeline.Chunk) error {
	query := `INSERT INTO rag_chunks (id, url, title, product, doc_type, version, updated_at, h_path, content_md, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7::timestamptz, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
  url = EXCLUDED.url,
  title = EXCLUDED.title,
  product = EXCLUDED.product,
  doc_type = EXCLUDED.doc_type,
  version = EXCLUDED.version,
  updated_at = EXCLUDED.updated_at,
  h_path = EXCLUDED.h_path,
  content_md = EXCLUDED.content_md,
  embedding = EXCLUDED.embedding`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.URL, c.Title, c.Product, nullable(c.DocType), nullable(c.Version),
		c.UpdatedAt, c.HPath, c.ContentMD, pgvector.NewVector(c.Embedding))
	return err
}

func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]retrieval.RetrievedChunk, error) {
	q := `SELECT id::text, url, title, product, content_md,
       ts_rank(to_tsvector('english', content_md), plainto_tsquery('english', $1)) AS score
FROM rag_chunks
WHERE to_tsvector('english', content_md) @@ plainto_tsquery('english', $1)
ORDER BY score DESC
LIMIT $2`

	rows, err := s.db.QueryContext(ctx, q, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (s *Store) VectorSearch(ctx context.Context, vector []float32, limit int) ([]retrieval.RetrievedChunk, error) {
	q := `SELECT id::text, url, title, product, content_md,
       1 - (embedding <=> $1) AS score
FROM rag_chunks
ORDER BY embedding <=> $1 ASC
LIMIT $2`

	rows, err := s.db.QueryContext(ctx, q, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows *sql.Rows) ([]retrieval.RetrievedChunk, error) {
	var out []retrieval.RetrievedChunk
	for rows.Next() {
		var c retrieval.RetrievedChunk
		var url, title, product sql.NullString
		if err := rows.Scan(&c.ID, &url, &title, &product, &c.ContentMD, &c.Score); err != nil {
			return nil, err
		}
		c.URL = url.String
		c.Title = title.String
		c.Product = product.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
