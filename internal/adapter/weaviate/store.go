// Package weaviate is the alternative chunk store. It keeps chunks in a
// RagChunk class and serves the lexical leg with BM25 and the vector leg
// with nearVector.
package weaviate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/visionllm/ingestor/internal/pipeline"
	"github.com/visionllm/ingestor/internal/retrieval"
)

const className = "RagChunk"

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// UpsertChunk writes through the batch endpoint, which overwrites an
// existing object with the same id.
func (s *Store) UpsertChunk(ctx context.Context, c pipeline.Chunk) error {
	obj := &models.Object{
		Class: className,
		ID:    strfmt.UUID(c.ID),
		Properties: map[string]interface{}{
			"url":       c.URL,
			"title":     c.Title,
			"product":   c.Product,
			"docType":   c.DocType,
			"version":   c.Version,
			"updatedAt": c.UpdatedAt,
			"hPath":     c.HPath,
			"contentMd": c.ContentMD,
		},
		Vector: models.C11yVector(c.Embedding),
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert: %s", r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) LexicalSearch(ctx context.Context, query string, limit int) ([]retrieval.RetrievedChunk, error) {
	bm25 := s.client.GraphQL().Bm25ArgBuilder().
		WithQuery(query).
		WithProperties("contentMd", "title")

	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithBM25(bm25).
		WithLimit(limit).
		WithFields(chunkFields()...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return parseChunks(res, "score")
}

func (s *Store) VectorSearch(ctx context.Context, vector []float32, limit int) ([]retrieval.RetrievedChunk, error) {
	near := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	res, err := s.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(near).
		WithLimit(limit).
		WithFields(chunkFields()...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return parseChunks(res, "certainty")
}

func chunkFields() []graphql.Field {
	return []graphql.Field{
		{Name: "url"},
		{Name: "title"},
		{Name: "product"},
		{Name: "contentMd"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "score"},
			{Name: "certainty"},
		}},
	}
}

func parseChunks(res *models.GraphQLResponse, scoreField string) ([]retrieval.RetrievedChunk, error) {
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var out []retrieval.RetrievedChunk
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return out, nil
	}
	rows, ok := data[className].([]interface{})
	if !ok {
		return out, nil
	}

	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		var c retrieval.RetrievedChunk
		if v, ok := props["url"].(string); ok {
			c.URL = v
		}
		if v, ok := props["title"].(string); ok {
			c.Title = v
		}
		if v, ok := props["product"].(string); ok {
			c.Product = v
		}
		if v, ok := props["contentMd"].(string); ok {
			c.ContentMD = v
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				c.ID = id
			}
			// BM25 scores arrive as strings, certainty as a number.
			switch v := additional[scoreField].(type) {
			case float64:
				c.Score = v
			case string:
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					c.Score = f
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}
