package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	adapter "github.com/visionllm/ingestor/internal/adapter/weaviate"
	"github.com/visionllm/ingestor/internal/pipeline"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) (*weaviate.Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	cfg := weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	require.NoError(t, err)
	return client, ts
}

func TestStore_UpsertChunk(t *testing.T) {
	var gotBody map[string]interface{}
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.Write([]byte(`{"version": "1.26.0"}`))
			return
		}
		assert.Equal(t, "/v1/batch/objects", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode([]map[string]interface{}{{"id": "11111111-1111-1111-1111-111111111111"}})
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	err := store.UpsertChunk(context.Background(), pipeline.Chunk{
		ID:        "11111111-1111-1111-1111-111111111111",
		URL:       "https://d/a",
		Title:     "Guide",
		Product:   "snowflake",
		HPath:     "H1:",
		ContentMD: "body",
		Embedding: []float32{0.1, 0.2},
	})
	require.NoError(t, err)

	objects := gotBody["objects"].([]interface{})
	require.Len(t, objects, 1)
	obj := objects[0].(map[string]interface{})
	assert.Equal(t, "RagChunk", obj["class"])
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", obj["id"])
	props := obj["properties"].(map[string]interface{})
	assert.Equal(t, "body", props["contentMd"])
}

func TestStore_LexicalSearch(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.Write([]byte(`{"version": "1.26.0"}`))
			return
		}
		assert.Equal(t, "/v1/graphql", r.URL.Path)

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		assert.True(t, strings.Contains(body["query"].(string), "bm25"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"RagChunk": []interface{}{
						map[string]interface{}{
							"url":       "https://d/a",
							"title":     "Guide",
							"product":   "snowflake",
							"contentMd": "body",
							"_additional": map[string]interface{}{
								"id":    "id-1",
								"score": "1.75",
							},
						},
					},
				},
			},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	out, err := store.LexicalSearch(context.Background(), "warehouse", 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "id-1", out[0].ID)
	assert.Equal(t, 1.75, out[0].Score)
	assert.Equal(t, "Guide", out[0].Title)
}

func TestStore_VectorSearch(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.Write([]byte(`{"version": "1.26.0"}`))
			return
		}

		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		assert.True(t, strings.Contains(body["query"].(string), "nearVector"))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"Get": map[string]interface{}{
					"RagChunk": []interface{}{
						map[string]interface{}{
							"contentMd": "body",
							"_additional": map[string]interface{}{
								"id":        "id-2",
								"certainty": 0.91,
							},
						},
					},
				},
			},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	out, err := store.VectorSearch(context.Background(), []float32{0.3, 0.7}, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "id-2", out[0].ID)
	assert.Equal(t, 0.91, out[0].Score)
}

func TestStore_GraphQLErrorSurfaces(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.Write([]byte(`{"version": "1.26.0"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{{"message": "class RagChunk not found"}},
		})
	})
	defer ts.Close()

	store := adapter.NewStore(client)
	_, err := store.LexicalSearch(context.Background(), "q", 5)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RagChunk")
}
