package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_AggregatesPerProduct(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "meta")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	alpha := `{"url":"https://a/1","status":200,"product":"alpha","fetched_at":"t","content_tokens_est":100}
{"url":"https://a/2","status":200,"product":"alpha","fetched_at":"t","error":"skip-index-like"}
{"url":"https://a/3","status":0,"product":"alpha","fetched_at":"t","error":"robots-disallow"}
{"url":"https://a/4","status":0,"product":"alpha","fetched_at":"t","error":"max_retries_exceeded"}
bad line
`
	beta := `{"url":"https://b/1","status":200,"product":"beta","fetched_at":"t","content_tokens_est":40}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha.jsonl"), []byte(alpha), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta.jsonl"), []byte(beta), 0o644))

	stats, err := Stats(dataDir)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, ProductStats{
		Product: "alpha", Records: 4, Succeeded: 1, Failed: 1, Skipped: 2, Tokens: 100,
	}, stats[0])
	assert.Equal(t, ProductStats{
		Product: "beta", Records: 1, Succeeded: 1, Tokens: 40,
	}, stats[1])
}

func TestStats_NoLedgerDir(t *testing.T) {
	stats, err := Stats(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, stats)
}
