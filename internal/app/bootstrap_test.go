package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionllm/ingestor/internal/config"
	"github.com/visionllm/ingestor/internal/embedding"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls <= 2 {
			return errors.New("not ready")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("permanent")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry(ctx, 10, time.Second, func() error {
		return errors.New("not ready")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBootstrap_NoneBackend(t *testing.T) {
	cfg := &config.Config{
		StoreBackend: "none",
		EmbedDim:     64,
		QueryLogPath: filepath.Join(t.TempDir(), "query.log"),
	}

	a, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Store)
	assert.Nil(t, a.DB)
	assert.NotNil(t, a.Retrieval)
	assert.IsType(t, &embedding.Deterministic{}, a.Embedder)
	assert.Equal(t, 0.52, a.Reranker.Threshold)
}

func TestBootstrap_UnknownBackend(t *testing.T) {
	cfg := &config.Config{
		StoreBackend: "redis",
	}

	a, err := Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "unknown store backend")
}
