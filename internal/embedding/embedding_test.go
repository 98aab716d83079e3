package embedding_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionllm/ingestor/internal/embedding"
)

func TestDeterministic_Reproducible(t *testing.T) {
	e := embedding.NewDeterministic(1024)

	a, err := e.Embed(context.Background(), "warehouse sizing guidance")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "warehouse sizing guidance")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 1024)
}

func TestDeterministic_DistinctTextsDiffer(t *testing.T) {
	e := embedding.NewDeterministic(64)

	a, err := e.Embed(context.Background(), "clustering keys")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "query pruning")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDeterministic_UnitNorm(t *testing.T) {
	e := embedding.NewDeterministic(256)

	vec, err := e.Embed(context.Background(), "some document text of moderate length")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestDeterministic_EmptyTextIsZeroVector(t *testing.T) {
	e := embedding.NewDeterministic(16)

	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)

	for _, v := range vec {
		assert.Zero(t, v)
	}
}
