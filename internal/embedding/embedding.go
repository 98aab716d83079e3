// Package embedding defines the text embedding contract and a deterministic
// offline implementation used when no embedding API is configured.
package embedding

import (
	"context"
	"math"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deterministic hashes bytes into a unit vector. The same text always maps
// to the same vector, so offline runs and tests stay reproducible without
// any API dependency.
type Deterministic struct {
	dim int
}

func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = 1024
	}
	return &Deterministic{dim: dim}
}

func (d *Deterministic) Dim() int { return d.dim }

func (d *Deterministic) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, d.dim)
	for i, b := range []byte(text) {
		vec[i%d.dim] += float32(b%13) / 13.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
