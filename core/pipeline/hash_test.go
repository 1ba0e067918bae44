package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("Deterministic", func(t *testing.T) {
		embedder := NewHashEmbedder(64)

		first, err := embedder.Embed(ctx, "the refund policy allows returns")
		require.NoError(t, err)
		second, err := embedder.Embed(ctx, "the refund policy allows returns")
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("Dimension respected", func(t *testing.T) {
		embedder := NewHashEmbedder(128)

		vector, err := embedder.Embed(ctx, "some text")

		require.NoError(t, err)
		assert.Len(t, vector, 128)
		assert.Equal(t, 128, embedder.Dimensions())
	})

	t.Run("Non positive dimension falls back", func(t *testing.T) {
		embedder := NewHashEmbedder(0)

		assert.Equal(t, 64, embedder.Dimensions())
	})

	t.Run("Output is unit length", func(t *testing.T) {
		embedder := NewHashEmbedder(64)

		vector, err := embedder.Embed(ctx, "normalize me please")
		require.NoError(t, err)

		var norm float64
		for _, v := range vector {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	})

	t.Run("Shared words raise similarity", func(t *testing.T) {
		embedder := NewHashEmbedder(64)

		refundA, err := embedder.Embed(ctx, "refund policy for returns")
		require.NoError(t, err)
		refundB, err := embedder.Embed(ctx, "what is the refund policy")
		require.NoError(t, err)
		unrelated, err := embedder.Embed(ctx, "kubernetes cluster autoscaling guide")
		require.NoError(t, err)

		assert.Greater(t, dot(refundA, refundB), dot(refundA, unrelated))
	})

	t.Run("Empty text is a zero vector", func(t *testing.T) {
		embedder := NewHashEmbedder(64)

		vector, err := embedder.Embed(ctx, "")
		require.NoError(t, err)

		for _, v := range vector {
			assert.Zero(t, v)
		}
	})

	t.Run("Cancelled context rejected", func(t *testing.T) {
		embedder := NewHashEmbedder(64)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := embedder.Embed(cancelled, "text")

		assert.Error(t, err)
	})
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
