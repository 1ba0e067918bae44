package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// HashEmbedder is a deterministic embedder for tests and offline use.
// Every token of the text is hashed into a fixed number of buckets, so
// texts sharing words produce similar vectors and identical texts
// produce identical vectors. The output is L2-normalized.
type HashEmbedder struct {
	dim int
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a hash embedder with the given vector length.
// A non-positive dim falls back to 64.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, e.dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		bucket := int(binary.BigEndian.Uint32(sum[:4])) % e.dim
		if bucket < 0 {
			bucket += e.dim
		}
		// The fifth byte decides the sign so buckets can cancel out,
		// which keeps unrelated texts from all pointing the same way.
		if sum[4]%2 == 0 {
			vector[bucket]++
		} else {
			vector[bucket]--
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}

func (e *HashEmbedder) Dimensions() int {
	return e.dim
}
