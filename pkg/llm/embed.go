package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"regexp"
	"strings"
)

// embeddingDimensions is fixed so cosine similarity in pkg/knowledge can
// compare any two vectors produced by this package.
const embeddingDimensions = 128

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// LocalEmbedder is a deterministic, dependency-free stand-in for a hosted
// embedding model. No embedding/vector SDK appears anywhere in the
// dependency set this module was grounded on (see DESIGN.md); this hashes
// token n-grams into a fixed-width vector instead, which is stable,
// requires no network call, and is good enough to rank the small
// candidate pool pkg/knowledge works over.
type LocalEmbedder struct{}

// NewLocalEmbedder builds a LocalEmbedder.
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{}
}

// Embed implements pkg/knowledge.Embedder.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, embeddingDimensions)
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint32(sum[0:4]) % embeddingDimensions
		sign := 1.0
		if sum[4]%2 == 1 {
			sign = -1.0
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}
