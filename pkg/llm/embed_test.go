package llm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalEmbedder_IsDeterministic(t *testing.T) {
	e := NewLocalEmbedder()
	a, err := e.Embed(context.Background(), "connection refused to postgres")
	assert.NoError(t, err)
	b, err := e.Embed(context.Background(), "connection refused to postgres")
	assert.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLocalEmbedder_IsUnitNorm(t *testing.T) {
	e := NewLocalEmbedder()
	vec, err := e.Embed(context.Background(), "timeout waiting for upstream response from billing-service")
	assert.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestLocalEmbedder_EmptyTextReturnsZeroVector(t *testing.T) {
	e := NewLocalEmbedder()
	vec, err := e.Embed(context.Background(), "   ")
	assert.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestLocalEmbedder_DifferentTextProducesDifferentVector(t *testing.T) {
	e := NewLocalEmbedder()
	a, _ := e.Embed(context.Background(), "database connection pool exhausted")
	b, _ := e.Embed(context.Background(), "null pointer dereference in handler")
	assert.NotEqual(t, a, b)
}
