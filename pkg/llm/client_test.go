package llm

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
)

func TestSplitTitleAndDescription_SplitsOnFirstNewline(t *testing.T) {
	title, desc, err := splitTitleAndDescription("Checkout latency spike\nP99 latency crossed threshold for 5 minutes.")
	assert.NoError(t, err)
	assert.Equal(t, "Checkout latency spike", title)
	assert.Equal(t, "P99 latency crossed threshold for 5 minutes.", desc)
}

func TestSplitTitleAndDescription_NoNewlineReturnsWholeTextAsTitle(t *testing.T) {
	title, desc, err := splitTitleAndDescription("just a title")
	assert.NoError(t, err)
	assert.Equal(t, "just a title", title)
	assert.Empty(t, desc)
}

func TestEstimateCost_UnknownModelIsZero(t *testing.T) {
	cost := estimateCost(Usage{ModelName: "not-a-real-model", InputTokens: 1000, OutputTokens: 1000})
	assert.Zero(t, cost)
}

func TestEstimateCost_KnownModelScalesWithTokens(t *testing.T) {
	cost := estimateCost(Usage{ModelName: string(anthropic.ModelClaudeSonnet4_5), InputTokens: 1_000_000, OutputTokens: 0})
	assert.Greater(t, cost, 0.0)
}
