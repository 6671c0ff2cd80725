package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentineld/resolveops/pkg/models"
	"github.com/sentineld/resolveops/pkg/storage"
)

func TestCosineSimilarity_IdenticalVectorsScoreOne(t *testing.T) {
	v := []float64{0.1, 0.2, 0.9}
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarity_OrthogonalVectorsScoreZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}))
}

func TestCosineSimilarity_MismatchedLengthScoresZero(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{1}))
}

func TestTopK_OrdersByDescendingScore(t *testing.T) {
	items := []rankedItem{
		{row: &storage.KnowledgeRow{Content: "low", Source: models.KnowledgeSourceCodePattern}, score: 0.2},
		{row: &storage.KnowledgeRow{Content: "high", Source: models.KnowledgeSourceCodePattern}, score: 0.9},
		{row: &storage.KnowledgeRow{Content: "mid", Source: models.KnowledgeSourceCodePattern}, score: 0.5},
	}

	out := topK(items, 2)
	assert.Len(t, out, 2)
	assert.Equal(t, "high", out[0].Content)
	assert.Equal(t, "mid", out[1].Content)
}

func TestTopK_ClampsToAvailableItems(t *testing.T) {
	items := []rankedItem{{row: &storage.KnowledgeRow{Content: "only"}, score: 0.1}}
	assert.Len(t, topK(items, 5), 1)
}
