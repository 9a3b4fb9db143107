package artifacts

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/artemis-eng/artemis/core"
)

func TestCosineIdenticalVectors(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosine(v, v), 1e-9)
}

func TestCosineOrthogonalVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, cosine(a, b), 1e-9)
}

func TestCosineMismatchedLengthOrEmpty(t *testing.T) {
	assert.Equal(t, 0.0, cosine([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, cosine([]float32{}, []float32{}))
}

func TestMMRSelectReturnsTopScoreFirst(t *testing.T) {
	candidates := []ScoredArtifact{
		{Artifact: core.Artifact{ArtifactID: "low", Embedding: []float32{1, 0}}, Score: 0.2},
		{Artifact: core.Artifact{ArtifactID: "high", Embedding: []float32{0, 1}}, Score: 0.9},
	}
	selected := mmrSelect(candidates, 2, 0.5)
	assert.Equal(t, "high", selected[0].Artifact.ArtifactID)
}

func TestMMRSelectPrefersDiversityOverNearDuplicate(t *testing.T) {
	candidates := []ScoredArtifact{
		{Artifact: core.Artifact{ArtifactID: "best", Embedding: []float32{1, 0}}, Score: 0.95},
		{Artifact: core.Artifact{ArtifactID: "near-duplicate", Embedding: []float32{0.99, 0.01}}, Score: 0.9},
		{Artifact: core.Artifact{ArtifactID: "diverse", Embedding: []float32{0, 1}}, Score: 0.5},
	}

	selected := mmrSelect(candidates, 2, 0.5)
	assert.Len(t, selected, 2)
	assert.Equal(t, "best", selected[0].Artifact.ArtifactID)
	assert.Equal(t, "diverse", selected[1].Artifact.ArtifactID, "MMR should favor the diverse candidate over the near-duplicate of the top pick")
}

func TestMMRSelectClampsKToCandidateCount(t *testing.T) {
	candidates := []ScoredArtifact{
		{Artifact: core.Artifact{ArtifactID: "only", Embedding: []float32{1, 0}}, Score: 0.5},
	}
	selected := mmrSelect(candidates, 5, 0.5)
	assert.Len(t, selected, 1)
}

func TestMMRSelectEmptyInputs(t *testing.T) {
	assert.Nil(t, mmrSelect(nil, 5, 0.5))
	assert.Nil(t, mmrSelect([]ScoredArtifact{{Score: 1}}, 0, 0.5))
}
