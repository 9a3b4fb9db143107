package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-eng/artemis/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStoreStoreAndQuerySimilarFiltered(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id1, err := store.Store(ctx, core.ArtifactResearchReport, "c-1", "Fix login bug", "The login handler panics on empty password", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	_, err = store.Store(ctx, core.ArtifactResearchReport, "c-2", "Unrelated task", "Completely different subject about invoices", nil)
	require.NoError(t, err)

	results, err := store.QuerySimilarFiltered(ctx, "login handler panics on password", nil, 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id1, results[0].Artifact.ArtifactID, "the lexically closer artifact should rank first")
}

func TestStoreQuerySimilarFilteredRestrictsByType(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Store(ctx, core.ArtifactResearchReport, "c-1", "auth bug", "auth bug details", nil)
	require.NoError(t, err)
	_, err = store.Store(ctx, core.ArtifactCodeReview, "c-1", "auth bug", "auth bug details", nil)
	require.NoError(t, err)

	results, err := store.QuerySimilarFiltered(ctx, "auth bug", []core.ArtifactType{core.ArtifactCodeReview}, 5, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, core.ArtifactCodeReview, r.Artifact.ArtifactType)
	}
}

func TestStoreQuerySimilarFilteredAppliesMetadataFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Store(ctx, core.ArtifactResearchReport, "c-1", "task", "content", map[string]interface{}{"language": "go"})
	require.NoError(t, err)
	_, err = store.Store(ctx, core.ArtifactResearchReport, "c-2", "task", "content", map[string]interface{}{"language": "python"})
	require.NoError(t, err)

	results, err := store.QuerySimilarFiltered(ctx, "task content", nil, 5, map[string]interface{}{"language": "go"})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "go", r.Artifact.Metadata["language"])
	}
}

func TestStoreIsAppendOnlyAcrossQueries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.Store(ctx, core.ArtifactResearchReport, "c-1", "first", "first content", nil)
	require.NoError(t, err)

	before, err := store.QuerySimilarFiltered(ctx, "first content", nil, 10, nil)
	require.NoError(t, err)
	require.Len(t, before, 1)

	_, err = store.Store(ctx, core.ArtifactResearchReport, "c-2", "second", "second content", nil)
	require.NoError(t, err)

	after, err := store.QuerySimilarFiltered(ctx, "first content", nil, 10, nil)
	require.NoError(t, err)

	var found bool
	for _, r := range after {
		if r.Artifact.ArtifactID == id {
			found = true
		}
	}
	assert.True(t, found, "further store() calls must not remove a previously stored artifact from later queries")
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store1, err := NewStore(dir)
	require.NoError(t, err)
	id, err := store1.Store(ctx, core.ArtifactResearchReport, "c-1", "persisted", "persisted content", nil)
	require.NoError(t, err)

	store2, err := NewStore(dir)
	require.NoError(t, err)
	results, err := store2.QuerySimilarFiltered(ctx, "persisted content", nil, 5, nil)
	require.NoError(t, err)

	var found bool
	for _, r := range results {
		if r.Artifact.ArtifactID == id {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStoreQuerySimilarSatisfiesArtifactQuerierShape(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Store(ctx, core.ArtifactUnexpectedStateSolution, "c-1", "unexpected state", "stage entered an unexpected state and recovered by retrying", nil)
	require.NoError(t, err)

	artifacts, score := store.QuerySimilar(ctx, core.ArtifactUnexpectedStateSolution, "unexpected state retry recovery", 1)
	require.Len(t, artifacts, 1)
	assert.Greater(t, score, 0.0)
}

func TestStoreQuerySimilarReturnsNothingWhenNoMatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	artifacts, score := store.QuerySimilar(ctx, core.ArtifactUnexpectedStateSolution, "anything", 1)
	assert.Nil(t, artifacts)
	assert.Equal(t, 0.0, score)
}
