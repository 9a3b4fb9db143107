package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-eng/artemis/core"
)

const (
	stageResearch    core.StageName = "research"
	stageDesign      core.StageName = "design"
	stageDevelopment core.StageName = "development"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), true, nil)
	require.NoError(t, err)
	return m
}

func TestCreateInitializesActiveCheckpoint(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	cp, err := m.Create(ctx, "card-1", 3, map[string]interface{}{"goal": "ship feature"})
	require.NoError(t, err)
	assert.Equal(t, core.CheckpointActive, cp.Status)
	assert.Equal(t, 3, cp.TotalStages)
	assert.Equal(t, "ship feature", cp.ExecutionContext["goal"])
}

func TestSetCurrentStageUpdatesAndPersists(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 3, nil)
	require.NoError(t, err)

	require.NoError(t, m.SetCurrentStage(ctx, "card-1", stageResearch))

	m2, err := NewManager(m.dir, true, nil)
	require.NoError(t, err)
	cp, err := m2.loadLocked("card-1")
	require.NoError(t, err)
	assert.Equal(t, stageResearch, cp.CurrentStage)
}

func TestSaveStageCompletedUpdatesCompletedStagesAndCount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 2, nil)
	require.NoError(t, err)

	start := time.Now()
	end := start.Add(2 * time.Second)
	err = m.SaveStage(ctx, "card-1", core.StageRecord{
		StageName: stageResearch,
		Status:    core.StageStatusCompleted,
		StartTime: start,
		EndTime:   end,
		Result:    map[string]interface{}{"ok": true},
	})
	require.NoError(t, err)

	m.mu.Lock()
	cp := m.cache["card-1"]
	m.mu.Unlock()

	assert.Contains(t, cp.CompletedStages, stageResearch)
	assert.Equal(t, 1, cp.StagesCompleted())
	assert.InDelta(t, 2.0, cp.StageCheckpoints[stageResearch].DurationSeconds, 0.01)
}

func TestSaveStageFailedThenCompletedMovesStageOutOfFailed(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 2, nil)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, m.SaveStage(ctx, "card-1", core.StageRecord{
		StageName: stageResearch, Status: core.StageStatusFailed, StartTime: now, EndTime: now,
	}))
	require.NoError(t, m.SaveStage(ctx, "card-1", core.StageRecord{
		StageName: stageResearch, Status: core.StageStatusCompleted, StartTime: now, EndTime: now,
		Result: map[string]interface{}{"ok": true},
	}))

	m.mu.Lock()
	cp := m.cache["card-1"]
	m.mu.Unlock()
	assert.Contains(t, cp.CompletedStages, stageResearch)
	assert.NotContains(t, cp.FailedStages, stageResearch)
}

func TestSaveStageRejectsMutationOnTerminalCheckpoint(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 1, nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkCompleted(ctx, "card-1"))

	err = m.SaveStage(ctx, "card-1", core.StageRecord{StageName: stageResearch, Status: core.StageStatusCompleted})
	assert.Error(t, err)
}

func TestCanResumeTrueWhenStagesRemain(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 2, nil)
	require.NoError(t, err)

	all := []core.StageName{stageResearch, stageDesign}
	canResume, err := m.CanResume(ctx, "card-1", all)
	require.NoError(t, err)
	assert.True(t, canResume)
}

func TestCanResumeFalseForUnknownCard(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	canResume, err := m.CanResume(ctx, "does-not-exist", []core.StageName{stageResearch})
	require.NoError(t, err)
	assert.False(t, canResume)
}

func TestCanResumeFalseWhenAllStagesCompleted(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 1, nil)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, m.SaveStage(ctx, "card-1", core.StageRecord{
		StageName: stageResearch, Status: core.StageStatusCompleted, StartTime: now, EndTime: now,
		Result: map[string]interface{}{"ok": true},
	}))

	canResume, err := m.CanResume(ctx, "card-1", []core.StageName{stageResearch})
	require.NoError(t, err)
	assert.False(t, canResume)
}

func TestResumeIncrementsResumeCountAndReactivates(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 2, nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkFailed(ctx, "card-1", "stage crashed"))

	cp, err := m.Resume(ctx, "card-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.ResumeCount)
	assert.Equal(t, core.CheckpointActive, cp.Status)
	assert.NotNil(t, cp.LastResumeTime)
}

func TestNextStageReturnsFirstIncompleteStage(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 3, nil)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, m.SaveStage(ctx, "card-1", core.StageRecord{
		StageName: stageResearch, Status: core.StageStatusCompleted, StartTime: now, EndTime: now,
		Result: map[string]interface{}{"ok": true},
	}))

	all := []core.StageName{stageResearch, stageDesign, stageDevelopment}
	next, ok, err := m.NextStage(ctx, "card-1", all)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stageDesign, next)
}

func TestNextStageForUnknownCardReturnsFirstStage(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	next, ok, err := m.NextStage(ctx, "brand-new-card", []core.StageName{stageResearch, stageDesign})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stageResearch, next)
}

func TestCachedLLMResponseRoundTrips(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 1, nil)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, m.SaveStage(ctx, "card-1", core.StageRecord{
		StageName: stageResearch, Status: core.StageStatusRunning, StartTime: now, EndTime: now,
		LLMResponses: []core.CachedLLMResponse{{PromptHash: "abc123", Response: "cached answer"}},
	}))

	cached, err := m.CachedLLMResponse(ctx, "card-1", stageResearch, "abc123")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "cached answer", cached.Response)
}

func TestCachedLLMResponseMissReturnsNil(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 1, nil)
	require.NoError(t, err)

	cached, err := m.CachedLLMResponse(ctx, "card-1", stageResearch, "nope")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestMarkCompletedRemovesFileWhenRetainCompletedDisabled(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(t.TempDir(), false, nil)
	require.NoError(t, err)
	_, err = m.Create(ctx, "card-1", 1, nil)
	require.NoError(t, err)

	require.NoError(t, m.MarkCompleted(ctx, "card-1"))

	_, err = m.loadLocked("card-1")
	require.NoError(t, err)
	m.mu.Lock()
	_, cached := m.cache["card-1"]
	m.mu.Unlock()
	assert.False(t, cached)
}

func TestMarkFailedSetsReasonAndTerminalStatus(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 1, nil)
	require.NoError(t, err)

	require.NoError(t, m.MarkFailed(ctx, "card-1", "out of budget"))

	m.mu.Lock()
	cp := m.cache["card-1"]
	m.mu.Unlock()
	assert.Equal(t, core.CheckpointFailed, cp.Status)
	assert.Equal(t, "out of budget", cp.FailureReason)
}

func TestProgressComputesPercentAndETA(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "card-1", 4, nil)
	require.NoError(t, err)

	start := time.Now().Add(-10 * time.Second)
	end := start.Add(4 * time.Second)
	require.NoError(t, m.SaveStage(ctx, "card-1", core.StageRecord{
		StageName: stageResearch, Status: core.StageStatusCompleted, StartTime: start, EndTime: end,
		Result: map[string]interface{}{"ok": true},
	}))

	progress, err := m.Progress(ctx, "card-1")
	require.NoError(t, err)
	assert.InDelta(t, 25.0, progress.ProgressPercent, 0.01)
	assert.Equal(t, 1, progress.StagesCompleted)
	assert.Equal(t, 4, progress.TotalStages)
	assert.InDelta(t, 12.0, progress.EstimatedRemainingSeconds, 0.1)
}

func TestProgressUnknownCardErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Progress(ctx, "does-not-exist")
	assert.Error(t, err)
}

func TestPersistenceSurvivesNewManagerInstance(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m1, err := NewManager(dir, true, nil)
	require.NoError(t, err)
	_, err = m1.Create(ctx, "card-1", 2, map[string]interface{}{"goal": "persist me"})
	require.NoError(t, err)

	m2, err := NewManager(dir, true, nil)
	require.NoError(t, err)
	cp, err := m2.loadLocked("card-1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "persist me", cp.ExecutionContext["goal"])
}
