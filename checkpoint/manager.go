// Package checkpoint implements the Checkpoint Manager (C5): a
// durable, restartable record of a pipeline run, one file per card,
// written atomically so a crash mid-write never yields a torn file.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/artemis-eng/artemis/core"
)

// Manager owns every Checkpoint on disk under Dir, one JSON file per
// card keyed by CardID. Grounded on messaging.FileStore's
// temp-file-then-rename persistence (messaging/store.go), reused here
// because a Checkpoint has the same durability requirement as the
// Messaging Bus's shared-state blob: a crash mid-write must yield
// either the old or the new state, never a mix of both.
type Manager struct {
	mu              sync.Mutex
	dir             string
	retainCompleted bool
	logger          core.Logger

	cache map[string]*core.Checkpoint
}

// NewManager opens (or creates) the checkpoint directory dir.
func NewManager(dir string, retainCompleted bool, logger core.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Manager{
		dir:             dir,
		retainCompleted: retainCompleted,
		logger:          logger,
		cache:           make(map[string]*core.Checkpoint),
	}, nil
}

func (m *Manager) path(cardID string) string {
	return filepath.Join(m.dir, cardID+".json")
}

// Path returns the on-disk location of cardID's checkpoint file, for
// callers that surface it in a final report (e.g. the Orchestrator).
func (m *Manager) Path(cardID string) string {
	return m.path(cardID)
}

// loadLocked returns the Checkpoint for cardID, preferring the
// in-memory cache, falling back to disk. Caller holds m.mu.
func (m *Manager) loadLocked(cardID string) (*core.Checkpoint, error) {
	if cp, ok := m.cache[cardID]; ok {
		return cp, nil
	}
	data, err := os.ReadFile(m.path(cardID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading checkpoint: %v", core.ErrCheckpointCorrupt, err)
	}
	var cp core.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: decoding checkpoint: %v", core.ErrCheckpointCorrupt, err)
	}
	m.cache[cardID] = &cp
	return &cp, nil
}

// persistLocked writes cp atomically (temp file + rename). Caller
// holds m.mu.
func (m *Manager) persistLocked(cp *core.Checkpoint) error {
	cp.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(m.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, m.path(cp.CardID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp checkpoint file: %w", err)
	}
	m.cache[cp.CardID] = cp
	return nil
}

// Create initializes a new active Checkpoint for cardID. executionContext
// is the Orchestrator's starting context map, persisted so a resumed
// run can reconstruct it without replaying earlier stages.
func (m *Manager) Create(ctx context.Context, cardID string, totalStages int, executionContext map[string]interface{}) (*core.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cp := &core.Checkpoint{
		CheckpointID:     cardID,
		CardID:           cardID,
		Status:           core.CheckpointActive,
		CreatedAt:        now,
		UpdatedAt:        now,
		StageCheckpoints: make(map[core.StageName]*core.StageRecord),
		TotalStages:      totalStages,
		ExecutionContext: executionContext,
	}
	if err := m.persistLocked(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (m *Manager) requireActive(cp *core.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("%w: no checkpoint for card", core.ErrCheckpointCorrupt)
	}
	if cp.Status.Terminal() {
		return fmt.Errorf("%w: checkpoint %s is terminal (%s)", core.ErrCheckpointCorrupt, cp.CardID, cp.Status)
	}
	return nil
}

// SetCurrentStage updates current_stage and updated_at.
func (m *Manager) SetCurrentStage(ctx context.Context, cardID string, stageName core.StageName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.loadLocked(cardID)
	if err != nil {
		return err
	}
	if err := m.requireActive(cp); err != nil {
		return err
	}
	cp.CurrentStage = stageName
	return m.persistLocked(cp)
}

// SaveStage appends or updates a StageRecord, and on a completed, failed
// or skipped status moves the stage into the matching list and out of
// the others, which recomputes stages_completed. A skipped record goes
// to RuntimeSkippedStages, so NextStage offers that stage again on resume.
func (m *Manager) SaveStage(ctx context.Context, cardID string, record core.StageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.loadLocked(cardID)
	if err != nil {
		return err
	}
	if err := m.requireActive(cp); err != nil {
		return err
	}

	record.DurationSeconds = record.EndTime.Sub(record.StartTime).Seconds()
	cp.StageCheckpoints[record.StageName] = &record

	switch record.Status {
	case core.StageStatusCompleted:
		cp.CompletedStages = appendUnique(cp.CompletedStages, record.StageName)
		cp.FailedStages = removeStage(cp.FailedStages, record.StageName)
		cp.SkippedStages = removeStage(cp.SkippedStages, record.StageName)
		cp.RuntimeSkippedStages = removeStage(cp.RuntimeSkippedStages, record.StageName)
	case core.StageStatusFailed:
		cp.FailedStages = appendUnique(cp.FailedStages, record.StageName)
		cp.CompletedStages = removeStage(cp.CompletedStages, record.StageName)
		cp.SkippedStages = removeStage(cp.SkippedStages, record.StageName)
		cp.RuntimeSkippedStages = removeStage(cp.RuntimeSkippedStages, record.StageName)
	case core.StageStatusSkipped:
		cp.RuntimeSkippedStages = appendUnique(cp.RuntimeSkippedStages, record.StageName)
		cp.CompletedStages = removeStage(cp.CompletedStages, record.StageName)
		cp.FailedStages = removeStage(cp.FailedStages, record.StageName)
	}

	return m.persistLocked(cp)
}

func appendUnique(list []core.StageName, s core.StageName) []core.StageName {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func removeStage(list []core.StageName, s core.StageName) []core.StageName {
	out := list[:0]
	for _, existing := range list {
		if existing != s {
			out = append(out, existing)
		}
	}
	return out
}

// CanResume reports whether a Checkpoint exists for cardID in a
// resumable status with at least one non-terminal stage remaining.
func (m *Manager) CanResume(ctx context.Context, cardID string, allStages []core.StageName) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.loadLocked(cardID)
	if err != nil {
		return false, err
	}
	if cp == nil {
		return false, nil
	}
	return cp.CanResume(allStages), nil
}

// Resume reloads the Checkpoint, increments resume_count, records
// last_resume_time, and transitions it back to active.
func (m *Manager) Resume(ctx context.Context, cardID string) (*core.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.loadLocked(cardID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: no checkpoint for card %s", core.ErrCheckpointCorrupt, cardID)
	}

	now := time.Now()
	cp.ResumeCount++
	cp.LastResumeTime = &now
	cp.Status = core.CheckpointActive
	if err := m.persistLocked(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// NextStage returns the first stage in allStages not present in
// completed_stages ∪ skipped_stages.
func (m *Manager) NextStage(ctx context.Context, cardID string, allStages []core.StageName) (core.StageName, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.loadLocked(cardID)
	if err != nil {
		return "", false, err
	}
	if cp == nil {
		if len(allStages) == 0 {
			return "", false, nil
		}
		return allStages[0], true, nil
	}
	stage, ok := cp.NextStage(allStages)
	return stage, ok, nil
}

// CachedLLMResponse returns the cached response stored under stageName
// for promptHash, or nil if none was stored.
func (m *Manager) CachedLLMResponse(ctx context.Context, cardID string, stageName core.StageName, promptHash string) (*core.CachedLLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.loadLocked(cardID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}
	record, ok := cp.StageCheckpoints[stageName]
	if !ok {
		return nil, nil
	}
	for _, cached := range record.LLMResponses {
		if cached.PromptHash == promptHash {
			c := cached
			return &c, nil
		}
	}
	return nil, nil
}

// MarkCompleted transitions the Checkpoint to its terminal completed
// state.
func (m *Manager) MarkCompleted(ctx context.Context, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.loadLocked(cardID)
	if err != nil {
		return err
	}
	if err := m.requireActive(cp); err != nil {
		return err
	}
	cp.Status = core.CheckpointCompleted
	if err := m.persistLocked(cp); err != nil {
		return err
	}
	if !m.retainCompleted {
		delete(m.cache, cardID)
		return os.Remove(m.path(cardID))
	}
	return nil
}

// MarkFailed transitions the Checkpoint to its terminal failed state,
// recording reason.
func (m *Manager) MarkFailed(ctx context.Context, cardID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.loadLocked(cardID)
	if err != nil {
		return err
	}
	if err := m.requireActive(cp); err != nil {
		return err
	}
	cp.Status = core.CheckpointFailed
	cp.FailureReason = reason
	return m.persistLocked(cp)
}

// Progress computes {progress_percent, stages_completed, total_stages,
// current_stage, elapsed_seconds, estimated_remaining_seconds}. ETA is
// avg_per_completed × stages_remaining.
func (m *Manager) Progress(ctx context.Context, cardID string) (*core.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.loadLocked(cardID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: no checkpoint for card %s", core.ErrCheckpointCorrupt, cardID)
	}

	completed := cp.StagesCompleted()
	progressPercent := 0.0
	if cp.TotalStages > 0 {
		progressPercent = 100 * float64(completed) / float64(cp.TotalStages)
	}

	elapsed := time.Since(cp.CreatedAt).Seconds()

	var totalDuration float64
	var durationsSeen int
	for _, stageName := range cp.CompletedStages {
		if record, ok := cp.StageCheckpoints[stageName]; ok {
			totalDuration += record.DurationSeconds
			durationsSeen++
		}
	}

	estimatedRemaining := 0.0
	if durationsSeen > 0 {
		avgPerCompleted := totalDuration / float64(durationsSeen)
		remaining := cp.TotalStages - completed
		if remaining < 0 {
			remaining = 0
		}
		estimatedRemaining = avgPerCompleted * float64(remaining)
	}

	return &core.Progress{
		ProgressPercent:           progressPercent,
		StagesCompleted:           completed,
		TotalStages:               cp.TotalStages,
		CurrentStage:              cp.CurrentStage,
		ElapsedSeconds:            elapsed,
		EstimatedRemainingSeconds: estimatedRemaining,
	}, nil
}
