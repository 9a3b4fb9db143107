package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/developer"
)

// Development delegates the implementation task to the Developer
// Invoker (C9), fanning out to parallel_developers competing workers.
// When more than one worker ran, arbitration (also C9) scores the
// candidates and selects a winner inline — BaselineStages never lists
// a separate "arbitration" stage, per core.BaselineStages' own
// comment: arbitration runs inside Development.
type Development struct {
	Base
	Invoker    *developer.Invoker
	Arbitrator *developer.Arbitrator
}

// NewDevelopment constructs the development stage.
func NewDevelopment(invoker *developer.Invoker, arbitrator *developer.Arbitrator, notifier Notifier, artifacts ArtifactRecorder, logger core.Logger) *Development {
	return &Development{
		Base:       Base{Name: core.StageDevelopment, Notifier: notifier, Artifacts: artifacts, Logger: logger},
		Invoker:    invoker,
		Arbitrator: arbitrator,
	}
}

func (s *Development) Setup(ctx context.Context, card *core.Card, stageCtx core.Context) error {
	if stageCtx.StringOr("adr_content", "") == "" {
		return fmt.Errorf("%w: development stage requires adr_content in context", core.ErrContractViolation)
	}
	return nil
}

func (s *Development) ExecuteStage(ctx context.Context, card *core.Card, stageCtx core.Context) (map[string]interface{}, error) {
	start := time.Now()

	n := 1
	if v, ok := stageCtx["parallel_developers"].(int); ok && v > 0 {
		n = v
	}
	adrContent := stageCtx.StringOr("adr_content", "")

	results, err := s.Invoker.Invoke(ctx, card, adrContent, n)
	if err != nil {
		return nil, fmt.Errorf("%w: development stage: %v", core.ErrFatal, err)
	}

	out := map[string]interface{}{
		"developer_results": results,
		"duration_seconds":  elapsed(start),
	}

	if n > 1 {
		profileOf := make(map[int]string, len(results))
		for _, r := range results {
			profileOf[r.WorkerID] = r.Profile
		}
		scores := s.Arbitrator.Score(ctx, results, card.AcceptanceCriteria)
		winnerIdx := developer.Winner(scores, profileOf)
		if winnerIdx < 0 {
			return nil, fmt.Errorf("%w: no successful developer candidate to arbitrate", core.ErrFatal)
		}
		winnerScore := scores[winnerIdx]

		if s.Artifacts != nil {
			payload, _ := json.Marshal(map[string]interface{}{
				"scores": scores,
				"winner": winnerScore.WorkerID,
			})
			if _, err := s.Artifacts.Store(ctx, core.ArtifactArbitrationScore, card.CardID, card.Title, string(payload), map[string]interface{}{
				"candidate_count": len(scores),
			}); err != nil {
				return nil, fmt.Errorf("%w: failed to persist arbitration_score: %v", core.ErrFatal, err)
			}
		}

		out["arbitration_ran"] = true
		out["winner"] = findResultByWorkerID(results, winnerScore.WorkerID)
	} else {
		out["arbitration_ran"] = false
		out["winner"] = soleSuccessful(results)
	}

	return out, nil
}

func findResultByWorkerID(results []developer.DeveloperResult, workerID int) *developer.DeveloperResult {
	for i := range results {
		if results[i].WorkerID == workerID {
			return &results[i]
		}
	}
	return nil
}

func soleSuccessful(results []developer.DeveloperResult) *developer.DeveloperResult {
	for i := range results {
		if results[i].Status == "success" {
			return &results[i]
		}
	}
	return nil
}
