package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/developer"
)

// CodeReview scores every developer candidate on the same 100-point
// rubric arbitration uses, independent of whether arbitration actually
// ran (a single-developer run still gets review_scores, per spec.md
// §4.7's "produces per-candidate scores in review_scores"). The score
// is persisted as a code_review artifact, distinct from the
// arbitration_score artifact Development stores.
type CodeReview struct {
	Base
	Arbitrator *developer.Arbitrator
}

// NewCodeReview constructs the code review stage.
func NewCodeReview(arbitrator *developer.Arbitrator, notifier Notifier, artifacts ArtifactRecorder, logger core.Logger) *CodeReview {
	return &CodeReview{
		Base:       Base{Name: core.StageReview, Notifier: notifier, Artifacts: artifacts, Logger: logger},
		Arbitrator: arbitrator,
	}
}

func (s *CodeReview) Setup(ctx context.Context, card *core.Card, stageCtx core.Context) error {
	if _, ok := stageCtx["developer_results"]; !ok {
		return fmt.Errorf("%w: code review stage requires developer_results in context", core.ErrContractViolation)
	}
	return nil
}

func (s *CodeReview) ExecuteStage(ctx context.Context, card *core.Card, stageCtx core.Context) (map[string]interface{}, error) {
	start := time.Now()

	results, ok := stageCtx["developer_results"].([]developer.DeveloperResult)
	if !ok {
		return nil, fmt.Errorf("%w: developer_results has unexpected type", core.ErrContractViolation)
	}

	scores := s.Arbitrator.Score(ctx, results, card.AcceptanceCriteria)

	if s.Artifacts != nil {
		payload, _ := json.Marshal(scores)
		if _, err := s.Artifacts.Store(ctx, core.ArtifactCodeReview, card.CardID, card.Title, string(payload), map[string]interface{}{
			"candidate_count": len(scores),
		}); err != nil {
			return nil, fmt.Errorf("%w: failed to persist review_scores: %v", core.ErrFatal, err)
		}
	}

	return map[string]interface{}{
		"review_scores":    scores,
		"duration_seconds": elapsed(start),
	}, nil
}
