package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artemis-eng/artemis/core"
)

// ErrAwaitingApproval is returned by ProjectAnalysis when a
// requires-approval card has no recorded decision yet. Neither the
// Supervisor nor the Orchestrator special-cases it: it is retried like
// any other stage error and, once retries run out, fails the stage.
var ErrAwaitingApproval = errors.New("awaiting human approval")

// ProjectAnalysis is the pipeline's first stage: it studies the Card
// and proposes the set of changes the rest of the pipeline will build,
// per spec.md §4.7. When the card carries the "requires-approval"
// label, it pauses for an external/human decision by broadcasting an
// approval_requested notification and consuming the decision out of
// stageCtx rather than blocking the goroutine indefinitely — a
// supervised pipeline stage must still return within its timeout
// budget (spec.md §5), so approval is expected to have already been
// recorded into context by the time this stage runs again after a
// checkpoint resume.
type ProjectAnalysis struct {
	Base
	LLM LLMCompleter
}

// NewProjectAnalysis constructs the analysis stage.
func NewProjectAnalysis(llm LLMCompleter, notifier Notifier, artifacts ArtifactRecorder, logger core.Logger) *ProjectAnalysis {
	return &ProjectAnalysis{
		Base: Base{Name: core.StageAnalysis, Notifier: notifier, Artifacts: artifacts, Logger: logger},
		LLM:  llm,
	}
}

func (s *ProjectAnalysis) ExecuteStage(ctx context.Context, card *core.Card, stageCtx core.Context) (map[string]interface{}, error) {
	start := time.Now()

	if card.HasLabel("requires-approval") {
		if decision, ok := stageCtx["human_approved_changes"]; ok {
			approved, _ := decision.([]string)
			return s.finish(ctx, card, approved, start)
		}
		if err := s.notify(ctx, card, "approval_requested", core.PriorityHigh, map[string]interface{}{
			"reason": "card is labeled requires-approval",
		}); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: card %s", ErrAwaitingApproval, card.CardID)
	}

	prompt := fmt.Sprintf(
		"Analyze the following task and list the concrete changes required.\n\nTitle: %s\nDescription: %s\nAcceptance criteria:\n%s",
		card.Title, card.Description, joinCriteria(card.AcceptanceCriteria),
	)
	resp, err := s.LLM.Complete(ctx, prompt, &core.AIOptions{Temperature: 0.2, MaxTokens: 1500}, core.StageAnalysis, "project_analysis")
	if err != nil {
		return nil, fmt.Errorf("%w: project analysis LLM call failed: %v", core.ErrFatal, err)
	}

	reportID := ""
	if s.Artifacts != nil {
		reportID, err = s.Artifacts.Store(ctx, core.ArtifactProjectAnalysis, card.CardID, card.Title, resp.Content, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to persist analysis_report: %v", core.ErrFatal, err)
		}
	}

	return map[string]interface{}{
		"analysis_report":  reportID,
		"approved_changes": []string{card.Description},
		"duration_seconds": elapsed(start),
	}, nil
}

func (s *ProjectAnalysis) finish(ctx context.Context, card *core.Card, approved []string, start time.Time) (map[string]interface{}, error) {
	reportID := ""
	if s.Artifacts != nil {
		var err error
		reportID, err = s.Artifacts.Store(ctx, core.ArtifactProjectAnalysis, card.CardID, card.Title, "human-approved changes resumed after pause", nil)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to persist analysis_report: %v", core.ErrFatal, err)
		}
	}
	return map[string]interface{}{
		"analysis_report":  reportID,
		"approved_changes": approved,
		"duration_seconds": elapsed(start),
	}, nil
}

func joinCriteria(items []string) string {
	if len(items) == 0 {
		return "- none specified"
	}
	out := ""
	for _, item := range items {
		out += "- " + item + "\n"
	}
	return out
}
