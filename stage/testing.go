package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/developer"
)

// Testing runs a final sandboxed suite over the integrated winner and
// decides overall production readiness, per spec.md §4.7.
type Testing struct {
	Base
	Sandbox SandboxRunner
}

// NewTesting constructs the testing stage.
func NewTesting(sandbox SandboxRunner, notifier Notifier, artifacts ArtifactRecorder, logger core.Logger) *Testing {
	return &Testing{
		Base:    Base{Name: core.StageTesting, Notifier: notifier, Artifacts: artifacts, Logger: logger},
		Sandbox: sandbox,
	}
}

func (s *Testing) Setup(ctx context.Context, card *core.Card, stageCtx core.Context) error {
	if _, ok := stageCtx["winner"]; !ok {
		return fmt.Errorf("%w: testing stage requires winner in context", core.ErrContractViolation)
	}
	return nil
}

func (s *Testing) ExecuteStage(ctx context.Context, card *core.Card, stageCtx core.Context) (map[string]interface{}, error) {
	start := time.Now()

	winner, ok := stageCtx["winner"].(*developer.DeveloperResult)
	if !ok || winner == nil {
		return nil, fmt.Errorf("%w: winner has unexpected type or is nil", core.ErrContractViolation)
	}

	productionReady := true
	status := "passed"
	if s.Sandbox != nil && len(winner.TestFiles) > 0 {
		code := ""
		for _, f := range winner.TestFiles {
			code += f.Content + "\n"
		}
		out, err := s.Sandbox.Execute(ctx, code, "python", true)
		if err != nil {
			productionReady = false
			status = "error: " + err.Error()
		} else if success, _ := out["success"].(bool); !success {
			productionReady = false
			status = "failed"
		}
	}

	if s.Artifacts != nil {
		if _, err := s.Artifacts.Store(ctx, core.ArtifactTestingResult, card.CardID, card.Title, status, map[string]interface{}{
			"production_ready": productionReady,
		}); err != nil {
			return nil, fmt.Errorf("%w: failed to persist testing_status: %v", core.ErrFatal, err)
		}
	}

	return map[string]interface{}{
		"testing_status":   status,
		"production_ready": productionReady,
		"duration_seconds": elapsed(start),
	}, nil
}
