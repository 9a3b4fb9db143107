package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/developer"
)

// Integration writes the winning candidate's files into a working
// copy on disk, per spec.md §4.7.
type Integration struct {
	Base
	WorkingDir string
}

// NewIntegration constructs the integration stage. workingDir is
// created if it does not already exist.
func NewIntegration(workingDir string, notifier Notifier, artifacts ArtifactRecorder, logger core.Logger) *Integration {
	return &Integration{
		Base:       Base{Name: core.StageIntegration, Notifier: notifier, Artifacts: artifacts, Logger: logger},
		WorkingDir: workingDir,
	}
}

func (s *Integration) Setup(ctx context.Context, card *core.Card, stageCtx core.Context) error {
	if _, ok := stageCtx["winner"]; !ok {
		return fmt.Errorf("%w: integration stage requires winner in context", core.ErrContractViolation)
	}
	return os.MkdirAll(s.WorkingDir, 0o755)
}

func (s *Integration) ExecuteStage(ctx context.Context, card *core.Card, stageCtx core.Context) (map[string]interface{}, error) {
	start := time.Now()

	winner, ok := stageCtx["winner"].(*developer.DeveloperResult)
	if !ok || winner == nil {
		return nil, fmt.Errorf("%w: winner has unexpected type or is nil", core.ErrContractViolation)
	}

	cardDir := filepath.Join(s.WorkingDir, card.CardID)
	written := 0
	for _, f := range append(append([]developer.File{}, winner.ImplementationFiles...), winner.TestFiles...) {
		dest := filepath.Join(cardDir, filepath.Clean("/"+f.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create directory for %s: %v", core.ErrFatal, f.Path, err)
		}
		if err := os.WriteFile(dest, []byte(f.Content), 0o644); err != nil {
			return nil, fmt.Errorf("%w: failed to write %s: %v", core.ErrFatal, f.Path, err)
		}
		written++
	}

	return map[string]interface{}{
		"integration_status": "applied",
		"files_written":      written,
		"working_copy":       cardDir,
		"duration_seconds":   elapsed(start),
	}, nil
}
