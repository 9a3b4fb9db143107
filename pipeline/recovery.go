package pipeline

import (
	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/resilience"
)

// DefaultStageTimeouts are spec.md §5's per-stage timeout defaults, in
// seconds. RegisterStages applies one of these to every baseline stage
// that has no explicit core.SupervisionConfig override.
var DefaultStageTimeouts = map[core.StageName]float64{
	core.StageDevelopment:  600,
	core.StageTesting:      300,
	core.StageReview:       180,
	core.StageArchitecture: 180,
	core.StageIntegration:  180,
	core.StageAnalysis:     120,
	core.StageValidation:   120,
	core.StageDependencies: 60,
}

// RegisterStages builds the resilience.RecoveryStrategy for every
// baseline stage and registers it on sup. core.RecoveryStrategy (the
// config-layer override type) carries only MaxRetries/FatalOnErr —
// a strict subset of resilience.RecoveryStrategy's fields — so an
// override only ever replaces those two fields on top of
// resilience.DefaultRecoveryStrategy() plus this stage's timeout;
// backoff, retry delay, and circuit breaker tuning always come from
// the resilience-layer default.
func RegisterStages(sup *resilience.Supervisor, overrides map[string]core.RecoveryStrategy) {
	for _, stageName := range core.BaselineStages {
		strategy := resilience.DefaultRecoveryStrategy()
		if timeout, ok := DefaultStageTimeouts[stageName]; ok {
			strategy.TimeoutSeconds = timeout
		}
		if override, ok := overrides[string(stageName)]; ok {
			strategy.MaxRetries = override.MaxRetries
			if override.FatalOnErr {
				strategy.MaxRetries = 0
			}
		}
		sup.RegisterStage(stageName, strategy)
	}
}
