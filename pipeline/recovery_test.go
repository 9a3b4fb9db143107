package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/resilience"
)

func TestRegisterStagesAppliesDefaultTimeoutsToEveryBaselineStage(t *testing.T) {
	sup := resilience.NewSupervisor(nil, nil)
	RegisterStages(sup, nil)

	stats := sup.Statistics()
	stages, ok := stats["stages"].(map[string]core.StageHealth)
	assert.True(t, ok)
	assert.Len(t, stages, len(core.BaselineStages))
}

func TestRegisterStagesAppliesFatalOnErrOverrideAsZeroRetries(t *testing.T) {
	sup := resilience.NewSupervisor(nil, nil)
	RegisterStages(sup, map[string]core.RecoveryStrategy{
		string(core.StageDependencies): {FatalOnErr: true, MaxRetries: 5},
	})

	calls := 0
	result, err := sup.ExecuteWithSupervision(context.Background(), core.StageDependencies, func(ctx context.Context) (map[string]interface{}, error) {
		calls++
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
}
