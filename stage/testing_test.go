package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/developer"
)

func TestTestingMarksProductionReadyWhenSandboxSucceeds(t *testing.T) {
	sandbox := &stubSandboxRunner{successByCall: []bool{true}}
	artifacts := &recordingArtifacts{}
	s := NewTesting(sandbox, &recordingNotifier{}, artifacts, nil)

	winner := &developer.DeveloperResult{WorkerID: 1, TestFiles: []developer.File{{Path: "a_test.go", Content: "t"}}}
	stageCtx := core.NewContext()
	stageCtx["winner"] = winner

	result, err := s.ExecuteStage(context.Background(), &core.Card{CardID: "c-1"}, stageCtx)
	require.NoError(t, err)
	assert.Equal(t, true, result["production_ready"])
	assert.Equal(t, "passed", result["testing_status"])
}

func TestTestingMarksNotProductionReadyWhenSandboxFails(t *testing.T) {
	sandbox := &stubSandboxRunner{successByCall: []bool{false}}
	s := NewTesting(sandbox, &recordingNotifier{}, &recordingArtifacts{}, nil)

	winner := &developer.DeveloperResult{WorkerID: 1, TestFiles: []developer.File{{Path: "a_test.go", Content: "t"}}}
	stageCtx := core.NewContext()
	stageCtx["winner"] = winner

	result, err := s.ExecuteStage(context.Background(), &core.Card{CardID: "c-1"}, stageCtx)
	require.NoError(t, err)
	assert.Equal(t, false, result["production_ready"])
	assert.Equal(t, "failed", result["testing_status"])
}

func TestTestingDefaultsToProductionReadyWhenNoTestFiles(t *testing.T) {
	s := NewTesting(nil, &recordingNotifier{}, &recordingArtifacts{}, nil)

	winner := &developer.DeveloperResult{WorkerID: 1}
	stageCtx := core.NewContext()
	stageCtx["winner"] = winner

	result, err := s.ExecuteStage(context.Background(), &core.Card{CardID: "c-1"}, stageCtx)
	require.NoError(t, err)
	assert.Equal(t, true, result["production_ready"])
}

func TestTestingSetupRejectsMissingWinner(t *testing.T) {
	s := NewTesting(nil, nil, nil, nil)
	err := s.Setup(context.Background(), &core.Card{}, core.NewContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrContractViolation)
}
