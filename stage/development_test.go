package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/developer"
)

type devStubCompleter struct {
	content string
}

func (c *devStubCompleter) Complete(ctx context.Context, prompt string, options *core.AIOptions, stageName core.StageName, purpose string) (*core.AIResponse, error) {
	return &core.AIResponse{Content: c.content, Model: "stub", Usage: core.TokenUsage{PromptTokens: 1, CompletionTokens: 1}}, nil
}

const devEnvelope = `{"implementation_files":[{"path":"a.go","content":"package main\nfunc a() {}\n"}],"test_files":[{"path":"a_test.go","content":"package main\nfunc TestA(t *testing.T) { assert.True(t, true) }\n"}],"notes":"ok"}`

func TestDevelopmentSetupRejectsMissingADRContent(t *testing.T) {
	inv := developer.NewInvoker(&devStubCompleter{content: devEnvelope}, nil)
	arb := developer.NewArbitrator(nil)
	s := NewDevelopment(inv, arb, nil, nil, nil)

	err := s.Setup(context.Background(), &core.Card{}, core.NewContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrContractViolation)
}

func TestDevelopmentSingleDeveloperSkipsArbitration(t *testing.T) {
	inv := developer.NewInvoker(&devStubCompleter{content: devEnvelope}, nil)
	arb := developer.NewArbitrator(nil)
	s := NewDevelopment(inv, arb, &recordingNotifier{}, &recordingArtifacts{}, nil)

	stageCtx := core.NewContext()
	stageCtx["adr_content"] = "use plain functions"
	stageCtx["parallel_developers"] = 1

	result, err := s.ExecuteStage(context.Background(), &core.Card{CardID: "c-1", Title: "t"}, stageCtx)
	require.NoError(t, err)
	assert.Equal(t, false, result["arbitration_ran"])
	winner := result["winner"].(*developer.DeveloperResult)
	require.NotNil(t, winner)
	assert.Equal(t, 1, winner.WorkerID)
}

func TestDevelopmentMultipleDevelopersRunsArbitrationAndStoresArtifact(t *testing.T) {
	inv := developer.NewInvoker(&devStubCompleter{content: devEnvelope}, nil)
	arb := developer.NewArbitrator(nil)
	artifacts := &recordingArtifacts{}
	s := NewDevelopment(inv, arb, &recordingNotifier{}, artifacts, nil)

	stageCtx := core.NewContext()
	stageCtx["adr_content"] = "use plain functions"
	stageCtx["parallel_developers"] = 3

	result, err := s.ExecuteStage(context.Background(), &core.Card{CardID: "c-1", Title: "t"}, stageCtx)
	require.NoError(t, err)
	assert.Equal(t, true, result["arbitration_ran"])
	winner := result["winner"].(*developer.DeveloperResult)
	require.NotNil(t, winner)
	results := result["developer_results"].([]developer.DeveloperResult)
	assert.Len(t, results, 3)
	assert.Contains(t, artifacts.stored, string(core.ArtifactArbitrationScore))
}
