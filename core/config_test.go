package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 25.0, cfg.LLM.DailyBudgetUSD)
	assert.Equal(t, 250.0, cfg.LLM.MonthlyBudgetUSD)
	assert.Equal(t, DefaultLLMCacheTTL, cfg.LLM.CacheTTL)
	assert.Equal(t, "none", cfg.Sandbox.NetworkMode)
	assert.True(t, cfg.Supervision.Enabled)
}

func TestNewConfigAppliesOptionsLast(t *testing.T) {
	cfg, err := NewConfig(
		WithCardID("card-123"),
		WithLLMProvider("openai"),
		WithBudget(10, 100),
	)
	require.NoError(t, err)

	assert.Equal(t, "card-123", cfg.Card.ID)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 10.0, cfg.LLM.DailyBudgetUSD)
	assert.Equal(t, 100.0, cfg.LLM.MonthlyBudgetUSD)
	assert.NotNil(t, cfg.Logger())
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ARTEMIS_CARD_ID", "env-card")
	t.Setenv("ARTEMIS_LLM_PROVIDER", "bedrock")
	t.Setenv("ARTEMIS_LLM_DAILY_BUDGET", "42.5")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "env-card", cfg.Card.ID)
	assert.Equal(t, "bedrock", cfg.LLM.Provider)
	assert.Equal(t, 42.5, cfg.LLM.DailyBudgetUSD)
}

func TestLoadFromEnvFallbackVariable(t *testing.T) {
	os.Unsetenv("ARTEMIS_LLM_API_KEY")
	t.Setenv("OPENAI_API_KEY", "fallback-key")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "fallback-key", cfg.LLM.APIKey)
}

func TestValidateRejectsMissingCard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.DailyBudgetUSD = 10
	cfg.LLM.MonthlyBudgetUSD = 100
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestValidateRejectsInvertedBudgets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Card.ID = "card-1"
	cfg.LLM.DailyBudgetUSD = 100
	cfg.LLM.MonthlyBudgetUSD = 10
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestProductionLoggerWithComponentTagsLines(t *testing.T) {
	logger := NewProductionLogger(LoggingConfig{Format: "json"}, DevelopmentConfig{}, "artemis")
	scoped := logger.(ComponentAwareLogger).WithComponent("engine/supervisor")

	require.NotNil(t, scoped)
	scoped.Info("stage started", map[string]interface{}{"stage": "analysis"})
}

func TestProductionLoggerDebugGatedByConfig(t *testing.T) {
	logger := NewProductionLogger(LoggingConfig{Format: "json", Level: "info"}, DevelopmentConfig{}, "artemis").(*ProductionLogger)
	assert.False(t, logger.debug)

	debugLogger := NewProductionLogger(LoggingConfig{Format: "json", Level: "debug"}, DevelopmentConfig{}, "artemis").(*ProductionLogger)
	assert.True(t, debugLogger.debug)
}

func TestLoadConfigFileOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: bedrock\n  model: claude-3-sonnet\ncard:\n  id: from-file\n"), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, "bedrock", cfg.LLM.Provider)
	assert.Equal(t, "claude-3-sonnet", cfg.LLM.Model)
	assert.Equal(t, "from-file", cfg.Card.ID)
	// Fields not present in the YAML document keep their defaults.
	assert.Equal(t, 25.0, cfg.LLM.DailyBudgetUSD)
}

func TestDefaultSandboxTimeoutIsPositive(t *testing.T) {
	assert.Greater(t, DefaultSandboxTimeout, time.Duration(0))
}
