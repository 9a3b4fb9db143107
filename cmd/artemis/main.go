// Command artemis runs one Card through the pipeline end to end: load
// configuration, load the Card, build every collaborator (Messaging
// Bus, Artifact Store, Checkpoint Manager, Sandbox Executor, LLM
// Gateway, Supervisor, the eight baseline stages), then hand them to
// the Orchestrator and print its final Report.
//
// Exit codes follow spec.md §6: 2 for a configuration or Card-loading
// failure that occurred before any stage ran, 1 for a run that
// completed but ended in a failed stage, 0 for a completed run.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/artemis-eng/artemis/artifacts"
	"github.com/artemis-eng/artemis/checkpoint"
	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/developer"
	"github.com/artemis-eng/artemis/llm"
	_ "github.com/artemis-eng/artemis/llm/providers/bedrock"
	_ "github.com/artemis-eng/artemis/llm/providers/mock"
	_ "github.com/artemis-eng/artemis/llm/providers/openai"
	"github.com/artemis-eng/artemis/messaging"
	"github.com/artemis-eng/artemis/pipeline"
	"github.com/artemis-eng/artemis/resilience"
	"github.com/artemis-eng/artemis/sandbox"
	"github.com/artemis-eng/artemis/stage"
	"github.com/artemis-eng/artemis/telemetry"
)

const exitConfigError = 2

func main() {
	cfg, logger, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "artemis: configuration error:", err)
		os.Exit(exitConfigError)
	}

	card, err := pipeline.LoadCard(cfg.Card)
	if err != nil {
		logger.Error("failed to load card", map[string]interface{}{"error": err.Error()})
		os.Exit(exitConfigError)
	}

	orch, err := wire(cfg, logger)
	if err != nil {
		logger.Error("failed to wire collaborators", map[string]interface{}{"error": err.Error()})
		os.Exit(exitConfigError)
	}

	report, err := orch.Run(context.Background(), card)
	if err != nil && (report == nil || len(report.StageDurations) == 0) {
		logger.Error("run aborted before any stage ran", map[string]interface{}{"card_id": card.CardID, "error": err.Error()})
		os.Exit(exitConfigError)
	}
	if err != nil {
		logger.Error("run aborted after a stage ran", map[string]interface{}{"card_id": card.CardID, "error": err.Error()})
	}

	printReport(report)
	if report.Status != "completed" {
		os.Exit(1)
	}
}

func loadConfig() (*core.Config, core.Logger, error) {
	var cfg *core.Config
	var err error
	if path := os.Getenv("ARTEMIS_CONFIG_FILE"); path != "" {
		cfg, err = core.LoadConfigFile(path)
		if err != nil {
			return nil, nil, err
		}
		if err := cfg.LoadFromEnv(); err != nil {
			return nil, nil, err
		}
	} else {
		cfg = core.DefaultConfig()
		if err := cfg.LoadFromEnv(); err != nil {
			return nil, nil, err
		}
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, "artemis")
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	return cfg, logger, nil
}

// wire builds every collaborator and returns an Orchestrator with all
// eight baseline stages registered. Construction order matters in one
// place: the LLM Gateway needs the Supervisor as its CallTracker, but
// the Supervisor's WorkflowSynthesizer wraps that same Gateway, so the
// Supervisor is built first and the synthesizer attached after the
// Gateway exists via SetWorkflowSynthesizer.
func wire(cfg *core.Config, logger core.Logger) (*pipeline.Orchestrator, error) {
	bus, err := wireMessaging(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("wiring messaging: %w", err)
	}

	store, err := artifacts.NewStore(cfg.Artifacts.Dir,
		artifacts.WithMMRLambda(cfg.Artifacts.MMRLambda),
		artifacts.WithDefaultTopK(cfg.Artifacts.TopK),
		artifacts.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("opening artifact store: %w", err)
	}

	checkpoints, err := checkpoint.NewManager(cfg.Checkpoint.Dir, cfg.Checkpoint.RetainCompleted, logger)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint manager: %w", err)
	}

	executor := sandbox.NewExecutor(cfg.Sandbox, logger)

	budget := resilience.NewBudget(core.NewBudget(cfg.LLM.DailyBudgetUSD, cfg.LLM.MonthlyBudgetUSD), logger)

	tel := wireTelemetry(cfg, logger)

	supervisorOpts := []resilience.SupervisorOption{
		resilience.WithArtifactQuerier(store),
		resilience.WithSandboxExecutor(executor),
	}
	if tel != nil {
		supervisorOpts = append(supervisorOpts, resilience.WithTelemetry(tel))
	}
	supervisor := resilience.NewSupervisor(budget, logger, supervisorOpts...)

	gateway, err := wireGateway(cfg, logger, supervisor, tel)
	if err != nil {
		return nil, fmt.Errorf("wiring LLM gateway: %w", err)
	}
	supervisor.SetWorkflowSynthesizer(pipeline.NewGatewaySynthesizer(gateway))

	pipeline.RegisterStages(supervisor, cfg.Supervision.Overrides)

	invoker := developer.NewInvoker(gateway, logger)
	if tel != nil {
		invoker.SetTelemetry(tel)
	}
	arbitrator := developer.NewArbitrator(executor)

	orch := pipeline.NewOrchestrator(pipeline.NewPlanner(), supervisor, checkpoints, store, logger)
	if tel != nil {
		orch.SetTelemetry(tel)
	}
	orch.RegisterStage(core.StageAnalysis, stage.NewProjectAnalysis(gateway, bus, store, logger))
	orch.RegisterStage(core.StageArchitecture, stage.NewArchitecture(gateway, bus, store, logger))
	orch.RegisterStage(core.StageDependencies, stage.NewDependencies(nil, bus, store, logger))
	orch.RegisterStage(core.StageDevelopment, stage.NewDevelopment(invoker, arbitrator, bus, store, logger))
	orch.RegisterStage(core.StageReview, stage.NewCodeReview(arbitrator, bus, store, logger))
	orch.RegisterStage(core.StageValidation, stage.NewValidation(executor, bus, store, logger))
	orch.RegisterStage(core.StageIntegration, stage.NewIntegration(".", bus, store, logger))
	orch.RegisterStage(core.StageTesting, stage.NewTesting(executor, bus, store, logger))

	return orch, nil
}

// wireTelemetry initializes the OTel-backed Telemetry provider when
// cfg.Telemetry.Enabled, returning nil otherwise so every call site can
// treat "no telemetry configured" and "initialization failed" the same
// way: skip the option, run on core.NoOpTelemetry defaults.
func wireTelemetry(cfg *core.Config, logger core.Logger) core.Telemetry {
	if !cfg.Telemetry.Enabled {
		return nil
	}
	err := telemetry.Initialize(telemetry.Config{
		Enabled:      true,
		ServiceName:  cfg.Telemetry.ServiceName,
		Endpoint:     cfg.Telemetry.Endpoint,
		Provider:     "otel",
		SamplingRate: cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Error("telemetry initialization failed; continuing without spans/metrics", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return telemetry.GetTelemetryProvider()
}

// wireMessaging picks the Redis-backed Store when MessagingConfig.RedisURL
// is set, the file-backed one otherwise.
func wireMessaging(cfg *core.Config, logger core.Logger) (*messaging.Bus, error) {
	if cfg.Messaging.RedisURL != "" {
		client, err := core.NewRedisClient(core.RedisClientOptions{
			RedisURL:  cfg.Messaging.RedisURL,
			DB:        core.RedisDBMailbox,
			Namespace: "artemis",
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return messaging.NewBus(messaging.NewRedisStore(client), logger), nil
	}

	store, err := messaging.NewFileStore(cfg.Messaging.MailboxRoot, cfg.Messaging.SharedStatePath, logger)
	if err != nil {
		return nil, err
	}
	return messaging.NewBus(store, logger), nil
}

// wireGateway resolves the LLM provider from cfg.LLM and, when caching
// is enabled, backs the response cache with Redis when a URL is
// configured or skips caching otherwise — it does not fall back to the
// process-local core.InMemoryStore, since an in-memory cache would not
// survive the process restart a checkpoint resume implies.
func wireGateway(cfg *core.Config, logger core.Logger, tracker llm.CallTracker, tel core.Telemetry) (*llm.Gateway, error) {
	opts := []llm.GatewayOption{
		llm.WithCallTracker(tracker),
		llm.WithGatewayLogger(logger),
	}

	if cfg.LLM.CacheEnabled && cfg.Messaging.RedisURL != "" {
		client, err := core.NewRedisClient(core.RedisClientOptions{
			RedisURL:  cfg.Messaging.RedisURL,
			DB:        core.RedisDBLLMCache,
			Namespace: "artemis",
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		ttl := cfg.LLM.CacheTTL
		if ttl <= 0 {
			ttl = core.DefaultLLMCacheTTL
		}
		opts = append(opts, llm.WithCache(core.NewRedisMemory(client), ttl))
	} else if cfg.LLM.CacheEnabled {
		logger.Warn("llm.cache_enabled is true but no messaging.redis_url is configured; running without a response cache", nil)
	}

	provider := cfg.LLM.Provider
	if cfg.Development.MockLLM {
		provider = "mock"
	}

	return llm.NewGatewayFromEnvironment(&llm.AIConfig{
		Provider:    provider,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Logger:      logger,
		Telemetry:   tel,
	}, opts...)
}

func printReport(report *pipeline.Report) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintln(os.Stderr, "artemis: failed to encode report:", err)
	}
}
