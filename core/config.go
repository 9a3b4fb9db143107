package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the engine needs to run a pipeline. It is
// built in four layers, lowest priority first:
//  1. Defaults (DefaultConfig)
//  2. A YAML document, if one is loaded with LoadConfigFile
//  3. Environment variables (LoadFromEnv)
//  4. Functional options (highest priority, applied last by NewConfig)
type Config struct {
	Card        CardConfig        `json:"card" yaml:"card"`
	LLM         LLMConfig         `json:"llm" yaml:"llm"`
	Checkpoint  CheckpointConfig  `json:"checkpoint" yaml:"checkpoint"`
	Artifacts   ArtifactsConfig   `json:"artifacts" yaml:"artifacts"`
	Messaging   MessagingConfig   `json:"messaging" yaml:"messaging"`
	Sandbox     SandboxConfig     `json:"sandbox" yaml:"sandbox"`
	Supervision SupervisionConfig `json:"supervision" yaml:"supervision"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Telemetry   TelemetryConfig   `json:"telemetry" yaml:"telemetry"`
	Development DevelopmentConfig `json:"development" yaml:"development"`

	logger Logger `json:"-" yaml:"-"`
}

// CardConfig locates and parameterizes the unit of work a run executes.
type CardConfig struct {
	ID   string `json:"id" yaml:"id" env:"ARTEMIS_CARD_ID"`
	Path string `json:"path" yaml:"path" env:"ARTEMIS_CARD_PATH"`
}

// LLMConfig configures the LLM Gateway: which provider backend to use,
// default model parameters, and the spend limits the Budget enforces
// before every non-cached call.
type LLMConfig struct {
	Provider         string        `json:"provider" yaml:"provider" env:"ARTEMIS_LLM_PROVIDER" default:"mock"`
	APIKey           string        `json:"api_key" yaml:"api_key" env:"ARTEMIS_LLM_API_KEY,OPENAI_API_KEY"`
	BaseURL          string        `json:"base_url" yaml:"base_url" env:"ARTEMIS_LLM_BASE_URL"`
	Region           string        `json:"region" yaml:"region" env:"ARTEMIS_LLM_REGION,AWS_REGION"`
	Model            string        `json:"model" yaml:"model" env:"ARTEMIS_LLM_MODEL" default:"gpt-4"`
	Temperature      float32       `json:"temperature" yaml:"temperature" env:"ARTEMIS_LLM_TEMPERATURE" default:"0.2"`
	MaxTokens        int           `json:"max_tokens" yaml:"max_tokens" env:"ARTEMIS_LLM_MAX_TOKENS" default:"4000"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout" env:"ARTEMIS_LLM_TIMEOUT" default:"60s"`
	MaxRetries       int           `json:"max_retries" yaml:"max_retries" env:"ARTEMIS_LLM_MAX_RETRIES" default:"3"`
	CacheEnabled     bool          `json:"cache_enabled" yaml:"cache_enabled" env:"ARTEMIS_LLM_CACHE_ENABLED" default:"true"`
	CacheTTL         time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"ARTEMIS_LLM_CACHE_TTL" default:"168h"`
	DailyBudgetUSD   float64       `json:"daily_budget_usd" yaml:"daily_budget_usd" env:"ARTEMIS_LLM_DAILY_BUDGET" default:"25.0"`
	MonthlyBudgetUSD float64       `json:"monthly_budget_usd" yaml:"monthly_budget_usd" env:"ARTEMIS_LLM_MONTHLY_BUDGET" default:"250.0"`
}

// CheckpointConfig locates the on-disk checkpoint directory the
// Checkpoint Manager writes to atomically (temp file + rename).
type CheckpointConfig struct {
	Dir              string `json:"dir" yaml:"dir" env:"ARTEMIS_CHECKPOINT_DIR" default:"./.artemis/checkpoints"`
	RetainCompleted  bool   `json:"retain_completed" yaml:"retain_completed" env:"ARTEMIS_CHECKPOINT_RETAIN" default:"true"`
}

// ArtifactsConfig locates the artifact store used for RAG-style
// similarity search over prior stage outputs.
type ArtifactsConfig struct {
	Dir            string  `json:"dir" yaml:"dir" env:"ARTEMIS_ARTIFACT_STORE" default:"./.artemis/artifacts"`
	MMRLambda      float64 `json:"mmr_lambda" yaml:"mmr_lambda" env:"ARTEMIS_ARTIFACT_MMR_LAMBDA" default:"0.5"`
	TopK           int     `json:"top_k" yaml:"top_k" env:"ARTEMIS_ARTIFACT_TOP_K" default:"5"`
}

// MessagingConfig locates the Messaging Bus's mailbox root and, when a
// RedisURL is set, switches the mailbox and shared-state store from the
// in-memory/file backend to a Redis-backed one.
type MessagingConfig struct {
	MailboxRoot     string `json:"mailbox_root" yaml:"mailbox_root" env:"ARTEMIS_MAILBOX_ROOT" default:"./.artemis/mailbox"`
	SharedStatePath string `json:"shared_state_path" yaml:"shared_state_path" env:"ARTEMIS_SHARED_STATE_PATH" default:"./.artemis/shared_state.json"`
	RedisURL        string `json:"redis_url" yaml:"redis_url" env:"ARTEMIS_REDIS_URL,REDIS_URL"`
}

// SandboxConfig bounds the resources a sandboxed code execution (C4) may
// consume, grounded on the teacher pack's docker-based sandbox runner.
type SandboxConfig struct {
	Image         string        `json:"image" yaml:"image" env:"ARTEMIS_SANDBOX_IMAGE" default:"artemis-sandbox:latest"`
	MemoryMB      int           `json:"memory_mb" yaml:"memory_mb" env:"ARTEMIS_SANDBOX_MEMORY_MB" default:"512"`
	CPUs          float64       `json:"cpus" yaml:"cpus" env:"ARTEMIS_SANDBOX_CPUS" default:"1.0"`
	MaxCPUSeconds int           `json:"max_cpu_seconds" yaml:"max_cpu_seconds" env:"ARTEMIS_SANDBOX_MAX_CPU_SECONDS" default:"10"`
	MaxOpenFiles  int           `json:"max_open_files" yaml:"max_open_files" env:"ARTEMIS_SANDBOX_MAX_OPEN_FILES" default:"64"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout" env:"ARTEMIS_SANDBOX_TIMEOUT" default:"30s"`
	NetworkMode   string        `json:"network_mode" yaml:"network_mode" env:"ARTEMIS_SANDBOX_NETWORK" default:"none"`
	ScratchRoot   string        `json:"scratch_root" yaml:"scratch_root" env:"ARTEMIS_SANDBOX_SCRATCH" default:"./.artemis/scratch"`
}

// SupervisionConfig tunes the Supervisor's circuit breaker and hang
// detection. Overrides lets a specific stage opt out of a global
// default, matching the teacher's per-agent config-override pattern.
type SupervisionConfig struct {
	Enabled             bool                        `json:"enabled" yaml:"enabled" env:"ARTEMIS_SUPERVISION_ENABLED" default:"true"`
	FailureThreshold    int                         `json:"failure_threshold" yaml:"failure_threshold" env:"ARTEMIS_CB_THRESHOLD" default:"5"`
	RecoveryTimeout     time.Duration               `json:"recovery_timeout" yaml:"recovery_timeout" env:"ARTEMIS_CB_RECOVERY" default:"30s"`
	HangTimeout         time.Duration               `json:"hang_timeout" yaml:"hang_timeout" env:"ARTEMIS_HANG_TIMEOUT" default:"10m"`
	ZombieSweepInterval time.Duration               `json:"zombie_sweep_interval" yaml:"zombie_sweep_interval" env:"ARTEMIS_ZOMBIE_SWEEP" default:"1m"`
	Overrides           map[string]RecoveryStrategy `json:"overrides" yaml:"overrides"`
}

// RecoveryStrategy describes how the Supervisor should react when a
// stage fails: how many times to retry it and whether a failure should
// abort the whole run or only skip the stage.
type RecoveryStrategy struct {
	MaxRetries int  `json:"max_retries" yaml:"max_retries"`
	FatalOnErr bool `json:"fatal_on_error" yaml:"fatal_on_error"`
}

// TelemetryConfig enables the OTel-backed Telemetry implementation the
// Supervisor, Orchestrator and Developer Invoker use for spans and
// metrics. Disabled by default so a local run with no collector
// listening doesn't fail or block on export.
type TelemetryConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" env:"ARTEMIS_TELEMETRY_ENABLED" default:"false"`
	ServiceName  string  `json:"service_name" yaml:"service_name" env:"ARTEMIS_TELEMETRY_SERVICE_NAME" default:"artemis"`
	Endpoint     string  `json:"endpoint" yaml:"endpoint" env:"ARTEMIS_TELEMETRY_ENDPOINT" default:"localhost:4318"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" env:"ARTEMIS_TELEMETRY_SAMPLING_RATE" default:"1.0"`
}

// LoggingConfig controls structured-vs-text log output.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"ARTEMIS_LOG_LEVEL" default:"info"`
	Format     string `json:"format" yaml:"format" env:"ARTEMIS_LOG_FORMAT" default:"json"`
	Output     string `json:"output" yaml:"output" env:"ARTEMIS_LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig enables local-friendly defaults: a mock LLM provider
// and human-readable logs, the same spirit as the teacher's own
// DevelopmentConfig for local agent runs.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" env:"ARTEMIS_DEV_MODE" default:"false"`
	MockLLM      bool `json:"mock_llm" yaml:"mock_llm" env:"ARTEMIS_MOCK_LLM" default:"false"`
	DebugLogging bool `json:"debug_logging" yaml:"debug_logging" env:"ARTEMIS_DEBUG" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" yaml:"pretty_logs" env:"ARTEMIS_PRETTY_LOGS" default:"false"`
}

// Option is a functional option applied last, after defaults, YAML and
// env vars, so callers always have the final word.
type Option func(*Config) error

// DefaultConfig returns an engine configuration usable for a local run
// with no external services: in-memory messaging, a mock LLM, and
// human-readable logs.
func DefaultConfig() *Config {
	cfg := &Config{
		LLM: LLMConfig{
			Provider:         "mock",
			Model:            "gpt-4",
			Temperature:      0.2,
			MaxTokens:        4000,
			Timeout:          60 * time.Second,
			MaxRetries:       3,
			CacheEnabled:     true,
			CacheTTL:         DefaultLLMCacheTTL,
			DailyBudgetUSD:   25.0,
			MonthlyBudgetUSD: 250.0,
		},
		Checkpoint: CheckpointConfig{
			Dir:             "./.artemis/checkpoints",
			RetainCompleted: true,
		},
		Artifacts: ArtifactsConfig{
			Dir:       "./.artemis/artifacts",
			MMRLambda: 0.5,
			TopK:      5,
		},
		Messaging: MessagingConfig{
			MailboxRoot:     "./.artemis/mailbox",
			SharedStatePath: "./.artemis/shared_state.json",
		},
		Sandbox: SandboxConfig{
			Image:         "artemis-sandbox:latest",
			MemoryMB:      512,
			CPUs:          1.0,
			MaxCPUSeconds: 10,
			MaxOpenFiles:  64,
			Timeout:       DefaultSandboxTimeout,
			NetworkMode:   "none",
			ScratchRoot:   "./.artemis/scratch",
		},
		Supervision: SupervisionConfig{
			Enabled:             true,
			FailureThreshold:    5,
			RecoveryTimeout:     30 * time.Second,
			HangTimeout:         10 * time.Minute,
			ZombieSweepInterval: time.Minute,
			Overrides:           map[string]RecoveryStrategy{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "artemis",
			Endpoint:     "localhost:4318",
			SamplingRate: 1.0,
		},
		Development: DevelopmentConfig{},
	}

	if os.Getenv("ARTEMIS_DEV_MODE") == "" && os.Getenv("KUBERNETES_SERVICE_HOST") == "" {
		cfg.Development.Enabled = true
		cfg.Development.PrettyLogs = true
		cfg.Logging.Format = "text"
	}

	return cfg
}

// LoadConfigFile loads a hierarchical YAML document into a Config built
// from DefaultConfig, following the layering LoadFromEnv documents:
// the YAML document overrides defaults and is itself overridden by
// environment variables and functional options.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv overlays environment variables onto c, following the
// env:"PRIMARY,FALLBACK" convention used throughout this struct: the
// first set variable wins.
func (c *Config) LoadFromEnv() error {
	if v := firstEnv("ARTEMIS_CARD_ID"); v != "" {
		c.Card.ID = v
	}
	if v := firstEnv("ARTEMIS_CARD_PATH"); v != "" {
		c.Card.Path = v
	}
	if v := firstEnv("ARTEMIS_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := firstEnv("ARTEMIS_LLM_API_KEY", "OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := firstEnv("ARTEMIS_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := firstEnv("ARTEMIS_LLM_REGION", "AWS_REGION"); v != "" {
		c.LLM.Region = v
	}
	if v := firstEnv("ARTEMIS_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := firstEnv("ARTEMIS_LLM_DAILY_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.DailyBudgetUSD = f
		}
	}
	if v := firstEnv("ARTEMIS_LLM_MONTHLY_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.LLM.MonthlyBudgetUSD = f
		}
	}
	if v := firstEnv("ARTEMIS_CHECKPOINT_DIR"); v != "" {
		c.Checkpoint.Dir = v
	}
	if v := firstEnv("ARTEMIS_ARTIFACT_STORE"); v != "" {
		c.Artifacts.Dir = v
	}
	if v := firstEnv("ARTEMIS_MAILBOX_ROOT"); v != "" {
		c.Messaging.MailboxRoot = v
	}
	if v := firstEnv("ARTEMIS_REDIS_URL", "REDIS_URL"); v != "" {
		c.Messaging.RedisURL = v
	}
	if v := firstEnv("ARTEMIS_SANDBOX_IMAGE"); v != "" {
		c.Sandbox.Image = v
	}
	if v := firstEnv("ARTEMIS_SANDBOX_MAX_CPU_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sandbox.MaxCPUSeconds = n
		}
	}
	if v := firstEnv("ARTEMIS_SANDBOX_MAX_OPEN_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sandbox.MaxOpenFiles = n
		}
	}
	if v := firstEnv("ARTEMIS_DEV_MODE"); v != "" {
		c.Development.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := firstEnv("ARTEMIS_MOCK_LLM"); v != "" {
		c.Development.MockLLM = strings.EqualFold(v, "true") || v == "1"
	}
	if v := firstEnv("ARTEMIS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := firstEnv("ARTEMIS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := firstEnv("ARTEMIS_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := firstEnv("ARTEMIS_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	return nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// NewConfig builds a Config following the full priority chain: defaults,
// then environment variables, then the supplied functional options.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading environment configuration: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	if cfg.logger == nil {
		logger := NewProductionLogger(cfg.Logging, cfg.Development, "artemis")
		if prodLogger, ok := logger.(*ProductionLogger); ok {
			trackLogger(prodLogger)
		}
		cfg.logger = logger
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks invariants that must hold before a run starts: budgets
// must be positive, required directories must be nameable.
func (c *Config) Validate() error {
	if c.LLM.DailyBudgetUSD <= 0 {
		return fmt.Errorf("%w: llm.daily_budget_usd must be positive", ErrInvalidConfiguration)
	}
	if c.LLM.MonthlyBudgetUSD < c.LLM.DailyBudgetUSD {
		return fmt.Errorf("%w: llm.monthly_budget_usd must be >= daily_budget_usd", ErrInvalidConfiguration)
	}
	if c.Checkpoint.Dir == "" {
		return fmt.Errorf("%w: checkpoint.dir is required", ErrInvalidConfiguration)
	}
	if c.Card.ID == "" && c.Card.Path == "" {
		return fmt.Errorf("%w: card.id or card.path is required", ErrInvalidConfiguration)
	}
	return nil
}

// Logger returns the configuration's resolved logger, never nil after
// NewConfig has run.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return &NoOpLogger{}
	}
	return c.logger
}

// WithLogger overrides the logger NewConfig would otherwise build.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithCardID sets the card to execute by ID, looked up in a store
// external to this config (typically a file named "<id>.json" under a
// well-known cards directory).
func WithCardID(id string) Option {
	return func(c *Config) error {
		c.Card.ID = id
		return nil
	}
}

// WithCardPath points directly at a card JSON file on disk.
func WithCardPath(path string) Option {
	return func(c *Config) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		c.Card.Path = abs
		return nil
	}
}

// WithLLMProvider overrides the configured LLM Gateway backend.
func WithLLMProvider(provider string) Option {
	return func(c *Config) error {
		c.LLM.Provider = provider
		return nil
	}
}

// WithBudget overrides the daily and monthly spend limits.
func WithBudget(dailyUSD, monthlyUSD float64) Option {
	return func(c *Config) error {
		c.LLM.DailyBudgetUSD = dailyUSD
		c.LLM.MonthlyBudgetUSD = monthlyUSD
		return nil
	}
}

// ============================================================================
// ProductionLogger - the engine's default Logger/ComponentAwareLogger
// ============================================================================

// ProductionLogger auto-detects its environment (Kubernetes vs local)
// via its Format setting and switches between structured JSON and
// human-readable text, tagging every line with a component name.
type ProductionLogger struct {
	level       string
	debug       bool
	serviceName string
	component   string
	format      string
	output      io.Writer

	metricsEnabled bool
}

// NewProductionLogger builds a Logger from LoggingConfig and
// DevelopmentConfig. The returned value also implements
// ComponentAwareLogger.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}

	format := logging.Format
	if dev.PrettyLogs {
		format = "text"
	}

	return &ProductionLogger{
		level:       strings.ToLower(logging.Level),
		debug:       dev.DebugLogging || logging.Level == "debug",
		serviceName: serviceName,
		component:   "engine",
		format:      format,
		output:      output,
	}
}

// EnableMetrics is called by the telemetry package once it has
// initialized, turning on per-log-line metric emission.
func (p *ProductionLogger) EnableMetrics() {
	p.metricsEnabled = true
}

// WithComponent returns a logger tagging every line with component,
// sharing this logger's output and level settings.
func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}

func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		logEntry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			logEntry[k] = v
		}
		if data, err := json.Marshal(logEntry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		var fieldStr strings.Builder
		if len(fields) > 0 {
			fieldStr.WriteString(" ")
			for k, v := range fields {
				fmt.Fprintf(&fieldStr, "%s=%v ", k, v)
			}
		}
		fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s\n",
			timestamp, level, p.serviceName, p.component, msg, fieldStr.String())
	}

	if p.metricsEnabled {
		p.emitEngineMetric(level, fields)
	}
}

func (p *ProductionLogger) emitEngineMetric(level string, fields map[string]interface{}) {
	labels := []string{"level", level, "service", p.serviceName, "component", p.component}
	for k, v := range fields {
		switch k {
		case "operation", "status", "error_type", "stage", "provider":
			labels = append(labels, k, fmt.Sprintf("%v", v))
		}
	}
	if globalMetricsRegistry != nil {
		globalMetricsRegistry.Counter("artemis.engine.log_events", labels...)
	}
}
