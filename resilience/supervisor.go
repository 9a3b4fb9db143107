package resilience

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/artemis-eng/artemis/core"
)

// RecoveryStrategy is a per-stage policy registered with the
// Supervisor, mirroring the fields spec'd for register_stage.
type RecoveryStrategy struct {
	MaxRetries                   int
	RetryDelaySeconds            float64
	BackoffMultiplier            float64
	TimeoutSeconds               float64
	CircuitBreakerThreshold      int
	CircuitBreakerTimeoutSeconds float64
	FallbackAction               func(ctx context.Context) (map[string]interface{}, error)
}

// DefaultRecoveryStrategy is the policy a stage gets when registered
// without an explicit override: up to three retries after the first
// attempt, one second initial
// backoff doubling each retry, a 60 second per-attempt timeout, and a
// breaker that trips after five consecutive counted failures for 30
// seconds.
func DefaultRecoveryStrategy() RecoveryStrategy {
	return RecoveryStrategy{
		MaxRetries:                   3,
		RetryDelaySeconds:            1,
		BackoffMultiplier:            2,
		TimeoutSeconds:               60,
		CircuitBreakerThreshold:      5,
		CircuitBreakerTimeoutSeconds: 30,
	}
}

// StageResult is execute_with_supervision's return value. Exactly one
// of Result/Error/Skipped describes what happened; Skipped means the
// circuit was open and the stage never ran.
type StageResult struct {
	Success    bool
	Result     map[string]interface{}
	Error      string
	Err        error
	Skipped    bool
	SkipReason string
	RetryCount int
}

// HealthLevel is the Supervisor's aggregate health_status() verdict.
type HealthLevel string

const (
	HealthLevelHealthy  HealthLevel = "healthy"
	HealthLevelDegraded HealthLevel = "degraded"
	HealthLevelFailing  HealthLevel = "failing"
	HealthLevelCritical HealthLevel = "critical"
)

// ArtifactQuerier is the subset of the Artifact Store's contract
// handle_unexpected_state needs: find prior unexpected_state_solution
// artifacts similar to the current failure. Implemented by package
// artifacts; declared here so resilience never imports it.
type ArtifactQuerier interface {
	QuerySimilar(ctx context.Context, artifactType core.ArtifactType, text string, topK int) ([]core.Artifact, float64)
}

// WorkflowSynthesizer is the subset of the LLM Gateway's contract
// handle_unexpected_state needs when no prior solution is similar
// enough: ask a model to propose a recovery workflow. Implemented by
// package llm; declared here so resilience never imports it.
type WorkflowSynthesizer interface {
	Synthesize(ctx context.Context, prompt string) (string, error)
}

// stageState bundles one registered stage's policy, runtime health and
// circuit breaker under a private lock — the same "short critical
// section on every event" invariant the spec requires of StageHealth.
type stageState struct {
	mu       sync.Mutex
	strategy RecoveryStrategy
	health   core.StageHealth
}

// monitoredProcess tracks a child process registered with the hanging
// detector, grounded on the teacher's ExecutionToken bookkeeping in
// circuit_breaker.go: a start time and a liveness signal, checked
// periodically rather than polled synchronously.
type monitoredProcess struct {
	pid          int
	startedAt    time.Time
	lastProgress time.Time
}

// Supervisor is the Supervisor (C6): the single place stage execution,
// LLM cost tracking, sandboxed code execution and process health
// monitoring are wrapped with retries, timeouts and circuit breakers.
type Supervisor struct {
	mu     sync.RWMutex
	stages map[core.StageName]*stageState

	budget *Budget
	logger core.Logger
	tel    core.Telemetry

	artifacts ArtifactQuerier
	learner   WorkflowSynthesizer
	sandbox   SandboxExecutor

	procMu    sync.Mutex
	processes map[int]*monitoredProcess

	reaperCancel context.CancelFunc
	reaperDone   chan struct{}
}

// SandboxExecutor is the subset of the Sandbox Executor's contract
// execute_code_safely delegates to. Implemented by package sandbox;
// declared here so resilience never imports it.
type SandboxExecutor interface {
	Execute(ctx context.Context, code, language string, scanSecurity bool) (map[string]interface{}, error)
}

// SupervisorOption configures optional collaborators at construction.
type SupervisorOption func(*Supervisor)

// WithArtifactQuerier injects the Artifact Store dependency used by
// handle_unexpected_state.
func WithArtifactQuerier(q ArtifactQuerier) SupervisorOption {
	return func(s *Supervisor) { s.artifacts = q }
}

// WithWorkflowSynthesizer injects the LLM Gateway dependency used by
// handle_unexpected_state when no similar solution already exists.
func WithWorkflowSynthesizer(l WorkflowSynthesizer) SupervisorOption {
	return func(s *Supervisor) { s.learner = l }
}

// WithSandboxExecutor injects the Sandbox Executor dependency used by
// execute_code_safely.
func WithSandboxExecutor(e SandboxExecutor) SupervisorOption {
	return func(s *Supervisor) { s.sandbox = e }
}

// SetWorkflowSynthesizer injects the LLM Gateway dependency after
// construction, for callers where the Gateway itself depends on this
// Supervisor as its CallTracker and so cannot exist before it (a
// construction cycle WithWorkflowSynthesizer alone cannot break).
func (s *Supervisor) SetWorkflowSynthesizer(l WorkflowSynthesizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learner = l
}

// WithTelemetry attaches a Telemetry backend for stage spans.
func WithTelemetry(t core.Telemetry) SupervisorOption {
	return func(s *Supervisor) { s.tel = t }
}

// NewSupervisor constructs a Supervisor. budget may be nil if cost
// tracking is not needed (e.g. a test harness with no LLM Gateway).
func NewSupervisor(budget *Budget, logger core.Logger, opts ...SupervisorOption) *Supervisor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &Supervisor{
		stages:    make(map[core.StageName]*stageState),
		budget:    budget,
		logger:    logger,
		tel:       &core.NoOpTelemetry{},
		processes: make(map[int]*monitoredProcess),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterStage installs strategy for stageName, replacing any prior
// registration. A stage that is never explicitly registered gets
// DefaultRecoveryStrategy on first use.
func (s *Supervisor) RegisterStage(stageName core.StageName, strategy RecoveryStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[stageName]
	if !ok {
		st = &stageState{}
		s.stages[stageName] = st
	}
	st.mu.Lock()
	st.strategy = strategy
	st.health.StageName = stageName
	st.mu.Unlock()
}

func (s *Supervisor) stateFor(stageName core.StageName) *stageState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[stageName]
	if !ok {
		st = &stageState{strategy: DefaultRecoveryStrategy()}
		st.health.StageName = stageName
		s.stages[stageName] = st
	}
	return st
}

// circuitAllows reports whether stageName's circuit permits execution,
// atomically closing it and resetting FailureCount if its timeout has
// elapsed. Mirrors the spec's "a read after that time atomically
// closes the circuit" invariant.
func (st *stageState) circuitAllows(now time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.health.CircuitOpen {
		return true
	}
	if st.health.CircuitOpenUntil != nil && !now.Before(*st.health.CircuitOpenUntil) {
		st.health.CircuitOpen = false
		st.health.CircuitOpenUntil = nil
		st.health.FailureCount = 0
		return true
	}
	return false
}

func (st *stageState) recordSuccess(duration time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.health.Executions++
	st.health.FailureCount = 0
	n := float64(st.health.Executions)
	st.health.AvgDurationSeconds = ((n-1)*st.health.AvgDurationSeconds + duration.Seconds()) / n
}

func (st *stageState) recordFailure(now time.Time, duration time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.health.Executions++
	st.health.Failures++
	st.health.FailureCount++
	st.health.LastFailure = &now
	n := float64(st.health.Executions)
	st.health.AvgDurationSeconds = ((n-1)*st.health.AvgDurationSeconds + duration.Seconds()) / n

	if st.health.FailureCount >= st.strategy.CircuitBreakerThreshold && st.strategy.CircuitBreakerThreshold > 0 {
		st.health.CircuitOpen = true
		until := now.Add(time.Duration(st.strategy.CircuitBreakerTimeoutSeconds * float64(time.Second)))
		st.health.CircuitOpenUntil = &until
	}
}

// ExecuteWithSupervision runs fn under stageName's registered
// RecoveryStrategy: per-attempt timeout, exponential backoff between
// retries, and a circuit breaker that skips execution outright once
// tripped. fn receives a context already carrying the per-attempt
// timeout. Errors wrapping ErrFatal, ErrCheckpointCorrupt or
// ErrBudgetExceeded end the retry loop at once.
func (s *Supervisor) ExecuteWithSupervision(ctx context.Context, stageName core.StageName, fn func(ctx context.Context) (map[string]interface{}, error)) (*StageResult, error) {
	st := s.stateFor(stageName)

	st.mu.Lock()
	strategy := st.strategy
	st.mu.Unlock()

	spanCtx, span := s.tel.StartSpan(ctx, fmt.Sprintf("supervisor.execute.%s", stageName))
	defer span.End()

	if !st.circuitAllows(time.Now()) {
		s.logger.Warn("stage skipped: circuit open", map[string]interface{}{
			"operation": "execute_with_supervision",
			"stage":     string(stageName),
		})
		return &StageResult{Skipped: true, SkipReason: "circuit_breaker_open"}, nil
	}

	var lastErr error
	for attempt := 0; attempt <= strategy.MaxRetries; attempt++ {
		attemptCtx := spanCtx
		var cancel context.CancelFunc
		if strategy.TimeoutSeconds > 0 {
			attemptCtx, cancel = context.WithTimeout(spanCtx, time.Duration(strategy.TimeoutSeconds*float64(time.Second)))
		}

		start := time.Now()
		result, err := fn(attemptCtx)
		duration := time.Since(start)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			st.recordSuccess(duration)
			return &StageResult{Success: true, Result: result, RetryCount: attempt}, nil
		}

		lastErr = err
		if core.CountsAgainstCircuit(err) {
			st.recordFailure(time.Now(), duration)
		}
		span.RecordError(err)

		if core.IsFatal(err) || core.IsBudgetExceeded(err) {
			break
		}
		if !st.circuitAllows(time.Now()) {
			break
		}
		if attempt == strategy.MaxRetries {
			break
		}

		delay := strategy.RetryDelaySeconds * math.Pow(strategy.BackoffMultiplier, float64(attempt))
		s.logger.Debug("stage attempt failed, retrying", map[string]interface{}{
			"operation":   "execute_with_supervision",
			"stage":       string(stageName),
			"attempt":     attempt,
			"retry_delay": delay,
			"error":       err.Error(),
		})

		timer := time.NewTimer(time.Duration(delay * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return &StageResult{Success: false, Error: ctx.Err().Error(), Err: ctx.Err(), RetryCount: attempt}, ctx.Err()
		case <-timer.C:
		}
	}

	if strategy.FallbackAction != nil {
		fallbackResult, fbErr := strategy.FallbackAction(spanCtx)
		if fbErr == nil {
			return &StageResult{Success: true, Result: fallbackResult, RetryCount: strategy.MaxRetries}, nil
		}
		lastErr = fmt.Errorf("fallback failed: %w (original: %v)", fbErr, lastErr)
	}

	return &StageResult{Success: false, Error: lastErr.Error(), Err: lastErr, RetryCount: strategy.MaxRetries}, lastErr
}

// TrackLLMCall reconciles actual token usage after a completion and
// bills it against the Budget. Called by the LLM Gateway, never by
// stage code directly.
func (s *Supervisor) TrackLLMCall(model, provider string, tokensInput, tokensOutput int, stage core.StageName, purpose string) {
	if s.budget == nil {
		return
	}
	cost := s.budget.CostOf(tokensInput, tokensOutput, model)
	s.budget.Spend(cost)
	s.logger.Info("llm call tracked", map[string]interface{}{
		"operation":     "track_llm_call",
		"model":         model,
		"provider":      provider,
		"tokens_input":  tokensInput,
		"tokens_output": tokensOutput,
		"stage":         string(stage),
		"purpose":       purpose,
		"cost":          cost,
	})
}

// ExecuteCodeSafely delegates to the injected SandboxExecutor. Returns
// an error if no sandbox was configured.
func (s *Supervisor) ExecuteCodeSafely(ctx context.Context, code, language string, scanSecurity bool) (map[string]interface{}, error) {
	if s.sandbox == nil {
		return nil, fmt.Errorf("%w: no sandbox executor configured", core.ErrInvalidConfiguration)
	}
	return s.sandbox.Execute(ctx, code, language, scanSecurity)
}

// UnexpectedStateResult is handle_unexpected_state's outcome.
type UnexpectedStateResult struct {
	Recovered    bool
	Source       string // "prior_artifact", "synthesized", or "" when unrecovered
	RecoveryPlan string
}

// HandleUnexpectedState implements the spec's unexpected-state recovery
// flow: look for a high-similarity prior solution, and failing that,
// synthesize a new one via the injected WorkflowSynthesizer when one is
// configured (autoLearn permits it).
func (s *Supervisor) HandleUnexpectedState(ctx context.Context, cardID string, stageName core.StageName, currentState string, expectedStates []string, stageContext core.Context, autoLearn bool) UnexpectedStateResult {
	s.logger.Warn("unexpected state encountered", map[string]interface{}{
		"operation":       "handle_unexpected_state",
		"card_id":         cardID,
		"stage":           string(stageName),
		"current_state":   currentState,
		"expected_states": expectedStates,
	})

	const highSimilarityThreshold = 0.85
	query := fmt.Sprintf("stage=%s current_state=%s expected=%v", stageName, currentState, expectedStates)

	if s.artifacts != nil {
		matches, similarity := s.artifacts.QuerySimilar(ctx, core.ArtifactUnexpectedStateSolution, query, 1)
		if similarity >= highSimilarityThreshold && len(matches) > 0 {
			return UnexpectedStateResult{Recovered: true, Source: "prior_artifact", RecoveryPlan: matches[0].Content}
		}
	}

	if !autoLearn || s.learner == nil {
		return UnexpectedStateResult{}
	}

	plan, err := s.learner.Synthesize(ctx, query)
	if err != nil {
		s.logger.Error("failed to synthesize recovery workflow", map[string]interface{}{
			"operation": "handle_unexpected_state",
			"error":     err.Error(),
		})
		return UnexpectedStateResult{}
	}
	return UnexpectedStateResult{Recovered: true, Source: "synthesized", RecoveryPlan: plan}
}

// RegisterProcess adds pid to the hanging-process monitor with the
// current time as both its start and last-progress signal.
func (s *Supervisor) RegisterProcess(pid int) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	now := time.Now()
	s.processes[pid] = &monitoredProcess{pid: pid, startedAt: now, lastProgress: now}
}

// ReportProgress resets pid's hanging-detector clock; stage code calls
// this whenever a monitored subprocess produces output or otherwise
// shows it hasn't stalled.
func (s *Supervisor) ReportProgress(pid int) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if p, ok := s.processes[pid]; ok {
		p.lastProgress = time.Now()
	}
}

// UnregisterProcess removes pid from monitoring, e.g. once it exits
// normally.
func (s *Supervisor) UnregisterProcess(pid int) {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	delete(s.processes, pid)
}

// hangingThreshold is the wall-clock duration of no progress signal
// that classifies a monitored process as hanging. The spec also names
// a >90% CPU-usage condition; no portable, dependency-free way to
// sample a child process's CPU share exists in this engine's stack, so
// the reaper relies on wall-clock staleness alone.
const hangingThreshold = 300 * time.Second

// DetectHangingProcesses returns the pids that have produced no
// progress signal for hangingThreshold.
func (s *Supervisor) DetectHangingProcesses() []int {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	now := time.Now()
	var hanging []int
	for pid, p := range s.processes {
		if now.Sub(p.lastProgress) > hangingThreshold {
			hanging = append(hanging, pid)
		}
	}
	return hanging
}

// KillHangingProcess terminates pid: SIGTERM first, or SIGKILL when
// force is set.
func (s *Supervisor) KillHangingProcess(pid int, force bool) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: process %d not found: %v", core.ErrNotFound, pid, err)
	}
	if force {
		return proc.Kill()
	}
	return proc.Signal(os.Interrupt)
}

// CleanupZombieProcesses removes every currently-hanging process from
// monitoring after attempting a graceful terminate-then-kill sequence.
func (s *Supervisor) CleanupZombieProcesses() {
	for _, pid := range s.DetectHangingProcesses() {
		if err := s.KillHangingProcess(pid, false); err != nil {
			s.logger.Warn("graceful terminate failed, forcing kill", map[string]interface{}{
				"operation": "cleanup_zombie_processes",
				"pid":       pid,
				"error":     err.Error(),
			})
			_ = s.KillHangingProcess(pid, true)
		}
		s.UnregisterProcess(pid)
	}
}

// StartReaper launches the background monitor that samples registered
// processes every 5 seconds and cleans up hanging ones. Per the spec's
// "two and only two" parallel regions, this is the Supervisor's sole
// background goroutine for the lifetime of an orchestration; call
// StopReaper to end it.
func (s *Supervisor) StartReaper(ctx context.Context) {
	reaperCtx, cancel := context.WithCancel(ctx)
	s.reaperCancel = cancel
	s.reaperDone = make(chan struct{})

	go func() {
		defer close(s.reaperDone)
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-reaperCtx.Done():
				return
			case <-ticker.C:
				s.CleanupZombieProcesses()
			}
		}
	}()
}

// StopReaper halts the background monitor started by StartReaper and
// waits for it to exit.
func (s *Supervisor) StopReaper() {
	if s.reaperCancel == nil {
		return
	}
	s.reaperCancel()
	<-s.reaperDone
}

// HealthStatus computes the Supervisor's aggregate verdict from every
// registered stage's StageHealth: critical once more than half the
// stages have an open circuit, failing if any stage does, degraded
// once any stage's failure rate exceeds 25%, healthy otherwise.
func (s *Supervisor) HealthStatus() HealthLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.stages) == 0 {
		return HealthLevelHealthy
	}

	openCircuits, degraded := 0, false
	for _, st := range s.stages {
		st.mu.Lock()
		if st.health.CircuitOpen {
			openCircuits++
		}
		if st.health.FailureRate() > 0.25 {
			degraded = true
		}
		st.mu.Unlock()
	}

	switch {
	case float64(openCircuits) > float64(len(s.stages))/2:
		return HealthLevelCritical
	case openCircuits > 0:
		return HealthLevelFailing
	case degraded:
		return HealthLevelDegraded
	default:
		return HealthLevelHealthy
	}
}

// Statistics returns a snapshot of every registered stage's health plus
// the current budget state, the raw material behind PrintHealthReport.
func (s *Supervisor) Statistics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stages := make(map[string]core.StageHealth, len(s.stages))
	for name, st := range s.stages {
		st.mu.Lock()
		stages[string(name)] = st.health
		st.mu.Unlock()
	}

	stats := map[string]interface{}{
		"health_status": s.HealthStatus(),
		"stages":        stages,
	}
	if s.budget != nil {
		stats["budget"] = s.budget.Snapshot()
	}
	return stats
}

// PrintHealthReport logs a summary of Statistics at info level.
func (s *Supervisor) PrintHealthReport() {
	s.logger.Info("supervisor health report", s.Statistics())
}
