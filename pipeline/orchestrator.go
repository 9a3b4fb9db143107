package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artemis-eng/artemis/artifacts"
	"github.com/artemis-eng/artemis/checkpoint"
	"github.com/artemis-eng/artemis/core"
	"github.com/artemis-eng/artemis/resilience"
	"github.com/artemis-eng/artemis/stage"
)

// Report is the Orchestrator's final-report output, per spec.md §4.9
// step 5 and §7's "user-visible failure behavior": it always names the
// terminal status, which stage failed (if any), the error kind, any
// fallback applied, total cost, and where the evidence lives. No
// partial state is hidden from it.
type Report struct {
	CardID            string                     `json:"card_id"`
	Status            string                     `json:"status"` // "completed" or "failed"
	FailedStage       core.StageName             `json:"failed_stage,omitempty"`
	ErrorKind         string                     `json:"error_kind,omitempty"`
	FallbackApplied   bool                       `json:"fallback_applied"`
	TotalCostUSD      float64                    `json:"total_cost_usd"`
	CheckpointPath    string                     `json:"checkpoint_path"`
	ArtifactStorePath string                     `json:"artifact_store_path"`
	StageDurations    map[core.StageName]float64 `json:"stage_durations"`
	SupervisorStats   map[string]interface{}     `json:"supervisor_stats"`
	Plan              *core.WorkflowPlan         `json:"plan"`
}

// Orchestrator (C10) drives a Card's WorkflowPlan through the Stage
// Framework under Supervisor protection, per spec.md §4.9's loop. All
// of its collaborators are in-process and require no external service
// to fake in a test (checkpoint.Manager and artifacts.Store both take
// a plain directory; resilience.Supervisor needs neither a budget nor
// a sandbox to drive bare stage callbacks), so — unlike the narrower
// Notifier/ArtifactRecorder/SandboxRunner seams declared deeper in
// this module — the Orchestrator holds concrete collaborator types
// directly rather than introducing another layer of local interfaces.
type Orchestrator struct {
	planner     *Planner
	supervisor  *resilience.Supervisor
	checkpoints *checkpoint.Manager
	store       *artifacts.Store
	stages      map[core.StageName]stage.Stage
	logger      core.Logger
	tel         core.Telemetry
}

// NewOrchestrator constructs an Orchestrator. Concrete Stage
// implementations must be registered with RegisterStage before Run is
// called for any stage the plan references.
func NewOrchestrator(planner *Planner, supervisor *resilience.Supervisor, checkpoints *checkpoint.Manager, store *artifacts.Store, logger core.Logger) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Orchestrator{
		planner:     planner,
		supervisor:  supervisor,
		checkpoints: checkpoints,
		store:       store,
		stages:      make(map[core.StageName]stage.Stage),
		logger:      logger,
		tel:         &core.NoOpTelemetry{},
	}
}

// SetTelemetry attaches a Telemetry backend for run- and stage-level
// spans, so main can wire the same OTel provider it passes to
// resilience.Supervisor's WithTelemetry option after it is initialized.
func (o *Orchestrator) SetTelemetry(t core.Telemetry) {
	if t == nil {
		t = &core.NoOpTelemetry{}
	}
	o.tel = t
}

// RegisterStage installs the concrete Stage implementation used
// whenever the plan schedules stageName.
func (o *Orchestrator) RegisterStage(stageName core.StageName, s stage.Stage) {
	o.stages[stageName] = s
}

// Run executes card's entire pipeline, per spec.md §4.9's Orchestrator
// loop, and returns the final Report. A non-nil error means the run was
// aborted: either before any stage ran (the Report is then nil or has
// no StageDurations), or by a fatal failure inside the loop, such as a
// failed checkpoint write or a scheduled stage with no registered
// implementation, in which case the Report has Status "failed".
func (o *Orchestrator) Run(ctx context.Context, card *core.Card) (*Report, error) {
	ctx, runSpan := o.tel.StartSpan(ctx, "orchestrator.run")
	runSpan.SetAttribute("card_id", card.CardID)
	defer runSpan.End()

	plan := o.planner.Plan(card)
	activeStages := plan.ActiveStages()

	ragCtx := map[string]interface{}{}
	if o.store != nil {
		matches, err := o.store.QuerySimilarFiltered(ctx, card.Title+" "+card.Description, nil, 5, nil)
		if err != nil {
			o.logger.Warn("similarity lookup failed, proceeding without rag_insights", map[string]interface{}{
				"card_id": card.CardID, "error": err.Error(),
			})
		} else if len(matches) > 0 {
			ragCtx["rag_insights"] = matches
		}
	}

	canResume, err := o.checkpoints.CanResume(ctx, card.CardID, activeStages)
	if err != nil {
		return nil, fmt.Errorf("%w: checking resumability: %v", core.ErrInvalidConfiguration, err)
	}

	var cp *core.Checkpoint
	if canResume {
		cp, err = o.checkpoints.Resume(ctx, card.CardID)
	} else {
		cp, err = o.checkpoints.Create(ctx, card.CardID, len(activeStages), ragCtx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: preparing checkpoint: %v", core.ErrInvalidConfiguration, err)
	}

	stageCtx := core.NewContext()
	stageCtx.Merge(cp.ExecutionContext)
	stageCtx.Merge(ragCtx)
	// A resumed run only carries ExecutionContext from the moment the
	// checkpoint was first created; every later stage's output lives in
	// its StageRecord, not in ExecutionContext. Replay completed stages'
	// results so a stage resuming mid-pipeline still sees everything an
	// uninterrupted run would have merged in.
	for _, completed := range cp.CompletedStages {
		if record, ok := cp.StageCheckpoints[completed]; ok {
			stageCtx.Merge(record.Result)
		}
	}
	// Development reads the plan's worker count from context.
	stageCtx["parallel_developers"] = plan.ParallelDevelopers

	report := &Report{
		CardID:         card.CardID,
		StageDurations: map[core.StageName]float64{},
		Plan:           plan,
		CheckpointPath: o.checkpoints.Path(card.CardID),
	}
	if o.store != nil {
		report.ArtifactStorePath = o.store.Dir()
	}

	startIdx := 0
	next, hasNext, err := o.checkpoints.NextStage(ctx, card.CardID, activeStages)
	if err != nil {
		return nil, fmt.Errorf("%w: computing next stage: %v", core.ErrInvalidConfiguration, err)
	}
	if hasNext {
		for i, s := range activeStages {
			if s == next {
				startIdx = i
				break
			}
		}
	} else {
		startIdx = len(activeStages)
	}

	for _, stageName := range activeStages[startIdx:] {
		if err := o.checkpoints.SetCurrentStage(ctx, card.CardID, stageName); err != nil {
			return o.finishFatal(ctx, report, stageName, err)
		}

		concreteStage, ok := o.stages[stageName]
		if !ok {
			err := fmt.Errorf("%w: no stage implementation registered for %s", core.ErrFatal, stageName)
			return o.finishFatal(ctx, report, stageName, err)
		}

		stageCtxSpan, stageSpan := o.tel.StartSpan(ctx, fmt.Sprintf("orchestrator.stage.%s", stageName))
		start := time.Now()
		supResult, supErr := o.supervisor.ExecuteWithSupervision(stageCtxSpan, stageName, func(execCtx context.Context) (map[string]interface{}, error) {
			outcome := stage.Run(execCtx, concreteStage, card, stageCtx)
			if !outcome.Success {
				if outcome.Err != nil {
					return nil, outcome.Err
				}
				return nil, errors.New(outcome.Error)
			}
			return outcome.Result, nil
		})
		duration := time.Since(start).Seconds()
		report.StageDurations[stageName] = duration
		o.tel.RecordMetric("orchestrator.stage.duration_seconds", duration, map[string]string{"stage": string(stageName)})
		if supErr != nil {
			stageSpan.RecordError(supErr)
		}
		stageSpan.End()

		switch {
		case supResult != nil && supResult.Skipped:
			if err := o.checkpoints.SaveStage(ctx, card.CardID, core.StageRecord{
				StageName: stageName, Status: core.StageStatusSkipped,
				StartTime: start, EndTime: time.Now(), DurationSeconds: duration,
				ErrorMessage: supResult.SkipReason,
			}); err != nil {
				return o.finishFatal(ctx, report, stageName, err)
			}
			report.FallbackApplied = true
			continue

		case supResult != nil && supResult.Success:
			stageCtx.Merge(supResult.Result)
			if err := o.checkpoints.SaveStage(ctx, card.CardID, core.StageRecord{
				StageName: stageName, Status: core.StageStatusCompleted,
				StartTime: start, EndTime: time.Now(), DurationSeconds: duration,
				Result: supResult.Result, RetryCount: supResult.RetryCount,
			}); err != nil {
				return o.finishFatal(ctx, report, stageName, err)
			}

		default:
			reason := "unknown failure"
			var classifyErr error
			if supResult != nil {
				reason = supResult.Error
				classifyErr = supResult.Err
			} else if supErr != nil {
				reason = supErr.Error()
				classifyErr = supErr
			}
			if classifyErr == nil && reason != "" {
				classifyErr = errors.New(reason)
			}
			if err := o.checkpoints.SaveStage(ctx, card.CardID, core.StageRecord{
				StageName: stageName, Status: core.StageStatusFailed,
				StartTime: start, EndTime: time.Now(), DurationSeconds: duration,
				ErrorMessage: reason,
			}); err != nil {
				return o.finishFatal(ctx, report, stageName, err)
			}
			if err := o.checkpoints.MarkFailed(ctx, card.CardID, reason); err != nil {
				return o.finishFatal(ctx, report, stageName, err)
			}
			report.Status = "failed"
			report.FailedStage = stageName
			report.ErrorKind = classifyErrorKind(classifyErr)
			o.finalize(report)
			return report, nil
		}
	}

	if err := o.checkpoints.MarkCompleted(ctx, card.CardID); err != nil {
		return o.finishFatal(ctx, report, "", err)
	}
	report.Status = "completed"
	o.finalize(report)
	return report, nil
}

func (o *Orchestrator) finalize(report *Report) {
	if o.supervisor != nil {
		stats := o.supervisor.Statistics()
		report.SupervisorStats = stats
		if budget, ok := stats["budget"].(core.Budget); ok {
			report.TotalCostUSD = budget.TotalCost
		}
	}
}

func (o *Orchestrator) finishFatal(ctx context.Context, report *Report, stageName core.StageName, err error) (*Report, error) {
	report.Status = "failed"
	report.FailedStage = stageName
	report.ErrorKind = "Fatal"
	o.finalize(report)
	return report, err
}

// classifyErrorKind maps err's wrapped sentinel to spec.md §7's
// taxonomy name via core's errors.Is-based classifiers, never by
// string matching (core/errors.go's own design intent), defaulting to
// "Fatal" for anything unrecognized.
func classifyErrorKind(err error) string {
	switch {
	case err == nil:
		return "Fatal"
	case core.IsContractViolation(err):
		return "ContractViolation"
	case core.IsSandboxViolation(err):
		return "SandboxViolation"
	case core.IsBudgetExceeded(err):
		return "BudgetExceeded"
	case errors.Is(err, core.ErrCircuitOpen):
		return "CircuitOpen"
	default:
		return "Fatal"
	}
}
