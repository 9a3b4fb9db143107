// Package stage implements the Stage Framework (C7): a template-method
// lifecycle every concrete stage (C8) runs through, plus the eight
// concrete stages themselves.
package stage

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/artemis-eng/artemis/core"
)

// Notifier is the narrow slice of messaging.Bus the framework's
// default notification hooks need. Declared here, not imported from
// messaging, so this package stays agnostic to which Bus
// implementation the caller wires in.
type Notifier interface {
	Send(ctx context.Context, msg *core.Message) error
}

// ArtifactRecorder is the narrow slice of artifacts.Store the
// framework's default _store_result hook needs.
type ArtifactRecorder interface {
	Store(ctx context.Context, artifactType core.ArtifactType, cardID, taskTitle, content string, metadata map[string]interface{}) (string, error)
}

// Outcome is execute()'s return value: {success, result?, error?}. Err
// carries the original wrapped error so a caller can classify it with
// errors.Is against core's sentinels; Error is the stringified form
// kept for logging and checkpoint storage, where only text survives.
type Outcome struct {
	Success bool
	Result  map[string]interface{}
	Error   string
	Err     error
}

// Stage is the template-method contract every concrete stage
// implements. Default behavior for every hook except ExecuteStage
// lives on Base, which concrete stages embed and selectively override.
type Stage interface {
	StageName() core.StageName
	LogStart(ctx context.Context, card *core.Card)
	NotifyStart(ctx context.Context, card *core.Card) error
	Setup(ctx context.Context, card *core.Card, stageCtx core.Context) error
	ExecuteStage(ctx context.Context, card *core.Card, stageCtx core.Context) (map[string]interface{}, error)
	StoreResult(ctx context.Context, card *core.Card, result map[string]interface{}) error
	NotifySuccess(ctx context.Context, card *core.Card, result map[string]interface{}) error
	NotifyFailure(ctx context.Context, card *core.Card, failureErr error) error
	Teardown(ctx context.Context, card *core.Card, success bool)
}

// Base provides every Stage hook's default implementation. Concrete
// stages embed Base and override Setup/StoreResult/ExecuteStage as
// needed; ExecuteStage has no default and must always be overridden.
type Base struct {
	Name      core.StageName
	Notifier  Notifier
	Artifacts ArtifactRecorder
	Logger    core.Logger
	FromAgent string
}

func (b *Base) StageName() core.StageName { return b.Name }

// LogStart prints the banner every stage opens with.
func (b *Base) LogStart(ctx context.Context, card *core.Card) {
	if b.Logger == nil {
		return
	}
	b.Logger.Info(fmt.Sprintf("=== stage %s starting ===", b.Name), map[string]interface{}{
		"card_id": card.CardID,
		"stage":   string(b.Name),
	})
}

// NotifyStart sends a stage_started notification on the Messaging Bus.
func (b *Base) NotifyStart(ctx context.Context, card *core.Card) error {
	return b.notify(ctx, card, "stage_started", core.PriorityLow, nil)
}

// Setup is a no-op by default; overriding stages pull prerequisite
// keys out of stageCtx here.
func (b *Base) Setup(ctx context.Context, card *core.Card, stageCtx core.Context) error {
	return nil
}

// ExecuteStage has no default: every concrete stage must override it.
func (b *Base) ExecuteStage(ctx context.Context, card *core.Card, stageCtx core.Context) (map[string]interface{}, error) {
	return nil, fmt.Errorf("%w: stage %s did not override ExecuteStage", core.ErrFatal, b.Name)
}

// StoreResult stores an artifact of type "<stage_name>_result" by
// default.
func (b *Base) StoreResult(ctx context.Context, card *core.Card, result map[string]interface{}) error {
	if b.Artifacts == nil {
		return nil
	}
	content := fmt.Sprintf("%v", result)
	_, err := b.Artifacts.Store(ctx, core.ArtifactType(string(b.Name)+"_result"), card.CardID, card.Title, content, nil)
	return err
}

// NotifySuccess emits a success notification.
func (b *Base) NotifySuccess(ctx context.Context, card *core.Card, result map[string]interface{}) error {
	return b.notify(ctx, card, "stage_completed", core.PriorityLow, nil)
}

// NotifyFailure emits a high-priority error message, per spec.md §7's
// "every transition to a failed state emits an error message".
func (b *Base) NotifyFailure(ctx context.Context, card *core.Card, failureErr error) error {
	data := map[string]interface{}{"error": failureErr.Error()}
	return b.notify(ctx, card, "stage_failed", core.PriorityHigh, data)
}

// Teardown is a no-op by default.
func (b *Base) Teardown(ctx context.Context, card *core.Card, success bool) {}

func (b *Base) notify(ctx context.Context, card *core.Card, eventType string, priority core.Priority, data map[string]interface{}) error {
	if b.Notifier == nil {
		return nil
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["event"] = eventType
	data["stage"] = string(b.Name)
	fromAgent := b.FromAgent
	if fromAgent == "" {
		fromAgent = "stage:" + string(b.Name)
	}
	return b.Notifier.Send(ctx, &core.Message{
		FromAgent:   fromAgent,
		ToAgent:     core.BroadcastRecipient,
		MessageType: core.MessageNotification,
		CardID:      card.CardID,
		Priority:    priority,
		Data:        data,
	})
}

// Run drives a Stage through its full template-method lifecycle,
// catching any panic or error raised from any phase exactly once and
// converting it into Outcome{Success: false}. Grounded on the
// retrieval pack's panic-to-error wrapper
// (itsneelabh-gomind/orchestration/task_worker.go's executeHandler):
// the same recover-and-wrap shape, applied across every lifecycle
// phase instead of a single handler call.
func Run(ctx context.Context, s Stage, card *core.Card, stageCtx core.Context) (outcome Outcome) {
	success := false
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			panicErr := fmt.Errorf("%w: stage panic: %v\n%s", core.ErrFatal, r, stack)
			outcome = Outcome{Success: false, Error: panicErr.Error(), Err: panicErr}
		}
		s.Teardown(ctx, card, success)
	}()

	s.LogStart(ctx, card)
	if err := s.NotifyStart(ctx, card); err != nil {
		return Outcome{Success: false, Error: err.Error(), Err: err}
	}
	if err := s.Setup(ctx, card, stageCtx); err != nil {
		_ = s.NotifyFailure(ctx, card, err)
		return Outcome{Success: false, Error: err.Error(), Err: err}
	}

	result, err := s.ExecuteStage(ctx, card, stageCtx)
	if err != nil {
		_ = s.NotifyFailure(ctx, card, err)
		return Outcome{Success: false, Error: err.Error(), Err: err}
	}

	// StoreResult and NotifySuccess failures do not fail an otherwise
	// successful stage execution; they are best-effort side channels.
	_ = s.StoreResult(ctx, card, result)
	_ = s.NotifySuccess(ctx, card, result)

	success = true
	return Outcome{Success: true, Result: result}
}

// elapsed is a small helper concrete stages use to stamp
// duration_seconds into their result map.
func elapsed(start time.Time) float64 {
	return time.Since(start).Seconds()
}
