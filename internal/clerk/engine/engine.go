package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitmerchant/clerk/common/redact"
	"github.com/bitmerchant/clerk/common/trace"
	"github.com/bitmerchant/clerk/internal/clerk/commands"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
	"github.com/bitmerchant/clerk/internal/clerk/safety"
)

// Defaults applied when Config fields are zero.
const (
	DefaultConfirmationTimeout = 5 * time.Minute
	DefaultRetention           = 24 * time.Hour
	DefaultConfirmThreshold    = 10
)

// Runner is the slice of the command adapters the engine needs. Satisfied by
// *commands.Adapter.
type Runner interface {
	Preview(ctx context.Context, action *intent.Action) (*commands.Preview, error)
	Execute(ctx context.Context, action *intent.Action) *commands.Result
}

// Validator is the slice of the safety layer the engine needs. Satisfied by
// *safety.Validator.
type Validator interface {
	Validate(ctx context.Context, action *intent.Action, ec safety.ExecutionContext) safety.Validation
}

// Config tunes the engine. Zero values take the defaults above.
type Config struct {
	// ConfirmationTimeout is how long an execution may sit in
	// awaiting_confirmation before it is cancelled.
	ConfirmationTimeout time.Duration
	// Retention is how long terminal executions are kept before eviction.
	Retention time.Duration
	// ConfirmThreshold forces confirmation when a preview reports more
	// affected items than this.
	ConfirmThreshold int
}

// Engine drives executions through the state machine.
type Engine struct {
	repo      Repository
	validator Validator
	runner    Runner
	cfg       Config

	// mu guards state transitions and the timer table. It is never held
	// across a catalog or LLM call.
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates an Engine. All three collaborators are required.
func New(repo Repository, validator Validator, runner Runner, cfg Config) *Engine {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.ConfirmThreshold <= 0 {
		cfg.ConfirmThreshold = DefaultConfirmThreshold
	}
	return &Engine{
		repo:      repo,
		validator: validator,
		runner:    runner,
		cfg:       cfg,
		timers:    make(map[string]*time.Timer),
	}
}

// Initiate creates an execution for action and drives it as far as it can go
// without a human decision: through validation and preview, then either to a
// terminal state (safe actions execute immediately) or to
// awaiting_confirmation with a timeout armed.
//
// Policy failures, missing products, and remote errors are not Go errors
// here — they come back as a failed execution with a user-facing message.
// The returned error covers only infrastructure faults (repository I/O).
func (e *Engine) Initiate(ctx context.Context, action *intent.Action, ec safety.ExecutionContext) (*Execution, error) {
	if action == nil || !action.Type.Valid() {
		return nil, fmt.Errorf("engine: invalid action intent")
	}

	ex := &Execution{
		ID:                   uuid.NewString(),
		Intent:               action,
		Status:               StatusPending,
		Timestamp:            time.Now(),
		UserID:               ec.UserID,
		RequiresConfirmation: action.RequiresConfirmation,
	}
	appendAudit(ex, EventCreated, fmt.Sprintf("action %s requested", action.Type), map[string]any{
		"trace_id": trace.FromContext(ctx),
		"store":    ec.Store.Domain,
	})

	validation := e.validator.Validate(ctx, action, ec)
	if !validation.Passed {
		e.fail(ex, "blocked by safety policy: "+strings.Join(validation.Blockers, "; "), nil)
		if err := e.repo.Save(ctx, ex); err != nil {
			return nil, fmt.Errorf("engine: save execution: %w", err)
		}
		return ex.Clone(), nil
	}

	ex.Status = StatusPreviewing
	preview, err := e.runner.Preview(ctx, action)
	if err != nil {
		// Preview failures abort before any mutation is attempted.
		e.fail(ex, previewFailureMessage(err), map[string]any{"error": err.Error()})
		if serr := e.repo.Save(ctx, ex); serr != nil {
			return nil, fmt.Errorf("engine: save execution: %w", serr)
		}
		return ex.Clone(), nil
	}
	ex.Preview = preview
	appendAudit(ex, EventPreviewed, preview.Summary, map[string]any{
		"affected_count": preview.AffectedCount,
	})

	needsConfirmation := action.RequiresConfirmation ||
		validation.RiskLevel == safety.RiskHigh ||
		validation.RiskLevel == safety.RiskCritical ||
		len(validation.Warnings) > 0 ||
		preview.AffectedCount > e.cfg.ConfirmThreshold
	ex.RequiresConfirmation = needsConfirmation

	if needsConfirmation {
		ex.Status = StatusAwaitingConfirmation
		if err := e.repo.Save(ctx, ex); err != nil {
			return nil, fmt.Errorf("engine: save execution: %w", err)
		}
		e.armTimer(ex.ID)
		slog.Info("execution awaiting confirmation",
			"id", ex.ID, "type", action.Type, "user", ec.UserID,
			"affected", preview.AffectedCount, "risk", validation.RiskLevel)
		return ex.Clone(), nil
	}

	e.run(ctx, ex)
	if err := e.repo.Save(ctx, ex); err != nil {
		return nil, fmt.Errorf("engine: save execution: %w", err)
	}
	return ex.Clone(), nil
}

// Confirm resolves an awaiting execution: confirmed=true executes it,
// confirmed=false cancels it. Calling Confirm on an execution that is no
// longer awaiting (already run, cancelled, or timed out) is a no-op that
// returns the record as it stands — it never re-executes.
func (e *Engine) Confirm(ctx context.Context, id string, confirmed bool) (*Execution, error) {
	e.mu.Lock()
	ex, err := e.repo.Get(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if ex.Status != StatusAwaitingConfirmation {
		e.mu.Unlock()
		return ex, nil
	}
	e.stopTimerLocked(id)

	if !confirmed {
		ex.Status = StatusCancelled
		appendAudit(ex, EventCancelled, "rejected by user", nil)
		err := e.repo.Save(ctx, ex)
		e.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("engine: save execution: %w", err)
		}
		return ex, nil
	}

	// Confirmed can be set at most once, and only here: the status guard
	// above makes a second confirmation unreachable.
	ex.Confirmed = true
	appendAudit(ex, EventConfirmed, "confirmed by user", nil)
	ex.Status = StatusExecuting
	if err := e.repo.Save(ctx, ex); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine: save execution: %w", err)
	}
	e.mu.Unlock()

	// The catalog call happens outside the lock; the execution is already
	// in executing state so neither a timeout nor a second Confirm can
	// touch it.
	e.run(ctx, ex)
	if err := e.repo.Save(ctx, ex); err != nil {
		return nil, fmt.Errorf("engine: save execution: %w", err)
	}
	return ex, nil
}

// Get returns the execution with the given id. Repeated calls on a terminal
// execution return the same status and result without side effects.
func (e *Engine) Get(ctx context.Context, id string) (*Execution, error) {
	return e.repo.Get(ctx, id)
}

// Cancel cancels an execution that has not started executing. It reports
// whether a cancellation actually happened.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ex, err := e.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	switch ex.Status {
	case StatusPending, StatusPreviewing, StatusAwaitingConfirmation:
		e.stopTimerLocked(id)
		ex.Status = StatusCancelled
		appendAudit(ex, EventCancelled, "cancelled by user", nil)
		if err := e.repo.Save(ctx, ex); err != nil {
			return false, fmt.Errorf("engine: save execution: %w", err)
		}
		return true, nil
	default:
		return false, nil
	}
}

// Stats summarises all stored executions.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st, err := e.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	completed := st.ByStatus[StatusCompleted]
	failed := st.ByStatus[StatusFailed]
	if completed+failed > 0 {
		st.SuccessRate = float64(completed) / float64(completed+failed)
	}
	return st, nil
}

// run executes the action and moves ex to completed or failed. Panics in an
// adapter are converted into a failed result; no code path may crash the
// process.
func (e *Engine) run(ctx context.Context, ex *Execution) {
	ex.Status = StatusExecuting

	result := func() (r *commands.Result) {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("execution panicked", "id", ex.ID, "panic", p)
				r = &commands.Result{
					Success: false,
					Message: "Something went wrong while performing that action.",
					Err:     fmt.Errorf("panic: %v", p),
				}
			}
		}()
		return e.runner.Execute(ctx, ex.Intent)
	}()

	ex.Result = result
	if result.Success {
		ex.Status = StatusCompleted
		appendAudit(ex, EventExecuted, result.Message, map[string]any{
			"affected_products": result.AffectedProducts,
		})
		return
	}

	meta := map[string]any{}
	if result.Err != nil {
		meta["error"] = result.Err.Error()
	}
	ex.Status = StatusFailed
	appendAudit(ex, EventFailed, result.Message, meta)
}

// fail moves ex straight to the failed terminal state with a synthetic
// result carrying the message.
func (e *Engine) fail(ex *Execution, message string, meta map[string]any) {
	ex.Status = StatusFailed
	ex.Result = &commands.Result{Success: false, Message: message}
	appendAudit(ex, EventFailed, message, meta)
}

// armTimer starts the confirmation-timeout timer for id. The handle is kept
// so a confirm/reject/cancel can disarm it; a fired timer that loses the
// race against a confirmation finds the execution no longer awaiting and
// does nothing.
func (e *Engine) armTimer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timers[id] = time.AfterFunc(e.cfg.ConfirmationTimeout, func() {
		e.expire(id)
	})
}

// stopTimerLocked disarms and forgets the timer for id. Caller holds e.mu.
func (e *Engine) stopTimerLocked(id string) {
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
}

// expire cancels an execution whose confirmation window elapsed.
func (e *Engine) expire(id string) {
	ctx := context.Background()

	e.mu.Lock()
	defer e.mu.Unlock()
	// Covers both the fired-timer path and the janitor's post-restart sweep,
	// where a live timer may still be armed.
	e.stopTimerLocked(id)

	ex, err := e.repo.Get(ctx, id)
	if err != nil {
		return
	}
	if ex.Status != StatusAwaitingConfirmation {
		return
	}
	ex.Status = StatusCancelled
	appendAudit(ex, EventCancelled, "confirmation window elapsed", map[string]any{
		"timeout": e.cfg.ConfirmationTimeout.String(),
	})
	if err := e.repo.Save(ctx, ex); err != nil {
		slog.Error("failed to persist confirmation timeout", "id", id, "err", err)
		return
	}
	slog.Info("execution cancelled by timeout", "id", id)
}

// appendAudit appends one entry to the execution's audit log. Metadata
// values under secret-looking keys are redacted before they are recorded.
func appendAudit(ex *Execution, event AuditEvent, details string, meta map[string]any) {
	if meta != nil {
		meta = redact.Map(meta)
	}
	ex.AuditLog = append(ex.AuditLog, AuditEntry{
		Timestamp: time.Now(),
		Event:     event,
		Details:   details,
		Metadata:  meta,
	})
}

// previewFailureMessage converts a preview error into user-facing phrasing.
func previewFailureMessage(err error) string {
	msg := err.Error()
	// The commands sentinels already read reasonably; strip the package
	// prefix for chat display.
	return strings.TrimPrefix(msg, "commands: ")
}
