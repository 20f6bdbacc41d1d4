package engine

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitmerchant/clerk/internal/clerk/commands"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
	"github.com/bitmerchant/clerk/internal/clerk/safety"
)

// stubValidator returns a fixed validation verdict.
type stubValidator struct {
	validation safety.Validation
}

func (s stubValidator) Validate(context.Context, *intent.Action, safety.ExecutionContext) safety.Validation {
	return s.validation
}

// stubRunner returns canned preview/result and counts Execute calls.
type stubRunner struct {
	preview    *commands.Preview
	previewErr error
	result     *commands.Result
	executions atomic.Int64
	panics     bool
}

func (s *stubRunner) Preview(context.Context, *intent.Action) (*commands.Preview, error) {
	if s.previewErr != nil {
		return nil, s.previewErr
	}
	return s.preview, nil
}

func (s *stubRunner) Execute(context.Context, *intent.Action) *commands.Result {
	s.executions.Add(1)
	if s.panics {
		panic("adapter exploded")
	}
	return s.result
}

func passingValidation() safety.Validation {
	return safety.Validation{Passed: true, RiskLevel: safety.RiskMedium}
}

func okRunner() *stubRunner {
	return &stubRunner{
		preview: &commands.Preview{Summary: "Will update one product.", AffectedCount: 1},
		result:  &commands.Result{Success: true, Message: "Done.", AffectedProducts: 1},
	}
}

func testAction(typ intent.Type) *intent.Action {
	return &intent.Action{Type: typ, Confidence: 0.9, OriginalMessage: "msg"}
}

func testEC() safety.ExecutionContext {
	return safety.ExecutionContext{UserID: "u1"}
}

func newTestEngine(v Validator, r Runner, cfg Config) *Engine {
	return New(NewMemoryRepository(), v, r, cfg)
}

func TestInitiateSafeActionRunsInline(t *testing.T) {
	runner := okRunner()
	e := newTestEngine(stubValidator{passingValidation()}, runner, Config{})

	ex, err := e.Initiate(context.Background(), testAction(intent.TypeUpdatePrice), testEC())
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	if ex.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", ex.Status)
	}
	if runner.executions.Load() != 1 {
		t.Errorf("executions = %d, want 1", runner.executions.Load())
	}

	events := auditEvents(ex)
	for _, want := range []AuditEvent{EventCreated, EventPreviewed, EventExecuted} {
		if !events[want] {
			t.Errorf("audit log missing %q: %v", want, ex.AuditLog)
		}
	}
}

func TestInitiateHighRiskAwaitsConfirmation(t *testing.T) {
	runner := okRunner()
	e := newTestEngine(stubValidator{safety.Validation{Passed: true, RiskLevel: safety.RiskCritical}},
		runner, Config{})

	ex, err := e.Initiate(context.Background(), testAction(intent.TypeDeleteProduct), testEC())
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	if ex.Status != StatusAwaitingConfirmation {
		t.Fatalf("Status = %q, want awaiting_confirmation", ex.Status)
	}
	if runner.executions.Load() != 0 {
		t.Fatal("nothing may execute before confirmation")
	}
}

func TestConfirmExecutes(t *testing.T) {
	runner := okRunner()
	e := newTestEngine(stubValidator{safety.Validation{Passed: true, RiskLevel: safety.RiskHigh}},
		runner, Config{})

	ex, _ := e.Initiate(context.Background(), testAction(intent.TypeDeleteProduct), testEC())

	confirmed, err := e.Confirm(context.Background(), ex.ID, true)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed", confirmed.Status)
	}
	if !confirmed.Confirmed {
		t.Error("Confirmed flag should be set")
	}
	if runner.executions.Load() != 1 {
		t.Errorf("executions = %d, want exactly 1", runner.executions.Load())
	}

	// A second confirmation must be a no-op, not a re-execution.
	again, err := e.Confirm(context.Background(), ex.ID, true)
	if err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
	if again.Status != StatusCompleted || runner.executions.Load() != 1 {
		t.Errorf("second confirm re-executed: status=%q executions=%d",
			again.Status, runner.executions.Load())
	}
}

func TestConfirmRejectCancels(t *testing.T) {
	runner := okRunner()
	e := newTestEngine(stubValidator{safety.Validation{Passed: true, RiskLevel: safety.RiskHigh}},
		runner, Config{})

	ex, _ := e.Initiate(context.Background(), testAction(intent.TypeDeleteProduct), testEC())

	rejected, err := e.Confirm(context.Background(), ex.ID, false)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if rejected.Status != StatusCancelled {
		t.Fatalf("Status = %q, want cancelled", rejected.Status)
	}
	if runner.executions.Load() != 0 {
		t.Error("a rejected action must never execute")
	}
}

func TestConfirmationTimeout(t *testing.T) {
	runner := okRunner()
	e := newTestEngine(stubValidator{safety.Validation{Passed: true, RiskLevel: safety.RiskHigh}},
		runner, Config{ConfirmationTimeout: 20 * time.Millisecond})

	ex, _ := e.Initiate(context.Background(), testAction(intent.TypeDeleteProduct), testEC())

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := e.Get(context.Background(), ex.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == StatusCancelled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Status = %q, want cancelled after the window elapsed", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Confirming after the timeout is a no-op.
	late, err := e.Confirm(context.Background(), ex.ID, true)
	if err != nil {
		t.Fatalf("late Confirm: %v", err)
	}
	if late.Status != StatusCancelled || runner.executions.Load() != 0 {
		t.Errorf("late confirm: status=%q executions=%d, want cancelled and 0",
			late.Status, runner.executions.Load())
	}
}

func TestInitiateBlockedBySafety(t *testing.T) {
	runner := okRunner()
	e := newTestEngine(stubValidator{safety.Validation{
		Passed:    false,
		RiskLevel: safety.RiskMedium,
		Blockers:  []string{"price increase of 600.0% exceeds the 500% limit"},
	}}, runner, Config{})

	ex, err := e.Initiate(context.Background(), testAction(intent.TypeUpdatePrice), testEC())
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	if ex.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", ex.Status)
	}
	if !strings.Contains(ex.Result.Message, "500%") {
		t.Errorf("Message = %q, should carry the blocker", ex.Result.Message)
	}
	if runner.executions.Load() != 0 {
		t.Error("blocked actions must not execute")
	}
}

func TestInitiatePreviewFailure(t *testing.T) {
	runner := okRunner()
	runner.previewErr = commands.ErrNotFound
	e := newTestEngine(stubValidator{passingValidation()}, runner, Config{})

	ex, err := e.Initiate(context.Background(), testAction(intent.TypeUpdatePrice), testEC())
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if ex.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", ex.Status)
	}
	if runner.executions.Load() != 0 {
		t.Error("a failed preview must abort before any mutation")
	}
}

func TestInitiateLargePreviewForcesConfirmation(t *testing.T) {
	runner := okRunner()
	runner.preview = &commands.Preview{Summary: "Will change 25 products.", AffectedCount: 25}
	e := newTestEngine(stubValidator{passingValidation()}, runner, Config{ConfirmThreshold: 10})

	ex, _ := e.Initiate(context.Background(), testAction(intent.TypeUpdatePrice), testEC())
	if ex.Status != StatusAwaitingConfirmation {
		t.Fatalf("Status = %q, want awaiting_confirmation above the threshold", ex.Status)
	}
}

func TestRunPanicBecomesFailure(t *testing.T) {
	runner := okRunner()
	runner.panics = true
	e := newTestEngine(stubValidator{passingValidation()}, runner, Config{})

	ex, err := e.Initiate(context.Background(), testAction(intent.TypeUpdatePrice), testEC())
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if ex.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed after a panic", ex.Status)
	}
}

func TestCancel(t *testing.T) {
	runner := okRunner()
	e := newTestEngine(stubValidator{safety.Validation{Passed: true, RiskLevel: safety.RiskHigh}},
		runner, Config{})

	ex, _ := e.Initiate(context.Background(), testAction(intent.TypeDeleteProduct), testEC())

	ok, err := e.Cancel(context.Background(), ex.ID)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v; want true", ok, err)
	}

	// Cancelling a terminal execution reports false.
	ok, err = e.Cancel(context.Background(), ex.ID)
	if err != nil || ok {
		t.Fatalf("second Cancel = %v, %v; want false", ok, err)
	}
}

func TestGetIdempotentOnTerminal(t *testing.T) {
	e := newTestEngine(stubValidator{passingValidation()}, okRunner(), Config{})
	ex, _ := e.Initiate(context.Background(), testAction(intent.TypeUpdatePrice), testEC())

	first, err := e.Get(context.Background(), ex.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, _ := e.Get(context.Background(), ex.ID)
	if first.Status != second.Status || len(first.AuditLog) != len(second.AuditLog) {
		t.Error("repeated Get on a terminal execution must not change it")
	}
}

func TestGetUnknownID(t *testing.T) {
	e := newTestEngine(stubValidator{passingValidation()}, okRunner(), Config{})
	if _, err := e.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStatsSuccessRate(t *testing.T) {
	runner := okRunner()
	e := newTestEngine(stubValidator{passingValidation()}, runner, Config{})

	for i := 0; i < 3; i++ {
		e.Initiate(context.Background(), testAction(intent.TypeUpdatePrice), testEC())
	}
	runner.result = &commands.Result{Success: false, Message: "nope"}
	e.Initiate(context.Background(), testAction(intent.TypeUpdatePrice), testEC())

	st, err := e.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 4 {
		t.Errorf("Total = %d, want 4", st.Total)
	}
	if st.SuccessRate != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", st.SuccessRate)
	}
	if st.ByType[intent.TypeUpdatePrice] != 4 {
		t.Errorf("ByType = %v", st.ByType)
	}
}

func TestJanitorExpiresStaleAndEvicts(t *testing.T) {
	repo := NewMemoryRepository()
	runner := okRunner()
	e := New(repo, stubValidator{safety.Validation{Passed: true, RiskLevel: safety.RiskHigh}},
		runner, Config{ConfirmationTimeout: time.Hour, Retention: 10 * time.Hour})

	ex, _ := e.Initiate(context.Background(), testAction(intent.TypeDeleteProduct), testEC())

	// Backdate the execution past the confirmation window (but inside the
	// retention window), as if the process restarted with it pending.
	stored, _ := repo.Get(context.Background(), ex.ID)
	stored.Timestamp = time.Now().Add(-2 * time.Hour)
	repo.Save(context.Background(), stored)

	old := &Execution{
		ID:        "old",
		Intent:    testAction(intent.TypeSearchProducts),
		Status:    StatusCompleted,
		Timestamp: time.Now().Add(-20 * time.Hour),
		UserID:    "u1",
	}
	repo.Save(context.Background(), old)

	j := NewJanitor(e, time.Minute)
	j.Sweep(context.Background())

	got, err := e.Get(context.Background(), ex.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("stale awaiting execution: Status = %q, want cancelled", got.Status)
	}

	if _, err := e.Get(context.Background(), "old"); err != ErrNotFound {
		t.Errorf("old terminal execution should be evicted, got err = %v", err)
	}
}

func auditEvents(ex *Execution) map[AuditEvent]bool {
	out := make(map[AuditEvent]bool, len(ex.AuditLog))
	for _, entry := range ex.AuditLog {
		out[entry.Event] = true
	}
	return out
}
