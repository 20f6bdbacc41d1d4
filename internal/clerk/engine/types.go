// Package engine owns the lifecycle of catalog actions.
//
// Every detected action becomes an Execution that moves through an explicit
// state machine:
//
//	pending → previewing → awaiting_confirmation → executing → completed
//	                     ↘ executing (safe actions skip confirmation)
//	                       awaiting_confirmation → cancelled (reject/timeout)
//
// Status only moves forward; completed, failed, and cancelled are terminal.
// Every transition appends an audit entry, and the audit log of an execution
// never shrinks. Executions are persisted through an injected Repository so
// the engine itself carries no global state.
//
// Concurrent actions for the same user run as independent executions; the
// confirmation gate — not queueing — is what serializes risky work behind a
// human decision.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/bitmerchant/clerk/internal/clerk/commands"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// ErrNotFound is returned when no execution has the given id.
var ErrNotFound = errors.New("engine: execution not found")

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending              Status = "pending"
	StatusPreviewing           Status = "previewing"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusExecuting            Status = "executing"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
	StatusCancelled            Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// AuditEvent is a machine-readable lifecycle event category.
type AuditEvent string

const (
	EventCreated    AuditEvent = "created"
	EventPreviewed  AuditEvent = "previewed"
	EventConfirmed  AuditEvent = "confirmed"
	EventExecuted   AuditEvent = "executed"
	EventFailed     AuditEvent = "failed"
	EventCancelled  AuditEvent = "cancelled"
	EventRolledBack AuditEvent = "rolled_back"
)

// AuditEntry is one append-only lifecycle record. Entries are never edited
// or removed individually.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     AuditEvent     `json:"event"`
	Details   string         `json:"details"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Execution is one action moving through the state machine. It is owned
// exclusively by the engine and mutated only through transitions.
type Execution struct {
	ID                   string            `json:"id"`
	Intent               *intent.Action    `json:"intent"`
	Status               Status            `json:"status"`
	Preview              *commands.Preview `json:"preview,omitempty"`
	Result               *commands.Result  `json:"result,omitempty"`
	Timestamp            time.Time         `json:"timestamp"`
	UserID               string            `json:"user_id"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
	Confirmed            bool              `json:"confirmed"`
	AuditLog             []AuditEntry      `json:"audit_log"`
}

// Clone returns a deep-enough copy: the audit log slice is copied so the
// caller cannot grow or reorder the engine's record, while the intent and
// result pointers are shared because both are treated as immutable once
// produced.
func (ex *Execution) Clone() *Execution {
	cp := *ex
	cp.AuditLog = append([]AuditEntry(nil), ex.AuditLog...)
	return &cp
}

// Stats summarises the execution table.
type Stats struct {
	Total    int                 `json:"total"`
	ByStatus map[Status]int      `json:"by_status"`
	ByType   map[intent.Type]int `json:"by_type"`
	// SuccessRate is completed / (completed + failed); 0 when nothing has
	// run to a verdict yet.
	SuccessRate float64 `json:"success_rate"`
}

// Repository persists executions. Implementations must be safe for
// concurrent use; Save must store a consistent snapshot and Get must return
// a copy the caller may hold without racing the engine.
type Repository interface {
	// Save upserts the execution, including any newly appended audit entries.
	Save(ctx context.Context, ex *Execution) error

	// Get returns the execution with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Execution, error)

	// ListByStatus returns all executions currently in the given status.
	ListByStatus(ctx context.Context, status Status) ([]*Execution, error)

	// CountCompletedSince reports how many executions for userID completed
	// at or after since. Feeds the safety validator's daily ceiling.
	CountCompletedSince(ctx context.Context, userID string, since time.Time) (int, error)

	// EvictBefore removes terminal executions created before cutoff and
	// returns how many were removed.
	EvictBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Stats summarises the stored executions. SuccessRate is left for the
	// engine to derive.
	Stats(ctx context.Context) (*Stats, error)
}
