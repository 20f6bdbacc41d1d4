// Package commands translates validated action intents into catalog
// operations.
//
// Every adapter returns the same Result shape regardless of outcome, so the
// execution engine and the chat surface can treat all actions uniformly.
// Mutating adapters that can be reversed (price, stock) retain the prior
// values in UndoData; deletion is explicitly flagged as non-undoable.
//
// The package never guesses between candidate products: zero matches and
// multiple matches are distinct errors, and the pipeline surfaces both to
// the user instead of picking one.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitmerchant/clerk/internal/clerk/catalog"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

var (
	// ErrNotFound means no catalog item matched the product reference.
	ErrNotFound = errors.New("commands: no matching product")
	// ErrAmbiguous means more than one item matched; the user must narrow it.
	ErrAmbiguous = errors.New("commands: multiple products match, be more specific")
	// ErrInvalidEntity means a required parameter (e.g. the new price) is absent.
	ErrInvalidEntity = errors.New("commands: required parameter missing")
)

// Change records one old→new field mutation performed by an adapter.
type Change struct {
	ItemID    string `json:"item_id"`
	ItemTitle string `json:"item_title"`
	VariantID string `json:"variant_id,omitempty"`
	Field     string `json:"field"`
	OldValue  any    `json:"old_value"`
	NewValue  any    `json:"new_value"`
}

// UndoData retains the state needed to reverse an undoable mutation.
type UndoData struct {
	ItemID string `json:"item_id"`
	// Field is "price" or "inventory".
	Field string `json:"field"`
	// Previous maps variant id → value before the mutation.
	Previous map[string]any `json:"previous"`
}

// Result is the uniform outcome of one executed action.
type Result struct {
	Success          bool      `json:"success"`
	Message          string    `json:"message"`
	Data             any       `json:"data,omitempty"`
	AffectedProducts int       `json:"affected_products"`
	Changes          []Change  `json:"changes,omitempty"`
	Err              error     `json:"-"`
	CanUndo          bool      `json:"can_undo"`
	UndoData         *UndoData `json:"undo_data,omitempty"`
}

// Preview is a dry, non-mutating estimate of an action's impact, shown to
// the user before confirmation.
type Preview struct {
	// Summary is a one-line human-readable description.
	Summary string `json:"summary"`
	// AffectedCount is the number of items the action would touch. The
	// engine forces confirmation above its threshold.
	AffectedCount int `json:"affected_count"`
	// Items lists affected item titles, capped for display.
	Items []string `json:"items,omitempty"`
}

// Config tunes adapter behaviour. Zero values take the defaults.
type Config struct {
	// SearchLimit caps search result sets. Defaults to 10.
	SearchLimit int
	// BulkWorkers bounds concurrent catalog calls in bulk updates.
	// Defaults to 4.
	BulkWorkers int
}

// Adapter executes validated intents against a catalog service.
type Adapter struct {
	catalog     catalog.Service
	searchLimit int
	bulkWorkers int
}

// New creates an Adapter over svc.
func New(svc catalog.Service, cfg Config) *Adapter {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 10
	}
	if cfg.BulkWorkers <= 0 {
		cfg.BulkWorkers = 4
	}
	return &Adapter{
		catalog:     svc,
		searchLimit: cfg.SearchLimit,
		bulkWorkers: cfg.BulkWorkers,
	}
}

// Preview estimates the impact of action without mutating anything.
// NotFound/Ambiguous/InvalidEntity and remote failures surface as errors;
// the engine converts them into a failed execution before any mutation.
func (a *Adapter) Preview(ctx context.Context, action *intent.Action) (*Preview, error) {
	switch action.Type {
	case intent.TypeUpdatePrice:
		return a.previewSingle(ctx, action, "update the price of")
	case intent.TypeUpdateStock:
		return a.previewSingle(ctx, action, "set the inventory of")
	case intent.TypeDeleteProduct:
		return a.previewSingle(ctx, action, "permanently delete")
	case intent.TypeCreateProduct:
		return a.previewCreate(action)
	case intent.TypeBulkUpdate:
		return a.previewBulk(ctx, action)
	case intent.TypeSearchProducts:
		return a.previewSearch(ctx, action)
	default:
		return nil, fmt.Errorf("%w: unsupported action type %q", ErrInvalidEntity, action.Type)
	}
}

// Execute performs action against the catalog. Failures are reported inside
// the Result, never as panics; the returned Result always carries a
// user-facing Message.
func (a *Adapter) Execute(ctx context.Context, action *intent.Action) *Result {
	switch action.Type {
	case intent.TypeUpdatePrice:
		return a.executeUpdatePrice(ctx, action)
	case intent.TypeUpdateStock:
		return a.executeUpdateStock(ctx, action)
	case intent.TypeCreateProduct:
		return a.executeCreate(ctx, action)
	case intent.TypeDeleteProduct:
		return a.executeDelete(ctx, action)
	case intent.TypeBulkUpdate:
		return a.executeBulk(ctx, action)
	case intent.TypeSearchProducts:
		return a.executeSearch(ctx, action)
	default:
		return fail(fmt.Errorf("%w: unsupported action type %q", ErrInvalidEntity, action.Type),
			"I don't know how to perform that action.")
	}
}

// previewSingle previews an action that targets exactly one product.
func (a *Adapter) previewSingle(ctx context.Context, action *intent.Action, verb string) (*Preview, error) {
	item, err := a.findTarget(ctx, action.Entities)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Summary:       fmt.Sprintf("Will %s %q.", verb, item.Title),
		AffectedCount: 1,
		Items:         []string{item.Title},
	}, nil
}

func (a *Adapter) previewCreate(action *intent.Action) (*Preview, error) {
	title := action.Entities.ProductName
	if title == "" {
		return nil, fmt.Errorf("%w: a title is needed to create a listing", ErrInvalidEntity)
	}
	return &Preview{
		Summary:       fmt.Sprintf("Will create a draft listing %q.", title),
		AffectedCount: 1,
		Items:         []string{title},
	}, nil
}

// fail builds a failed Result carrying err and a user-facing message.
func fail(err error, message string) *Result {
	return &Result{Success: false, Message: message, Err: err}
}
