// Package safety implements the policy layer that stands between a detected
// intent and its execution.
//
// Evaluation is purely deterministic — no LLM involvement. Every intent is
// assigned a risk tier from a static table and checked against the caller's
// permissions, the configured numeric limits, and the per-user daily action
// ceiling. Blockers fail the validation outright; warnings pass but feed the
// engine's confirmation gating.
package safety

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// RiskLevel is the coarse severity classification driving confirmation policy.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskTiers is the static type→tier table.
var riskTiers = map[intent.Type]RiskLevel{
	intent.TypeDeleteProduct:  RiskCritical,
	intent.TypeBulkUpdate:     RiskHigh,
	intent.TypeUpdatePrice:    RiskMedium,
	intent.TypeUpdateStock:    RiskLow,
	intent.TypeCreateProduct:  RiskLow,
	intent.TypeSearchProducts: RiskLow,
}

// RiskFor returns the risk tier for an action type. Unknown types rate
// critical: an unrecognised mutation is the most dangerous kind.
func RiskFor(typ intent.Type) RiskLevel {
	if tier, ok := riskTiers[typ]; ok {
		return tier
	}
	return RiskCritical
}

// requiredPermissions is the static type→permission map.
var requiredPermissions = map[intent.Type]string{
	intent.TypeUpdatePrice:    "catalog.write",
	intent.TypeUpdateStock:    "catalog.write",
	intent.TypeCreateProduct:  "catalog.create",
	intent.TypeDeleteProduct:  "catalog.delete",
	intent.TypeBulkUpdate:     "catalog.bulk",
	intent.TypeSearchProducts: "catalog.read",
}

// PermissionFor returns the permission key an action type requires.
func PermissionFor(typ intent.Type) string {
	return requiredPermissions[typ]
}

// StoreInfo identifies the store an execution targets.
type StoreInfo struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

// ExecutionContext is the per-request caller identity. Supplied once per
// request by the caller and never mutated by the pipeline.
type ExecutionContext struct {
	UserID      string              `json:"user_id"`
	SessionID   string              `json:"session_id,omitempty"`
	Store       StoreInfo           `json:"store"`
	Permissions map[string]struct{} `json:"-"`
}

// HasPermission reports whether the caller holds the named permission.
func (ec ExecutionContext) HasPermission(name string) bool {
	_, ok := ec.Permissions[name]
	return ok
}

// Permissions builds a permission set from a list of names.
func Permissions(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Validation is the derived verdict for one intent. It is computed per
// request and never persisted.
type Validation struct {
	Passed          bool      `json:"passed"`
	Warnings        []string  `json:"warnings,omitempty"`
	Blockers        []string  `json:"blockers,omitempty"`
	RiskLevel       RiskLevel `json:"risk_level"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// Limits holds the configurable numeric policy.
type Limits struct {
	// MaxPriceIncreasePct blocks relative price increases above this value.
	MaxPriceIncreasePct float64
	// MaxPriceDecreasePct blocks relative price decreases above this value.
	MaxPriceDecreasePct float64
	// DailyActionCeiling blocks a user who has already completed this many
	// actions today.
	DailyActionCeiling int
}

// DefaultLimits are applied when a limit is left zero.
var DefaultLimits = Limits{
	MaxPriceIncreasePct: 500,
	MaxPriceDecreasePct: 90,
	DailyActionCeiling:  50,
}

// warnPriceSwingPct is the relative price change above which a warning (not
// a blocker) is raised.
const warnPriceSwingPct = 50.0

// ActionCounter reports how many actions a user has completed since a point
// in time. The engine's repository implements this.
type ActionCounter interface {
	CountCompletedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Validator evaluates intents against the safety policy.
type Validator struct {
	limits  Limits
	counter ActionCounter
}

// NewValidator creates a Validator. Zero fields in limits fall back to
// DefaultLimits; counter may be nil, which disables the daily ceiling check.
func NewValidator(limits Limits, counter ActionCounter) *Validator {
	if limits.MaxPriceIncreasePct == 0 {
		limits.MaxPriceIncreasePct = DefaultLimits.MaxPriceIncreasePct
	}
	if limits.MaxPriceDecreasePct == 0 {
		limits.MaxPriceDecreasePct = DefaultLimits.MaxPriceDecreasePct
	}
	if limits.DailyActionCeiling == 0 {
		limits.DailyActionCeiling = DefaultLimits.DailyActionCeiling
	}
	return &Validator{limits: limits, counter: counter}
}

// Validate evaluates action against the policy for the given caller.
// Passed is true iff no blocker was raised.
func (v *Validator) Validate(ctx context.Context, action *intent.Action, ec ExecutionContext) Validation {
	out := Validation{RiskLevel: RiskFor(action.Type)}

	// --- Blockers ----------------------------------------------------------

	if perm := PermissionFor(action.Type); perm != "" && !ec.HasPermission(perm) {
		out.Blockers = append(out.Blockers,
			fmt.Sprintf("missing permission %q required for %s", perm, action.Type))
	}

	// The percentage limits apply to anything that reprices by percentage,
	// single-item and bulk alike.
	if action.Entities.Percentage != nil && repricesByPercentage(action.Type) {
		pct := *action.Entities.Percentage
		if pct > v.limits.MaxPriceIncreasePct {
			out.Blockers = append(out.Blockers,
				fmt.Sprintf("price increase of %.1f%% exceeds the %.0f%% limit",
					pct, v.limits.MaxPriceIncreasePct))
		}
		if pct < 0 && -pct > v.limits.MaxPriceDecreasePct {
			out.Blockers = append(out.Blockers,
				fmt.Sprintf("price decrease of %.1f%% exceeds the %.0f%% limit",
					-pct, v.limits.MaxPriceDecreasePct))
		}
	}

	if v.counter != nil {
		since := startOfDay(time.Now())
		n, err := v.counter.CountCompletedSince(ctx, ec.UserID, since)
		if err != nil {
			// Counting failures must not silently lift the ceiling.
			out.Blockers = append(out.Blockers,
				fmt.Sprintf("could not verify daily action count: %v", err))
		} else if n >= v.limits.DailyActionCeiling {
			out.Blockers = append(out.Blockers,
				fmt.Sprintf("daily action ceiling reached (%d of %d)", n, v.limits.DailyActionCeiling))
		}
	}

	// --- Warnings ----------------------------------------------------------

	switch action.Type {
	case intent.TypeBulkUpdate:
		out.Warnings = append(out.Warnings, "bulk updates touch every matching product")
		out.Recommendations = append(out.Recommendations, "review the preview before confirming")
	case intent.TypeDeleteProduct:
		out.Warnings = append(out.Warnings, "deletion is permanent and cannot be undone")
	}
	if action.Entities.Percentage != nil && math.Abs(*action.Entities.Percentage) > warnPriceSwingPct {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("price change of %.1f%% is unusually large", *action.Entities.Percentage))
	}

	out.Passed = len(out.Blockers) == 0
	return out
}

// repricesByPercentage reports whether an action type applies a relative
// price change, i.e. whether the configured swing limits cover it.
func repricesByPercentage(typ intent.Type) bool {
	return typ == intent.TypeUpdatePrice || typ == intent.TypeBulkUpdate
}

// startOfDay returns local midnight for t.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
