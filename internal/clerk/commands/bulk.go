package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bitmerchant/clerk/internal/clerk/catalog"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// BulkOutcome records the per-item result of one bulk update.
type BulkOutcome struct {
	ItemID    string `json:"item_id"`
	ItemTitle string `json:"item_title"`
	Error     string `json:"error,omitempty"`
}

// previewBulk counts the items a bulk update would touch.
func (a *Adapter) previewBulk(ctx context.Context, action *intent.Action) (*Preview, error) {
	if action.Entities.Percentage == nil {
		return nil, fmt.Errorf("%w: a percentage is needed for a bulk update", ErrInvalidEntity)
	}
	matches, err := a.bulkMatches(ctx, action.Entities)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(matches))
	for i, item := range matches {
		if i >= a.searchLimit {
			break
		}
		titles = append(titles, item.Title)
	}
	return &Preview{
		Summary: fmt.Sprintf("Will change the price of %d product(s) by %+.1f%%.",
			len(matches), *action.Entities.Percentage),
		AffectedCount: len(matches),
		Items:         titles,
	}, nil
}

// executeBulk applies a uniform percentage price delta across every matching
// item. Updates run concurrently with bounded parallelism; per-item failures
// are collected and reported, not escalated — a partially applied bulk
// update is a partial success, and the outcomes say exactly which items
// failed.
func (a *Adapter) executeBulk(ctx context.Context, action *intent.Action) *Result {
	e := action.Entities
	if e.Percentage == nil {
		return fail(fmt.Errorf("%w: a percentage is needed for a bulk update", ErrInvalidEntity),
			"Tell me the percentage change (e.g. \"increase all Apple products by 10%\").")
	}

	matches, err := a.bulkMatches(ctx, e)
	if err != nil {
		return fail(err, findFailureMessage(err))
	}

	pct := *e.Percentage
	var (
		mu       sync.Mutex
		outcomes = make([]BulkOutcome, 0, len(matches))
		changes  []Change
		failed   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.bulkWorkers)
	for i := range matches {
		item := matches[i]
		g.Go(func() error {
			outcome := BulkOutcome{ItemID: item.ID, ItemTitle: item.Title}
			var itemChanges []Change
			for _, v := range item.Variants {
				newPrice := roundCents(v.Price * (1 + pct/100))
				if err := a.catalog.UpdateVariantPrice(gctx, item.ID, v.ID, newPrice); err != nil {
					outcome.Error = err.Error()
					break
				}
				itemChanges = append(itemChanges, Change{
					ItemID:    item.ID,
					ItemTitle: item.Title,
					VariantID: v.ID,
					Field:     "price",
					OldValue:  v.Price,
					NewValue:  newPrice,
				})
			}

			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, outcome)
			if outcome.Error != "" {
				failed++
			} else {
				changes = append(changes, itemChanges...)
			}
			// Individual failures never abort the group; partial success
			// is a reportable outcome, not an error.
			return nil
		})
	}
	_ = g.Wait()

	succeeded := len(matches) - failed
	msg := fmt.Sprintf("Changed prices of %d product(s) by %+.1f%%.", succeeded, pct)
	if failed > 0 {
		msg = fmt.Sprintf("%s %d product(s) could not be updated.", msg, failed)
	}

	return &Result{
		Success:          true,
		Message:          msg,
		Data:             outcomes,
		AffectedProducts: succeeded,
		Changes:          changes,
	}
}

// bulkMatches filters the catalog snapshot by category, vendor, or tag.
func (a *Adapter) bulkMatches(ctx context.Context, e intent.Entities) ([]catalog.Item, error) {
	if e.Category == "" {
		return nil, fmt.Errorf("%w: no category, vendor, or tag to select products by", ErrInvalidEntity)
	}

	items, err := a.catalog.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	needle := strings.ToLower(e.Category)
	var matches []catalog.Item
	for _, item := range items {
		if matchesScope(item, needle) {
			matches = append(matches, item)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no products match %q", ErrNotFound, e.Category)
	}
	return matches, nil
}

// matchesScope reports whether item belongs to the bulk scope identified by
// the lower-cased needle: category, vendor, or any tag.
func matchesScope(item catalog.Item, needle string) bool {
	if strings.EqualFold(item.Category, needle) || strings.EqualFold(item.Vendor, needle) {
		return true
	}
	for _, tag := range item.Tags {
		if strings.EqualFold(tag, needle) {
			return true
		}
	}
	return false
}
