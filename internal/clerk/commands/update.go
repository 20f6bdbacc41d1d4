package commands

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bitmerchant/clerk/internal/clerk/catalog"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// executeUpdatePrice sets an absolute price or applies a relative percentage
// to the current price of every variant of the target item. The old values
// are retained so the change is undoable.
func (a *Adapter) executeUpdatePrice(ctx context.Context, action *intent.Action) *Result {
	e := action.Entities
	if e.Price == nil && e.Percentage == nil {
		return fail(fmt.Errorf("%w: no new price or percentage given", ErrInvalidEntity),
			"Tell me the new price (e.g. \"$19.99\") or a percentage change.")
	}

	item, err := a.findTarget(ctx, e)
	if err != nil {
		return fail(err, findFailureMessage(err))
	}

	undo := &UndoData{ItemID: item.ID, Field: "price", Previous: make(map[string]any)}
	var changes []Change

	for _, v := range item.Variants {
		newPrice := 0.0
		if e.Price != nil {
			newPrice = *e.Price
		} else {
			newPrice = roundCents(v.Price * (1 + *e.Percentage/100))
		}
		if newPrice < 0 {
			return fail(fmt.Errorf("%w: computed price is negative", ErrInvalidEntity),
				"That change would make the price negative.")
		}

		if err := a.catalog.UpdateVariantPrice(ctx, item.ID, v.ID, newPrice); err != nil {
			return fail(fmt.Errorf("update price of %q: %w", item.Title, err),
				fmt.Sprintf("The catalog rejected the price update for %q.", item.Title))
		}
		undo.Previous[v.ID] = v.Price
		changes = append(changes, Change{
			ItemID:    item.ID,
			ItemTitle: item.Title,
			VariantID: v.ID,
			Field:     "price",
			OldValue:  v.Price,
			NewValue:  newPrice,
		})
	}

	return &Result{
		Success:          true,
		Message:          fmt.Sprintf("Updated the price of %q.", item.Title),
		AffectedProducts: 1,
		Changes:          changes,
		CanUndo:          true,
		UndoData:         undo,
	}
}

// executeUpdateStock sets inventory to an absolute quantity across all
// variants of the target item. Undoable.
func (a *Adapter) executeUpdateStock(ctx context.Context, action *intent.Action) *Result {
	e := action.Entities
	if e.Quantity == nil {
		return fail(fmt.Errorf("%w: no quantity given", ErrInvalidEntity),
			"Tell me the new stock level (e.g. \"set stock to 25\").")
	}
	if *e.Quantity < 0 {
		return fail(fmt.Errorf("%w: quantity must not be negative", ErrInvalidEntity),
			"Stock can't be negative.")
	}

	item, err := a.findTarget(ctx, e)
	if err != nil {
		return fail(err, findFailureMessage(err))
	}

	undo := &UndoData{ItemID: item.ID, Field: "inventory", Previous: make(map[string]any)}
	var changes []Change
	for _, v := range item.Variants {
		undo.Previous[v.ID] = v.Inventory
		changes = append(changes, Change{
			ItemID:    item.ID,
			ItemTitle: item.Title,
			VariantID: v.ID,
			Field:     "inventory",
			OldValue:  v.Inventory,
			NewValue:  *e.Quantity,
		})
	}

	if err := a.catalog.SetInventory(ctx, item.ID, *e.Quantity); err != nil {
		return fail(fmt.Errorf("set inventory of %q: %w", item.Title, err),
			fmt.Sprintf("The catalog rejected the inventory update for %q.", item.Title))
	}

	return &Result{
		Success:          true,
		Message:          fmt.Sprintf("Set stock of %q to %d.", item.Title, *e.Quantity),
		AffectedProducts: 1,
		Changes:          changes,
		CanUndo:          true,
		UndoData:         undo,
	}
}

// findFailureMessage maps resolution errors onto user-facing phrasing.
func findFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "I couldn't find that product in the catalog."
	case errors.Is(err, ErrAmbiguous):
		return "More than one product matches — could you be more specific?"
	case errors.Is(err, ErrInvalidEntity):
		return "I couldn't tell which product you mean. Try an id, SKU, or exact name."
	case errors.Is(err, catalog.ErrUnauthorized):
		return "The catalog rejected my credentials."
	default:
		return "I couldn't reach the catalog just now."
	}
}

// roundCents rounds to two decimal places.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
