package commands

import (
	"context"
	"fmt"

	"github.com/bitmerchant/clerk/internal/clerk/catalog"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// Defaults for new listings when the message did not specify them.
const (
	defaultCreatePrice    = 0.0
	defaultCreateQuantity = 0
)

// executeCreate creates a new listing. New listings always start as
// non-published drafts so a misunderstood message cannot put a half-formed
// product in front of shoppers.
func (a *Adapter) executeCreate(ctx context.Context, action *intent.Action) *Result {
	e := action.Entities
	title := e.ProductName
	if title == "" {
		return fail(fmt.Errorf("%w: a title is needed to create a listing", ErrInvalidEntity),
			"What should the new product be called? Put the name in quotes.")
	}

	data := catalog.CreateItemData{
		Title:    title,
		Price:    defaultCreatePrice,
		Quantity: defaultCreateQuantity,
		Status:   catalog.StatusDraft,
		Category: e.Category,
	}
	if e.Price != nil {
		data.Price = *e.Price
	}
	if e.Quantity != nil {
		data.Quantity = *e.Quantity
	}

	item, err := a.catalog.CreateItem(ctx, data)
	if err != nil {
		return fail(fmt.Errorf("create %q: %w", title, err),
			fmt.Sprintf("The catalog refused to create %q.", title))
	}

	return &Result{
		Success:          true,
		Message:          fmt.Sprintf("Created %q as a draft (id %s). Publish it when it's ready.", item.Title, item.ID),
		Data:             item,
		AffectedProducts: 1,
		Changes: []Change{{
			ItemID:    item.ID,
			ItemTitle: item.Title,
			Field:     "created",
			NewValue:  catalog.StatusDraft,
		}},
	}
}

// executeDelete permanently removes the target listing. Never undoable, and
// the result says so explicitly.
func (a *Adapter) executeDelete(ctx context.Context, action *intent.Action) *Result {
	item, err := a.findTarget(ctx, action.Entities)
	if err != nil {
		return fail(err, findFailureMessage(err))
	}

	if err := a.catalog.DeleteItem(ctx, item.ID); err != nil {
		return fail(fmt.Errorf("delete %q: %w", item.Title, err),
			fmt.Sprintf("The catalog refused to delete %q.", item.Title))
	}

	return &Result{
		Success:          true,
		Message:          fmt.Sprintf("Deleted %q permanently. This cannot be undone.", item.Title),
		AffectedProducts: 1,
		Changes: []Change{{
			ItemID:    item.ID,
			ItemTitle: item.Title,
			Field:     "deleted",
			OldValue:  item.Status,
		}},
		CanUndo: false,
	}
}
