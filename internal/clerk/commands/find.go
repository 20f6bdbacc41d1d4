package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitmerchant/clerk/internal/clerk/catalog"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// findTarget resolves a product reference against the catalog snapshot.
//
// Matching precedence: exact id, then exact case-insensitive SKU, then
// case-insensitive substring of the title. Zero matches is ErrNotFound;
// more than one is ErrAmbiguous — the pipeline never guesses among
// candidates.
func (a *Adapter) findTarget(ctx context.Context, e intent.Entities) (*catalog.Item, error) {
	if !e.HasProductRef() {
		return nil, fmt.Errorf("%w: no product reference (id, SKU, or name) in the message", ErrInvalidEntity)
	}

	items, err := a.catalog.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	if e.ProductID != "" {
		for i := range items {
			if items[i].ID == e.ProductID {
				return &items[i], nil
			}
		}
		return nil, fmt.Errorf("%w: no item with id %q", ErrNotFound, e.ProductID)
	}

	if e.SKU != "" {
		var matches []*catalog.Item
		for i := range items {
			for _, v := range items[i].Variants {
				if strings.EqualFold(v.SKU, e.SKU) {
					matches = append(matches, &items[i])
					break
				}
			}
		}
		return single(matches, "SKU "+e.SKU)
	}

	needle := strings.ToLower(e.ProductName)
	var matches []*catalog.Item
	for i := range items {
		if strings.Contains(strings.ToLower(items[i].Title), needle) {
			matches = append(matches, &items[i])
		}
	}
	return single(matches, fmt.Sprintf("name %q", e.ProductName))
}

// single enforces the exactly-one-match rule.
func single(matches []*catalog.Item, ref string) (*catalog.Item, error) {
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: nothing matches %s", ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		titles := make([]string, 0, len(matches))
		for _, m := range matches {
			titles = append(titles, m.Title)
		}
		return nil, fmt.Errorf("%w: %s matches %s", ErrAmbiguous, ref, strings.Join(titles, ", "))
	}
}
