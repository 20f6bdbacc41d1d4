package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitmerchant/clerk/internal/clerk/catalog"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// SearchData is the payload of a search result: the capped item list plus
// the uncapped total so the surface can say "showing 10 of 15".
type SearchData struct {
	Items        []catalog.Item `json:"items"`
	TotalMatches int            `json:"total_matches"`
}

// previewSearch reports how many results the search would return. The
// affected count is the capped result-set size, not the total: a search
// mutates nothing, so a large catalog should not trip the confirmation gate.
func (a *Adapter) previewSearch(ctx context.Context, action *intent.Action) (*Preview, error) {
	matches, err := a.searchMatches(ctx, action.Entities)
	if err != nil {
		return nil, err
	}
	n := len(matches)
	if n > a.searchLimit {
		n = a.searchLimit
	}
	return &Preview{
		Summary:       fmt.Sprintf("Will return %d of %d matching product(s).", n, len(matches)),
		AffectedCount: n,
	}, nil
}

// executeSearch runs a case-insensitive substring match across title,
// description, SKU, and tags. The result set is capped at the configured
// limit; TotalMatches carries the uncapped count.
func (a *Adapter) executeSearch(ctx context.Context, action *intent.Action) *Result {
	matches, err := a.searchMatches(ctx, action.Entities)
	if err != nil {
		return fail(err, findFailureMessage(err))
	}

	total := len(matches)
	if len(matches) > a.searchLimit {
		matches = matches[:a.searchLimit]
	}

	msg := fmt.Sprintf("Found %d product(s).", total)
	if total > len(matches) {
		msg = fmt.Sprintf("Found %d product(s); showing the first %d.", total, len(matches))
	}

	return &Result{
		Success:          true,
		Message:          msg,
		Data:             SearchData{Items: matches, TotalMatches: total},
		AffectedProducts: len(matches),
	}
}

// searchMatches evaluates the query against the catalog snapshot.
func (a *Adapter) searchMatches(ctx context.Context, e intent.Entities) ([]catalog.Item, error) {
	query := e.SearchQuery
	if query == "" {
		query = e.ProductName
	}
	if query == "" {
		return nil, fmt.Errorf("%w: nothing to search for", ErrInvalidEntity)
	}

	items, err := a.catalog.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	needle := strings.ToLower(query)
	var matches []catalog.Item
	for _, item := range items {
		if matchesQuery(item, needle) {
			matches = append(matches, item)
		}
	}
	return matches, nil
}

// matchesQuery reports whether any searchable field of item contains needle.
func matchesQuery(item catalog.Item, needle string) bool {
	if strings.Contains(strings.ToLower(item.Title), needle) ||
		strings.Contains(strings.ToLower(item.Description), needle) {
		return true
	}
	for _, v := range item.Variants {
		if strings.Contains(strings.ToLower(v.SKU), needle) {
			return true
		}
	}
	for _, tag := range item.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
