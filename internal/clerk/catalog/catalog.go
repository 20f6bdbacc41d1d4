// Package catalog defines the contract Clerk uses to talk to the commerce
// backend holding product and inventory records, plus the two bundled
// implementations: an HTTP admin-API client and an in-memory store for tests
// and ephemeral runs.
//
// The contract deliberately distinguishes "the item does not exist"
// (ErrNotFound) from authentication and transport failures (ErrUnauthorized,
// wrapped errors): the pipeline treats the former as a clean user-facing
// failure and the latter as a remote fault.
package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the referenced item does not exist.
var ErrNotFound = errors.New("catalog: item not found")

// ErrUnauthorized is returned when the backend rejects our credentials.
var ErrUnauthorized = errors.New("catalog: unauthorized")

// Item statuses. New listings default to draft for safety.
const (
	StatusDraft  = "draft"
	StatusActive = "active"
)

// Variant is one purchasable variation of an item.
type Variant struct {
	ID        string  `json:"id"`
	SKU       string  `json:"sku,omitempty"`
	Price     float64 `json:"price"`
	Inventory int     `json:"inventory"`
}

// Item is one catalog listing.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Vendor      string    `json:"vendor,omitempty"`
	Category    string    `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Status      string    `json:"status"`
	Variants    []Variant `json:"variants"`
}

// CreateItemData is the payload for a new listing.
type CreateItemData struct {
	Title    string   `json:"title"`
	Price    float64  `json:"price"`
	Quantity int      `json:"quantity"`
	Status   string   `json:"status"`
	Category string   `json:"category,omitempty"`
	Vendor   string   `json:"vendor,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Service is the abstract catalog backend. Implementations must be safe for
// concurrent use.
type Service interface {
	// FindAll returns the full catalog snapshot.
	FindAll(ctx context.Context) ([]Item, error)

	// UpdateVariantPrice sets the price of one variant.
	UpdateVariantPrice(ctx context.Context, itemID, variantID string, price float64) error

	// SetInventory sets the inventory of every variant of an item to quantity.
	SetInventory(ctx context.Context, itemID string, quantity int) error

	// CreateItem creates a new listing and returns it with its assigned id.
	CreateItem(ctx context.Context, data CreateItemData) (*Item, error)

	// DeleteItem permanently removes a listing.
	DeleteItem(ctx context.Context, itemID string) error
}
