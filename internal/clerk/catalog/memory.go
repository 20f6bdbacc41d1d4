package catalog

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-memory Service used in tests and for ephemeral demo runs.
// It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	items  map[string]*Item
	nextID int
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]*Item), nextID: 1}
}

// Seed inserts items, generating ids for items and variants that carry none.
// Intended for test setup and demo data.
func (m *Memory) Seed(items ...Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range items {
		item := items[i]
		if item.ID == "" {
			item.ID = fmt.Sprintf("%d", 1000+m.nextID)
			m.nextID++
		}
		for j := range item.Variants {
			if item.Variants[j].ID == "" {
				item.Variants[j].ID = fmt.Sprintf("%s-%d", item.ID, j+1)
			}
		}
		m.items[item.ID] = &item
	}
}

// FindAll returns a snapshot copy of every item.
func (m *Memory) FindAll(_ context.Context) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.items))
	for _, item := range m.items {
		cp := *item
		cp.Variants = append([]Variant(nil), item.Variants...)
		cp.Tags = append([]string(nil), item.Tags...)
		out = append(out, cp)
	}
	return out, nil
}

// UpdateVariantPrice sets the price of one variant.
func (m *Memory) UpdateVariantPrice(_ context.Context, itemID, variantID string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return ErrNotFound
	}
	for i := range item.Variants {
		if item.Variants[i].ID == variantID {
			item.Variants[i].Price = price
			return nil
		}
	}
	return ErrNotFound
}

// SetInventory sets the inventory of every variant of an item.
func (m *Memory) SetInventory(_ context.Context, itemID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return ErrNotFound
	}
	for i := range item.Variants {
		item.Variants[i].Inventory = quantity
	}
	return nil
}

// CreateItem creates a new listing with a generated id and single variant.
func (m *Memory) CreateItem(_ context.Context, data CreateItemData) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("%d", 1000+m.nextID)
	m.nextID++
	status := data.Status
	if status == "" {
		status = StatusDraft
	}
	item := &Item{
		ID:       id,
		Title:    data.Title,
		Vendor:   data.Vendor,
		Category: data.Category,
		Tags:     append([]string(nil), data.Tags...),
		Status:   status,
		Variants: []Variant{{
			ID:        id + "-1",
			Price:     data.Price,
			Inventory: data.Quantity,
		}},
	}
	m.items[id] = item
	cp := *item
	cp.Variants = append([]Variant(nil), item.Variants...)
	return &cp, nil
}

// DeleteItem permanently removes a listing.
func (m *Memory) DeleteItem(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return ErrNotFound
	}
	delete(m.items, itemID)
	return nil
}
