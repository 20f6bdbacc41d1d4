package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bitmerchant/clerk/internal/clerk/catalog"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

func seedCatalog() *catalog.Memory {
	mem := catalog.NewMemory()
	mem.Seed(
		catalog.Item{
			ID: "101", Title: "Blue Mug", Vendor: "MugCo", Category: "Kitchen",
			Tags: []string{"mug"}, Status: catalog.StatusActive,
			Variants: []catalog.Variant{{ID: "101-1", SKU: "MUG-BLUE", Price: 10.00, Inventory: 5}},
		},
		catalog.Item{
			ID: "102", Title: "Red Mug", Vendor: "MugCo", Category: "Kitchen",
			Tags: []string{"mug"}, Status: catalog.StatusActive,
			Variants: []catalog.Variant{{ID: "102-1", SKU: "MUG-RED", Price: 12.00, Inventory: 8}},
		},
		catalog.Item{
			ID: "103", Title: "iPhone 15", Vendor: "Apple", Category: "Phones",
			Tags: []string{"apple"}, Status: catalog.StatusActive,
			Variants: []catalog.Variant{{ID: "103-1", SKU: "IPH15", Price: 999.00, Inventory: 12}},
		},
	)
	return mem
}

func priceOf(t *testing.T, svc catalog.Service, itemID string) float64 {
	t.Helper()
	items, err := svc.FindAll(context.Background())
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	for _, item := range items {
		if item.ID == itemID {
			return item.Variants[0].Price
		}
	}
	t.Fatalf("item %s not found", itemID)
	return 0
}

func TestExecuteUpdatePriceAbsolute(t *testing.T) {
	mem := seedCatalog()
	a := New(mem, Config{})
	price := 14.99

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeUpdatePrice,
		Entities: intent.Entities{ProductName: "Blue Mug", Price: &price},
	})

	if !res.Success {
		t.Fatalf("Success = false: %s (%v)", res.Message, res.Err)
	}
	if got := priceOf(t, mem, "101"); got != 14.99 {
		t.Errorf("price = %v, want 14.99", got)
	}
	if !res.CanUndo || res.UndoData == nil {
		t.Fatal("price updates must be undoable")
	}
	if prev := res.UndoData.Previous["101-1"]; prev != 10.00 {
		t.Errorf("undo previous = %v, want 10.00", prev)
	}
	if len(res.Changes) != 1 || res.Changes[0].NewValue != 14.99 {
		t.Errorf("Changes = %+v", res.Changes)
	}
}

func TestExecuteUpdatePricePercentage(t *testing.T) {
	a := New(seedCatalog(), Config{})
	pct := 10.0

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeUpdatePrice,
		Entities: intent.Entities{SKU: "MUG-BLUE", Percentage: &pct},
	})

	if !res.Success {
		t.Fatalf("Success = false: %s", res.Message)
	}
	if got := res.Changes[0].NewValue; got != 11.00 {
		t.Errorf("new price = %v, want 11.00", got)
	}
}

func TestExecuteUpdatePriceNegativeResultBlocked(t *testing.T) {
	a := New(seedCatalog(), Config{})
	pct := -150.0

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeUpdatePrice,
		Entities: intent.Entities{ProductName: "Blue Mug", Percentage: &pct},
	})

	if res.Success {
		t.Fatal("a change producing a negative price must fail")
	}
	if !errors.Is(res.Err, ErrInvalidEntity) {
		t.Errorf("Err = %v, want ErrInvalidEntity", res.Err)
	}
}

func TestFindTargetIDWinsOverName(t *testing.T) {
	a := New(seedCatalog(), Config{})
	price := 20.0

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeUpdatePrice,
		Entities: intent.Entities{ProductID: "103", ProductName: "Blue Mug", Price: &price},
	})

	if !res.Success {
		t.Fatalf("Success = false: %s", res.Message)
	}
	if res.Changes[0].ItemID != "103" {
		t.Errorf("updated item %s, want 103: the id outranks the name", res.Changes[0].ItemID)
	}
}

func TestFindTargetAmbiguousName(t *testing.T) {
	a := New(seedCatalog(), Config{})
	price := 20.0

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeUpdatePrice,
		Entities: intent.Entities{ProductName: "Mug", Price: &price},
	})

	if res.Success {
		t.Fatal("two matching mugs must not resolve to one")
	}
	if !errors.Is(res.Err, ErrAmbiguous) {
		t.Errorf("Err = %v, want ErrAmbiguous", res.Err)
	}
	if !strings.Contains(res.Message, "more specific") {
		t.Errorf("Message = %q, should ask the user to narrow down", res.Message)
	}
}

func TestFindTargetNotFound(t *testing.T) {
	a := New(seedCatalog(), Config{})
	price := 20.0

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeUpdatePrice,
		Entities: intent.Entities{ProductName: "Teapot", Price: &price},
	})

	if res.Success || !errors.Is(res.Err, ErrNotFound) {
		t.Fatalf("got %+v, want ErrNotFound", res)
	}
}

func TestExecuteUpdateStock(t *testing.T) {
	mem := seedCatalog()
	a := New(mem, Config{})
	qty := 25

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeUpdateStock,
		Entities: intent.Entities{ProductName: "Blue Mug", Quantity: &qty},
	})

	if !res.Success {
		t.Fatalf("Success = false: %s", res.Message)
	}
	if !res.CanUndo || res.UndoData.Previous["101-1"] != 5 {
		t.Errorf("undo data = %+v, want previous inventory 5", res.UndoData)
	}

	items, _ := mem.FindAll(context.Background())
	for _, item := range items {
		if item.ID == "101" && item.Variants[0].Inventory != 25 {
			t.Errorf("inventory = %d, want 25", item.Variants[0].Inventory)
		}
	}
}

func TestExecuteCreateDraft(t *testing.T) {
	mem := seedCatalog()
	a := New(mem, Config{})

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeCreateProduct,
		Entities: intent.Entities{ProductName: "Green Mug"},
	})

	if !res.Success {
		t.Fatalf("Success = false: %s", res.Message)
	}
	if !strings.Contains(res.Message, "draft") {
		t.Errorf("Message = %q, should mention the draft status", res.Message)
	}
	item, ok := res.Data.(*catalog.Item)
	if !ok {
		t.Fatalf("Data = %T, want *catalog.Item", res.Data)
	}
	if item.Status != catalog.StatusDraft {
		t.Errorf("Status = %q, new listings must start as drafts", item.Status)
	}
}

func TestExecuteCreateNeedsTitle(t *testing.T) {
	a := New(seedCatalog(), Config{})

	res := a.Execute(context.Background(), &intent.Action{Type: intent.TypeCreateProduct})
	if res.Success || !errors.Is(res.Err, ErrInvalidEntity) {
		t.Fatalf("got %+v, want ErrInvalidEntity", res)
	}
}

func TestExecuteDelete(t *testing.T) {
	mem := seedCatalog()
	a := New(mem, Config{})

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeDeleteProduct,
		Entities: intent.Entities{ProductName: "Blue Mug"},
	})

	if !res.Success {
		t.Fatalf("Success = false: %s", res.Message)
	}
	if res.CanUndo {
		t.Error("deletes must never be undoable")
	}
	if !strings.Contains(res.Message, "cannot be undone") {
		t.Errorf("Message = %q, must state the permanence", res.Message)
	}

	items, _ := mem.FindAll(context.Background())
	for _, item := range items {
		if item.ID == "101" {
			t.Error("item 101 should be gone")
		}
	}
}

// flakyCatalog fails price updates for a chosen set of item ids.
type flakyCatalog struct {
	*catalog.Memory
	failIDs map[string]bool
}

func (f *flakyCatalog) UpdateVariantPrice(ctx context.Context, itemID, variantID string, price float64) error {
	if f.failIDs[itemID] {
		return errors.New("upstream 500")
	}
	return f.Memory.UpdateVariantPrice(ctx, itemID, variantID, price)
}

func TestExecuteBulkPartialFailure(t *testing.T) {
	mem := catalog.NewMemory()
	var items []catalog.Item
	for i := 0; i < 10; i++ {
		items = append(items, catalog.Item{
			ID: fmt.Sprintf("2%02d", i), Title: fmt.Sprintf("Apple Gadget %d", i),
			Vendor: "Apple", Category: "Gadgets", Status: catalog.StatusActive,
			Variants: []catalog.Variant{{ID: fmt.Sprintf("2%02d-1", i), Price: 100.00}},
		})
	}
	mem.Seed(items...)
	flaky := &flakyCatalog{Memory: mem, failIDs: map[string]bool{"203": true, "207": true}}
	a := New(flaky, Config{})

	pct := 10.0
	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeBulkUpdate,
		Entities: intent.Entities{Category: "Apple", Percentage: &pct},
	})

	if !res.Success {
		t.Fatal("a partially applied bulk update is still a reportable success")
	}
	if res.AffectedProducts != 8 {
		t.Errorf("AffectedProducts = %d, want 8", res.AffectedProducts)
	}
	if !strings.Contains(res.Message, "8") || !strings.Contains(res.Message, "2") {
		t.Errorf("Message = %q, should report 8 updated and 2 failed", res.Message)
	}

	outcomes, ok := res.Data.([]BulkOutcome)
	if !ok {
		t.Fatalf("Data = %T, want []BulkOutcome", res.Data)
	}
	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("failed outcomes = %d, want 2", failed)
	}

	// Succeeded items got the new price; failed items kept the old one.
	if got := priceOf(t, mem, "200"); got != 110.00 {
		t.Errorf("item 200 price = %v, want 110.00", got)
	}
	if got := priceOf(t, mem, "203"); got != 100.00 {
		t.Errorf("item 203 price = %v, want unchanged 100.00", got)
	}
}

func TestExecuteBulkNoMatches(t *testing.T) {
	a := New(seedCatalog(), Config{})
	pct := 10.0

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeBulkUpdate,
		Entities: intent.Entities{Category: "Furniture", Percentage: &pct},
	})

	if res.Success || !errors.Is(res.Err, ErrNotFound) {
		t.Fatalf("got %+v, want ErrNotFound", res)
	}
}

func TestExecuteBulkMatchesVendorAndTag(t *testing.T) {
	a := New(seedCatalog(), Config{})
	pct := 5.0

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeBulkUpdate,
		Entities: intent.Entities{Category: "MugCo", Percentage: &pct},
	})

	if !res.Success || res.AffectedProducts != 2 {
		t.Errorf("vendor scope: AffectedProducts = %d, want 2", res.AffectedProducts)
	}
}

func TestExecuteSearchCapsResults(t *testing.T) {
	mem := catalog.NewMemory()
	var items []catalog.Item
	for i := 0; i < 15; i++ {
		items = append(items, catalog.Item{
			ID: fmt.Sprintf("3%02d", i), Title: fmt.Sprintf("Laptop %d", i),
			Category: "Computers", Status: catalog.StatusActive,
			Variants: []catalog.Variant{{ID: fmt.Sprintf("3%02d-1", i), Price: 500}},
		})
	}
	mem.Seed(items...)
	a := New(mem, Config{SearchLimit: 10})

	res := a.Execute(context.Background(), &intent.Action{
		Type:     intent.TypeSearchProducts,
		Entities: intent.Entities{SearchQuery: "laptop"},
	})

	if !res.Success {
		t.Fatalf("Success = false: %s", res.Message)
	}
	data, ok := res.Data.(SearchData)
	if !ok {
		t.Fatalf("Data = %T, want SearchData", res.Data)
	}
	if len(data.Items) != 10 {
		t.Errorf("len(Items) = %d, want capped at 10", len(data.Items))
	}
	if data.TotalMatches != 15 {
		t.Errorf("TotalMatches = %d, want 15", data.TotalMatches)
	}

	// The preview's affected count is the capped size: a read-only search
	// over a big catalog must not trip the confirmation gate.
	prev, err := a.Preview(context.Background(), &intent.Action{
		Type:     intent.TypeSearchProducts,
		Entities: intent.Entities{SearchQuery: "laptop"},
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if prev.AffectedCount != 10 {
		t.Errorf("preview AffectedCount = %d, want 10", prev.AffectedCount)
	}
}

func TestPreviewSingleAndBulk(t *testing.T) {
	a := New(seedCatalog(), Config{})
	price := 15.0

	prev, err := a.Preview(context.Background(), &intent.Action{
		Type:     intent.TypeUpdatePrice,
		Entities: intent.Entities{ProductName: "Blue Mug", Price: &price},
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if prev.AffectedCount != 1 || !strings.Contains(prev.Summary, "Blue Mug") {
		t.Errorf("preview = %+v", prev)
	}

	pct := 10.0
	prev, err = a.Preview(context.Background(), &intent.Action{
		Type:     intent.TypeBulkUpdate,
		Entities: intent.Entities{Category: "Kitchen", Percentage: &pct},
	})
	if err != nil {
		t.Fatalf("Preview bulk: %v", err)
	}
	if prev.AffectedCount != 2 {
		t.Errorf("bulk AffectedCount = %d, want 2", prev.AffectedCount)
	}
}

func TestPreviewDoesNotMutate(t *testing.T) {
	mem := seedCatalog()
	a := New(mem, Config{})
	pct := 10.0

	if _, err := a.Preview(context.Background(), &intent.Action{
		Type:     intent.TypeBulkUpdate,
		Entities: intent.Entities{Category: "Kitchen", Percentage: &pct},
	}); err != nil {
		t.Fatalf("Preview: %v", err)
	}

	if got := priceOf(t, mem, "101"); got != 10.00 {
		t.Errorf("price = %v after preview, want untouched 10.00", got)
	}
}
