// Package intent provides the deterministic classification layer for Clerk.
//
// The extractor sits between the raw chat message and the execution engine.
// Its sole responsibility is translation: decide whether a free-form sentence
// is conversation or an actionable catalog command, and pull out the typed
// parameters (price, percentage, quantity, product reference) the command
// adapters need.
//
// Classification is purely deterministic — no LLM is involved at this layer.
// Uncertain results are escalated separately (see the nlp package); the
// extractor itself never guesses: anything below the confidence threshold
// falls back to conversation mode so chit-chat is never treated as a command.
package intent

// Type identifies the catalog action a message requests.
type Type string

const (
	TypeUpdatePrice    Type = "update_price"
	TypeUpdateStock    Type = "update_stock"
	TypeCreateProduct  Type = "create_product"
	TypeDeleteProduct  Type = "delete_product"
	TypeBulkUpdate     Type = "bulk_update"
	TypeSearchProducts Type = "search_products"
)

// Types lists every supported action type, in scan order.
var Types = []Type{
	TypeUpdatePrice,
	TypeUpdateStock,
	TypeCreateProduct,
	TypeDeleteProduct,
	TypeBulkUpdate,
	TypeSearchProducts,
}

// Valid reports whether t is a recognised action type.
func (t Type) Valid() bool {
	switch t {
	case TypeUpdatePrice, TypeUpdateStock, TypeCreateProduct,
		TypeDeleteProduct, TypeBulkUpdate, TypeSearchProducts:
		return true
	}
	return false
}

// Entities carries the parameters extracted from a message. Only the fields
// relevant to the detected action type are populated. Numeric fields are
// pointers so "absent" and "zero" stay distinguishable.
type Entities struct {
	ProductID   string   `json:"product_id,omitempty"`
	SKU         string   `json:"sku,omitempty"`
	ProductName string   `json:"product_name,omitempty"`
	Quantity    *int     `json:"quantity,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Percentage  *float64 `json:"percentage,omitempty"`
	Category    string   `json:"category,omitempty"`
	SearchQuery string   `json:"search_query,omitempty"`
}

// HasProductRef reports whether the entities identify a specific product by
// id, SKU, or name.
func (e Entities) HasProductRef() bool {
	return e.ProductID != "" || e.SKU != "" || e.ProductName != ""
}

// Empty reports whether no typed entity was extracted. The catch-all
// SearchQuery does not count: it is derived from the whole message when
// nothing else matched and therefore carries no evidence of a real command.
func (e Entities) Empty() bool {
	return e.ProductID == "" && e.SKU == "" && e.ProductName == "" &&
		e.Quantity == nil && e.Price == nil && e.Percentage == nil &&
		e.Category == ""
}

// Action is the structured, typed interpretation of a user message as a
// requested catalog mutation or query. Immutable once produced.
type Action struct {
	// Type is the detected action category.
	Type Type `json:"type"`

	// Confidence is a 0–1 score for the classification.
	Confidence float64 `json:"confidence"`

	// Entities holds the extracted parameters.
	Entities Entities `json:"entities"`

	// OriginalMessage is the raw text the action was derived from.
	OriginalMessage string `json:"original_message"`

	// RequiresConfirmation is set when the action must be confirmed by the
	// user before execution regardless of what the safety validator says:
	// deletes, bulk updates, creations, and price swings above 20%.
	RequiresConfirmation bool `json:"requires_confirmation"`
}

// Mode is the top-level classification of a message.
type Mode string

const (
	// ModeConversation means the message should be answered, not executed.
	ModeConversation Mode = "conversation"
	// ModeAction means the message is a catalog command.
	ModeAction Mode = "action"
)

// Result is the output of a classification pass.
type Result struct {
	// Mode is the detected top-level mode.
	Mode Mode

	// Action is populated only when Mode == ModeAction.
	Action *Action

	// ConversationFallback is set when an action candidate existed but was
	// demoted to conversation mode (low confidence or a weak search guess).
	// The escalation layer uses this to decide whether a second opinion from
	// the LLM is worthwhile.
	ConversationFallback bool
}
