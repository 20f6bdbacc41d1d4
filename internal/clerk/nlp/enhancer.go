package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// EscalationThreshold is the action confidence at or below which the basic
// classification is considered uncertain and worth a second opinion.
const EscalationThreshold = 0.8

// FallbackConfidence is the fixed confidence assigned to the conversation
// fallback produced when the model's reply cannot be parsed.
const FallbackConfidence = 0.3

// replySchema is the contract the model's JSON reply must satisfy. Numeric
// entity fields additionally accept strings because models routinely emit
// locale-formatted numbers ("12,50"); those are coerced after validation.
const replySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "confidence"],
  "properties": {
    "type": {"enum": ["action", "conversation"]},
    "action": {"enum": [
      "update_price", "update_stock", "create_product",
      "delete_product", "bulk_update", "search_products"
    ]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "entities": {
      "type": "object",
      "properties": {
        "product_id":   {"type": ["string", "number"]},
        "sku":          {"type": "string"},
        "product_name": {"type": "string"},
        "quantity":     {"type": ["number", "string"]},
        "price":        {"type": ["number", "string"]},
        "percentage":   {"type": ["number", "string"]},
        "category":     {"type": "string"},
        "search_query": {"type": "string"}
      }
    },
    "requires_confirmation": {"type": "boolean"},
    "reasoning": {"type": "string"},
    "suggestions": {"type": "array", "items": {"type": "string"}}
  },
  "if": {"properties": {"type": {"const": "action"}}},
  "then": {"required": ["action"]}
}`

var compiledReplySchema = jsonschema.MustCompileString("reply.json", replySchema)

// Outcome is the result of an escalation pass.
type Outcome struct {
	// Result is the winning classification (escalated or basic).
	Result intent.Result
	// Reasoning is the model's one-sentence justification, when it won.
	Reasoning string
	// Suggestions are follow-up hints for conversational replies.
	Suggestions []string
	// Escalated reports whether the model's verdict replaced the basic one.
	Escalated bool
}

// Enhancer re-analyses uncertain messages through a language model.
type Enhancer struct {
	provider Provider
}

// NewEnhancer returns an Enhancer backed by provider.
func NewEnhancer(provider Provider) *Enhancer {
	return &Enhancer{provider: provider}
}

// ShouldEscalate reports whether the basic classification is uncertain enough
// to justify an LLM call: either it already fell back to conversation mode,
// or its action confidence is at or below the escalation threshold.
func ShouldEscalate(basic intent.Result) bool {
	if basic.Mode == intent.ModeConversation {
		return basic.ConversationFallback
	}
	return basic.Action != nil && basic.Action.Confidence <= EscalationThreshold
}

// Enhance asks the model to re-analyse message with store context and merges
// the verdict with the basic result: the escalated classification wins only
// when its confidence exceeds the basic one's. Transport and parse failures
// never propagate — the reply degrades to a conversation fallback with
// FallbackConfidence and then competes like any other verdict.
func (e *Enhancer) Enhance(ctx context.Context, basic intent.Result, message string, sc StoreContext) Outcome {
	raw, err := e.provider.Complete(ctx, BuildPrompt(sc), []Message{
		{Role: "user", Content: message},
	})
	if err != nil {
		// The user's message was understood as far as we got; keep the basic
		// result rather than failing the whole request.
		slog.Warn("nlp: escalation call failed, keeping basic result", "err", err)
		return Outcome{Result: basic}
	}

	verdict, err := parseReply(raw, message)
	if err != nil {
		slog.Warn("nlp: malformed escalation reply", "err", err)
		verdict = &replyVerdict{
			result:     intent.Result{Mode: intent.ModeConversation, ConversationFallback: true},
			confidence: FallbackConfidence,
		}
	}

	if verdict.confidence > basicConfidence(basic) {
		return Outcome{
			Result:      verdict.result,
			Reasoning:   verdict.reasoning,
			Suggestions: verdict.suggestions,
			Escalated:   true,
		}
	}
	return Outcome{Result: basic}
}

// replyVerdict is the internal parse product of one model reply.
type replyVerdict struct {
	result      intent.Result
	confidence  float64
	reasoning   string
	suggestions []string
}

// replyPayload mirrors the JSON contract. Numeric entity fields decode as
// json.RawMessage so both numbers and locale-formatted strings survive to the
// coercion step.
type replyPayload struct {
	Type       string  `json:"type"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Entities   struct {
		ProductID   json.RawMessage `json:"product_id"`
		SKU         string          `json:"sku"`
		ProductName string          `json:"product_name"`
		Quantity    json.RawMessage `json:"quantity"`
		Price       json.RawMessage `json:"price"`
		Percentage  json.RawMessage `json:"percentage"`
		Category    string          `json:"category"`
		SearchQuery string          `json:"search_query"`
	} `json:"entities"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	Reasoning            string   `json:"reasoning"`
	Suggestions          []string `json:"suggestions"`
}

// parseReply extracts the first JSON object from raw, validates it against
// the reply schema, and converts it into a verdict. originalMessage is
// carried onto any produced action.
func parseReply(raw, originalMessage string) (*replyVerdict, error) {
	objText, ok := extractJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object in reply (raw: %.120s)", raw)
	}

	var generic any
	if err := json.Unmarshal([]byte(objText), &generic); err != nil {
		return nil, fmt.Errorf("decode reply JSON: %w", err)
	}
	if err := compiledReplySchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("reply failed schema validation: %w", err)
	}

	var payload replyPayload
	if err := json.Unmarshal([]byte(objText), &payload); err != nil {
		return nil, fmt.Errorf("decode reply payload: %w", err)
	}

	if payload.Type == "conversation" {
		return &replyVerdict{
			result:      intent.Result{Mode: intent.ModeConversation},
			confidence:  payload.Confidence,
			reasoning:   payload.Reasoning,
			suggestions: payload.Suggestions,
		}, nil
	}

	typ := intent.Type(payload.Action)
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown action type %q", payload.Action)
	}

	entities := intent.Entities{
		SKU:         payload.Entities.SKU,
		ProductName: payload.Entities.ProductName,
		Category:    payload.Entities.Category,
		SearchQuery: payload.Entities.SearchQuery,
	}
	entities.ProductID = coerceString(payload.Entities.ProductID)
	if v, ok := coerceNumber(payload.Entities.Price); ok {
		entities.Price = &v
	}
	if v, ok := coerceNumber(payload.Entities.Percentage); ok {
		entities.Percentage = &v
	}
	if v, ok := coerceNumber(payload.Entities.Quantity); ok {
		n := int(v)
		entities.Quantity = &n
	}

	action := &intent.Action{
		Type:            typ,
		Confidence:      payload.Confidence,
		Entities:        entities,
		OriginalMessage: originalMessage,
		RequiresConfirmation: payload.RequiresConfirmation ||
			intent.ForcesConfirmation(typ, entities),
	}
	return &replyVerdict{
		result:      intent.Result{Mode: intent.ModeAction, Action: action},
		confidence:  payload.Confidence,
		reasoning:   payload.Reasoning,
		suggestions: payload.Suggestions,
	}, nil
}

// basicConfidence is the score the escalated verdict has to beat.
func basicConfidence(basic intent.Result) float64 {
	if basic.Action != nil {
		return basic.Action.Confidence
	}
	return 0
}

// extractJSONObject returns the first balanced top-level {...} substring of
// s, tolerating prose or code fences around it. String literals and escapes
// are respected so braces inside values do not unbalance the scan.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// coerceNumber converts a raw JSON value (number or string) to a float64,
// tolerating locale-formatted strings. Returns false for null/absent values.
func coerceNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return intent.ParseDecimal(s)
	}
	return 0, false
}

// coerceString converts a raw JSON value (string or number) to its string
// form. Models frequently return numeric ids unquoted.
func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strings.TrimSuffix(fmt.Sprintf("%.0f", f), ".")
	}
	return ""
}
