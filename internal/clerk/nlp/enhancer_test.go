package nlp

import (
	"context"
	"errors"
	"testing"

	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// stubProvider returns a canned reply or error.
type stubProvider struct {
	reply string
	err   error

	calls      int
	lastPrompt string
}

func (s *stubProvider) Complete(_ context.Context, prompt string, _ []Message) (string, error) {
	s.calls++
	s.lastPrompt = prompt
	return s.reply, s.err
}

func fallbackResult() intent.Result {
	return intent.Result{Mode: intent.ModeConversation, ConversationFallback: true}
}

func TestShouldEscalate(t *testing.T) {
	if !ShouldEscalate(fallbackResult()) {
		t.Error("conversation fallback should escalate")
	}
	if ShouldEscalate(intent.Result{Mode: intent.ModeConversation}) {
		t.Error("plain conversation should not escalate")
	}
	if !ShouldEscalate(intent.Result{Mode: intent.ModeAction, Action: &intent.Action{Confidence: 0.6}}) {
		t.Error("a low-confidence action should escalate")
	}
	if ShouldEscalate(intent.Result{Mode: intent.ModeAction, Action: &intent.Action{Confidence: 0.95}}) {
		t.Error("a high-confidence action should not escalate")
	}
}

func TestEnhanceValidActionReply(t *testing.T) {
	stub := &stubProvider{reply: `{
		"type": "action",
		"action": "update_price",
		"confidence": 0.9,
		"entities": {"product_name": "Blue Mug", "price": 12.50},
		"requires_confirmation": false,
		"reasoning": "clear price update"
	}`}
	e := NewEnhancer(stub)

	out := e.Enhance(context.Background(), fallbackResult(), "make the blue mug 12.50", StoreContext{})

	if !out.Escalated {
		t.Fatal("a confident model verdict should win over a fallback")
	}
	if out.Result.Mode != intent.ModeAction {
		t.Fatalf("Mode = %q, want action", out.Result.Mode)
	}
	a := out.Result.Action
	if a.Type != intent.TypeUpdatePrice || a.Confidence != 0.9 {
		t.Errorf("got %s @ %v, want update_price @ 0.9", a.Type, a.Confidence)
	}
	if a.Entities.Price == nil || *a.Entities.Price != 12.50 {
		t.Errorf("Price = %v, want 12.50", a.Entities.Price)
	}
	if a.OriginalMessage != "make the blue mug 12.50" {
		t.Errorf("OriginalMessage = %q", a.OriginalMessage)
	}
}

func TestEnhanceJSONBuriedInProse(t *testing.T) {
	stub := &stubProvider{reply: "Sure! Here is my analysis:\n```json\n" +
		`{"type": "conversation", "confidence": 0.85, "suggestions": ["Did you mean update a price?"]}` +
		"\n```"}
	e := NewEnhancer(stub)

	out := e.Enhance(context.Background(), fallbackResult(), "hmm", StoreContext{})

	if !out.Escalated {
		t.Fatal("verdict should be extracted despite the prose wrapper")
	}
	if out.Result.Mode != intent.ModeConversation {
		t.Errorf("Mode = %q, want conversation", out.Result.Mode)
	}
	if len(out.Suggestions) != 1 {
		t.Errorf("Suggestions = %v, want one entry", out.Suggestions)
	}
}

func TestEnhanceMalformedReplyFallsBack(t *testing.T) {
	stub := &stubProvider{reply: "I think you want to update a price, but I can't say for sure."}
	e := NewEnhancer(stub)

	basic := intent.Result{Mode: intent.ModeAction, Action: &intent.Action{
		Type: intent.TypeSearchProducts, Confidence: 0.6,
	}}
	out := e.Enhance(context.Background(), basic, "msg", StoreContext{})

	// The malformed reply degrades to a 0.3-confidence fallback, which loses
	// against the 0.6 basic action.
	if out.Escalated {
		t.Fatal("a malformed reply must not beat a scored basic result")
	}
	if out.Result.Action == nil || out.Result.Action.Confidence != 0.6 {
		t.Errorf("basic result should be kept, got %+v", out.Result)
	}
}

func TestEnhanceTransportErrorKeepsBasic(t *testing.T) {
	stub := &stubProvider{err: errors.New("boom")}
	e := NewEnhancer(stub)

	basic := intent.Result{Mode: intent.ModeAction, Action: &intent.Action{
		Type: intent.TypeUpdateStock, Confidence: 0.75,
	}}
	out := e.Enhance(context.Background(), basic, "msg", StoreContext{})

	if out.Escalated {
		t.Fatal("a failed call must not escalate")
	}
	if out.Result.Action == nil || out.Result.Action.Type != intent.TypeUpdateStock {
		t.Errorf("basic result should survive a transport error, got %+v", out.Result)
	}
}

func TestEnhanceLowerConfidenceVerdictLoses(t *testing.T) {
	stub := &stubProvider{reply: `{"type": "action", "action": "delete_product", "confidence": 0.5,
		"entities": {"product_name": "Mug"}}`}
	e := NewEnhancer(stub)

	basic := intent.Result{Mode: intent.ModeAction, Action: &intent.Action{
		Type: intent.TypeSearchProducts, Confidence: 0.75,
	}}
	out := e.Enhance(context.Background(), basic, "msg", StoreContext{})

	if out.Escalated || out.Result.Action.Type != intent.TypeSearchProducts {
		t.Errorf("the 0.5 verdict must lose to the 0.75 basic result, got %+v", out.Result)
	}
}

func TestEnhanceLocaleFormattedNumbers(t *testing.T) {
	stub := &stubProvider{reply: `{"type": "action", "action": "update_price", "confidence": 0.9,
		"entities": {"product_id": 8421, "price": "1.234,56"}}`}
	e := NewEnhancer(stub)

	out := e.Enhance(context.Background(), fallbackResult(), "msg", StoreContext{})

	a := out.Result.Action
	if a == nil {
		t.Fatalf("want an action, got %+v", out.Result)
	}
	if a.Entities.Price == nil || *a.Entities.Price != 1234.56 {
		t.Errorf("Price = %v, want 1234.56", a.Entities.Price)
	}
	if a.Entities.ProductID != "8421" {
		t.Errorf("ProductID = %q, want 8421 (coerced from a JSON number)", a.Entities.ProductID)
	}
}

func TestEnhanceUnknownActionTypeFallsBack(t *testing.T) {
	stub := &stubProvider{reply: `{"type": "action", "action": "drop_database", "confidence": 0.99}`}
	e := NewEnhancer(stub)

	basic := intent.Result{Mode: intent.ModeAction, Action: &intent.Action{
		Type: intent.TypeSearchProducts, Confidence: 0.6,
	}}
	out := e.Enhance(context.Background(), basic, "msg", StoreContext{})

	if out.Escalated {
		t.Fatal("an invented action type must never be accepted")
	}
}
