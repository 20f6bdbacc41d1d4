// Package nlp provides the AI escalation layer for Clerk.
//
// The deterministic extractor (package intent) handles the common case.
// When it is uncertain — the action confidence is at or below the escalation
// threshold, or it fell back to conversation mode — the Enhancer asks an
// external language model to re-analyse the message with store context
// (recent products, recent commands) and a strict JSON response contract.
//
// Security invariants:
//   - The LLM only proposes intents; it never executes them. Every mutation
//     still flows through safety validation → confirmation gate → audit.
//   - The LLM sees product titles and recent command summaries only; it never
//     sees credentials or internal state.
//   - Model output is never trusted: replies are schema-validated and any
//     parse failure degrades to conversation mode instead of raising.
package nlp

import (
	"context"
	"errors"
)

// ErrRateLimit is returned by a Provider when the upstream LLM API reports a
// rate-limiting condition (e.g. HTTP 429). Callers should keep the basic
// classification rather than surfacing an error to the user.
var ErrRateLimit = errors.New("nlp: upstream rate limit exceeded")

// Message is one prior turn handed to the model for continuity.
type Message struct {
	// Role is "user", "assistant", or "system".
	Role string
	// Content is the message text.
	Content string
}

// Provider is the abstract language-model chat service. Implementations must
// be safe for concurrent use and should return descriptive errors on
// transport failure; they are assumed to sometimes return malformed or
// non-JSON text even when a structured reply was requested.
type Provider interface {
	// Complete sends prompt as the system instruction plus the given
	// conversation messages and returns the raw model reply.
	Complete(ctx context.Context, prompt string, messages []Message) (string, error)
}

// StoreContext is the contextual hint block embedded into the escalation
// prompt. All fields are optional; empty context still produces a valid
// prompt.
type StoreContext struct {
	// StoreName is the merchant-facing shop name.
	StoreName string
	// RecentProducts holds a few product titles from the catalog so the model
	// can resolve fuzzy product references.
	RecentProducts []string
	// RecentCommands holds short summaries of the user's recent actions.
	RecentCommands []string
}
