// Package assistant ties the pipeline together: guardrail, keyword
// extraction, optional model escalation, then the execution engine.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bitmerchant/clerk/common/trace"
	"github.com/bitmerchant/clerk/internal/clerk/catalog"
	"github.com/bitmerchant/clerk/internal/clerk/engine"
	"github.com/bitmerchant/clerk/internal/clerk/intent"
	"github.com/bitmerchant/clerk/internal/clerk/nlp"
	"github.com/bitmerchant/clerk/internal/clerk/safety"
)

// recentCommandLimit caps the per-user command history fed into the
// escalation prompt.
const recentCommandLimit = 5

// contextProductLimit caps the product titles fed into the escalation prompt.
const contextProductLimit = 10

// Reply is what a chat surface renders for one handled message.
type Reply struct {
	// Mode says whether the message produced conversation or an action.
	Mode intent.Mode `json:"mode"`
	// Message is the user-facing text.
	Message string `json:"message"`
	// ExecutionID is set when an execution was created.
	ExecutionID string `json:"execution_id,omitempty"`
	// Status is the execution's status after this turn.
	Status engine.Status `json:"status,omitempty"`
	// RequiresConfirmation signals the surface to ask for a yes/no.
	RequiresConfirmation bool `json:"requires_confirmation"`
	// Suggestions are optional follow-up hints.
	Suggestions []string `json:"suggestions,omitempty"`
	// Escalated reports whether the model's verdict was used.
	Escalated bool `json:"escalated"`
}

// Assistant handles chat messages end to end. The enhancer is optional; with
// a nil enhancer the assistant runs on the keyword extractor alone.
type Assistant struct {
	engine   *engine.Engine
	enhancer *nlp.Enhancer
	catalog  catalog.Service
	store    safety.StoreInfo

	// mu guards the per-user recent-command ring.
	mu     sync.Mutex
	recent map[string][]string
}

// New creates an Assistant.
func New(eng *engine.Engine, enhancer *nlp.Enhancer, cat catalog.Service, store safety.StoreInfo) *Assistant {
	return &Assistant{
		engine:   eng,
		enhancer: enhancer,
		catalog:  cat,
		store:    store,
		recent:   make(map[string][]string),
	}
}

// HandleMessage runs one chat message through the full pipeline and returns
// the reply to render. The returned error covers only infrastructure faults;
// refusals, clarifications, and failed actions all come back as a Reply.
func (a *Assistant) HandleMessage(ctx context.Context, message string, ec safety.ExecutionContext) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return &Reply{Mode: intent.ModeConversation, Message: helpMessage}, nil
	}

	if looksLikeSecret(message) {
		slog.Warn("message refused by credential guardrail",
			"user", ec.UserID, "trace_id", trace.FromContext(ctx))
		return &Reply{Mode: intent.ModeConversation, Message: secretGuardrailMessage}, nil
	}

	basic := intent.Classify(message)

	result := basic
	var suggestions []string
	escalated := false
	if a.enhancer != nil && nlp.ShouldEscalate(basic) {
		outcome := a.enhancer.Enhance(ctx, basic, message, a.storeContext(ctx, ec.UserID))
		result = outcome.Result
		suggestions = outcome.Suggestions
		escalated = outcome.Escalated
	}

	if result.Mode == intent.ModeConversation || result.Action == nil {
		return &Reply{
			Mode:        intent.ModeConversation,
			Message:     conversationMessage(result, suggestions),
			Suggestions: suggestions,
			Escalated:   escalated,
		}, nil
	}

	ex, err := a.engine.Initiate(ctx, result.Action, ec)
	if err != nil {
		return nil, fmt.Errorf("assistant: initiate execution: %w", err)
	}
	a.remember(ec.UserID, fmt.Sprintf("%s: %s", result.Action.Type, truncate(message, 80)))

	return a.executionReply(ex, suggestions, escalated), nil
}

// Confirm resolves a pending confirmation by execution id and phrases the
// outcome for chat.
func (a *Assistant) Confirm(ctx context.Context, executionID string, confirmed bool) (*Reply, error) {
	ex, err := a.engine.Confirm(ctx, executionID, confirmed)
	if err != nil {
		return nil, err
	}
	return a.executionReply(ex, nil, false), nil
}

// executionReply phrases an execution's current state for the chat surface.
func (a *Assistant) executionReply(ex *engine.Execution, suggestions []string, escalated bool) *Reply {
	reply := &Reply{
		Mode:        intent.ModeAction,
		ExecutionID: ex.ID,
		Status:      ex.Status,
		Suggestions: suggestions,
		Escalated:   escalated,
	}

	switch ex.Status {
	case engine.StatusAwaitingConfirmation:
		reply.RequiresConfirmation = true
		reply.Message = fmt.Sprintf("%s Reply \"yes\" to proceed or \"no\" to cancel.", ex.Preview.Summary)
	case engine.StatusCompleted:
		reply.Message = ex.Result.Message
	case engine.StatusFailed:
		reply.Message = ex.Result.Message
	case engine.StatusCancelled:
		reply.Message = "Okay, I won't do that."
	default:
		reply.Message = fmt.Sprintf("Working on it (status: %s).", ex.Status)
	}
	return reply
}

// storeContext assembles the contextual hints for the escalation prompt.
// Catalog errors degrade to an emptier context, never to a failed request.
func (a *Assistant) storeContext(ctx context.Context, userID string) nlp.StoreContext {
	sc := nlp.StoreContext{StoreName: a.store.Name}

	if items, err := a.catalog.FindAll(ctx); err == nil {
		for i, item := range items {
			if i >= contextProductLimit {
				break
			}
			sc.RecentProducts = append(sc.RecentProducts, item.Title)
		}
	}

	a.mu.Lock()
	sc.RecentCommands = append(sc.RecentCommands, a.recent[userID]...)
	a.mu.Unlock()
	return sc
}

// remember appends a command summary to the user's ring.
func (a *Assistant) remember(userID, summary string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ring := append(a.recent[userID], summary)
	if len(ring) > recentCommandLimit {
		ring = ring[len(ring)-recentCommandLimit:]
	}
	a.recent[userID] = ring
}

// conversationMessage picks the reply text for a conversational turn.
func conversationMessage(result intent.Result, suggestions []string) string {
	if result.ConversationFallback {
		if len(suggestions) > 0 {
			return "I'm not sure what you'd like me to do. Did you mean: " + strings.Join(suggestions, "; ") + "?"
		}
		return "I'm not sure what you'd like me to do with the catalog. " + helpMessage
	}
	return helpMessage
}

const helpMessage = "I can update prices and stock, create or delete products, " +
	"run bulk price changes, and search your catalog. " +
	"Try \"update iPhone 15 price to $999\" or \"find all headphones\"."

// truncate shortens s for audit and history summaries.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
