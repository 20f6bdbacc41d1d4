package intent

import (
	"math"
	"strings"
)

// ConversationThreshold is the minimum candidate confidence for a message to
// be treated as an action. Below it the extractor falls back to conversation
// mode and lets the escalation layer take a second look.
const ConversationThreshold = 0.7

// weakSearchThreshold demotes low-scoring search candidates that extracted no
// typed entities. A bare "find" or "search" in a longer sentence is much more
// often a question than a catalog query.
const weakSearchThreshold = 0.8

// maxUnconfirmedSwingPct is the largest relative price change that may run
// without an explicit user confirmation.
const maxUnconfirmedSwingPct = 20.0

// trigger is one phrase that signals an action type, with the base weight it
// contributes before specificity and length adjustments.
type trigger struct {
	phrase string
	weight float64
}

// triggerSets maps each action type to the phrases that signal it. Phrases
// are matched case-insensitively as substrings. Weights are tuned so that an
// unambiguous command ("… price to $10") lands comfortably above the
// conversation threshold while single generic words ("find") stay below it.
var triggerSets = map[Type][]trigger{
	TypeUpdatePrice: {
		{"price to", 0.75},
		{"set price", 0.72},
		{"change price", 0.72},
		{"update price", 0.72},
		{"reprice", 0.65},
		{"costs", 0.5},
	},
	TypeUpdateStock: {
		{"stock to", 0.75},
		{"inventory to", 0.75},
		{"set stock", 0.72},
		{"update stock", 0.72},
		{"quantity to", 0.7},
		{"units in stock", 0.7},
		{"restock", 0.6},
	},
	TypeCreateProduct: {
		{"create product", 0.8},
		{"create a product", 0.8},
		{"new product", 0.72},
		{"add product", 0.75},
		{"add a product", 0.75},
		{"new listing", 0.72},
		{"create listing", 0.78},
	},
	TypeDeleteProduct: {
		{"delete product", 0.8},
		{"remove product", 0.78},
		{"delete the", 0.65},
		{"remove listing", 0.75},
		{"delete", 0.55},
	},
	TypeBulkUpdate: {
		{"increase all", 0.8},
		{"decrease all", 0.8},
		{"raise all", 0.78},
		{"lower all", 0.78},
		{"all products by", 0.78},
		{"bulk update", 0.8},
		{"across the board", 0.7},
	},
	TypeSearchProducts: {
		{"search for", 0.65},
		{"list products", 0.62},
		{"show me", 0.5},
		{"look for", 0.55},
		{"search", 0.5},
		{"find", 0.45},
	},
}

// Classify scans message for action triggers and returns either an action
// with extracted entities or a conversation fallback.
//
// For each supported type the best-scoring trigger becomes that type's
// candidate; the highest-scoring type overall wins. The result falls back to
// conversation mode when the winner scores below ConversationThreshold, or
// when the winner is a weak search guess that extracted no typed entities.
func Classify(message string) Result {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return Result{Mode: ModeConversation}
	}
	lower := strings.ToLower(trimmed)

	var (
		bestType  Type
		bestScore float64
		matched   bool
	)
	for _, typ := range Types {
		for _, tr := range triggerSets[typ] {
			if !strings.Contains(lower, tr.phrase) {
				continue
			}
			score := scoreTrigger(tr, lower)
			if score > bestScore {
				bestType, bestScore, matched = typ, score, true
			}
		}
	}

	if !matched {
		return Result{Mode: ModeConversation}
	}

	entities := ExtractEntities(trimmed, bestType)

	if bestScore < ConversationThreshold {
		return Result{Mode: ModeConversation, ConversationFallback: true}
	}
	if bestType == TypeSearchProducts && bestScore < weakSearchThreshold && entities.Empty() && entities.SearchQuery == "" {
		// A generic "search"/"find" with nothing concrete behind it.
		return Result{Mode: ModeConversation, ConversationFallback: true}
	}

	action := &Action{
		Type:                 bestType,
		Confidence:           bestScore,
		Entities:             entities,
		OriginalMessage:      trimmed,
		RequiresConfirmation: ForcesConfirmation(bestType, entities),
	}
	return Result{Mode: ModeAction, Action: action}
}

// scoreTrigger computes the confidence contributed by one matched trigger.
//
// The base weight is adjusted twice:
//   - specificity: longer phrases are stronger evidence (+0.01 per character,
//     capped at +0.15);
//   - focus: short messages concentrate the signal (+0.05 up to 40 chars),
//     while a short phrase buried in a long message is diluted (−0.10 when
//     the phrase covers less than 8% of the text).
//
// The result is clamped to 1.0.
func scoreTrigger(tr trigger, lowerMsg string) float64 {
	score := tr.weight
	score += math.Min(0.15, float64(len(tr.phrase))*0.01)

	msgLen := len(lowerMsg)
	switch {
	case msgLen <= 40:
		score += 0.05
	case float64(len(tr.phrase))/float64(msgLen) < 0.08:
		score -= 0.10
	}
	return math.Min(score, 1.0)
}

// ForcesConfirmation reports whether the action must be confirmed regardless
// of the safety validator's verdict: destructive and wide-reaching operations
// always get a human in the loop, as do large relative price swings.
func ForcesConfirmation(typ Type, e Entities) bool {
	switch typ {
	case TypeDeleteProduct, TypeBulkUpdate, TypeCreateProduct:
		return true
	case TypeUpdatePrice:
		return e.Percentage != nil && math.Abs(*e.Percentage) > maxUnconfirmedSwingPct
	}
	return false
}
