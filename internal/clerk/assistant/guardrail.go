package assistant

import "regexp"

// namedSecretPatterns matches well-known credential formats that should never
// appear in a chat message regardless of context. Each pattern is
// intentionally specific (vendor prefix + sufficient length) to keep the
// false-positive rate low.
var namedSecretPatterns = []*regexp.Regexp{
	// OpenAI API key, classic and project variants
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bsk-proj-[A-Za-z0-9_\-]{20,}\b`),
	// Anthropic
	regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{20,}\b`),
	// AWS access key ID
	regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`),
	// GitHub tokens (personal, OAuth, fine-grained)
	regexp.MustCompile(`\bghp_[A-Za-z0-9]{36,}\b`),
	regexp.MustCompile(`\bgho_[A-Za-z0-9]{36,}\b`),
	regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}\b`),
	// Shopify admin tokens
	regexp.MustCompile(`\bshpat_[a-fA-F0-9]{32,}\b`),
	regexp.MustCompile(`\bshpss_[a-fA-F0-9]{32,}\b`),
	// Stripe secret / restricted / public keys
	regexp.MustCompile(`\b(?:sk|rk|pk)_(?:live|test)_[A-Za-z0-9]{20,}\b`),
}

// genericSecretPatterns catches high-entropy strings that are unlikely to
// appear in normal merchant prose. 48 chars skips SHA-1 hashes (40) while
// still catching SHA-256 hashes (64) and long API tokens.
var genericSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9+/]{48,}={0,2}`),
	regexp.MustCompile(`[0-9a-f]{48,}`),
}

// looksLikeSecret reports whether message appears to contain a credential.
// Messages that trip this never reach the extractor or the model.
func looksLikeSecret(message string) bool {
	for _, re := range namedSecretPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	for _, re := range genericSecretPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// secretGuardrailMessage is the reply sent when a message is rejected by the
// credential guardrail.
const secretGuardrailMessage = "That looks like a credential. " +
	"I won't store or process secrets from chat. " +
	"Rotate the key if it was a live one, and configure credentials through your store settings instead."
