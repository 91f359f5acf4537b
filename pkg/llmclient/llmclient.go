// Package llmclient defines the LLM transport boundary (spec.md §6): a
// provider-agnostic Client interface plus the request/response shapes
// every evaluator codes against. Real provider wiring (Anthropic, OpenAI,
// Google, ...) is out of scope; a deterministic Stub implementation backs
// tests.
package llmclient

import (
	"context"
	"strings"
	"time"
)

// Role is a chat message's speaker.
type Role string

// Role values.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat-style completion request.
type Message struct {
	Role    Role
	Content string
}

// Options tunes a single completion call. Zero values mean "use the
// client's configured default."
type Options struct {
	Temperature  *float64
	MaxTokens    *int
	SystemPrompt string
}

// Usage reports token accounting and, when the provider exposes it, cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// Completion is a successful LLM response.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// Client is the LLM transport boundary every evaluator depends on.
// Implementations must classify failures using pkg/errs sentinels
// (ErrMaxTokens, ErrContentFilter, a *errs.RateLimitError, ...) rather than
// returning opaque errors, so callers can apply spec.md §7's retry policy
// uniformly. Cancellation is via ctx, matching every other suspension
// point in this codebase (spec.md §5).
type Client interface {
	Complete(ctx context.Context, messages []Message, opts Options) (Completion, error)
}

// Resolver looks up the Client bound to a specific model id. Evaluators
// that talk to many models at once (Judge's panel, Iterative's
// cloud/local streams) depend on Resolver rather than a single Client so
// each call is routed to the right provider.
type Resolver func(modelID string) (Client, error)

// TimeoutFor returns the per-call deadline for model, per spec.md §4.8's
// model-class-dependent timeout policy: "thinking-class" models (matched
// by a name-substring heuristic, since providers don't expose this as
// structured metadata) get a longer budget.
func TimeoutFor(model string) time.Duration {
	if IsThinkingClass(model) {
		return 10 * time.Minute
	}
	return 2 * time.Minute
}

// thinkingClassPrefixes is the Open-Question heuristic from DESIGN.md: a
// small, explicit substring list standing in for provider-exposed
// "reasoning model" metadata, which does not exist today.
var thinkingClassPrefixes = []string{
	"o1",
	"o3",
	"deepseek-r1",
	"claude-3-7-sonnet-thinking",
	"qwq",
}

// IsThinkingClass reports whether model matches the thinking-class
// heuristic.
func IsThinkingClass(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range thinkingClassPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}
