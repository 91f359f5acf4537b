package llmclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Stub is a deterministic, in-memory Client used by tests and by the
// "describe a run without real provider credentials" dry-run path. It
// never makes a network call; Complete derives a stable pseudo-summary
// from the input so repeated calls with the same prompt are idempotent,
// which matters for testing resumability without real LLM nondeterminism.
type Stub struct {
	Model string
}

// Complete returns a short deterministic "summary" of the last user
// message's content, tagged with the model name.
func (s *Stub) Complete(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	var prompt string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			prompt = messages[i].Content
			break
		}
	}
	sum := sha256.Sum256([]byte(prompt))
	digest := hex.EncodeToString(sum[:])[:8]
	content := fmt.Sprintf("[%s] summary-%s of: %.60s", s.Model, digest, prompt)
	return Completion{
		Content: content,
		Model:   s.Model,
		Usage:   Usage{InputTokens: len(prompt) / 4, OutputTokens: len(content) / 4},
	}, nil
}
