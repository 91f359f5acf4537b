package llmclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/sumeval/pkg/errs"
)

// RepairAndUnmarshal attempts json.Unmarshal(raw, v) as-is; if that fails,
// it closes unbalanced braces, brackets, and a trailing unterminated
// string (the common shape of a response truncated mid-generation) and
// retries once. Returns errs.ErrInvalidResponse if both attempts fail, per
// spec.md §7's InvalidResponse handling.
func RepairAndUnmarshal(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err == nil {
		return nil
	}

	repaired := repair(raw)
	if err := json.Unmarshal(repaired, v); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidResponse, err)
	}
	return nil
}

// repair closes unbalanced structure from the end of a truncated JSON
// document: an open string is terminated, then every unmatched '[' / '{'
// is closed in reverse order of opening.
func repair(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))

	var stack []byte
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, byte(r))
		case '}':
			stack = popMatching(stack, '{')
		case ']':
			stack = popMatching(stack, '[')
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			b.WriteByte('}')
		case '[':
			b.WriteByte(']')
		}
	}
	return []byte(b.String())
}

// popMatching pops the top of stack if it equals open, leaving the stack
// untouched on mismatch (a malformed document repair can't fix anyway).
func popMatching(stack []byte, open byte) []byte {
	if len(stack) > 0 && stack[len(stack)-1] == open {
		return stack[:len(stack)-1]
	}
	return stack
}
