package llmclient_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/sumeval/pkg/llmclient"
)

func TestIsThinkingClass(t *testing.T) {
	assert.True(t, llmclient.IsThinkingClass("openai/o1-preview"))
	assert.True(t, llmclient.IsThinkingClass("deepseek-r1-distill"))
	assert.False(t, llmclient.IsThinkingClass("anthropic/claude-3-5-sonnet"))
}

func TestTimeoutForMatchesModelClass(t *testing.T) {
	assert.Equal(t, 10*time.Minute, llmclient.TimeoutFor("o3-mini"))
	assert.Equal(t, 2*time.Minute, llmclient.TimeoutFor("gpt-4o"))
}

func TestRepairAndUnmarshalFixesTruncatedObject(t *testing.T) {
	var out struct {
		Winner string `json:"winner"`
		Rank   int    `json:"rank"`
	}
	truncated := []byte(`{"winner": "A", "rank": 1`)
	require.NoError(t, llmclient.RepairAndUnmarshal(truncated, &out))
	assert.Equal(t, "A", out.Winner)
	assert.Equal(t, 1, out.Rank)
}

func TestRepairAndUnmarshalFixesTruncatedString(t *testing.T) {
	var out struct {
		Reasoning string `json:"reasoning"`
	}
	truncated := []byte(`{"reasoning": "the summary covers most but not all`)
	require.NoError(t, llmclient.RepairAndUnmarshal(truncated, &out))
	assert.Contains(t, out.Reasoning, "the summary covers")
}

func TestRepairAndUnmarshalFailsOnUnrepairable(t *testing.T) {
	var out map[string]any
	err := llmclient.RepairAndUnmarshal([]byte(`not json at all}}}`), &out)
	assert.Error(t, err)
}

func TestStubCompleteIsDeterministic(t *testing.T) {
	stub := &llmclient.Stub{Model: "test/model"}
	messages := []llmclient.Message{{Role: llmclient.RoleUser, Content: "summarize this function"}}
	a, err := stub.Complete(context.Background(), messages, llmclient.Options{})
	require.NoError(t, err)
	b, err := stub.Complete(context.Background(), messages, llmclient.Options{})
	require.NoError(t, err)
	assert.Equal(t, a.Content, b.Content)
}
