package contrastive

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/codeready-toolchain/sumeval/pkg/embedclient"
	"github.com/codeready-toolchain/sumeval/pkg/llmclient"
)

// EmbeddingResult is the embedding-based scoring method's outcome for one
// summary, per spec.md §4.6.
type EmbeddingResult struct {
	PredictedRank int     `json:"predicted_rank"`
	Correct       bool    `json:"correct"`
	ConfidenceGap float64 `json:"confidence_gap"`
}

// ScoreEmbedding ranks target alongside its distractors by cosine
// similarity to the summary embedding; the target must rank #1 to count
// as correct, per spec.md §4.6's embedding method.
func ScoreEmbedding(summaryEmbedding, targetEmbedding []float64, distractorEmbeddings [][]float64) EmbeddingResult {
	type scored struct {
		isTarget bool
		score    float64
	}
	all := make([]scored, 0, len(distractorEmbeddings)+1)
	all = append(all, scored{isTarget: true, score: embedclient.CosineSimilarity(summaryEmbedding, targetEmbedding)})
	for _, e := range distractorEmbeddings {
		all = append(all, scored{score: embedclient.CosineSimilarity(summaryEmbedding, e)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	rank := 0
	for i, s := range all {
		if s.isTarget {
			rank = i + 1
			break
		}
	}
	gap := 0.0
	if len(all) > 1 {
		gap = all[0].score - all[1].score
	}
	return EmbeddingResult{PredictedRank: rank, Correct: rank == 1, ConfidenceGap: gap}
}

// LLMResult is the LLM-based scoring method's outcome for one summary,
// per spec.md §4.6.
type LLMResult struct {
	PredictedPosition int  `json:"predicted_position"`
	TargetPosition    int  `json:"target_position"`
	Correct           bool `json:"correct"`
}

var choicePattern = regexp.MustCompile(`\d+`)

// ScoreLLM shuffles target and distractor code alongside the summary,
// asks the judge which numbered option the summary describes, and
// compares the answer to the target's shuffled position, per spec.md
// §4.6's LLM method.
func ScoreLLM(ctx context.Context, judge llmclient.Client, summary, targetCode string, distractorCode []string, rng *rand.Rand) (LLMResult, error) {
	options := append([]string{targetCode}, distractorCode...)
	order := rng.Perm(len(options))
	shuffled := make([]string, len(options))
	targetPosition := 0
	for newIdx, origIdx := range order {
		shuffled[newIdx] = options[origIdx]
		if origIdx == 0 {
			targetPosition = newIdx + 1
		}
	}

	resp, err := judge.Complete(ctx, []llmclient.Message{{Role: llmclient.RoleUser, Content: choicePrompt(summary, shuffled)}}, llmclient.Options{})
	if err != nil {
		return LLMResult{}, fmt.Errorf("contrastive: llm scoring: %w", err)
	}
	predicted := parseChoice(resp.Content, len(shuffled))

	return LLMResult{
		PredictedPosition: predicted,
		TargetPosition:    targetPosition,
		Correct:           predicted == targetPosition,
	}, nil
}

func choicePrompt(summary string, options []string) string {
	var b strings.Builder
	b.WriteString("A summary describes exactly one of the following code snippets. Reply with only the number of the snippet it describes.\n\n")
	fmt.Fprintf(&b, "Summary: %s\n\n", summary)
	for i, o := range options {
		fmt.Fprintf(&b, "Option %d:\n%s\n\n", i+1, o)
	}
	return b.String()
}

// parseChoice extracts the first integer in [1, n] from the judge's
// reply; an unparseable or out-of-range reply reports position 0, which
// never equals a real target position and so always scores incorrect.
func parseChoice(content string, n int) int {
	m := choicePattern.FindString(content)
	if m == "" {
		return 0
	}
	v, err := strconv.Atoi(m)
	if err != nil || v < 1 || v > n {
		return 0
	}
	return v
}
