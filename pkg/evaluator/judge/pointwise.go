package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/sumeval/pkg/llmclient"
)

// PointwiseResult is one judge's rubric scoring of one summary, per
// spec.md §4.7.
type PointwiseResult struct {
	JudgeModel      string       `json:"judge_model"`
	Scores          RubricScores `json:"scores"`
	Rationale       string       `json:"rationale"`
	WeightedAverage float64      `json:"weighted_average"`
}

type pointwiseResponse struct {
	Accuracy         int    `json:"accuracy"`
	Completeness     int    `json:"completeness"`
	SemanticRichness int    `json:"semantic_richness"`
	Abstraction      int    `json:"abstraction"`
	Conciseness      int    `json:"conciseness"`
	Rationale        string `json:"rationale"`
}

// ScorePointwise asks judgeClient to rate summaryText against code on the
// five spec.md §4.7 criteria and returns the clamped, weighted result.
func ScorePointwise(ctx context.Context, judgeClient llmclient.Client, judgeModel, code, summaryText string) (PointwiseResult, error) {
	resp, err := judgeClient.Complete(ctx, []llmclient.Message{{Role: llmclient.RoleUser, Content: pointwisePrompt(code, summaryText)}}, llmclient.Options{})
	if err != nil {
		return PointwiseResult{}, fmt.Errorf("judge: pointwise call: %w", err)
	}

	var parsed pointwiseResponse
	if err := llmclient.RepairAndUnmarshal([]byte(resp.Content), &parsed); err != nil {
		return PointwiseResult{}, fmt.Errorf("judge: pointwise response: %w", err)
	}

	scores := RubricScores{
		Accuracy:         parsed.Accuracy,
		Completeness:     parsed.Completeness,
		SemanticRichness: parsed.SemanticRichness,
		Abstraction:      parsed.Abstraction,
		Conciseness:      parsed.Conciseness,
	}.Clamp()

	return PointwiseResult{
		JudgeModel:      judgeModel,
		Scores:          scores,
		Rationale:       parsed.Rationale,
		WeightedAverage: scores.WeightedAverage(),
	}, nil
}

func pointwisePrompt(code, summary string) string {
	var b strings.Builder
	b.WriteString("Score the following summary of a piece of code on five criteria, each 1-5: accuracy, completeness, semantic_richness, abstraction, conciseness. Reply as JSON with those five integer fields plus a \"rationale\" string field.\n\n")
	fmt.Fprintf(&b, "Code:\n%s\n\nSummary:\n%s\n", code, summary)
	return b.String()
}
