package judge

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/sumeval/pkg/llmclient"
	"github.com/codeready-toolchain/sumeval/pkg/models"
)

type pairwiseResponse struct {
	Winner     string             `json:"winner"` // "1", "2", or "tie"
	Confidence string             `json:"confidence"`
	Reasoning  string             `json:"reasoning"`
	Criteria   map[string]float64 `json:"criteria,omitempty"`
}

// ScorePairwise asks judgeClient which of summaryA/summaryB better
// describes the shared code unit, presenting them in the order aFirst
// dictates (spec.md §4.7's position-bias mitigation: every eligible judge
// is asked once with A first and once with B first).
func ScorePairwise(ctx context.Context, judgeClient llmclient.Client, judgeModel, codeUnitID, modelA, modelB, summaryA, summaryB string, aFirst bool) (*models.PairwiseResult, error) {
	first, second := summaryA, summaryB
	if !aFirst {
		first, second = summaryB, summaryA
	}

	resp, err := judgeClient.Complete(ctx, []llmclient.Message{{Role: llmclient.RoleUser, Content: pairwisePrompt(first, second)}}, llmclient.Options{})
	if err != nil {
		return nil, fmt.Errorf("judge: pairwise call: %w", err)
	}

	var parsed pairwiseResponse
	if err := llmclient.RepairAndUnmarshal([]byte(resp.Content), &parsed); err != nil {
		return nil, fmt.Errorf("judge: pairwise response: %w", err)
	}

	return &models.PairwiseResult{
		ModelA:            modelA,
		ModelB:            modelB,
		CodeUnitID:        codeUnitID,
		JudgeModel:        judgeModel,
		Winner:            mapWinner(parsed.Winner, aFirst),
		Confidence:        mapConfidence(parsed.Confidence),
		PositionSwapped:   !aFirst,
		Reasoning:         parsed.Reasoning,
		CriteriaBreakdown: parsed.Criteria,
	}, nil
}

// mapWinner translates the judge's positional answer ("1" or "2", for
// whichever option was shown first) back to the caller's fixed A/B
// labels, undoing the aFirst shuffle.
func mapWinner(raw string, aFirst bool) models.PairwiseWinner {
	switch strings.TrimSpace(raw) {
	case "1":
		if aFirst {
			return models.WinnerA
		}
		return models.WinnerB
	case "2":
		if aFirst {
			return models.WinnerB
		}
		return models.WinnerA
	default:
		return models.WinnerTie
	}
}

func mapConfidence(raw string) models.Confidence {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "high":
		return models.ConfidenceHigh
	case "low":
		return models.ConfidenceLow
	default:
		return models.ConfidenceMedium
	}
}

func pairwisePrompt(first, second string) string {
	var b strings.Builder
	b.WriteString("Two summaries describe the same piece of code. Decide which is better, or declare a tie. Reply as JSON: {\"winner\": \"1\"|\"2\"|\"tie\", \"confidence\": \"high\"|\"medium\"|\"low\", \"reasoning\": \"...\"}.\n\n")
	fmt.Fprintf(&b, "Summary 1:\n%s\n\nSummary 2:\n%s\n", first, second)
	return b.String()
}

// TournamentStats is one model's aggregated pairwise record, per spec.md
// §4.7's tournament aggregation.
type TournamentStats struct {
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	Ties    int     `json:"ties"`
	WinRate float64 `json:"win_rate"`
}

// AggregateTournament folds every PairwiseResult touching modelID into a
// win/loss/tie record.
func AggregateTournament(results []*models.PairwiseResult, modelID string) TournamentStats {
	var stats TournamentStats
	for _, r := range results {
		if r.ModelA != modelID && r.ModelB != modelID {
			continue
		}
		switch {
		case r.Winner == models.WinnerTie:
			stats.Ties++
		case (r.Winner == models.WinnerA && r.ModelA == modelID) || (r.Winner == models.WinnerB && r.ModelB == modelID):
			stats.Wins++
		default:
			stats.Losses++
		}
	}
	if total := stats.Wins + stats.Losses + stats.Ties; total > 0 {
		stats.WinRate = float64(stats.Wins) / float64(total)
	}
	return stats
}
