package iterative

import (
	"fmt"
	"strings"

	"github.com/codeready-toolchain/sumeval/pkg/embedclient"
	"github.com/codeready-toolchain/sumeval/pkg/models"
)

// queryFor derives the probe text a code unit is ranked against, the same
// "<type> <name> <language>" fallback formula
// [[pkg/evaluator/retrieval]].generateFallbackQueries uses, falling back
// to the file path for unnamed units (whole-file extraction).
func queryFor(u *models.CodeUnit) string {
	if u.Name == "" {
		return u.Path
	}
	return fmt.Sprintf("%s %s %s", u.Type, u.Name, u.Language)
}

// rankAmong returns mine's 1-based rank by cosine similarity to query
// among itself plus every competitor embedding — the narrow, single-code-
// unit ranking spec.md §4.8 needs, distinct from
// [[pkg/evaluator/retrieval]]'s whole-pool ranking.
func rankAmong(query, mine []float64, competitors [][]float64) int {
	myScore := embedclient.CosineSimilarity(query, mine)
	rank := 1
	for _, c := range competitors {
		if embedclient.CosineSimilarity(query, c) > myScore {
			rank++
		}
	}
	return rank
}

// refinementPrompt asks the generator to improve its summary given the
// code, its own current summary, every competitor's summary (anonymized,
// per spec.md §4.8 step 2c), and the rank it was just observed at.
func refinementPrompt(code, currentSummary string, competitorSummaries []string, rank int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your summary of the following code currently ranks #%d out of %d against a retrieval query compared to other models' summaries of the same code. Revise your summary to be more distinctive and accurate so it ranks higher.\n\n", rank, len(competitorSummaries)+1)
	fmt.Fprintf(&b, "Code:\n%s\n\nYour current summary:\n%s\n\n", code, currentSummary)
	if len(competitorSummaries) > 0 {
		b.WriteString("Competing summaries of the same code (anonymized):\n")
		for i, s := range competitorSummaries {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
		b.WriteString("\n")
	}
	b.WriteString("Reply with only the revised summary text, nothing else.\n")
	return b.String()
}
