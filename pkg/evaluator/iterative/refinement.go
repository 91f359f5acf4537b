// Package iterative implements the Iterative Refinement evaluator
// (spec.md §4.8): give a generator up to maxRounds attempts to move its
// summary's rank among competitors for the same code unit to within a
// target rank, feeding the observed rank back into a refinement prompt
// each round it falls short.
package iterative

import "math"

// effectiveTargetRank narrows the configured target rank to what's
// actually achievable against the observed competitor count, per spec.md
// §4.8 step 1: with one competitor (two candidates total) and a
// configured target of 3, the effective target is 1 — a pass requires
// outranking the competitor outright.
func effectiveTargetRank(configured, competitors int) int {
	ceiling := int(math.Ceil(float64(competitors+1) * 0.5))
	if ceiling < 1 {
		ceiling = 1
	}
	if configured < ceiling {
		return configured
	}
	return ceiling
}

// refinementScore converts a rounds-to-success count into spec.md §4.8's
// decreasing score, 1/log2(rounds+2) — 1.0 for a zero-round pass, falling
// off as more rounds were needed.
func refinementScore(rounds int) float64 {
	return 1.0 / math.Log2(float64(rounds)+2.0)
}
