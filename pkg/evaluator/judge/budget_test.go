package judge

import (
	"strconv"
	"testing"
)

// TestStratifySampleRespectsComparisonBudget covers the 4-generator,
// 6-pair, 600-comparison scenario: each pair must be capped at 50 tasks
// (100 comparisons), not 100 tasks (200 comparisons), since capLimit
// counts comparisons and every task expands into two.
func TestStratifySampleRespectsComparisonBudget(t *testing.T) {
	models := []string{"gpt-4o", "claude-3-5-sonnet", "gemini-1.5-pro", "llama-3"}
	var pairs [][2]string
	for i := 0; i < len(models); i++ {
		for j := i + 1; j < len(models); j++ {
			pairs = append(pairs, [2]string{models[i], models[j]})
		}
	}
	if len(pairs) != 6 {
		t.Fatalf("expected 6 model pairs, got %d", len(pairs))
	}

	const unitsPerPair = 600
	var tasks []PairTask
	for _, p := range pairs {
		for u := 0; u < unitsPerPair; u++ {
			tasks = append(tasks, PairTask{ModelA: p[0], ModelB: p[1], CodeUnitID: "u" + strconv.Itoa(u)})
		}
	}

	sampled := StratifySample(tasks, MaxComparisonsPerJudge)

	perPair := map[string]int{}
	for _, s := range sampled {
		perPair[pairKey(s.ModelA, s.ModelB)]++
	}
	for k, n := range perPair {
		if n != 50 {
			t.Errorf("pair %s: got %d tasks, want 50 (comparisons=%d)", k, n, n*2)
		}
	}

	totalComparisons := len(sampled) * 2
	if totalComparisons != 600 {
		t.Errorf("total comparisons = %d, want 600 (the configured hard cap)", totalComparisons)
	}
}

