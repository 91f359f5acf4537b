// Package judge implements the Judge Evaluator's two orthogonal
// protocols (spec.md §4.7): pointwise rubric scoring and a pairwise
// tournament with position-bias mitigation, both gated by
// pkg/judgeselect's self-judging exclusion.
package judge

import (
	"fmt"
)

// RubricScores holds the five 1-5 criteria spec.md §4.7 names.
type RubricScores struct {
	Accuracy         int `json:"accuracy"`
	Completeness     int `json:"completeness"`
	SemanticRichness int `json:"semantic_richness"`
	Abstraction      int `json:"abstraction"`
	Conciseness      int `json:"conciseness"`
}

// rubricWeights are the fixed weights spec.md §4.7 requires to sum to 1,
// left unspecified by the spec itself (DESIGN.md Open Question decision
// #4): accuracy and completeness weighted highest since a wrong or
// incomplete summary is a worse failure than a verbose or overly
// low-level one.
const (
	weightAccuracy         = 0.30
	weightCompleteness     = 0.25
	weightSemanticRichness = 0.20
	weightAbstraction      = 0.15
	weightConciseness      = 0.10
)

// clamp forces a rubric score into [1,5], per spec.md §4.7.
func clamp(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

// Clamp returns a copy of s with every criterion clamped to [1,5].
func (s RubricScores) Clamp() RubricScores {
	return RubricScores{
		Accuracy:         clamp(s.Accuracy),
		Completeness:     clamp(s.Completeness),
		SemanticRichness: clamp(s.SemanticRichness),
		Abstraction:      clamp(s.Abstraction),
		Conciseness:      clamp(s.Conciseness),
	}
}

// WeightedAverage computes spec.md §4.7's weightedAverage from the fixed
// criterion weights.
func (s RubricScores) WeightedAverage() float64 {
	c := s.Clamp()
	return float64(c.Accuracy)*weightAccuracy +
		float64(c.Completeness)*weightCompleteness +
		float64(c.SemanticRichness)*weightSemanticRichness +
		float64(c.Abstraction)*weightAbstraction +
		float64(c.Conciseness)*weightConciseness
}

func (s RubricScores) String() string {
	return fmt.Sprintf("accuracy=%d completeness=%d semantic_richness=%d abstraction=%d conciseness=%d",
		s.Accuracy, s.Completeness, s.SemanticRichness, s.Abstraction, s.Conciseness)
}
