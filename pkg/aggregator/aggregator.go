// Package aggregator implements the Aggregator (spec.md §4.9): it reads
// every evaluation and pairwise row for a Run and collapses them into one
// NormalizedScores record per model.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/sumeval/pkg/config"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/contrastive"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/iterative"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/judge"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/retrieval"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
)

// Executor returns the PhaseExecutor for spec.md §4.9's Aggregator.
func Executor() orchestrator.PhaseExecutor {
	return func(ctx context.Context, deps orchestrator.ExecutorDeps) (orchestrator.PhaseResult, error) {
		summaries, err := deps.Store.GetSummaries(ctx, deps.Run.ID, nil)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("aggregator: load summaries: %w", err)
		}
		if len(summaries) == 0 {
			return orchestrator.PhaseResult{Success: true, SkipReason: "no summaries to aggregate"}, nil
		}

		summaryByID := make(map[string]*models.GeneratedSummary, len(summaries))
		modelIDs := make([]string, 0)
		seenModel := map[string]bool{}
		for _, s := range summaries {
			summaryByID[s.ID] = s
			if !seenModel[s.ModelID] {
				seenModel[s.ModelID] = true
				modelIDs = append(modelIDs, s.ModelID)
			}
		}

		judgeResults, err := evalResultsByKind(ctx, deps, models.EvalKindJudge)
		if err != nil {
			return orchestrator.PhaseResult{}, err
		}
		contrastiveResults, err := evalResultsByKind(ctx, deps, models.EvalKindContrastive)
		if err != nil {
			return orchestrator.PhaseResult{}, err
		}
		retrievalResults, err := evalResultsByKind(ctx, deps, models.EvalKindRetrieval)
		if err != nil {
			return orchestrator.PhaseResult{}, err
		}
		iterativeResults, err := evalResultsByKind(ctx, deps, models.EvalKindIterative)
		if err != nil {
			return orchestrator.PhaseResult{}, err
		}
		pairwiseResults, err := deps.Store.GetPairwiseResults(ctx, deps.Run.ID)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("aggregator: load pairwise results: %w", err)
		}

		weights := deps.Config.Weights
		if err := deps.StateMachine.StartPhase(ctx, deps.Run.ID, models.PhaseAggregation, len(modelIDs)); err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("aggregator: start phase: %w", err)
		}

		var failures []orchestrator.FailureDetail
		completed := 0
		for _, modelID := range modelIDs {
			scores, err := scoreModel(modelID, summaryByID, judgeResults, contrastiveResults, retrievalResults, iterativeResults, pairwiseResults, weights)
			if err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: modelID, Err: err})
				continue
			}
			blob, err := json.Marshal(scores)
			if err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: modelID, Err: err})
				continue
			}
			if err := deps.Store.SaveAggregatedScores(ctx, deps.Run.ID, modelID, blob); err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: modelID, Err: err})
				continue
			}
			completed++
			if deps.Progress != nil {
				deps.Progress(models.PhaseAggregation, completed, len(modelIDs), modelID)
			}
			_ = deps.StateMachine.UpdateProgress(ctx, deps.Run.ID, models.PhaseAggregation, completed, modelID)
		}

		return orchestrator.PhaseResult{Success: true, ItemsProcessed: completed, Failures: failures}, nil
	}
}

func evalResultsByKind(ctx context.Context, deps orchestrator.ExecutorDeps, kind models.EvaluationKind) ([]*models.EvaluationResult, error) {
	results, err := deps.Store.GetEvaluationResults(ctx, deps.Run.ID, &kind)
	if err != nil {
		return nil, fmt.Errorf("aggregator: load %s results: %w", kind, err)
	}
	return results, nil
}

// scoreModel computes one model's NormalizedScores, per spec.md §4.9's
// per-category formulas.
func scoreModel(modelID string, summaryByID map[string]*models.GeneratedSummary, judgeResults, contrastiveResults, retrievalResults, iterativeResults []*models.EvaluationResult, pairwiseResults []*models.PairwiseResult, weights config.WeightsConfig) (models.NormalizedScores, error) {
	judgeScores, err := scoreJudge(modelID, summaryByID, judgeResults, pairwiseResults)
	if err != nil {
		return models.NormalizedScores{}, err
	}
	contrastiveScores, err := scoreContrastive(modelID, summaryByID, contrastiveResults)
	if err != nil {
		return models.NormalizedScores{}, err
	}
	retrievalScores, err := scoreRetrieval(modelID, summaryByID, retrievalResults)
	if err != nil {
		return models.NormalizedScores{}, err
	}
	iterativeScores, err := scoreIterative(modelID, summaryByID, iterativeResults)
	if err != nil {
		return models.NormalizedScores{}, err
	}

	overall := weights.Judge*judgeScores.Combined +
		weights.Contrastive*contrastiveScores.Combined +
		weights.Retrieval*retrievalScores.Combined
	if iterativeScores != nil {
		overall += weights.Iterative * iterativeScores.AvgRefinementScore
	}

	return models.NormalizedScores{
		ModelID:     modelID,
		Judge:       judgeScores,
		Contrastive: contrastiveScores,
		Retrieval:   retrievalScores,
		Iterative:   iterativeScores,
		Overall:     overall,
	}, nil
}

// scoreJudge computes spec.md §4.9's judge.pointwise / pairwise / combined
// triple: pointwise is the mean of every pointwise weighted average
// (scaled to [0,1]) recorded for this model's summaries; pairwise is the
// model's tournament win_rate across every PairwiseResult it appears in.
func scoreJudge(modelID string, summaryByID map[string]*models.GeneratedSummary, judgeResults []*models.EvaluationResult, pairwiseResults []*models.PairwiseResult) (models.JudgeScores, error) {
	var sum float64
	var n int
	for _, r := range judgeResults {
		s := summaryByID[r.SummaryID]
		if s == nil || s.ModelID != modelID {
			continue
		}
		payload, err := judge.DecodePayload(r.Payload)
		if err != nil {
			return models.JudgeScores{}, fmt.Errorf("aggregator: decode judge payload: %w", err)
		}
		sum += payload.Pointwise.WeightedAverage / 5.0
		n++
	}
	var pointwise float64
	if n > 0 {
		pointwise = sum / float64(n)
	}

	pairwise := judge.AggregateTournament(pairwiseResults, modelID).WinRate

	return models.JudgeScores{
		Pointwise: pointwise,
		Pairwise:  pairwise,
		Combined:  0.4*pointwise + 0.6*pairwise,
	}, nil
}

// scoreContrastive computes spec.md §4.9's contrastive.embedding / llm /
// combined triple. A method missing entirely for this model contributes
// 0 weight to combined rather than 0 accuracy, per the spec's "missing
// method contributes 0 weight" rule.
func scoreContrastive(modelID string, summaryByID map[string]*models.GeneratedSummary, contrastiveResults []*models.EvaluationResult) (models.ContrastiveScores, error) {
	var embSum, llmSum float64
	var embN, llmN int
	for _, r := range contrastiveResults {
		s := summaryByID[r.SummaryID]
		if s == nil || s.ModelID != modelID {
			continue
		}
		payload, err := contrastive.DecodePayload(r.Payload)
		if err != nil {
			return models.ContrastiveScores{}, fmt.Errorf("aggregator: decode contrastive payload: %w", err)
		}
		if payload.Embedding != nil {
			if payload.Embedding.Correct {
				embSum++
			}
			embN++
		}
		if payload.LLM != nil {
			if payload.LLM.Correct {
				llmSum++
			}
			llmN++
		}
	}

	var embAccuracy, llmAccuracy float64
	if embN > 0 {
		embAccuracy = embSum / float64(embN)
	}
	if llmN > 0 {
		llmAccuracy = llmSum / float64(llmN)
	}

	var combined float64
	switch {
	case embN > 0 && llmN > 0:
		combined = 0.5*embAccuracy + 0.5*llmAccuracy
	case embN > 0:
		combined = embAccuracy
	case llmN > 0:
		combined = llmAccuracy
	}

	return models.ContrastiveScores{
		Embedding: embAccuracy,
		LLM:       llmAccuracy,
		Combined:  combined,
	}, nil
}

// scoreRetrieval computes spec.md §4.9's retrieval metrics by averaging
// every QueryMetric recorded across this model's retrieval rows, reusing
// [[pkg/evaluator/retrieval]]'s own Aggregate helper.
func scoreRetrieval(modelID string, summaryByID map[string]*models.GeneratedSummary, retrievalResults []*models.EvaluationResult) (models.RetrievalScores, error) {
	var metrics []retrieval.QueryMetric
	for _, r := range retrievalResults {
		s := summaryByID[r.SummaryID]
		if s == nil || s.ModelID != modelID {
			continue
		}
		payload, err := retrieval.DecodePayload(r.Payload)
		if err != nil {
			return models.RetrievalScores{}, fmt.Errorf("aggregator: decode retrieval payload: %w", err)
		}
		metrics = append(metrics, payload.Queries...)
	}
	if len(metrics) == 0 {
		return models.RetrievalScores{}, nil
	}

	agg := retrieval.Aggregate(metrics)
	p1, p5 := agg.HitAtK[1], agg.HitAtK[5]

	return models.RetrievalScores{
		PrecisionAt1: p1,
		PrecisionAt5: p5,
		MRR:          agg.ReciprocalRank,
		WinRate:      agg.WinRate,
		Combined:     0.3*p1 + 0.4*p5 + 0.3*agg.ReciprocalRank,
	}, nil
}

// scoreIterative computes spec.md §4.9's optional iterative-refinement
// summary stats, returning nil when this model has no iterative rows —
// the evaluator's own Non-goals let a Run disable it entirely.
func scoreIterative(modelID string, summaryByID map[string]*models.GeneratedSummary, iterativeResults []*models.EvaluationResult) (*models.IterativeScores, error) {
	var roundsSum, refinementSum float64
	var successes, n int
	for _, r := range iterativeResults {
		s := summaryByID[r.SummaryID]
		if s == nil || s.ModelID != modelID {
			continue
		}
		payload, err := iterative.DecodePayload(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("aggregator: decode iterative payload: %w", err)
		}
		roundsSum += float64(payload.Result.Rounds)
		refinementSum += payload.Result.RefinementScore
		if payload.Result.Success {
			successes++
		}
		n++
	}
	if n == 0 {
		return nil, nil
	}
	return &models.IterativeScores{
		AvgRounds:          roundsSum / float64(n),
		SuccessRate:        float64(successes) / float64(n),
		AvgRefinementScore: refinementSum / float64(n),
	}, nil
}
