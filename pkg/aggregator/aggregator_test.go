package aggregator_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/sumeval/pkg/aggregator"
	"github.com/codeready-toolchain/sumeval/pkg/config"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/contrastive"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/iterative"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/judge"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/retrieval"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
	"github.com/codeready-toolchain/sumeval/pkg/store"
)

func newStore(t *testing.T) store.Store {
	path := t.TempDir() + "/aggregator.db"
	s, err := store.NewSQLiteStore(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func succeedAll(items int) orchestrator.PhaseExecutor {
	return func(ctx context.Context, deps orchestrator.ExecutorDeps) (orchestrator.PhaseResult, error) {
		phase := *deps.Run.CurrentPhase
		if err := deps.StateMachine.StartPhase(ctx, deps.Run.ID, phase, items); err != nil {
			return orchestrator.PhaseResult{}, err
		}
		if err := deps.StateMachine.UpdateProgress(ctx, deps.Run.ID, phase, items, "last"); err != nil {
			return orchestrator.PhaseResult{}, err
		}
		return orchestrator.PhaseResult{Success: true, ItemsProcessed: items}, nil
	}
}

func executorsWith(exec orchestrator.PhaseExecutor) map[models.Phase]orchestrator.PhaseExecutor {
	return map[models.Phase]orchestrator.PhaseExecutor{
		models.PhaseExtraction:            succeedAll(1),
		models.PhaseGeneration:            succeedAll(1),
		models.PhaseEvaluationIterative:   succeedAll(0),
		models.PhaseEvaluationJudge:       succeedAll(0),
		models.PhaseEvaluationContrastive: succeedAll(0),
		models.PhaseEvaluationRetrieval:   succeedAll(0),
		models.PhaseEvaluationDownstream:  succeedAll(0),
		models.PhaseEvaluationSelf:        succeedAll(0),
		models.PhaseAggregation:           exec,
		models.PhaseReporting:             succeedAll(0),
	}
}

func TestAggregatorSkipsWhenNoSummaries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "empty-run")
	require.NoError(t, err)

	o := orchestrator.New(s, executorsWith(aggregator.Executor()), nil, nil)
	require.NoError(t, o.Run(ctx, run.ID, &config.Config{}))

	progress, err := s.GetPhaseProgress(ctx, run.ID, models.PhaseAggregation)
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.NotNil(t, progress.CompletedAt)
	assert.Zero(t, progress.Total)
}

func TestAggregatorCombinesEveryCategoryPerModel(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "combine-run")
	require.NoError(t, err)

	require.NoError(t, s.InsertCodeUnits(ctx, run.ID, []*models.CodeUnit{
		{RunID: run.ID, Path: "f.go", Name: "Fn", Type: models.CodeUnitFunction, Language: "go", Content: "func Fn() {}"},
	}))
	units, err := s.GetCodeUnits(ctx, run.ID)
	require.NoError(t, err)
	unit := units[0]

	require.NoError(t, s.InsertSummaries(ctx, run.ID, []*models.GeneratedSummary{
		{RunID: run.ID, CodeUnitID: unit.ID, ModelID: "model-a", Text: "summary a"},
		{RunID: run.ID, CodeUnitID: unit.ID, ModelID: "model-b", Text: "summary b"},
	}))
	summaries, err := s.GetSummaries(ctx, run.ID, nil)
	require.NoError(t, err)
	var summaryA, summaryB *models.GeneratedSummary
	for _, sm := range summaries {
		switch sm.ModelID {
		case "model-a":
			summaryA = sm
		case "model-b":
			summaryB = sm
		}
	}
	require.NotNil(t, summaryA)
	require.NotNil(t, summaryB)

	// Judge pointwise: model-a scores a perfect 5 on every criterion (=1.0
	// normalized), model-b scores a flat 3 (=0.6 normalized).
	judgePayloadA, err := judge.Payload{Pointwise: judge.PointwiseResult{JudgeModel: "judge-1", WeightedAverage: 5.0}}.Marshal()
	require.NoError(t, err)
	judgePayloadB, err := judge.Payload{Pointwise: judge.PointwiseResult{JudgeModel: "judge-1", WeightedAverage: 3.0}}.Marshal()
	require.NoError(t, err)
	require.NoError(t, s.InsertEvaluationResult(ctx, run.ID, &models.EvaluationResult{RunID: run.ID, SummaryID: summaryA.ID, Kind: models.EvalKindJudge, Payload: judgePayloadA}))
	require.NoError(t, s.InsertEvaluationResult(ctx, run.ID, &models.EvaluationResult{RunID: run.ID, SummaryID: summaryB.ID, Kind: models.EvalKindJudge, Payload: judgePayloadB}))

	// Pairwise: model-a beats model-b in both orderings.
	require.NoError(t, s.InsertPairwiseResults(ctx, run.ID, []*models.PairwiseResult{
		{RunID: run.ID, ModelA: "model-a", ModelB: "model-b", CodeUnitID: unit.ID, JudgeModel: "judge-1", Winner: models.WinnerA, PositionSwapped: false},
		{RunID: run.ID, ModelA: "model-a", ModelB: "model-b", CodeUnitID: unit.ID, JudgeModel: "judge-1", Winner: models.WinnerA, PositionSwapped: true},
	}))

	// Contrastive: model-a correct on both methods, model-b wrong on both.
	contrastivePayloadA, err := contrastive.Payload{
		Embedding: &contrastive.EmbeddingResult{Correct: true},
		LLM:       &contrastive.LLMResult{Correct: true},
	}.Marshal()
	require.NoError(t, err)
	contrastivePayloadB, err := contrastive.Payload{
		Embedding: &contrastive.EmbeddingResult{Correct: false},
		LLM:       &contrastive.LLMResult{Correct: false},
	}.Marshal()
	require.NoError(t, err)
	require.NoError(t, s.InsertEvaluationResult(ctx, run.ID, &models.EvaluationResult{RunID: run.ID, SummaryID: summaryA.ID, Kind: models.EvalKindContrastive, Payload: contrastivePayloadA}))
	require.NoError(t, s.InsertEvaluationResult(ctx, run.ID, &models.EvaluationResult{RunID: run.ID, SummaryID: summaryB.ID, Kind: models.EvalKindContrastive, Payload: contrastivePayloadB}))

	// Retrieval: model-a always hits @1, model-b never does.
	retrievalPayloadA, err := retrieval.Payload{ModelID: "model-a", Queries: []retrieval.QueryMetric{
		{QueryID: "q1", HitAtK: map[int]bool{1: true, 5: true}, ReciprocalRank: 1.0, ModelRank: 1, IsWinner: true},
	}}.Marshal()
	require.NoError(t, err)
	retrievalPayloadB, err := retrieval.Payload{ModelID: "model-b", Queries: []retrieval.QueryMetric{
		{QueryID: "q1", HitAtK: map[int]bool{1: false, 5: false}, ReciprocalRank: 0.2, ModelRank: 5, IsWinner: false},
	}}.Marshal()
	require.NoError(t, err)
	require.NoError(t, s.InsertEvaluationResult(ctx, run.ID, &models.EvaluationResult{RunID: run.ID, SummaryID: summaryA.ID, Kind: models.EvalKindRetrieval, Payload: retrievalPayloadA}))
	require.NoError(t, s.InsertEvaluationResult(ctx, run.ID, &models.EvaluationResult{RunID: run.ID, SummaryID: summaryB.ID, Kind: models.EvalKindRetrieval, Payload: retrievalPayloadB}))

	// Iterative: only model-a has a row.
	iterativePayloadA, err := iterative.Payload{Result: iterative.Result{Rounds: 1, Success: true, RefinementScore: 0.6}}.Marshal()
	require.NoError(t, err)
	require.NoError(t, s.InsertEvaluationResult(ctx, run.ID, &models.EvaluationResult{RunID: run.ID, SummaryID: summaryA.ID, Kind: models.EvalKindIterative, Payload: iterativePayloadA}))

	cfg := &config.Config{Weights: config.WeightsConfig{Judge: 0.4, Contrastive: 0.3, Retrieval: 0.2, Iterative: 0.1}}
	o := orchestrator.New(s, executorsWith(aggregator.Executor()), nil, nil)
	require.NoError(t, o.Run(ctx, run.ID, cfg))

	scores, err := s.GetAggregatedScores(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, scores, 2)

	byModel := make(map[string]models.NormalizedScores, 2)
	for _, row := range scores {
		decoded, err := decodeScores(row.ScoresBlob)
		require.NoError(t, err)
		byModel[row.ModelID] = decoded
	}

	a := byModel["model-a"]
	assert.InDelta(t, 1.0, a.Judge.Pointwise, 0.0001)
	assert.InDelta(t, 1.0, a.Judge.Pairwise, 0.0001)
	assert.InDelta(t, 1.0, a.Judge.Combined, 0.0001)
	assert.InDelta(t, 1.0, a.Contrastive.Embedding, 0.0001)
	assert.InDelta(t, 1.0, a.Contrastive.LLM, 0.0001)
	assert.InDelta(t, 1.0, a.Contrastive.Combined, 0.0001)
	assert.InDelta(t, 1.0, a.Retrieval.PrecisionAt1, 0.0001)
	require.NotNil(t, a.Iterative)
	assert.InDelta(t, 0.6, a.Iterative.AvgRefinementScore, 0.0001)
	assert.InDelta(t, 0.4*1.0+0.3*1.0+0.2*a.Retrieval.Combined+0.1*0.6, a.Overall, 0.0001)

	b := byModel["model-b"]
	assert.InDelta(t, 0.6, b.Judge.Pointwise, 0.0001)
	assert.InDelta(t, 0.0, b.Judge.Pairwise, 0.0001)
	assert.InDelta(t, 0.0, b.Contrastive.Combined, 0.0001)
	assert.Nil(t, b.Iterative, "model-b never ran the iterative evaluator")
}

func decodeScores(blob []byte) (models.NormalizedScores, error) {
	var out models.NormalizedScores
	err := json.Unmarshal(blob, &out)
	return out, err
}
