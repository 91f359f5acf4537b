package retrieval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/sumeval/pkg/config"
	"github.com/codeready-toolchain/sumeval/pkg/embedclient"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/retrieval"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
	"github.com/codeready-toolchain/sumeval/pkg/store"
)

func newStore(t *testing.T) store.Store {
	path := t.TempDir() + "/retrieval.db"
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

func seedUnitsAndSummaries(t *testing.T, ctx context.Context, s store.Store, runID string) []*models.CodeUnit {
	units := []*models.CodeUnit{
		{RunID: runID, Path: "a.go", Name: "Alpha", Type: models.CodeUnitFunction, Language: "go", Content: "func Alpha() {}"},
		{RunID: runID, Path: "b.go", Name: "Beta", Type: models.CodeUnitFunction, Language: "go", Content: "func Beta() {}"},
	}
	require.NoError(t, s.InsertCodeUnits(ctx, runID, units))

	got, err := s.GetCodeUnits(ctx, runID)
	require.NoError(t, err)

	summaries := make([]*models.GeneratedSummary, 0, len(got)*2)
	for _, u := range got {
		summaries = append(summaries,
			&models.GeneratedSummary{RunID: runID, CodeUnitID: u.ID, ModelID: "model-a", Text: "summary of " + u.Name + " by model-a"},
			&models.GeneratedSummary{RunID: runID, CodeUnitID: u.ID, ModelID: "model-b", Text: "summary of " + u.Name + " by model-b"},
		)
	}
	require.NoError(t, s.InsertSummaries(ctx, runID, summaries))
	return got
}

func TestRetrievalEvaluatorGeneratesFallbackQueriesAndPersistsResults(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "retrieval-run")
	require.NoError(t, err)

	seedUnitsAndSummaries(t, ctx, s, run.ID)

	executors := map[models.Phase]orchestrator.PhaseExecutor{
		models.PhaseExtraction:          succeedAll(1),
		models.PhaseGeneration:          succeedAll(1),
		models.PhaseEvaluationRetrieval: retrieval.Executor(&embedclient.Stub{Model: "stub-embed", Dim: 16}),
	}
	cfg := &config.Config{Retrieval: config.RetrievalConfig{Enabled: true, Ks: []int{1, 5}}}
	o := orchestrator.New(s, executors, nil, nil)
	require.NoError(t, o.Run(ctx, run.ID, cfg))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)

	queries, err := s.GetQueries(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, queries, 2, "one fallback query per code unit")

	kind := models.EvalKindRetrieval
	results, err := s.GetEvaluationResults(ctx, run.ID, &kind)
	require.NoError(t, err)
	require.Len(t, results, 4, "one row per summary")

	payload, err := retrieval.DecodePayload(results[0].Payload)
	require.NoError(t, err)
	require.Len(t, payload.Queries, 1)
	assert.Equal(t, 4, payload.Queries[0].PoolSize)
	assert.Equal(t, 2, payload.Queries[0].TotalModels)
	assert.Contains(t, payload.Queries[0].HitAtK, 1)
	assert.Contains(t, payload.Queries[0].HitAtK, 5)
}

func TestRetrievalEvaluatorSkipsWhenDisabled(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "disabled-run")
	require.NoError(t, err)

	executors := map[models.Phase]orchestrator.PhaseExecutor{
		models.PhaseExtraction:          succeedAll(1),
		models.PhaseGeneration:          succeedAll(1),
		models.PhaseEvaluationRetrieval: retrieval.Executor(&embedclient.Stub{Model: "stub-embed", Dim: 8}),
	}
	cfg := &config.Config{Retrieval: config.RetrievalConfig{Enabled: false}}
	o := orchestrator.New(s, executors, nil, nil)
	require.NoError(t, o.Run(ctx, run.ID, cfg))

	kind := models.EvalKindRetrieval
	results, err := s.GetEvaluationResults(ctx, run.ID, &kind)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrievalEvaluatorIsWinnerReflectsGlobalRank(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "winner-run")
	require.NoError(t, err)

	seedUnitsAndSummaries(t, ctx, s, run.ID)

	executors := map[models.Phase]orchestrator.PhaseExecutor{
		models.PhaseExtraction:          succeedAll(1),
		models.PhaseGeneration:          succeedAll(1),
		models.PhaseEvaluationRetrieval: retrieval.Executor(&embedclient.Stub{Model: "stub-embed", Dim: 16}),
	}
	cfg := &config.Config{Retrieval: config.RetrievalConfig{Enabled: true, Ks: []int{1}}}
	o := orchestrator.New(s, executors, nil, nil)
	require.NoError(t, o.Run(ctx, run.ID, cfg))

	kind := models.EvalKindRetrieval
	results, err := s.GetEvaluationResults(ctx, run.ID, &kind)
	require.NoError(t, err)

	winners := 0
	for _, r := range results {
		payload, err := retrieval.DecodePayload(r.Payload)
		require.NoError(t, err)
		for _, q := range payload.Queries {
			if q.IsWinner {
				winners++
			}
			assert.Equal(t, q.ModelRank == 1, q.IsWinner)
		}
	}
	// Exactly one model wins the competition for each of the two targets.
	assert.Equal(t, 2, winners)
}
