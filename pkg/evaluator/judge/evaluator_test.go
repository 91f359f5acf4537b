package judge_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/sumeval/pkg/config"
	"github.com/codeready-toolchain/sumeval/pkg/evaluator/judge"
	"github.com/codeready-toolchain/sumeval/pkg/llmclient"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
	"github.com/codeready-toolchain/sumeval/pkg/statemachine"
	"github.com/codeready-toolchain/sumeval/pkg/store"
)

// fixedJudge always answers the same content, regardless of prompt, so
// tests can assert on deterministic pointwise/pairwise parsing.
type fixedJudge struct {
	content string
}

func (f *fixedJudge) Complete(ctx context.Context, messages []llmclient.Message, opts llmclient.Options) (llmclient.Completion, error) {
	return llmclient.Completion{Content: f.content, Model: "fixed"}, nil
}

func newStore(t *testing.T) store.Store {
	path := t.TempDir() + "/judge.db"
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

const pointwiseJSON = `{"accuracy":5,"completeness":4,"semantic_richness":4,"abstraction":3,"conciseness":5,"rationale":"solid"}`
const pairwiseJSON = `{"winner":"1","confidence":"high","reasoning":"first is clearer"}`

func resolverFor(content string) llmclient.Resolver {
	return func(modelID string) (llmclient.Client, error) {
		return &fixedJudge{content: content}, nil
	}
}

func seedOneUnitTwoSummaries(t *testing.T, ctx context.Context, s store.Store, runID string) *models.CodeUnit {
	units := []*models.CodeUnit{
		{RunID: runID, Path: "f.go", Name: "Fn", Type: models.CodeUnitFunction, Language: "go", Content: "func Fn() {}"},
	}
	require.NoError(t, s.InsertCodeUnits(ctx, runID, units))
	got, err := s.GetCodeUnits(ctx, runID)
	require.NoError(t, err)
	unit := got[0]

	require.NoError(t, s.InsertSummaries(ctx, runID, []*models.GeneratedSummary{
		{RunID: runID, CodeUnitID: unit.ID, ModelID: "gpt-4o", Text: "summary from gpt-4o"},
		{RunID: runID, CodeUnitID: unit.ID, ModelID: "claude-3-5-sonnet", Text: "summary from claude"},
	}))
	return unit
}

func executorsWith(exec orchestrator.PhaseExecutor) map[models.Phase]orchestrator.PhaseExecutor {
	return map[models.Phase]orchestrator.PhaseExecutor{
		models.PhaseExtraction:            succeedAll(1),
		models.PhaseGeneration:            succeedAll(1),
		models.PhaseEvaluationIterative:   succeedAll(0),
		models.PhaseEvaluationJudge:       exec,
		models.PhaseEvaluationContrastive: succeedAll(0),
		models.PhaseEvaluationRetrieval:   succeedAll(0),
		models.PhaseEvaluationDownstream:  succeedAll(0),
		models.PhaseEvaluationSelf:        succeedAll(0),
		models.PhaseAggregation:           succeedAll(0),
		models.PhaseReporting:             succeedAll(0),
	}
}

func TestJudgeEvaluatorSkipsWhenDisabled(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "disabled-run")
	require.NoError(t, err)

	cfg := &config.Config{Judge: config.JudgeConfig{Enabled: false}}
	o := orchestrator.New(s, executorsWith(judge.Executor(resolverFor(pointwiseJSON))), nil, nil)
	require.NoError(t, o.Run(ctx, run.ID, cfg))

	progress, err := s.GetPhaseProgress(ctx, run.ID, models.PhaseEvaluationJudge)
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.NotNil(t, progress.CompletedAt)
	assert.Zero(t, progress.Total)
}

func TestJudgeEvaluatorScoresPointwiseForEveryNonSelfJudge(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "pointwise-run")
	require.NoError(t, err)

	seedOneUnitTwoSummaries(t, ctx, s, run.ID)

	cfg := &config.Config{Judge: config.JudgeConfig{
		Enabled:                true,
		Models:                 []string{"gpt-4o", "claude-3-5-sonnet", "gemini-1.5-pro"},
		MinJudges:              2,
		MaxComparisonsPerJudge: judge.MaxComparisonsPerJudge,
	}}
	o := orchestrator.New(s, executorsWith(judge.Executor(resolverFor(pointwiseJSON))), nil, nil)
	require.NoError(t, o.Run(ctx, run.ID, cfg))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)

	kind := models.EvalKindJudge
	results, err := s.GetEvaluationResults(ctx, run.ID, &kind)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for _, r := range results {
		payload, err := judge.DecodePayload(r.Payload)
		require.NoError(t, err)
		assert.NotEmpty(t, payload.Pointwise.JudgeModel)
		assert.InDelta(t, 4.25, payload.Pointwise.WeightedAverage, 0.01)
	}
}

func TestJudgeEvaluatorRunsPairwiseTournamentBothOrderings(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "pairwise-run")
	require.NoError(t, err)

	seedOneUnitTwoSummaries(t, ctx, s, run.ID)

	cfg := &config.Config{Judge: config.JudgeConfig{
		Enabled:                true,
		Models:                 []string{"gemini-1.5-pro"},
		MinJudges:              1,
		MaxComparisonsPerJudge: judge.MaxComparisonsPerJudge,
	}}
	o := orchestrator.New(s, executorsWith(judge.Executor(resolverFor(pairwiseJSON))), nil, nil)
	require.NoError(t, o.Run(ctx, run.ID, cfg))

	pairwise, err := s.GetPairwiseResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, pairwise, 2, "one comparison per position ordering")

	swapped := map[bool]bool{}
	for _, r := range pairwise {
		swapped[r.PositionSwapped] = true
		assert.Equal(t, "gemini-1.5-pro", r.JudgeModel)
	}
	assert.True(t, swapped[true])
	assert.True(t, swapped[false])

	stats := judge.AggregateTournament(pairwise, "gpt-4o")
	assert.Equal(t, stats.Wins+stats.Losses+stats.Ties, 2)
}

func TestJudgeEvaluatorResumesWithoutRescoring(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "resume-run")
	require.NoError(t, err)

	seedOneUnitTwoSummaries(t, ctx, s, run.ID)

	cfg := &config.Config{Judge: config.JudgeConfig{
		Enabled:                true,
		Models:                 []string{"gpt-4o", "claude-3-5-sonnet", "gemini-1.5-pro"},
		MinJudges:              2,
		MaxComparisonsPerJudge: judge.MaxComparisonsPerJudge,
	}}
	o := orchestrator.New(s, executorsWith(judge.Executor(resolverFor(pointwiseJSON))), nil, nil)
	require.NoError(t, o.Run(ctx, run.ID, cfg))

	kind := models.EvalKindJudge
	before, err := s.GetEvaluationResults(ctx, run.ID, &kind)
	require.NoError(t, err)

	phase := models.PhaseEvaluationJudge
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusPaused, &phase, ""))

	o2 := orchestrator.New(s, executorsWith(judge.Executor(resolverFor(pointwiseJSON))), nil, nil)
	require.NoError(t, o2.Run(ctx, run.ID, cfg))

	after, err := s.GetEvaluationResults(ctx, run.ID, &kind)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after), fmt.Sprintf("resumed run must not duplicate already-scored (summary, judge) pairs: before=%d after=%d", len(before), len(after)))
}

// countingResolver returns a Resolver whose Client cancels cancel() the
// Nth call it serves (simulating a process crash mid-phase) while still
// answering that call normally. Every result before the crash point is
// persisted; the crash-point answer is dropped (its insert runs under the
// canceled ctx and counts as a failure), and the next ctx.Err() check
// breaks the remaining loop. This reproduces spec S6 (partial progress,
// completed_at IS NULL) rather than a full pass followed by a pause.
func countingResolver(content string, cancelAfter int, cancel func()) llmclient.Resolver {
	var mu sync.Mutex
	calls := 0
	client := &countingJudge{content: content, onCall: func() {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == cancelAfter {
			cancel()
		}
	}}
	return func(modelID string) (llmclient.Client, error) { return client, nil }
}

type countingJudge struct {
	content string
	onCall  func()
}

func (c *countingJudge) Complete(ctx context.Context, messages []llmclient.Message, opts llmclient.Options) (llmclient.Completion, error) {
	c.onCall()
	return llmclient.Completion{Content: c.content, Model: "fixed"}, nil
}

func seedTwoUnitsThreeModels(t *testing.T, ctx context.Context, s store.Store, runID string) {
	units := []*models.CodeUnit{
		{RunID: runID, Path: "a.go", Name: "A", Type: models.CodeUnitFunction, Language: "go", Content: "func A() {}"},
		{RunID: runID, Path: "b.go", Name: "B", Type: models.CodeUnitFunction, Language: "go", Content: "func B() {}"},
	}
	require.NoError(t, s.InsertCodeUnits(ctx, runID, units))
	got, err := s.GetCodeUnits(ctx, runID)
	require.NoError(t, err)

	var summaries []*models.GeneratedSummary
	for _, u := range got {
		for _, m := range []string{"gpt-4o", "claude-3-5-sonnet", "gemini-1.5-pro"} {
			summaries = append(summaries, &models.GeneratedSummary{RunID: runID, CodeUnitID: u.ID, ModelID: m, Text: "summary from " + m})
		}
	}
	require.NoError(t, s.InsertSummaries(ctx, runID, summaries))
}

// TestJudgeEvaluatorResumesAfterMidPhaseCrash exercises the real resume
// path the orchestrator never reaches in
// TestJudgeEvaluatorResumesWithoutRescoring: the executor invoked directly
// a first time, crashing (via ctx cancellation) partway through, leaving
// PhaseProgress with completed < total and completed_at unset; invoked
// again with a fresh context, it must pick up exactly where it left off
// and report a completed count that lets CompletePhase succeed.
func TestJudgeEvaluatorResumesAfterMidPhaseCrash(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "crash-resume-run")
	require.NoError(t, err)
	seedTwoUnitsThreeModels(t, ctx, s, run.ID)

	cfg := &config.Config{Judge: config.JudgeConfig{
		Enabled:                true,
		Models:                 []string{"gpt-4o", "claude-3-5-sonnet", "gemini-1.5-pro"},
		MinJudges:              2,
		MaxComparisonsPerJudge: judge.MaxComparisonsPerJudge,
	}}

	sm := statemachine.New(s)
	for _, p := range []models.Phase{models.PhaseExtraction, models.PhaseGeneration, models.PhaseEvaluationIterative} {
		require.NoError(t, sm.StartPhase(ctx, run.ID, p, 0))
		require.NoError(t, sm.CompletePhase(ctx, run.ID, p, true))
	}
	run.CurrentPhase = new(models.Phase)
	*run.CurrentPhase = models.PhaseEvaluationJudge
	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning, run.CurrentPhase, ""))

	crashCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	exec := judge.Executor(countingResolver(pointwiseJSON, 5, cancel))
	_, err = exec(crashCtx, orchestrator.ExecutorDeps{Store: s, Run: run, Config: cfg, StateMachine: sm})
	require.NoError(t, err)

	mid, err := s.GetPhaseProgress(ctx, run.ID, models.PhaseEvaluationJudge)
	require.NoError(t, err)
	require.NotNil(t, mid)
	assert.Nil(t, mid.CompletedAt, "a crashed phase must not be marked complete")
	assert.Less(t, mid.Completed, mid.Total, "only part of the phase should have run before the simulated crash")

	exec2 := judge.Executor(resolverFor(pointwiseJSON))
	_, err = exec2(ctx, orchestrator.ExecutorDeps{Store: s, Run: run, Config: cfg, StateMachine: sm})
	require.NoError(t, err)

	final, err := s.GetPhaseProgress(ctx, run.ID, models.PhaseEvaluationJudge)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, final.Total, final.Completed, "resumed executor must account for work already done before the crash")

	require.NoError(t, sm.CompletePhase(ctx, run.ID, models.PhaseEvaluationJudge, false),
		"CompletePhase must accept a resumed phase whose completed count reflects pre-crash progress")
}
