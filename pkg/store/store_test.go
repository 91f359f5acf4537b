package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/sumeval/pkg/errs"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/store"
)

// backends runs every test body against both the Postgres and SQLite
// implementations, since both satisfy the same store.Store contract.
func backends(t *testing.T) map[string]store.Store {
	return map[string]store.Store{
		"sqlite":   newSQLiteStore(t),
		"postgres": newPostgresStore(t),
	}
}

func TestRunLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run, err := s.CreateRun(ctx, []byte(`{"k":"v"}`), []byte(`{"repo":"x"}`), "my-run")
			require.NoError(t, err)
			assert.Equal(t, models.RunStatusPending, run.Status)
			assert.NotEmpty(t, run.ID)

			got, err := s.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, run.ID, got.ID)
			assert.Equal(t, "my-run", got.Name)

			phase := models.PhaseExtraction
			require.NoError(t, s.UpdateRunStatus(ctx, run.ID, models.RunStatusRunning, &phase, ""))
			got, err = s.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, models.RunStatusRunning, got.Status)
			require.NotNil(t, got.CurrentPhase)
			assert.Equal(t, models.PhaseExtraction, *got.CurrentPhase)

			runs, err := s.ListRuns(ctx, nil)
			require.NoError(t, err)
			assert.NotEmpty(t, runs)

			require.NoError(t, s.DeleteRun(ctx, run.ID))
			_, err = s.GetRun(ctx, run.ID)
			assert.Error(t, err)
		})
	}
}

func TestCodeUnitsAndSummariesRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "units-run")
			require.NoError(t, err)

			unit := &models.CodeUnit{
				Path: "a.go", Name: "Foo", Type: models.CodeUnitFunction, Language: "go",
				Content: "func Foo() {}", Metadata: map[string]any{"lines": float64(1)},
			}
			require.NoError(t, s.InsertCodeUnits(ctx, run.ID, []*models.CodeUnit{unit}))
			assert.NotEmpty(t, unit.ID)

			n, err := s.CountCodeUnits(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			units, err := s.GetCodeUnits(ctx, run.ID)
			require.NoError(t, err)
			require.Len(t, units, 1)
			assert.Equal(t, "Foo", units[0].Name)
			assert.Equal(t, float64(1), units[0].Metadata["lines"])

			sum := &models.GeneratedSummary{
				CodeUnitID: unit.ID, ModelID: "anthropic/claude", Text: "summarizes Foo",
				Metadata: models.GenerationMetadata{LatencyMS: 120, InputTokens: 10, OutputTokens: 20},
			}
			require.NoError(t, s.InsertSummaries(ctx, run.ID, []*models.GeneratedSummary{sum}))

			// Conflict-policy replace: re-inserting the same (run, unit, model) updates text in place.
			sum2 := &models.GeneratedSummary{
				CodeUnitID: unit.ID, ModelID: "anthropic/claude", Text: "revised summary",
				Metadata: models.GenerationMetadata{LatencyMS: 150},
			}
			require.NoError(t, s.InsertSummaries(ctx, run.ID, []*models.GeneratedSummary{sum2}))

			got, err := s.GetSummaries(ctx, run.ID, nil)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "revised summary", got[0].Text)

			newText := "refined again"
			require.NoError(t, s.UpdateSummary(ctx, run.ID, got[0].ID, &newText, nil))
			one, err := s.GetSummary(ctx, run.ID, got[0].ID)
			require.NoError(t, err)
			assert.Equal(t, "refined again", one.Text)
		})
	}
}

func TestEvaluationAndPairwiseResults(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "eval-run")
			require.NoError(t, err)
			unit := &models.CodeUnit{Path: "a.go", Name: "Foo", Type: models.CodeUnitFunction, Language: "go", Content: "x"}
			require.NoError(t, s.InsertCodeUnits(ctx, run.ID, []*models.CodeUnit{unit}))
			sumA := &models.GeneratedSummary{CodeUnitID: unit.ID, ModelID: "m-a", Text: "a"}
			sumB := &models.GeneratedSummary{CodeUnitID: unit.ID, ModelID: "m-b", Text: "b"}
			require.NoError(t, s.InsertSummaries(ctx, run.ID, []*models.GeneratedSummary{sumA, sumB}))

			payload, _ := json.Marshal(map[string]float64{"accuracy": 4})
			result := &models.EvaluationResult{SummaryID: sumA.ID, Kind: models.EvalKindJudge, Payload: payload}
			require.NoError(t, s.InsertEvaluationResult(ctx, run.ID, result))

			kind := models.EvalKindJudge
			got, err := s.GetEvaluationResults(ctx, run.ID, &kind)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, sumA.ID, got[0].SummaryID)

			pw := &models.PairwiseResult{
				ModelA: "m-a", ModelB: "m-b", CodeUnitID: unit.ID, JudgeModel: "m-judge",
				Winner: models.WinnerA, Confidence: models.ConfidenceHigh,
				CriteriaBreakdown: map[string]float64{"accuracy": 5},
			}
			require.NoError(t, s.InsertPairwiseResults(ctx, run.ID, []*models.PairwiseResult{pw}))
			rows, err := s.GetPairwiseResults(ctx, run.ID)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, models.WinnerA, rows[0].Winner)
			assert.Equal(t, 5.0, rows[0].CriteriaBreakdown["accuracy"])
		})
	}
}

func TestDistractorsAndQueries(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "dist-run")
			require.NoError(t, err)
			target := &models.CodeUnit{Path: "a.go", Name: "Target", Type: models.CodeUnitFunction, Language: "go", Content: "x"}
			other := &models.CodeUnit{Path: "b.go", Name: "Other", Type: models.CodeUnitFunction, Language: "go", Content: "y"}
			require.NoError(t, s.InsertCodeUnits(ctx, run.ID, []*models.CodeUnit{target, other}))

			set := &models.DistractorSet{TargetCodeUnitID: target.ID, DistractorIDs: []string{other.ID}, Difficulty: models.DifficultyEasy}
			require.NoError(t, s.InsertDistractorSets(ctx, run.ID, []*models.DistractorSet{set}))
			sets, err := s.GetDistractorSets(ctx, run.ID)
			require.NoError(t, err)
			require.Len(t, sets, 1)
			assert.Equal(t, []string{other.ID}, sets[0].DistractorIDs)

			query := &models.GeneratedQuery{CodeUnitID: target.ID, Type: "usage", Text: "how do I call Target?", ShouldFind: true}
			require.NoError(t, s.InsertQueries(ctx, run.ID, []*models.GeneratedQuery{query}))
			queries, err := s.GetQueries(ctx, run.ID)
			require.NoError(t, err)
			require.Len(t, queries, 1)
			assert.True(t, queries[0].ShouldFind)
		})
	}
}

func TestAggregatedScoresUpsert(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "agg-run")
			require.NoError(t, err)

			blob, _ := json.Marshal(models.NormalizedScores{ModelID: "m-a", Overall: 0.5})
			require.NoError(t, s.SaveAggregatedScores(ctx, run.ID, "m-a", blob))
			blob2, _ := json.Marshal(models.NormalizedScores{ModelID: "m-a", Overall: 0.75})
			require.NoError(t, s.SaveAggregatedScores(ctx, run.ID, "m-a", blob2))

			scores, err := s.GetAggregatedScores(ctx, run.ID)
			require.NoError(t, err)
			require.Len(t, scores, 1)
			var ns models.NormalizedScores
			require.NoError(t, json.Unmarshal(scores[0].ScoresBlob, &ns))
			assert.Equal(t, 0.75, ns.Overall)
		})
	}
}

func TestPhaseProgressCursor(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "phase-run")
			require.NoError(t, err)

			require.NoError(t, s.StartPhase(ctx, run.ID, models.PhaseExtraction, 10))
			progress, err := s.GetPhaseProgress(ctx, run.ID, models.PhaseExtraction)
			require.NoError(t, err)
			require.NotNil(t, progress)
			assert.Equal(t, 10, progress.Total)
			assert.Equal(t, 0, progress.Completed)
			assert.Nil(t, progress.CompletedAt)

			require.NoError(t, s.UpdatePhaseProgress(ctx, run.ID, models.PhaseExtraction, 5, "unit-5"))
			// A lower completed count must never regress the cursor.
			require.NoError(t, s.UpdatePhaseProgress(ctx, run.ID, models.PhaseExtraction, 3, "unit-3"))
			progress, err = s.GetPhaseProgress(ctx, run.ID, models.PhaseExtraction)
			require.NoError(t, err)
			assert.Equal(t, 5, progress.Completed)
			assert.Equal(t, "unit-5", progress.LastProcessedID)

			require.NoError(t, s.UpdatePhaseProgress(ctx, run.ID, models.PhaseExtraction, 10, "unit-10"))
			require.NoError(t, s.CompletePhase(ctx, run.ID, models.PhaseExtraction))
			progress, err = s.GetPhaseProgress(ctx, run.ID, models.PhaseExtraction)
			require.NoError(t, err)
			assert.NotNil(t, progress.CompletedAt)
		})
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run, err := s.CreateRun(ctx, []byte("{}"), []byte("{}"), "tx-run")
			require.NoError(t, err)

			txErr := s.Transaction(ctx, func(ctx context.Context) error {
				unit := &models.CodeUnit{Path: "a.go", Name: "Foo", Type: models.CodeUnitFunction, Language: "go", Content: "x"}
				if err := s.InsertCodeUnits(ctx, run.ID, []*models.CodeUnit{unit}); err != nil {
					return err
				}
				return errs.ErrStorage
			})
			assert.Error(t, txErr)

			n, err := s.CountCodeUnits(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, n, "insert must be rolled back")
		})
	}
}
