package contrastive

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/codeready-toolchain/sumeval/pkg/config"
	"github.com/codeready-toolchain/sumeval/pkg/embedclient"
	"github.com/codeready-toolchain/sumeval/pkg/llmclient"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
)

const minLargestCohort = 5

// Executor returns the PhaseExecutor for spec.md §4.6's Contrastive
// Matching evaluator. judge may be nil when cfg.Method never requires the
// LLM method (config validation is the caller's responsibility).
func Executor(embed embedclient.Client, judge llmclient.Client) orchestrator.PhaseExecutor {
	return func(ctx context.Context, deps orchestrator.ExecutorDeps) (orchestrator.PhaseResult, error) {
		cfg := deps.Config.Contrastive
		if !cfg.Enabled {
			return orchestrator.PhaseResult{Success: true, SkipReason: "contrastive evaluator disabled"}, nil
		}

		units, err := deps.Store.GetCodeUnits(ctx, deps.Run.ID)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("contrastive: load code units: %w", err)
		}
		unitByID := make(map[string]*models.CodeUnit, len(units))
		for _, u := range units {
			unitByID[u.ID] = u
		}

		if reason, ok := cohortTooSmall(units); ok {
			return orchestrator.PhaseResult{Success: true, SkipReason: reason}, nil
		}

		summaries, err := deps.Store.GetSummaries(ctx, deps.Run.ID, nil)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("contrastive: load summaries: %w", err)
		}
		if len(summaries) == 0 {
			return orchestrator.PhaseResult{Success: true, SkipReason: "no summaries to evaluate"}, nil
		}

		methods := methodsFor(cfg.Method)
		rng := rand.New(rand.NewSource(seedFor(deps.Run.ID)))

		// Batch-embed every code unit's content once; shared by tier-3
		// distractor selection and the embedding scoring method.
		codeTexts := make([]string, len(units))
		for i, u := range units {
			codeTexts[i] = u.Content
		}
		codeEmbedded, err := embed.Embed(ctx, codeTexts, nil)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("contrastive: embed code units: %w", err)
		}
		codeEmbeddings := make(map[string][]float64, len(units))
		for i, u := range units {
			codeEmbeddings[u.ID] = codeEmbedded.Embeddings[i]
		}

		// Batch-embed every summary once for the embedding scoring method.
		summaryTexts := make([]string, len(summaries))
		for i, s := range summaries {
			summaryTexts[i] = s.Text
		}
		summaryEmbedded, err := embed.Embed(ctx, summaryTexts, nil)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("contrastive: embed summaries: %w", err)
		}
		summaryEmbeddings := make(map[string][]float64, len(summaries))
		for i, s := range summaries {
			summaryEmbeddings[s.ID] = summaryEmbedded.Embeddings[i]
		}

		distractorSets, err := loadOrBuildDistractorSets(ctx, deps, units, unitByID, summaries, cfg.DistractorCount, codeEmbeddings, rng)
		if err != nil {
			return orchestrator.PhaseResult{}, err
		}

		kind := models.EvalKindContrastive
		existing, err := deps.Store.GetEvaluationResults(ctx, deps.Run.ID, &kind)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("contrastive: load existing results: %w", err)
		}
		done := make(map[string]bool, len(existing))
		for _, r := range existing {
			payload, err := DecodePayload(r.Payload)
			if err != nil {
				continue
			}
			done[resultKey(r.SummaryID, payload.Method)] = true
		}

		total := len(summaries) * len(methods)
		if err := deps.StateMachine.StartPhase(ctx, deps.Run.ID, models.PhaseEvaluationContrastive, total); err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("contrastive: start phase: %w", err)
		}

		var failures []orchestrator.FailureDetail
		completed := len(done)
		for _, s := range summaries {
			if ctx.Err() != nil {
				break
			}
			ds := distractorSets[s.CodeUnitID]
			target := unitByID[s.CodeUnitID]

			for _, method := range methods {
				if ctx.Err() != nil {
					break
				}
				key := resultKey(s.ID, method)
				if done[key] {
					continue
				}

				payload, err := scoreOne(ctx, method, s, target, ds, unitByID, codeEmbeddings, summaryEmbeddings, judge, rng)
				if err != nil {
					failures = append(failures, orchestrator.FailureDetail{ItemID: s.ID, Err: err})
					completed++
					continue
				}

				blob, err := payload.Marshal()
				if err != nil {
					failures = append(failures, orchestrator.FailureDetail{ItemID: s.ID, Err: err})
					completed++
					continue
				}
				result := &models.EvaluationResult{RunID: deps.Run.ID, SummaryID: s.ID, Kind: models.EvalKindContrastive, Payload: blob}
				if err := deps.Store.InsertEvaluationResult(ctx, deps.Run.ID, result); err != nil {
					failures = append(failures, orchestrator.FailureDetail{ItemID: s.ID, Err: err})
					completed++
					continue
				}

				completed++
				if deps.Progress != nil {
					deps.Progress(models.PhaseEvaluationContrastive, completed, total, key)
				}
				if err := deps.StateMachine.UpdateProgress(ctx, deps.Run.ID, models.PhaseEvaluationContrastive, completed, key); err != nil {
					return orchestrator.PhaseResult{}, fmt.Errorf("contrastive: update progress: %w", err)
				}
			}
		}

		return orchestrator.PhaseResult{Success: true, ItemsProcessed: completed, Failures: failures}, nil
	}
}

func scoreOne(
	ctx context.Context,
	method config.ContrastiveMethod,
	s *models.GeneratedSummary,
	target *models.CodeUnit,
	ds *models.DistractorSet,
	unitByID map[string]*models.CodeUnit,
	codeEmbeddings map[string][]float64,
	summaryEmbeddings map[string][]float64,
	judge llmclient.Client,
	rng *rand.Rand,
) (Payload, error) {
	difficulty := models.DifficultyEasy
	var distractorIDs []string
	if ds != nil {
		difficulty = ds.Difficulty
		distractorIDs = ds.DistractorIDs
	}

	switch method {
	case config.MethodEmbedding:
		distractorEmbeddings := make([][]float64, 0, len(distractorIDs))
		for _, id := range distractorIDs {
			if e, ok := codeEmbeddings[id]; ok {
				distractorEmbeddings = append(distractorEmbeddings, e)
			}
		}
		result := ScoreEmbedding(summaryEmbeddings[s.ID], codeEmbeddings[target.ID], distractorEmbeddings)
		return Payload{Method: config.MethodEmbedding, Difficulty: difficulty, Embedding: &result}, nil

	case config.MethodLLM:
		distractorCode := make([]string, 0, len(distractorIDs))
		for _, id := range distractorIDs {
			if u, ok := unitByID[id]; ok {
				distractorCode = append(distractorCode, u.Content)
			}
		}
		result, err := ScoreLLM(ctx, judge, s.Text, target.Content, distractorCode, rng)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Method: config.MethodLLM, Difficulty: difficulty, LLM: &result}, nil

	default:
		return Payload{}, fmt.Errorf("contrastive: unknown method %q", method)
	}
}

func methodsFor(m config.ContrastiveMethod) []config.ContrastiveMethod {
	switch m {
	case config.MethodEmbedding, config.MethodLLM:
		return []config.ContrastiveMethod{m}
	default:
		return []config.ContrastiveMethod{config.MethodEmbedding, config.MethodLLM}
	}
}

func resultKey(summaryID string, method config.ContrastiveMethod) string {
	return summaryID + "|" + string(method)
}

// cohortTooSmall reports spec.md §4.6's global gate: if the largest
// same-language cohort has fewer than minLargestCohort members, the whole
// evaluation is skipped with a reason naming every cohort's size.
func cohortTooSmall(units []*models.CodeUnit) (string, bool) {
	sizes := map[string]int{}
	for _, u := range units {
		sizes[u.Language]++
	}
	largest := 0
	for _, n := range sizes {
		if n > largest {
			largest = n
		}
	}
	if largest >= minLargestCohort {
		return "", false
	}
	return fmt.Sprintf("largest same-language cohort has only %d members (need %d): %v", largest, minLargestCohort, sizes), true
}

// loadOrBuildDistractorSets reuses any DistractorSet already persisted for
// a target code unit and builds the rest, persisting new ones so a
// resumed run doesn't reshuffle an already-scored target's distractors.
func loadOrBuildDistractorSets(
	ctx context.Context,
	deps orchestrator.ExecutorDeps,
	units []*models.CodeUnit,
	unitByID map[string]*models.CodeUnit,
	summaries []*models.GeneratedSummary,
	distractorCount int,
	codeEmbeddings map[string][]float64,
	rng *rand.Rand,
) (map[string]*models.DistractorSet, error) {
	existing, err := deps.Store.GetDistractorSets(ctx, deps.Run.ID)
	if err != nil {
		return nil, fmt.Errorf("contrastive: load distractor sets: %w", err)
	}
	byTarget := make(map[string]*models.DistractorSet, len(existing))
	for _, ds := range existing {
		byTarget[ds.TargetCodeUnitID] = ds
	}

	seen := map[string]bool{}
	var targets []string
	for _, s := range summaries {
		if seen[s.CodeUnitID] {
			continue
		}
		seen[s.CodeUnitID] = true
		targets = append(targets, s.CodeUnitID)
	}

	var toInsert []*models.DistractorSet
	for _, targetID := range targets {
		if _, ok := byTarget[targetID]; ok {
			continue
		}
		target, ok := unitByID[targetID]
		if !ok {
			continue
		}
		ds := SelectDistractors(target, units, distractorCount, codeEmbeddings, rng)
		byTarget[targetID] = ds
		toInsert = append(toInsert, ds)
	}
	if len(toInsert) > 0 {
		if err := deps.Store.InsertDistractorSets(ctx, deps.Run.ID, toInsert); err != nil {
			return nil, fmt.Errorf("contrastive: persist distractor sets: %w", err)
		}
	}

	return byTarget, nil
}

func seedFor(runID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(runID))
	return int64(h.Sum64())
}
