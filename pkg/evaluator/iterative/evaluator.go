package iterative

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/sumeval/pkg/config"
	"github.com/codeready-toolchain/sumeval/pkg/embedclient"
	"github.com/codeready-toolchain/sumeval/pkg/errs"
	"github.com/codeready-toolchain/sumeval/pkg/llmclient"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
	"github.com/codeready-toolchain/sumeval/pkg/retry"
	"github.com/codeready-toolchain/sumeval/pkg/workerpool"
)

// Executor returns the PhaseExecutor for spec.md §4.8's Iterative
// Refinement evaluator.
func Executor(embed embedclient.Client, resolve llmclient.Resolver) orchestrator.PhaseExecutor {
	return func(ctx context.Context, deps orchestrator.ExecutorDeps) (orchestrator.PhaseResult, error) {
		cfg := deps.Config.Iterative
		if !cfg.Enabled {
			return orchestrator.PhaseResult{Success: true, SkipReason: "iterative evaluator disabled"}, nil
		}

		summaries, err := deps.Store.GetSummaries(ctx, deps.Run.ID, nil)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("iterative: load summaries: %w", err)
		}
		if len(summaries) == 0 {
			return orchestrator.PhaseResult{Success: true, SkipReason: "no summaries to evaluate"}, nil
		}

		units, err := deps.Store.GetCodeUnits(ctx, deps.Run.ID)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("iterative: load code units: %w", err)
		}
		unitByID := make(map[string]*models.CodeUnit, len(units))
		for _, u := range units {
			unitByID[u.ID] = u
		}

		byUnit := map[string][]*models.GeneratedSummary{}
		for _, s := range summaries {
			byUnit[s.CodeUnitID] = append(byUnit[s.CodeUnitID], s)
		}

		tasks := sampleTasks(summaries, cfg.SampleSize, deps.Run.ID)

		kind := models.EvalKindIterative
		existing, err := deps.Store.GetEvaluationResults(ctx, deps.Run.ID, &kind)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("iterative: load existing results: %w", err)
		}
		done := make(map[string]bool, len(existing))
		for _, r := range existing {
			done[r.SummaryID] = true
		}

		summaryEmbeddings, err := embedBatch(ctx, embed, summaries)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("iterative: pre-embed summaries: %w", err)
		}
		queryEmbeddings, err := embedQueries(ctx, embed, units)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("iterative: pre-embed queries: %w", err)
		}

		genByID := make(map[string]config.ModelConfig, len(deps.Config.Generators))
		for _, g := range deps.Config.Generators {
			genByID[g.ID] = g
		}

		cloud, localLarge, localSmall := splitByStream(tasks, done, genByID, cfg.LargeModelThresholdGB)

		total := 0
		for _, s := range tasks {
			if !done[s.ID] {
				total++
			}
		}
		if err := deps.StateMachine.StartPhase(ctx, deps.Run.ID, models.PhaseEvaluationIterative, total); err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("iterative: start phase: %w", err)
		}

		var mu sync.Mutex
		completed := 0
		var failures []orchestrator.FailureDetail

		process := func(ctx context.Context, s *models.GeneratedSummary) struct{} {
			payload, err := scoreOne(ctx, deps, embed, resolve, cfg, s, unitByID, byUnit, summaryEmbeddings, queryEmbeddings)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: s.ID, Err: err})
			} else if blob, merr := payload.Marshal(); merr != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: s.ID, Err: merr})
			} else if ierr := deps.Store.InsertEvaluationResult(ctx, deps.Run.ID, &models.EvaluationResult{
				RunID: deps.Run.ID, SummaryID: s.ID, Kind: models.EvalKindIterative, Payload: blob,
			}); ierr != nil {
				failures = append(failures, orchestrator.FailureDetail{ItemID: s.ID, Err: ierr})
			}
			completed++
			if deps.Progress != nil {
				deps.Progress(models.PhaseEvaluationIterative, completed, total, s.ID)
			}
			_ = deps.StateMachine.UpdateProgress(ctx, deps.Run.ID, models.PhaseEvaluationIterative, completed, s.ID)
			return struct{}{}
		}

		workerpool.RunGroups(ctx, []string{"cloud", "local"}, func(ctx context.Context, group string) {
			switch group {
			case "cloud":
				width := len(cloud)
				if width == 0 {
					return
				}
				workerpool.Run(ctx, cloud, width, process)
			case "local":
				for _, s := range localLarge {
					if ctx.Err() != nil {
						return
					}
					process(ctx, s)
				}
				width := cfg.LocalParallelism
				if width <= 0 {
					width = 1
				}
				workerpool.Run(ctx, localSmall, width, process)
			}
		})

		return orchestrator.PhaseResult{Success: true, ItemsProcessed: completed, Failures: failures}, nil
	}
}

// sampleTasks applies spec.md §4.8's "uniformly sample without
// replacement, per model, for this phase only" rule.
func sampleTasks(summaries []*models.GeneratedSummary, sampleSize int, runID string) []*models.GeneratedSummary {
	byModel := map[string][]*models.GeneratedSummary{}
	for _, s := range summaries {
		byModel[s.ModelID] = append(byModel[s.ModelID], s)
	}
	var modelIDs []string
	for m := range byModel {
		modelIDs = append(modelIDs, m)
	}
	sort.Strings(modelIDs)

	rng := rand.New(rand.NewSource(seedFor(runID)))
	var out []*models.GeneratedSummary
	for _, m := range modelIDs {
		items := byModel[m]
		if sampleSize > 0 && len(items) > sampleSize {
			items = sampleWithoutReplacement(items, sampleSize, rng)
		}
		out = append(out, items...)
	}
	return out
}

func splitByStream(tasks []*models.GeneratedSummary, done map[string]bool, genByID map[string]config.ModelConfig, largeThresholdGB int) (cloud, localLarge, localSmall []*models.GeneratedSummary) {
	for _, s := range tasks {
		if done[s.ID] {
			continue
		}
		g, ok := genByID[s.ModelID]
		if !ok || !g.IsLocal {
			cloud = append(cloud, s)
			continue
		}
		if largeThresholdGB > 0 && g.SizeGB >= float64(largeThresholdGB) {
			localLarge = append(localLarge, s)
		} else {
			localSmall = append(localSmall, s)
		}
	}
	return cloud, localLarge, localSmall
}

func embedBatch(ctx context.Context, embed embedclient.Client, summaries []*models.GeneratedSummary) (map[string][]float64, error) {
	texts := make([]string, len(summaries))
	for i, s := range summaries {
		texts[i] = s.Text
	}
	result, err := embed.Embed(ctx, texts, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(summaries))
	for i, s := range summaries {
		out[s.ID] = result.Embeddings[i]
	}
	return out, nil
}

func embedQueries(ctx context.Context, embed embedclient.Client, units []*models.CodeUnit) (map[string][]float64, error) {
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = queryFor(u)
	}
	result, err := embed.Embed(ctx, texts, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(units))
	for i, u := range units {
		out[u.ID] = result.Embeddings[i]
	}
	return out, nil
}

// scoreOne runs spec.md §4.8's round loop for one (model, summary, code
// unit): test the current summary's rank among competitors, stop on
// success or exhausted rounds, otherwise ask the generator to refine and
// try again.
func scoreOne(ctx context.Context, deps orchestrator.ExecutorDeps, embed embedclient.Client, resolve llmclient.Resolver, cfg config.IterativeConfig, s *models.GeneratedSummary, unitByID map[string]*models.CodeUnit, byUnit map[string][]*models.GeneratedSummary, summaryEmbeddings, queryEmbeddings map[string][]float64) (Payload, error) {
	start := time.Now()
	unit := unitByID[s.CodeUnitID]
	if unit == nil {
		return Payload{}, fmt.Errorf("iterative: code unit %s not found for summary %s", s.CodeUnitID, s.ID)
	}

	var competitors []*models.GeneratedSummary
	for _, c := range byUnit[s.CodeUnitID] {
		if c.ModelID != s.ModelID {
			competitors = append(competitors, c)
		}
	}
	effTarget := effectiveTargetRank(cfg.TargetRank, len(competitors))
	queryEmbed := queryEmbeddings[unit.ID]

	client, err := resolve(s.ModelID)
	if err != nil {
		return Payload{}, fmt.Errorf("iterative: resolve model %s: %w", s.ModelID, err)
	}

	currentText := s.Text
	currentEmbed := summaryEmbeddings[s.ID]
	var history []HistoryStep
	initialRank, finalRank, rounds := 0, 0, 0
	success := false

	for i := 0; i <= cfg.MaxRounds; i++ {
		if ctx.Err() != nil {
			return Payload{}, ctx.Err()
		}
		competitorEmbeds := make([][]float64, 0, len(competitors))
		for _, c := range competitors {
			competitorEmbeds = append(competitorEmbeds, summaryEmbeddings[c.ID])
		}
		rank := rankAmong(queryEmbed, currentEmbed, competitorEmbeds)
		if i == 0 {
			initialRank = rank
		}
		finalRank = rank
		history = append(history, HistoryStep{Round: i, Rank: rank, Summary: currentText})

		if rank <= effTarget {
			success = true
			rounds = i
			break
		}
		if i == cfg.MaxRounds {
			rounds = i
			break
		}

		competitorTexts := make([]string, 0, len(competitors))
		for _, c := range competitors {
			competitorTexts = append(competitorTexts, c.Text)
		}
		prompt := refinementPrompt(unit.Content, currentText, competitorTexts, rank)

		callCtx, cancel := context.WithTimeout(ctx, llmclient.TimeoutFor(s.ModelID))
		resp, err := retry.Do(callCtx, func() (llmclient.Completion, error) {
			return client.Complete(callCtx, []llmclient.Message{{Role: llmclient.RoleUser, Content: prompt}}, llmclient.Options{})
		})
		cancel()
		if err != nil {
			return Payload{}, fmt.Errorf("iterative: refinement call (round %d, kind %s): %w", i, errs.Classify(err), err)
		}

		currentText = resp.Content
		newEmbed, err := embed.EmbedOne(ctx, currentText)
		if err != nil {
			return Payload{}, fmt.Errorf("iterative: re-embed refined summary: %w", err)
		}
		currentEmbed = newEmbed

		round := i + 1
		metadata := s.Metadata
		metadata.RefinementRound = &round
		if err := deps.Store.UpdateSummary(ctx, deps.Run.ID, s.ID, &currentText, &metadata); err != nil {
			return Payload{}, fmt.Errorf("iterative: persist refined summary: %w", err)
		}
	}

	return Payload{Result: Result{
		Rounds:          rounds,
		Success:         success,
		InitialRank:     initialRank,
		FinalRank:       finalRank,
		History:         history,
		RefinementScore: refinementScore(rounds),
		DurationMS:      time.Since(start).Milliseconds(),
	}}, nil
}
