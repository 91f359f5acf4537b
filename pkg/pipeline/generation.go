package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/codeready-toolchain/sumeval/pkg/errs"
	"github.com/codeready-toolchain/sumeval/pkg/llmclient"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
	"github.com/codeready-toolchain/sumeval/pkg/retry"
	"github.com/codeready-toolchain/sumeval/pkg/workerpool"
)

type generationTask struct {
	unit    *models.CodeUnit
	modelID string
}

// GenerationExecutor returns the PhaseExecutor that asks every configured
// generator to summarize every CodeUnit, per spec.md §5's "one summary,
// per-model bounded pool" policy: each model gets its own worker pool,
// and every model's pool runs concurrently with the others.
func GenerationExecutor(resolve llmclient.Resolver) orchestrator.PhaseExecutor {
	return func(ctx context.Context, deps orchestrator.ExecutorDeps) (orchestrator.PhaseResult, error) {
		units, err := deps.Store.GetCodeUnits(ctx, deps.Run.ID)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("generation: load code units: %w", err)
		}
		if len(units) == 0 {
			return orchestrator.PhaseResult{Success: true, SkipReason: "no code units to summarize"}, nil
		}

		tasksByModel := make(map[string][]generationTask, len(deps.Config.Generators))
		total := 0
		for _, g := range deps.Config.Generators {
			modelID := g.ID
			existing, err := deps.Store.GetSummaries(ctx, deps.Run.ID, &modelID)
			if err != nil {
				return orchestrator.PhaseResult{}, fmt.Errorf("generation: load existing summaries for %s: %w", modelID, err)
			}
			done := make(map[string]bool, len(existing))
			for _, s := range existing {
				done[s.CodeUnitID] = true
			}
			for _, u := range units {
				if done[u.ID] {
					continue
				}
				tasksByModel[modelID] = append(tasksByModel[modelID], generationTask{unit: u, modelID: modelID})
				total++
			}
		}

		if err := deps.StateMachine.StartPhase(ctx, deps.Run.ID, models.PhaseGeneration, total); err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("generation: start phase: %w", err)
		}

		width := deps.Config.GenerationParallelism
		if width <= 0 {
			width = 1
		}

		var mu sync.Mutex
		completed := 0
		var failures []orchestrator.FailureDetail

		modelIDs := make([]string, 0, len(tasksByModel))
		for modelID := range tasksByModel {
			modelIDs = append(modelIDs, modelID)
		}

		workerpool.RunGroups(ctx, modelIDs, func(ctx context.Context, modelID string) {
			client, err := resolve(modelID)
			if err != nil {
				mu.Lock()
				failures = append(failures, orchestrator.FailureDetail{ItemID: modelID, Err: fmt.Errorf("generation: resolve model %s: %w", modelID, err)})
				mu.Unlock()
				return
			}

			workerpool.Run(ctx, tasksByModel[modelID], width, func(ctx context.Context, t generationTask) struct{} {
				summary, err := generateOne(ctx, client, t)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures = append(failures, orchestrator.FailureDetail{ItemID: t.unit.ID + "|" + t.modelID, Err: err})
				} else if ierr := deps.Store.InsertSummaries(ctx, deps.Run.ID, []*models.GeneratedSummary{summary}); ierr != nil {
					failures = append(failures, orchestrator.FailureDetail{ItemID: t.unit.ID + "|" + t.modelID, Err: ierr})
				}
				completed++
				if deps.Progress != nil {
					deps.Progress(models.PhaseGeneration, completed, total, t.unit.ID+"|"+t.modelID)
				}
				_ = deps.StateMachine.UpdateProgress(ctx, deps.Run.ID, models.PhaseGeneration, completed, t.unit.ID+"|"+t.modelID)
				return struct{}{}
			})
		})

		return orchestrator.PhaseResult{Success: true, ItemsProcessed: completed, Failures: failures}, nil
	}
}

func generateOne(ctx context.Context, client llmclient.Client, t generationTask) (*models.GeneratedSummary, error) {
	callCtx, cancel := context.WithTimeout(ctx, llmclient.TimeoutFor(t.modelID))
	defer cancel()

	resp, err := retry.Do(callCtx, func() (llmclient.Completion, error) {
		return client.Complete(callCtx, []llmclient.Message{{Role: llmclient.RoleUser, Content: summarizePrompt(t.unit)}}, llmclient.Options{})
	})
	if err != nil {
		return nil, fmt.Errorf("generation: summarize %s with %s (kind %s): %w", t.unit.ID, t.modelID, errs.Classify(err), err)
	}

	return &models.GeneratedSummary{
		RunID:      t.unit.RunID,
		CodeUnitID: t.unit.ID,
		ModelID:    t.modelID,
		Text:       resp.Content,
		Metadata: models.GenerationMetadata{
			Cost:         resp.Usage.Cost,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func summarizePrompt(u *models.CodeUnit) string {
	var b strings.Builder
	b.WriteString("Summarize the following ")
	b.WriteString(string(u.Type))
	b.WriteString(" written in ")
	b.WriteString(u.Language)
	b.WriteString(". Reply with only the summary text, nothing else.\n\n")
	b.WriteString(u.Content)
	return b.String()
}
