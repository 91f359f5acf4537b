package retrieval

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/sumeval/pkg/embedclient"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
)

const fallbackQueryType = "identifier"

// Executor returns the PhaseExecutor for spec.md §4.5's Cross-Model
// Retrieval evaluator: one combined index over every model's summary of
// every code unit, with each query's target competing against the whole
// pool rather than just its own model's other outputs.
func Executor(embed embedclient.Client) orchestrator.PhaseExecutor {
	return func(ctx context.Context, deps orchestrator.ExecutorDeps) (orchestrator.PhaseResult, error) {
		cfg := deps.Config.Retrieval
		if !cfg.Enabled {
			return orchestrator.PhaseResult{Success: true, SkipReason: "retrieval evaluator disabled"}, nil
		}

		summaries, err := deps.Store.GetSummaries(ctx, deps.Run.ID, nil)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("retrieval: load summaries: %w", err)
		}
		if len(summaries) == 0 {
			return orchestrator.PhaseResult{Success: true, SkipReason: "no summaries to evaluate"}, nil
		}

		units, err := deps.Store.GetCodeUnits(ctx, deps.Run.ID)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("retrieval: load code units: %w", err)
		}

		queries, err := deps.Store.GetQueries(ctx, deps.Run.ID)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("retrieval: load queries: %w", err)
		}
		if len(queries) == 0 {
			queries, err = generateFallbackQueries(ctx, deps, units)
			if err != nil {
				return orchestrator.PhaseResult{}, err
			}
		}
		queriesByUnit := make(map[string][]*models.GeneratedQuery, len(units))
		for _, q := range queries {
			queriesByUnit[q.CodeUnitID] = append(queriesByUnit[q.CodeUnitID], q)
		}

		kind := models.EvalKindRetrieval
		existing, err := deps.Store.GetEvaluationResults(ctx, deps.Run.ID, &kind)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("retrieval: load existing results: %w", err)
		}
		done := make(map[string]bool, len(existing))
		for _, r := range existing {
			done[r.SummaryID] = true
		}

		// Batch-embed every summary once to build the combined index —
		// spec.md §5's "one batched embedding" before the per-query ranking
		// loop, which only reads the index.
		idx := NewIndex()
		texts := make([]string, len(summaries))
		for i, s := range summaries {
			texts[i] = s.Text
		}
		embedded, err := embed.Embed(ctx, texts, nil)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("retrieval: embed summaries: %w", err)
		}
		for i, s := range summaries {
			idx.Add(Entry{SummaryID: s.ID, ModelID: s.ModelID, CodeUnitID: s.CodeUnitID, Embedding: embedded.Embeddings[i]})
		}

		queryEmbeddings, err := embedQueries(ctx, embed, queries)
		if err != nil {
			return orchestrator.PhaseResult{}, err
		}

		total := len(summaries)
		if err := deps.StateMachine.StartPhase(ctx, deps.Run.ID, models.PhaseEvaluationRetrieval, total); err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("retrieval: start phase: %w", err)
		}

		var failures []orchestrator.FailureDetail
		completed := len(done)
		for _, s := range summaries {
			if ctx.Err() != nil {
				break
			}
			if done[s.ID] {
				continue
			}

			qs := queriesByUnit[s.CodeUnitID]
			payload := Payload{ModelID: s.ModelID}
			for _, q := range qs {
				qEmbed, ok := queryEmbeddings[q.Text]
				if !ok {
					continue
				}
				ranks := idx.SearchWithModelRanks(qEmbed, q.CodeUnitID)
				if _, ok := ranks[s.ModelID]; !ok {
					continue
				}
				payload.Queries = append(payload.Queries, buildMetric(q.ID, q.Type, s.ModelID, ranks, idx.Len(), cfg.Ks))
			}

			if len(payload.Queries) > 0 {
				blob, err := payload.Marshal()
				if err != nil {
					failures = append(failures, orchestrator.FailureDetail{ItemID: s.ID, Err: err})
					continue
				}
				result := &models.EvaluationResult{RunID: deps.Run.ID, SummaryID: s.ID, Kind: models.EvalKindRetrieval, Payload: blob}
				if err := deps.Store.InsertEvaluationResult(ctx, deps.Run.ID, result); err != nil {
					failures = append(failures, orchestrator.FailureDetail{ItemID: s.ID, Err: err})
					continue
				}
			}

			completed++
			if deps.Progress != nil {
				deps.Progress(models.PhaseEvaluationRetrieval, completed, total, s.ID)
			}
			if err := deps.StateMachine.UpdateProgress(ctx, deps.Run.ID, models.PhaseEvaluationRetrieval, completed, s.ID); err != nil {
				return orchestrator.PhaseResult{}, fmt.Errorf("retrieval: update progress: %w", err)
			}
		}

		return orchestrator.PhaseResult{Success: true, ItemsProcessed: completed, Failures: failures}, nil
	}
}

// embedQueries embeds every distinct query text once, keyed by text, so
// the per-summary ranking loop below does no further embedding calls.
func embedQueries(ctx context.Context, embed embedclient.Client, queries []*models.GeneratedQuery) (map[string][]float64, error) {
	seen := make(map[string]bool, len(queries))
	var texts []string
	for _, q := range queries {
		if seen[q.Text] {
			continue
		}
		seen[q.Text] = true
		texts = append(texts, q.Text)
	}
	if len(texts) == 0 {
		return map[string][]float64{}, nil
	}
	result, err := embed.Embed(ctx, texts, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed queries: %w", err)
	}
	out := make(map[string][]float64, len(texts))
	for i, t := range texts {
		out[t] = result.Embeddings[i]
	}
	return out, nil
}

// generateFallbackQueries builds one deterministic query per code unit
// when no LLM-generated queries exist yet, per spec.md §4.5's fallback
// rule: "<type> <name> <language>", or the file path when a unit has no
// name.
func generateFallbackQueries(ctx context.Context, deps orchestrator.ExecutorDeps, units []*models.CodeUnit) ([]*models.GeneratedQuery, error) {
	queries := make([]*models.GeneratedQuery, 0, len(units))
	for _, u := range units {
		text := fmt.Sprintf("%s %s %s", u.Type, u.Name, u.Language)
		if u.Name == "" {
			text = u.Path
		}
		queries = append(queries, &models.GeneratedQuery{
			RunID:      deps.Run.ID,
			CodeUnitID: u.ID,
			Type:       fallbackQueryType,
			Text:       text,
			ShouldFind: true,
		})
	}
	if err := deps.Store.InsertQueries(ctx, deps.Run.ID, queries); err != nil {
		return nil, fmt.Errorf("retrieval: persist fallback queries: %w", err)
	}
	return queries, nil
}
