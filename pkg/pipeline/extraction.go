// Package pipeline wires the two phases spec.md leaves as thin glue
// around external collaborators — extraction (walking a source tree into
// CodeUnits) and generation (asking every configured model to summarize
// every unit) — into PhaseExecutors the Orchestrator can run alongside
// the four evaluator packages.
package pipeline

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/sumeval/pkg/extractor"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/orchestrator"
)

// ExtractionExecutor returns the PhaseExecutor that populates a Run's
// CodeUnits from root using ex. A per-file ExtractionError is recorded as
// a FailureDetail and does not abort the walk, per spec.md §7.
func ExtractionExecutor(ex extractor.Extractor, root string) orchestrator.PhaseExecutor {
	return func(ctx context.Context, deps orchestrator.ExecutorDeps) (orchestrator.PhaseResult, error) {
		existing, err := deps.Store.CountCodeUnits(ctx, deps.Run.ID)
		if err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("extraction: count existing units: %w", err)
		}
		if existing > 0 {
			return orchestrator.PhaseResult{Success: true, SkipReason: "code units already extracted"}, nil
		}

		units, fileErrors := ex.Extract(ctx, root)
		if err := deps.StateMachine.StartPhase(ctx, deps.Run.ID, models.PhaseExtraction, len(units)); err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("extraction: start phase: %w", err)
		}

		if len(units) > 0 {
			if err := deps.Store.InsertCodeUnits(ctx, deps.Run.ID, units); err != nil {
				return orchestrator.PhaseResult{}, fmt.Errorf("extraction: insert code units: %w", err)
			}
		}

		lastID := ""
		if len(units) > 0 {
			lastID = units[len(units)-1].ID
		}
		if err := deps.StateMachine.UpdateProgress(ctx, deps.Run.ID, models.PhaseExtraction, len(units), lastID); err != nil {
			return orchestrator.PhaseResult{}, fmt.Errorf("extraction: update progress: %w", err)
		}
		if deps.Progress != nil {
			deps.Progress(models.PhaseExtraction, len(units), len(units), lastID)
		}

		failures := make([]orchestrator.FailureDetail, 0, len(fileErrors))
		for _, fe := range fileErrors {
			failures = append(failures, orchestrator.FailureDetail{ItemID: fe.Path, Err: fe.Err})
		}

		return orchestrator.PhaseResult{Success: true, ItemsProcessed: len(units), Failures: failures}, nil
	}
}
