// Package statemachine enforces valid phase transitions and per-phase
// progress cursors for a Run, per spec.md §4.2. It is the only component
// allowed to mutate Run.status/current_phase and PhaseProgress rows.
package statemachine

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/sumeval/pkg/errs"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/store"
)

// StateMachine drives Run.status and PhaseProgress transitions against a
// Store, validating every transition against the phase dependency graph.
type StateMachine struct {
	store store.Store
}

// New constructs a StateMachine bound to the given Store.
func New(s store.Store) *StateMachine {
	return &StateMachine{store: s}
}

// phaseIndex maps a Phase to its position in the dependency order, or -1.
func phaseIndex(p models.Phase) int {
	for i, candidate := range models.Phases {
		if candidate == p {
			return i
		}
	}
	return -1
}

// NextIncompletePhase returns the first phase in dependency order whose
// PhaseProgress is absent or not yet completed, used by the Orchestrator to
// resume a Run. Returns nil if every phase has completed.
func (sm *StateMachine) NextIncompletePhase(ctx context.Context, runID string) (*models.Phase, error) {
	for _, phase := range models.Phases {
		progress, err := sm.store.GetPhaseProgress(ctx, runID, phase)
		if err != nil {
			return nil, err
		}
		if progress == nil || progress.CompletedAt == nil {
			p := phase
			return &p, nil
		}
	}
	return nil, nil
}

// StartPhase validates that phase is the run's next allowed phase and
// records a fresh PhaseProgress cursor.
//
// Allowed: starting the first incomplete phase in dependency order. A
// phase may also be (re)started if it was previously interrupted — its
// PhaseProgress exists but is not complete — which is the resume case.
func (sm *StateMachine) StartPhase(ctx context.Context, runID string, phase models.Phase, total int) error {
	next, err := sm.NextIncompletePhase(ctx, runID)
	if err != nil {
		return err
	}
	if next == nil || *next != phase {
		return fmt.Errorf("%w: cannot start phase %q, next incomplete phase is %v", errs.ErrInvalidPhaseTransition, phase, next)
	}
	return sm.store.StartPhase(ctx, runID, phase, total)
}

// UpdateProgress advances a phase's completed counter. The Store layer
// itself refuses to regress completed (see sql_store.go's guarded UPDATE),
// so this is a thin, ordering-oblivious pass-through per spec.md §5's
// "no ordering guarantees within a phase" rule.
func (sm *StateMachine) UpdateProgress(ctx context.Context, runID string, phase models.Phase, completed int, lastProcessedID string) error {
	return sm.store.UpdatePhaseProgress(ctx, runID, phase, completed, lastProcessedID)
}

// CompletePhase marks phase finished. It enforces spec.md §4.2's
// "completed == total, or the phase returned a skipReason" invariant;
// skipped is true when the executor reported a skipReason instead of
// processing every item.
func (sm *StateMachine) CompletePhase(ctx context.Context, runID string, phase models.Phase, skipped bool) error {
	progress, err := sm.store.GetPhaseProgress(ctx, runID, phase)
	if err != nil {
		return err
	}
	if progress == nil {
		return fmt.Errorf("%w: complete phase %q: no progress recorded", errs.ErrInvalidPhaseTransition, phase)
	}
	if !skipped && progress.Completed < progress.Total {
		return fmt.Errorf("%w: complete phase %q: %d/%d items done", errs.ErrInvalidPhaseTransition, phase, progress.Completed, progress.Total)
	}
	return sm.store.CompletePhase(ctx, runID, phase)
}

// Pause transitions a running Run to paused, preserving its current phase
// so StartPhase resumes at the same point. Any non-terminal run may pause.
func (sm *StateMachine) Pause(ctx context.Context, runID string) error {
	run, err := sm.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == models.RunStatusCompleted || run.Status == models.RunStatusFailed {
		return fmt.Errorf("%w: cannot pause a terminal run (status=%s)", errs.ErrInvalidPhaseTransition, run.Status)
	}
	return sm.store.UpdateRunStatus(ctx, runID, models.RunStatusPaused, run.CurrentPhase, "")
}

// Resume transitions a paused (or still pending) Run to running; any other
// status is rejected. The Orchestrator drives the actual phase executor
// invocation from the run's first incomplete phase.
func (sm *StateMachine) Resume(ctx context.Context, runID string) error {
	run, err := sm.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != models.RunStatusPaused && run.Status != models.RunStatusPending {
		return fmt.Errorf("%w: cannot resume a run with status=%s", errs.ErrInvalidPhaseTransition, run.Status)
	}
	return sm.store.UpdateRunStatus(ctx, runID, models.RunStatusRunning, run.CurrentPhase, "")
}

// Fail transitions a Run to failed, recording the fatal error. Terminal;
// no further transitions are allowed out of failed.
func (sm *StateMachine) Fail(ctx context.Context, runID string, phase models.Phase, cause error) error {
	p := phase
	return sm.store.UpdateRunStatus(ctx, runID, models.RunStatusFailed, &p, cause.Error())
}

// Complete transitions a Run to completed. Terminal.
func (sm *StateMachine) Complete(ctx context.Context, runID string) error {
	run, err := sm.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	return sm.store.UpdateRunStatus(ctx, runID, models.RunStatusCompleted, run.CurrentPhase, "")
}
