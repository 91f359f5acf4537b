// Package orchestrator drives a Run's phases to completion in dependency
// order, per spec.md §4.3. It owns no business logic of its own — each
// phase's work is supplied by the caller as a PhaseExecutor — and is the
// only component that decides, from a cancellation signal and an
// executor's result, whether a Run ends up completed, paused, or failed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/sumeval/pkg/config"
	"github.com/codeready-toolchain/sumeval/pkg/models"
	"github.com/codeready-toolchain/sumeval/pkg/statemachine"
	"github.com/codeready-toolchain/sumeval/pkg/store"
)

// PhaseResult is what a PhaseExecutor reports back to the Orchestrator.
type PhaseResult struct {
	Success        bool
	ItemsProcessed int
	SkipReason     string // non-empty means "disabled/skipped", not failed
	Failures       []FailureDetail
}

// FailureDetail is one item-level failure surfaced by a phase executor.
// The orchestrator forwards these verbatim; it never inspects them.
type FailureDetail struct {
	ItemID string
	Err    error
}

// ProgressFunc reports item-level progress from inside a PhaseExecutor.
// The orchestrator forwards calls verbatim: phase name, a numeric counter
// pair, and free-text detail (spec.md §4.3 step 3).
type ProgressFunc func(phase models.Phase, completed, total int, detail string)

// ExecutorDeps is everything a PhaseExecutor needs: the store, the run
// being processed, the active config, a handle back to the state machine
// for recording per-item progress, and the orchestrator's cancellation
// signal.
type ExecutorDeps struct {
	Store        store.Store
	Run          *models.Run
	Config       *config.Config
	StateMachine *statemachine.StateMachine
	Progress     ProgressFunc
}

// PhaseExecutor performs the work of one phase and reports a PhaseResult.
// Implementations must respect ctx cancellation: a canceled phase should
// return promptly with Success == false and ctx.Err() reachable via
// errors.Is(err, context.Canceled) on any returned failure.
type PhaseExecutor func(ctx context.Context, deps ExecutorDeps) (PhaseResult, error)

// Orchestrator runs a Run's registered phase executors in dependency order,
// resuming from the first incomplete phase and forwarding progress.
type Orchestrator struct {
	store        store.Store
	sm           *statemachine.StateMachine
	executors    map[models.Phase]PhaseExecutor
	progress     ProgressFunc
	log          *slog.Logger
}

// New constructs an Orchestrator bound to a Store and the phase executors
// it should drive. Phases with no registered executor are treated as
// disabled and skipped (spec.md §4.3 step 4).
func New(s store.Store, executors map[models.Phase]PhaseExecutor, progress ProgressFunc, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if progress == nil {
		progress = func(models.Phase, int, int, string) {}
	}
	return &Orchestrator{
		store:     s,
		sm:        statemachine.New(s),
		executors: executors,
		progress:  progress,
		log:       log,
	}
}

// Run drives runID through every phase in dependency order, starting at the
// first incomplete phase (so a fresh Run and a resumed Run take the same
// path). It returns nil once the Run reaches a terminal status; the Run's
// Status field records which terminal status that was.
func (o *Orchestrator) Run(ctx context.Context, runID string, cfg *config.Config) error {
	if err := o.sm.Resume(ctx, runID); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	for _, phase := range models.Phases {
		progress, err := o.store.GetPhaseProgress(ctx, runID, phase)
		if err != nil {
			return o.fail(ctx, runID, phase, err)
		}
		if progress != nil && progress.CompletedAt != nil {
			continue // already done in a prior run attempt; resuming.
		}

		executor, registered := o.executors[phase]
		if !registered {
			// No executor wired for this phase at all: treat identically to
			// an executor-reported skip so resumption logic stays uniform.
			if err := o.runPhase(ctx, runID, phase, cfg, func(context.Context, ExecutorDeps) (PhaseResult, error) {
				return PhaseResult{Success: true, SkipReason: "no executor registered for this phase"}, nil
			}); err != nil {
				return err
			}
			continue
		}

		if err := o.runPhase(ctx, runID, phase, cfg, executor); err != nil {
			return err
		}

		if ctx.Err() != nil {
			return o.pause(ctx, runID)
		}
	}

	return o.sm.Complete(ctx, runID)
}

// runPhase executes a single phase and applies its result to the run's
// state: success completes the phase (propagating any skip reason),
// cancellation pauses the run, and any other failure marks it failed.
func (o *Orchestrator) runPhase(ctx context.Context, runID string, phase models.Phase, cfg *config.Config, executor PhaseExecutor) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return o.fail(ctx, runID, phase, err)
	}
	p := phase
	if err := o.store.UpdateRunStatus(ctx, runID, models.RunStatusRunning, &p, ""); err != nil {
		return o.fail(ctx, runID, phase, err)
	}
	run.CurrentPhase = &p

	deps := ExecutorDeps{
		Store:        o.store,
		Run:          run,
		Config:       cfg,
		StateMachine: o.sm,
		Progress:     o.progress,
	}

	result, err := executor(ctx, deps)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			o.log.Warn("phase canceled", "run_id", runID, "phase", phase)
			return nil // caller's ctx.Err() check after runPhase triggers the pause.
		}
		return o.fail(ctx, runID, phase, err)
	}
	if ctx.Err() != nil {
		return nil // canceled while the executor ran; the caller pauses the run.
	}
	if !result.Success {
		return o.fail(ctx, runID, phase, fmt.Errorf("phase %q reported failure with %d item failures", phase, len(result.Failures)))
	}

	if result.SkipReason != "" {
		o.log.Info("phase skipped", "run_id", runID, "phase", phase, "reason", result.SkipReason)
		if err := o.sm.StartPhase(ctx, runID, phase, 0); err != nil {
			return o.fail(ctx, runID, phase, err)
		}
		return o.sm.CompletePhase(ctx, runID, phase, true)
	}

	o.log.Info("phase completed", "run_id", runID, "phase", phase, "items_processed", result.ItemsProcessed)
	return o.sm.CompletePhase(ctx, runID, phase, false)
}

func (o *Orchestrator) fail(ctx context.Context, runID string, phase models.Phase, cause error) error {
	o.log.Error("phase failed", "run_id", runID, "phase", phase, "error", cause)
	if smErr := o.sm.Fail(ctx, runID, phase, cause); smErr != nil {
		o.log.Error("failed to record run failure", "run_id", runID, "error", smErr)
	}
	return fmt.Errorf("orchestrator: phase %q: %w", phase, cause)
}

func (o *Orchestrator) pause(ctx context.Context, runID string) error {
	o.log.Warn("run paused due to cancellation", "run_id", runID)
	return o.sm.Pause(context.WithoutCancel(ctx), runID)
}
