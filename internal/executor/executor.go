// Package executor walks the stage DAG of a plan with a bounded worker
// pool, recording every transition in the run ledger. A stage becomes
// ready when all of its dependencies have succeeded; when a stage
// fails, everything downstream of it is skipped rather than run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alchemlab/abfe/internal/ctxlog"
	"github.com/alchemlab/abfe/internal/ids"
	"github.com/alchemlab/abfe/internal/plan"
	"github.com/alchemlab/abfe/internal/store"
)

// Runner executes a single stage. Implementations run the MD engine,
// the estimator, or a hook command; the executor never interprets the
// stage beyond its dependency edges.
type Runner interface {
	RunStage(ctx context.Context, st *plan.Stage) (exitCode int, err error)
}

// Ledger is the slice of the run store the executor reads and writes.
type Ledger interface {
	StageStates(ctx context.Context, runID string) ([]store.StageStatus, error)
	MarkRunning(ctx context.Context, runID, stageID, token string) error
	MarkFinished(ctx context.Context, runID, stageID, state string, exitCode int) error
	MarkSkipped(ctx context.Context, runID, stageID string) error
}

// Executor schedules the stages of one run.
type Executor struct {
	Store   Ledger
	Runner  Runner
	Tokens  ids.TokenGenerator
	Workers int
}

// Summary counts terminal states after an Execute call.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Execute runs every stage of the plan that is not already recorded as
// succeeded, honoring dependency order. It returns once all stages have
// reached a terminal state or the context is cancelled.
func (e *Executor) Execute(ctx context.Context, runID string, p *plan.Plan) (Summary, error) {
	workers := e.Workers
	if workers < 1 {
		workers = 1
	}
	log := ctxlog.FromContext(ctx)

	done, err := e.completedStages(ctx, runID)
	if err != nil {
		return Summary{}, err
	}

	sched := newScheduler(p, done)
	if sched.remaining == 0 {
		log.Info("nothing to do, all stages already succeeded", "run", runID)
		return Summary{Succeeded: len(done)}, nil
	}
	log.Info("executing plan", "run", runID, "stages", sched.remaining, "resumed", len(done), "workers", workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx, runID, sched)
		}()
	}
	wg.Wait()

	sum := sched.summary()
	sum.Succeeded += len(done)
	if ctx.Err() != nil {
		return sum, fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	if sum.Failed > 0 {
		return sum, fmt.Errorf("%d stage(s) failed, %d skipped", sum.Failed, sum.Skipped)
	}
	return sum, nil
}

func (e *Executor) work(ctx context.Context, runID string, sched *scheduler) {
	log := ctxlog.FromContext(ctx)
	for {
		st, ok := sched.next(ctx)
		if !ok {
			return
		}

		token := e.Tokens.Generate()
		if err := e.Store.MarkRunning(ctx, runID, st.ID, token); err != nil {
			log.Error("ledger write failed", "stage", st.ID, "error", err)
			e.skipDependents(ctx, runID, sched.finish(st, false), st.ID)
			continue
		}
		log.Info("stage started", "stage", st.ID, "kind", st.Kind, "token", token)

		exitCode, err := e.Runner.RunStage(ctx, st)
		if err != nil {
			state := store.StateFailed
			if errors.Is(err, context.Canceled) {
				log.Warn("stage cancelled", "stage", st.ID)
			} else {
				log.Error("stage failed", "stage", st.ID, "exit_code", exitCode, "error", err)
			}
			if lerr := e.Store.MarkFinished(ctx, runID, st.ID, state, exitCode); lerr != nil {
				log.Error("ledger write failed", "stage", st.ID, "error", lerr)
			}
			e.skipDependents(ctx, runID, sched.finish(st, false), st.ID)
			continue
		}

		if lerr := e.Store.MarkFinished(ctx, runID, st.ID, store.StateSucceeded, exitCode); lerr != nil {
			log.Error("ledger write failed", "stage", st.ID, "error", lerr)
		}
		log.Info("stage finished", "stage", st.ID)
		sched.finish(st, true)
	}
}

// skipDependents records the transitive skips a failed stage caused.
func (e *Executor) skipDependents(ctx context.Context, runID string, skipped []string, cause string) {
	log := ctxlog.FromContext(ctx)
	for _, id := range skipped {
		if lerr := e.Store.MarkSkipped(ctx, runID, id); lerr != nil {
			log.Error("ledger write failed", "stage", id, "error", lerr)
		}
		log.Warn("stage skipped", "stage", id, "cause", cause)
	}
}

func (e *Executor) completedStages(ctx context.Context, runID string) (map[string]bool, error) {
	states, err := e.Store.StageStates(ctx, runID)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool)
	for _, st := range states {
		if st.State == store.StateSucceeded {
			done[st.StageID] = true
		}
	}
	return done, nil
}
