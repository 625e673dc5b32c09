package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alchemlab/abfe/internal/ids"
	"github.com/alchemlab/abfe/internal/plan"
	"github.com/alchemlab/abfe/internal/store"
)

// fakeRunner records execution order and fails the stages named in
// fail. A nil sleep runs stages instantly.
type fakeRunner struct {
	mu   sync.Mutex
	ran  []string
	fail map[string]bool
}

func (f *fakeRunner) RunStage(_ context.Context, st *plan.Stage) (int, error) {
	f.mu.Lock()
	f.ran = append(f.ran, st.ID)
	f.mu.Unlock()
	if f.fail[st.ID] {
		return 1, fmt.Errorf("stage %s exploded", st.ID)
	}
	return 0, nil
}

func (f *fakeRunner) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

// chainPlan builds a -> b -> c with d independent.
func chainPlan(t *testing.T) *plan.Plan {
	t.Helper()
	p := &plan.Plan{Campaign: "test"}
	require.NoError(t, p.Add(&plan.Stage{ID: "a", Kind: plan.KindBuild}))
	require.NoError(t, p.Add(&plan.Stage{ID: "b", Kind: plan.KindMinimize, DependsOn: []string{"a"}}))
	require.NoError(t, p.Add(&plan.Stage{ID: "c", Kind: plan.KindHeat, DependsOn: []string{"b"}}))
	require.NoError(t, p.Add(&plan.Stage{ID: "d", Kind: plan.KindBuild}))
	return p
}

func newExecutor(t *testing.T, p *plan.Plan, r Runner) (*Executor, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	runID := "run-1"
	require.NoError(t, s.CreateRun(ctx, store.Run{ID: runID, Campaign: p.Campaign, PlanHash: "h", RootDir: t.TempDir(), CreatedAt: time.Now()}))
	refs := make([]store.StageRef, 0, len(p.Stages))
	for _, st := range p.Stages {
		refs = append(refs, store.StageRef{ID: st.ID, Kind: string(st.Kind)})
	}
	require.NoError(t, s.InitStages(ctx, runID, refs))

	return &Executor{Store: s, Runner: r, Tokens: ids.UUIDv7Generator{}, Workers: 2}, runID
}

func TestExecuteRespectsDependencyOrder(t *testing.T) {
	p := chainPlan(t)
	r := &fakeRunner{}
	e, runID := newExecutor(t, p, r)

	sum, err := e.Execute(context.Background(), runID, p)
	require.NoError(t, err)
	assert.Equal(t, Summary{Succeeded: 4}, sum)

	order := r.order()
	require.Len(t, order, 4)
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
}

func TestExecuteSkipsDependentsOnFailure(t *testing.T) {
	p := chainPlan(t)
	r := &fakeRunner{fail: map[string]bool{"b": true}}
	e, runID := newExecutor(t, p, r)

	sum, err := e.Execute(context.Background(), runID, p)
	require.Error(t, err)
	assert.Equal(t, Summary{Succeeded: 2, Failed: 1, Skipped: 1}, sum)

	// c never ran.
	assert.NotContains(t, r.order(), "c")

	states, serr := e.Store.StageStates(context.Background(), runID)
	require.NoError(t, serr)
	byID := make(map[string]string, len(states))
	for _, st := range states {
		byID[st.StageID] = st.State
	}
	assert.Equal(t, store.StateSucceeded, byID["a"])
	assert.Equal(t, store.StateFailed, byID["b"])
	assert.Equal(t, store.StateSkipped, byID["c"])
	assert.Equal(t, store.StateSucceeded, byID["d"])
}

// failMarkLedger delegates to a real store but refuses to mark the
// named stage as running.
type failMarkLedger struct {
	Ledger
	stage string
}

func (f *failMarkLedger) MarkRunning(ctx context.Context, runID, stageID, token string) error {
	if stageID == f.stage {
		return fmt.Errorf("disk full")
	}
	return f.Ledger.MarkRunning(ctx, runID, stageID, token)
}

func TestExecuteSkipsDependentsOnLedgerWriteFailure(t *testing.T) {
	p := chainPlan(t)
	r := &fakeRunner{}
	e, runID := newExecutor(t, p, r)
	e.Store = &failMarkLedger{Ledger: e.Store, stage: "b"}

	sum, err := e.Execute(context.Background(), runID, p)
	require.Error(t, err)
	assert.Equal(t, 1, sum.Skipped)

	// b never reached the runner, and c is skipped in the ledger, not
	// left pending.
	assert.NotContains(t, r.order(), "b")
	assert.NotContains(t, r.order(), "c")

	states, serr := e.Store.StageStates(context.Background(), runID)
	require.NoError(t, serr)
	byID := make(map[string]string, len(states))
	for _, st := range states {
		byID[st.StageID] = st.State
	}
	assert.Equal(t, store.StateSkipped, byID["c"])
	assert.Equal(t, store.StateSucceeded, byID["a"])
	assert.Equal(t, store.StateSucceeded, byID["d"])
}

func TestExecuteResumeSkipsSucceeded(t *testing.T) {
	p := chainPlan(t)
	r := &fakeRunner{fail: map[string]bool{"b": true}}
	e, runID := newExecutor(t, p, r)

	_, err := e.Execute(context.Background(), runID, p)
	require.Error(t, err)

	// Second attempt with the failure cleared: only b and c run again.
	r2 := &fakeRunner{}
	e.Runner = r2
	sum, err := e.Execute(context.Background(), runID, p)
	require.NoError(t, err)
	assert.Equal(t, Summary{Succeeded: 4}, sum)
	assert.ElementsMatch(t, []string{"b", "c"}, r2.order())
}

func TestExecuteNothingToDo(t *testing.T) {
	p := chainPlan(t)
	r := &fakeRunner{}
	e, runID := newExecutor(t, p, r)

	_, err := e.Execute(context.Background(), runID, p)
	require.NoError(t, err)

	r2 := &fakeRunner{}
	e.Runner = r2
	sum, err := e.Execute(context.Background(), runID, p)
	require.NoError(t, err)
	assert.Equal(t, Summary{Succeeded: 4}, sum)
	assert.Empty(t, r2.order())
}

func TestExecuteCancellation(t *testing.T) {
	p := &plan.Plan{Campaign: "test"}
	require.NoError(t, p.Add(&plan.Stage{ID: "a", Kind: plan.KindBuild}))
	require.NoError(t, p.Add(&plan.Stage{ID: "b", Kind: plan.KindMinimize, DependsOn: []string{"a"}}))

	started := make(chan struct{})
	block := make(chan struct{})
	r := runnerFunc(func(ctx context.Context, st *plan.Stage) (int, error) {
		close(started)
		select {
		case <-block:
			return 0, nil
		case <-ctx.Done():
			return 130, ctx.Err()
		}
	})
	e, runID := newExecutor(t, p, r)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, runID, p)
		errCh <- err
	}()

	<-started
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorContains(t, err, "run interrupted")
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not stop after cancellation")
	}
	close(block)
}

type runnerFunc func(ctx context.Context, st *plan.Stage) (int, error)

func (f runnerFunc) RunStage(ctx context.Context, st *plan.Stage) (int, error) {
	return f(ctx, st)
}
