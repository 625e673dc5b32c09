package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alchemlab/abfe/internal/config"
	"github.com/alchemlab/abfe/internal/gmx"
	"github.com/alchemlab/abfe/internal/plan"
	"github.com/alchemlab/abfe/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.CreateRun(context.Background(), store.Run{
		ID: "r1", Campaign: "demo", PlanHash: "h", RootDir: "/tmp", CreatedAt: time.Now(),
	}))
	return s
}

// stubScript installs an executable that logs its argv and succeeds.
func stubScript(t *testing.T, body string) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "stub")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+body), 0o755))
	return bin
}

func TestRunMDRendersAndChains(t *testing.T) {
	root := t.TempDir()
	argvLog := filepath.Join(t.TempDir(), "argv")
	engine := stubScript(t, `echo "$@" >> `+argvLog+"\ncat > /dev/null\nexit 0\n")

	c := &config.Campaign{Engine: config.Engine{Binary: engine, MPIThreads: 2, OMPThreads: 4}}
	p := &plan.Plan{}
	require.NoError(t, p.Add(&plan.Stage{ID: "lig_a/build", Ligand: "lig_a", Kind: plan.KindBuild, Window: -1}))
	em := &plan.Stage{
		ID: "lig_a/rep1/complex/em", Ligand: "lig_a", Replica: 1,
		System: plan.SystemComplex, Kind: plan.KindMinimize, Window: -1,
		Dir: "lig_a/rep1/complex/em", Template: "em",
		Subs:      map[string]string{"NSTEPS": "10000"},
		DependsOn: []string{"lig_a/build"},
	}
	require.NoError(t, p.Add(em))

	r := &StageRunner{
		Campaign: c, Plan: p, Store: testStore(t), RunID: "r1", Root: root,
		Engine: gmx.New(engine), NTMPI: 2, NTOMP: 4,
	}

	code, err := r.RunStage(context.Background(), em)
	require.NoError(t, err)
	assert.Zero(t, code)

	// The rendered mdp landed in the stage directory.
	data, err := os.ReadFile(filepath.Join(root, "lig_a/rep1/complex/em/em.mdp"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "nsteps")
	assert.Contains(t, string(data), "10000")

	argv, err := os.ReadFile(argvLog)
	require.NoError(t, err)
	calls := strings.Split(strings.TrimSpace(string(argv)), "\n")
	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[0], "grompp "))
	assert.Contains(t, calls[0], "solv_ions.gro")
	assert.True(t, strings.HasPrefix(calls[1], "mdrun -deffnm em"))
	assert.Contains(t, calls[1], "-ntmpi 2")
	assert.Contains(t, calls[1], "-ntomp 4")
}

func TestInputStructureFollowsChain(t *testing.T) {
	p := &plan.Plan{}
	require.NoError(t, p.Add(&plan.Stage{ID: "l/build", Kind: plan.KindBuild}))
	require.NoError(t, p.Add(&plan.Stage{
		ID: "l/rep1/complex/em", Kind: plan.KindMinimize, Dir: "l/rep1/complex/em",
		DependsOn: []string{"l/build"},
	}))
	heat := &plan.Stage{
		ID: "l/rep1/complex/heat", Ligand: "l", System: plan.SystemComplex,
		Kind: plan.KindHeat, Dir: "l/rep1/complex/heat",
		DependsOn: []string{"l/rep1/complex/em"},
	}
	require.NoError(t, p.Add(heat))

	r := &StageRunner{Plan: p, Root: "/run"}
	got, err := r.inputStructure(heat)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/run", "l/rep1/complex/em", "em.gro"), got)
}

func TestRunAnalysisRecordsResult(t *testing.T) {
	root := t.TempDir()
	legDir := filepath.Join(root, "lig_a/rep1/complex/vdw")
	require.NoError(t, os.MkdirAll(legDir, 0o755))

	// The estimator stub writes results.json into its leg directory.
	estimator := stubScript(t, `echo '{"dg": -4.2, "dg_err": 0.3}' > "$1"/results.json`+"\n")

	s := testStore(t)
	st := &plan.Stage{
		ID: "lig_a/rep1/complex/vdw/analysis", Ligand: "lig_a", Replica: 1,
		System: plan.SystemComplex, Leg: "vdw", Kind: plan.KindAnalysis, Window: -1,
		Dir:     "lig_a/rep1/complex/vdw",
		Command: []string{estimator, "lig_a/rep1/complex/vdw"},
	}
	r := &StageRunner{Campaign: &config.Campaign{}, Plan: &plan.Plan{}, Store: s, RunID: "r1", Root: root}

	code, err := r.RunStage(context.Background(), st)
	require.NoError(t, err)
	assert.Zero(t, code)

	results, err := s.Results(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "vdw", results[0].Leg)
	assert.InDelta(t, -4.2, results[0].DG, 1e-9)
}

func TestRunCollectWritesBinding(t *testing.T) {
	root := t.TempDir()
	s := testStore(t)
	ctx := context.Background()

	legs := []store.Result{
		{Ligand: "lig_a", Replica: 1, System: "complex", Leg: "restraints", DG: 1, DGErr: 0.1},
		{Ligand: "lig_a", Replica: 1, System: "complex", Leg: "coulomb", DG: 2, DGErr: 0.1},
		{Ligand: "lig_a", Replica: 1, System: "complex", Leg: "vdw", DG: 3, DGErr: 0.1},
		{Ligand: "lig_a", Replica: 1, System: "ligand", Leg: "coulomb", DG: 4, DGErr: 0.1},
		{Ligand: "lig_a", Replica: 1, System: "ligand", Leg: "vdw", DG: 5, DGErr: 0.1},
	}
	for _, lr := range legs {
		require.NoError(t, s.WriteResult(ctx, "r1", lr))
	}

	st := &plan.Stage{
		ID: "lig_a/rep1/collect", Ligand: "lig_a", Replica: 1,
		Kind: plan.KindCollect, Window: -1, Dir: "lig_a/rep1",
	}
	r := &StageRunner{Campaign: &config.Campaign{}, Plan: &plan.Plan{}, Store: s, RunID: "r1", Root: root}

	code, err := r.RunStage(ctx, st)
	require.NoError(t, err)
	assert.Zero(t, code)

	data, err := os.ReadFile(filepath.Join(root, "lig_a/rep1/binding.json"))
	require.NoError(t, err)
	// (4+5) - (1+2+3) = 3
	assert.Contains(t, string(data), `"DG": 3`)
}

func TestRunStageFailureExitCode(t *testing.T) {
	root := t.TempDir()
	failing := stubScript(t, "exit 3\n")

	st := &plan.Stage{
		ID: "lig_a/rep1/hook/x", Ligand: "lig_a", Replica: 1,
		Kind: plan.KindHook, Window: -1, Dir: "lig_a/rep1",
		Command: []string{failing},
	}
	r := &StageRunner{Campaign: &config.Campaign{}, Plan: &plan.Plan{}, Store: testStore(t), RunID: "r1", Root: root}

	code, err := r.RunStage(context.Background(), st)
	require.Error(t, err)
	assert.Equal(t, 3, code)
}
