// Package runner executes individual plan stages on the local machine.
// It renders the stage's mdp input, drives the engine's grompp and
// mdrun pair for MD stages, invokes the estimator for analysis stages,
// and closes the thermodynamic cycle in collect stages.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"time"

	"github.com/alchemlab/abfe/internal/analysis"
	"github.com/alchemlab/abfe/internal/builder"
	"github.com/alchemlab/abfe/internal/config"
	"github.com/alchemlab/abfe/internal/ctxlog"
	"github.com/alchemlab/abfe/internal/gmx"
	"github.com/alchemlab/abfe/internal/mdp"
	"github.com/alchemlab/abfe/internal/plan"
	"github.com/alchemlab/abfe/internal/store"
	"github.com/alchemlab/abfe/internal/sysinfo"
)

// StageRunner implements executor.Runner against the local filesystem.
type StageRunner struct {
	Campaign *config.Campaign
	Plan     *plan.Plan
	Store    *store.Store
	RunID    string
	Root     string
	Engine   *gmx.Runner
	Builder  *builder.Builder

	// NTMPI and NTOMP are resolved once per process, engine config
	// first, host probe second.
	NTMPI int
	NTOMP int
}

// New builds a StageRunner for one run, resolving thread counts from
// the engine config or the host.
func New(ctx context.Context, c *config.Campaign, p *plan.Plan, s *store.Store, runID, root string) *StageRunner {
	engine := gmx.New(c.Engine.Binary)
	ntmpi, ntomp := c.Engine.MPIThreads, c.Engine.OMPThreads
	if ntmpi == 0 || ntomp == 0 {
		res := sysinfo.Detect(ctx)
		dm, do := sysinfo.ThreadSplit(res.PhysicalCores)
		if ntmpi == 0 {
			ntmpi = dm
		}
		if ntomp == 0 {
			ntomp = do
		}
	}
	return &StageRunner{
		Campaign: c,
		Plan:     p,
		Store:    s,
		RunID:    runID,
		Root:     root,
		Engine:   engine,
		Builder:  &builder.Builder{Campaign: c, Runner: engine, Root: root},
		NTMPI:    ntmpi,
		NTOMP:    ntomp,
	}
}

// RunStage dispatches on the stage kind. The exit code is meaningful
// for subprocess-backed stages and zero or one otherwise.
func (r *StageRunner) RunStage(ctx context.Context, st *plan.Stage) (int, error) {
	var err error
	switch {
	case st.Kind == plan.KindBuild:
		err = r.Builder.Build(ctx, st.Ligand)
	case st.MD():
		err = r.runMD(ctx, st)
	case st.Kind == plan.KindAnalysis:
		err = r.runAnalysis(ctx, st)
	case st.Kind == plan.KindCollect:
		err = r.runCollect(ctx, st)
	case st.Kind == plan.KindHook:
		err = r.runCommand(ctx, st)
	default:
		err = fmt.Errorf("stage %s: unknown kind %q", st.ID, st.Kind)
	}
	return exitCode(err), err
}

// runMD renders the mdp, preprocesses it against the chain's previous
// structure, and runs the integrator.
func (r *StageRunner) runMD(ctx context.Context, st *plan.Stage) error {
	dir := filepath.Join(r.Root, filepath.FromSlash(st.Dir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}

	deffnm := path.Base(st.Dir)
	doc, err := mdp.Render(st.Template, st.Subs)
	if err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}
	mdpPath := filepath.Join(dir, deffnm+".mdp")
	if err := os.WriteFile(mdpPath, []byte(doc.String()), 0o644); err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}

	structure, err := r.inputStructure(st)
	if err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}
	topology := filepath.Join(r.Root, st.Ligand, string(st.System), "topol.top")

	if err := r.Engine.Grompp(ctx, dir, deffnm+".mdp", structure, topology, deffnm+".tpr", 2); err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}
	return r.Engine.Mdrun(ctx, dir, gmx.MdrunOpts{
		Deffnm: deffnm,
		NTMPI:  r.NTMPI,
		NTOMP:  r.NTOMP,
		GPU:    r.Campaign.Engine.GPU,
	})
}

// inputStructure resolves the coordinates a stage continues from: the
// previous MD stage's output, or the staged box for the head of the
// chain.
func (r *StageRunner) inputStructure(st *plan.Stage) (string, error) {
	for _, dep := range st.DependsOn {
		prev := r.Plan.Stage(dep)
		if prev == nil {
			return "", fmt.Errorf("unknown dependency %q", dep)
		}
		if prev.MD() {
			return filepath.Join(r.Root, filepath.FromSlash(prev.Dir), path.Base(prev.Dir)+".gro"), nil
		}
		if prev.Kind == plan.KindBuild {
			return filepath.Join(r.Root, st.Ligand, string(st.System), "solv_ions.gro"), nil
		}
	}
	return "", errors.New("no structure-producing dependency")
}

// runAnalysis invokes the estimator over the leg directory, then
// records its results.json in the ledger.
func (r *StageRunner) runAnalysis(ctx context.Context, st *plan.Stage) error {
	if err := r.runCommand(ctx, st); err != nil {
		return err
	}
	legDir := filepath.Join(r.Root, filepath.FromSlash(st.Dir))
	res, err := analysis.ReadLegResult(filepath.Join(legDir, "results.json"))
	if err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}
	return r.Store.WriteResult(ctx, r.RunID, store.Result{
		Ligand:  st.Ligand,
		Replica: st.Replica,
		System:  string(st.System),
		Leg:     string(st.Leg),
		DG:      res.DG,
		DGErr:   res.DGErr,
	})
}

// runCollect combines the replica's five legs and writes binding.json
// into the replica directory.
func (r *StageRunner) runCollect(ctx context.Context, st *plan.Stage) error {
	results, err := r.Store.Results(ctx, r.RunID)
	if err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}
	b, err := analysis.CombineReplica(st.Ligand, st.Replica, results)
	if err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}
	ctxlog.FromContext(ctx).Info("binding free energy",
		"ligand", b.Ligand, "replica", b.Replica, "dg", b.DG, "dg_err", b.DGErr)

	out, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}
	dir := filepath.Join(r.Root, filepath.FromSlash(st.Dir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}
	return os.WriteFile(filepath.Join(dir, "binding.json"), append(out, '\n'), 0o644)
}

// runCommand executes a stage's argv with the run root as working
// directory, capturing combined output into the stage directory.
func (r *StageRunner) runCommand(ctx context.Context, st *plan.Stage) error {
	if len(st.Command) == 0 {
		return fmt.Errorf("stage %s: empty command", st.ID)
	}
	dir := filepath.Join(r.Root, filepath.FromSlash(st.Dir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}

	cmd := exec.CommandContext(ctx, st.Command[0], st.Command[1:]...)
	cmd.Dir = r.Root
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()

	logPath := filepath.Join(dir, string(st.Kind)+".log")
	if werr := os.WriteFile(logPath, buf.Bytes(), 0o644); werr != nil {
		ctxlog.FromContext(ctx).Warn("stage log not written", "path", logPath, "error", werr)
	}
	if err != nil {
		return fmt.Errorf("stage %s: %s: %w", st.ID, st.Command[0], err)
	}
	return nil
}

// WaitInputs polls until the stage's input structure is visible, up to
// timeout. Cluster jobs start on afterok edges before a shared
// filesystem has necessarily synced the upstream outputs.
func (r *StageRunner) WaitInputs(ctx context.Context, st *plan.Stage, timeout time.Duration) error {
	if !st.MD() {
		return nil
	}
	structure, err := r.inputStructure(st)
	if err != nil {
		return fmt.Errorf("stage %s: %w", st.ID, err)
	}
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(structure); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("stage %s: input %s not visible after %s", st.ID, structure, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var runErr *gmx.RunError
	if errors.As(err, &runErr) {
		return runErr.ExitCode
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
