// Package gmx invokes the GROMACS command line tools as subprocesses.
// Every call runs in a stage directory, logs to a per-tool file, and
// surfaces the tail of stderr when the tool fails, since GROMACS puts
// its diagnostics there.
package gmx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alchemlab/abfe/internal/ctxlog"
)

// stderrTailLines bounds how much tool output an error carries.
const stderrTailLines = 20

// Runner executes one GROMACS binary. Env entries are appended to the
// inherited environment of every call.
type Runner struct {
	Binary string
	Env    []string
}

// New returns a Runner for the given binary. Backups are disabled so
// reruns overwrite outputs instead of accumulating #file.1# copies.
func New(binary string) *Runner {
	return &Runner{
		Binary: binary,
		Env:    []string{"GMX_MAXBACKUP=-1"},
	}
}

// RunError reports a failed tool invocation.
type RunError struct {
	Args     []string
	ExitCode int
	Tail     string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s exited %d\n%s", strings.Join(e.Args, " "), e.ExitCode, e.Tail)
}

// Version runs `gmx --version` and returns the version line, probing
// that the binary exists before a campaign starts.
func (r *Runner) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, r.Binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", r.Binary, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "GROMACS version") {
			return strings.TrimSpace(line), nil
		}
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// run executes one subcommand in dir. stdin feeds tools that prompt
// for an index group. Output goes to <tool>.log in dir.
func (r *Runner) run(ctx context.Context, dir, stdin string, args ...string) error {
	log := ctxlog.FromContext(ctx)
	argv := append([]string{r.Binary}, args...)
	log.Debug("exec", "cmd", strings.Join(argv, " "), "dir", dir)

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.Env...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin + "\n")
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()

	logName := filepath.Join(dir, args[0]+".log")
	if werr := os.WriteFile(logName, buf.Bytes(), 0o644); werr != nil {
		log.Warn("tool log not written", "path", logName, "error", werr)
	}

	if err == nil {
		return nil
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &RunError{Args: argv, ExitCode: code, Tail: tail(buf.String(), stderrTailLines)}
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Pdb2gmx builds a topology from a PDB file using the named force
// field and water model.
func (r *Runner) Pdb2gmx(ctx context.Context, dir, pdb, forceField, water, outGro, outTop string) error {
	return r.run(ctx, dir, "",
		"pdb2gmx", "-f", pdb, "-ff", forceField, "-water", water,
		"-o", outGro, "-p", outTop, "-ignh")
}

// EditconfOpts shape the simulation cell. With Vectors set the cell is
// explicit (-box, plus -angles when given); otherwise the box is sized
// from the solute with Distance as the wall clearance (-d).
type EditconfOpts struct {
	BoxType  string
	Distance float64   // nm, solute-to-wall
	Vectors  []float64 // nm, explicit cell lengths
	Angles   []float64 // degrees, cell angles
}

// Editconf places the structure in a box.
func (r *Runner) Editconf(ctx context.Context, dir, inGro, outGro string, o EditconfOpts) error {
	args := []string{"editconf", "-f", inGro, "-o", outGro, "-bt", o.BoxType}
	if len(o.Vectors) > 0 {
		args = append(args, "-box")
		for _, v := range o.Vectors {
			args = append(args, formatFloat(v))
		}
		if len(o.Angles) > 0 {
			args = append(args, "-angles")
			for _, a := range o.Angles {
				args = append(args, formatFloat(a))
			}
		}
	} else {
		args = append(args, "-d", formatFloat(o.Distance))
	}
	return r.run(ctx, dir, "", args...)
}

// Solvate fills the box with water.
func (r *Runner) Solvate(ctx context.Context, dir, inGro, topology, outGro string) error {
	return r.run(ctx, dir, "",
		"solvate", "-cp", inGro, "-cs", "spc216.gro", "-p", topology, "-o", outGro)
}

// Grompp preprocesses an mdp file and structure into a portable run
// input. maxWarn tolerates the benign charge warnings of alchemical
// topologies.
func (r *Runner) Grompp(ctx context.Context, dir, mdp, structure, topology, outTpr string, maxWarn int) error {
	args := []string{"grompp", "-f", mdp, "-c", structure, "-r", structure, "-p", topology, "-o", outTpr}
	if maxWarn > 0 {
		args = append(args, "-maxwarn", strconv.Itoa(maxWarn))
	}
	return r.run(ctx, dir, "", args...)
}

// Genion replaces solvent molecules with ions to neutralize the system
// at the given concentration in mol/l. The SOL group is selected on
// stdin because genion prompts for it.
func (r *Runner) Genion(ctx context.Context, dir, inTpr, topology, outGro string, conc float64) error {
	return r.run(ctx, dir, "SOL",
		"genion", "-s", inTpr, "-p", topology, "-o", outGro,
		"-pname", "NA", "-nname", "CL", "-neutral", "-conc", formatFloat(conc))
}

// MdrunOpts size one mdrun invocation.
type MdrunOpts struct {
	Deffnm string
	NTMPI  int
	NTOMP  int
	GPU    bool
}

// Mdrun runs the MD integrator on <deffnm>.tpr.
func (r *Runner) Mdrun(ctx context.Context, dir string, o MdrunOpts) error {
	args := []string{"mdrun", "-deffnm", o.Deffnm}
	if o.NTMPI > 0 {
		args = append(args, "-ntmpi", strconv.Itoa(o.NTMPI))
	}
	if o.NTOMP > 0 {
		args = append(args, "-ntomp", strconv.Itoa(o.NTOMP))
	}
	if o.GPU {
		args = append(args, "-nb", "gpu", "-pme", "gpu")
	}
	return r.run(ctx, dir, "", args...)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
