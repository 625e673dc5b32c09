// Package scheduler exports a planned run to SLURM. The export writes
// two shell scripts into the run root: job.sh, the sbatch payload that
// executes a single stage, and scheduler.sh, which submits every stage
// with --dependency=afterok edges mirroring the plan DAG. The cluster
// then enforces the same ordering the local executor would.
package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/alchemlab/abfe/internal/config"
	"github.com/alchemlab/abfe/internal/plan"
)

const (
	jobScript       = "job.sh"
	schedulerScript = "scheduler.sh"
	logDir          = "slurm_logs"
)

// Export writes job.sh and scheduler.sh into outDir. configPath is the
// campaign file the exec jobs load, relative to outDir or absolute.
func Export(p *plan.Plan, c *config.Campaign, runID, configPath, outDir string) error {
	if err := os.MkdirAll(filepath.Join(outDir, logDir), 0o755); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	job := RenderJobScript(c, runID, configPath)
	if err := os.WriteFile(filepath.Join(outDir, jobScript), []byte(job), 0o755); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	sched := RenderSchedulerScript(p, runID)
	if err := os.WriteFile(filepath.Join(outDir, schedulerScript), []byte(sched), 0o755); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// RenderJobScript produces the sbatch payload. The stage ID arrives as
// the single positional argument.
func RenderJobScript(c *config.Campaign, runID, configPath string) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&sb, "#SBATCH --partition=%s\n", c.Cluster.Partition)
	fmt.Fprintf(&sb, "#SBATCH --time=%s\n", c.Cluster.Time)
	if c.Cluster.MemMB > 0 {
		fmt.Fprintf(&sb, "#SBATCH --mem=%d\n", c.Cluster.MemMB)
	}
	if c.Cluster.Account != "" {
		fmt.Fprintf(&sb, "#SBATCH --account=%s\n", c.Cluster.Account)
	}
	fmt.Fprintf(&sb, "#SBATCH --output=%s/%%x-%%j.out\n", logDir)
	sb.WriteString("\n")
	sb.WriteString("set -euo pipefail\n")
	sb.WriteString("cd \"$(dirname \"$0\")\"\n")
	if c.Cluster.LatencyWait > 0 {
		fmt.Fprintf(&sb, "export ABFE_LATENCY_WAIT=%d\n", c.Cluster.LatencyWait)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "exec abfe exec --config %s --run %s \"$1\"\n", shellQuote(configPath), runID)
	return sb.String()
}

// RenderSchedulerScript produces the submission script. Stages appear
// in plan order, which already places dependencies first, so every
// afterok reference resolves to a variable assigned above it.
func RenderSchedulerScript(p *plan.Plan, runID string) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&sb, "# Submits the %d stages of run %s in dependency order.\n", len(p.Stages), runID)
	sb.WriteString("set -euo pipefail\n")
	sb.WriteString("cd \"$(dirname \"$0\")\"\n")
	fmt.Fprintf(&sb, "mkdir -p %s\n", logDir)
	sb.WriteString("\n")

	for _, st := range p.Stages {
		v := shellVar(st.ID)
		dep := ""
		if len(st.DependsOn) > 0 {
			ids := make([]string, 0, len(st.DependsOn))
			for _, d := range st.DependsOn {
				ids = append(ids, "$"+shellVar(d))
			}
			dep = fmt.Sprintf(" --dependency=afterok:%s", strings.Join(ids, ":"))
		}
		fmt.Fprintf(&sb, "%s=$(sbatch --parsable -J %s%s %s %s)\n",
			v, shellQuote(st.ID), dep, jobScript, shellQuote(st.ID))
		fmt.Fprintf(&sb, "echo \"%s -> $%s\"\n", st.ID, v)
	}
	return sb.String()
}

var jobIDPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

// ParseJobID extracts the job ID from sbatch output. Both the human
// "Submitted batch job N" form and the --parsable bare number (with an
// optional ";cluster" suffix) are accepted.
func ParseJobID(out string) (int, error) {
	s := strings.TrimSpace(out)
	if m := jobIDPattern.FindStringSubmatch(s); m != nil {
		return strconv.Atoi(m[1])
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unrecognized sbatch output %q", out)
	}
	return id, nil
}

// ParseSubmissions reads the "stage -> jobid" lines scheduler.sh
// echoes after each sbatch call, mapping stage ID to SLURM job ID.
// Lines that do not match the form are ignored.
func ParseSubmissions(out string) map[string]int {
	jobs := make(map[string]int)
	for _, line := range strings.Split(out, "\n") {
		stage, rest, ok := strings.Cut(line, " -> ")
		if !ok {
			continue
		}
		id, err := ParseJobID(rest)
		if err != nil {
			continue
		}
		jobs[strings.TrimSpace(stage)] = id
	}
	return jobs
}

var safeVar = regexp.MustCompile(`[^a-zA-Z0-9]`)

// shellVar maps a stage ID to a shell variable name.
func shellVar(stageID string) string {
	return "jid_" + safeVar.ReplaceAllString(stageID, "_")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
