// Package plan turns a campaign into the full stage DAG of an ABFE run.
//
// A plan is deterministic: the same campaign and ligand set always
// produce the same stage IDs, the same dependency edges, and the same
// canonical hash. The hash is recorded in the run ledger so a resumed
// run can refuse to continue against a drifted plan.
package plan

import "github.com/alchemlab/abfe/internal/lambda"

// Kind classifies a stage by how it is executed.
type Kind string

const (
	// KindBuild stages the per-ligand topology and structure tree.
	KindBuild Kind = "build"
	// KindMinimize through KindWindow run the MD engine.
	KindMinimize   Kind = "em"
	KindHeat       Kind = "heat"
	KindEquil      Kind = "eq"
	KindProduction Kind = "prod"
	KindWindow     Kind = "window"
	// KindAnalysis runs the free-energy estimator over one leg.
	KindAnalysis Kind = "analysis"
	// KindCollect combines leg results into a binding free energy.
	KindCollect Kind = "collect"
	// KindHook runs a user command declared in an HCL rule file.
	KindHook Kind = "hook"
)

// System names the simulation box a stage belongs to.
type System string

const (
	SystemComplex System = "complex"
	SystemLigand  System = "ligand"
)

// Legs returns the alchemical legs simulated for the system. The
// receptor-ligand restraints only exist in the complex box.
func (s System) Legs() []lambda.Leg {
	if s == SystemComplex {
		return []lambda.Leg{lambda.LegRestraints, lambda.LegCoulomb, lambda.LegVdw}
	}
	return []lambda.Leg{lambda.LegCoulomb, lambda.LegVdw}
}

// Stage is one schedulable unit of the pipeline.
type Stage struct {
	// ID is unique within the plan and path-safe,
	// e.g. "lig_a/rep1/complex/vdw/win07".
	ID string `json:"id"`

	Ligand  string `json:"ligand"`
	Replica int    `json:"replica"`
	System  System `json:"system,omitempty"`

	Kind Kind       `json:"kind"`
	Leg  lambda.Leg `json:"leg,omitempty"`

	// Window is the lambda state index for KindWindow, -1 otherwise.
	Window int `json:"window"`

	// Dir is the stage working directory relative to the run root.
	Dir string `json:"dir"`

	// Template and Subs describe the .mdp input of an MD stage.
	Template string            `json:"template,omitempty"`
	Subs     map[string]string `json:"subs,omitempty"`

	// Command is the argv of hook and analysis stages.
	Command []string `json:"command,omitempty"`

	DependsOn []string `json:"depends_on,omitempty"`
}

// MD reports whether the stage invokes the MD engine.
func (s *Stage) MD() bool {
	switch s.Kind {
	case KindMinimize, KindHeat, KindEquil, KindProduction, KindWindow:
		return true
	}
	return false
}
