// Package rules loads HCL hook-rule files and expands them into plan
// stages.
//
// A hook attaches a user command after every pipeline stage matching its
// anchor, for site-specific chores the shipped pipeline does not know
// about (trajectory post-processing, scratch cleanup, notification).
//
//	hook "strip_water" {
//	  after  = "prod"
//	  system = "complex"
//	  run    = "gmx trjconv -f ${dir}/prod.xtc -o ${dir}/dry.xtc"
//	}
//
// The run attribute is an HCL template evaluated per anchor stage with
// the variables ligand, replica, system, leg, window, and dir in scope.
// Hooks gate nothing: downstream pipeline stages do not wait for them.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/alchemlab/abfe/internal/plan"
)

// Hook is one parsed hook rule.
type Hook struct {
	Name    string
	After   plan.Kind
	System  plan.System // empty matches both boxes
	Leg     string      // empty matches all legs
	Ligands []string    // empty matches all ligands
	Run     hcl.Expression
}

type hookBlock struct {
	Name    string         `hcl:"name,label"`
	After   string         `hcl:"after"`
	System  string         `hcl:"system,optional"`
	Leg     string         `hcl:"leg,optional"`
	Ligands []string       `hcl:"ligands,optional"`
	Run     hcl.Expression `hcl:"run"`
}

type ruleFile struct {
	Hooks []hookBlock `hcl:"hook,block"`
}

var anchorKinds = map[string]plan.Kind{
	"em":       plan.KindMinimize,
	"heat":     plan.KindHeat,
	"eq":       plan.KindEquil,
	"prod":     plan.KindProduction,
	"window":   plan.KindWindow,
	"analysis": plan.KindAnalysis,
	"collect":  plan.KindCollect,
}

// LoadDir parses every *.hcl file in dir. Files load in name order so
// hook declaration order is stable.
func LoadDir(dir string) ([]Hook, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".hcl" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	parser := hclparse.NewParser()
	var hooks []Hook
	for _, path := range paths {
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("rules: %s: %w", path, diags)
		}
		var rf ruleFile
		if diags := gohcl.DecodeBody(file.Body, nil, &rf); diags.HasErrors() {
			return nil, fmt.Errorf("rules: %s: %w", path, diags)
		}
		for _, b := range rf.Hooks {
			h, err := convert(b)
			if err != nil {
				return nil, fmt.Errorf("rules: %s: %w", path, err)
			}
			hooks = append(hooks, h)
		}
	}
	return hooks, nil
}

func convert(b hookBlock) (Hook, error) {
	kind, ok := anchorKinds[b.After]
	if !ok {
		return Hook{}, fmt.Errorf("hook %q: unknown anchor %q", b.Name, b.After)
	}
	switch b.System {
	case "", string(plan.SystemComplex), string(plan.SystemLigand):
	default:
		return Hook{}, fmt.Errorf("hook %q: unknown system %q", b.Name, b.System)
	}
	return Hook{
		Name:    b.Name,
		After:   kind,
		System:  plan.System(b.System),
		Leg:     b.Leg,
		Ligands: b.Ligands,
		Run:     b.Run,
	}, nil
}

// Expand appends one hook stage per matching anchor stage. A hook that
// matches nothing is an error: it almost always means a typo in the
// anchor filters.
func Expand(p *plan.Plan, hooks []Hook) error {
	anchors := append([]*plan.Stage(nil), p.Stages...)
	for _, h := range hooks {
		matched := 0
		for _, anchor := range anchors {
			if !h.matches(anchor) {
				continue
			}
			cmd, err := h.render(anchor)
			if err != nil {
				return err
			}
			s := &plan.Stage{
				ID:        anchor.ID + "/hook/" + h.Name,
				Ligand:    anchor.Ligand,
				Replica:   anchor.Replica,
				System:    anchor.System,
				Kind:      plan.KindHook,
				Leg:       anchor.Leg,
				Window:    -1,
				Dir:       anchor.Dir,
				Command:   []string{"sh", "-c", cmd},
				DependsOn: []string{anchor.ID},
			}
			if err := p.Add(s); err != nil {
				return fmt.Errorf("rules: hook %q: %w", h.Name, err)
			}
			matched++
		}
		if matched == 0 {
			return fmt.Errorf("rules: hook %q matches no stage", h.Name)
		}
	}
	return nil
}

func (h Hook) matches(s *plan.Stage) bool {
	if s.Kind != h.After {
		return false
	}
	if h.System != "" && s.System != h.System {
		return false
	}
	if h.Leg != "" && string(s.Leg) != h.Leg {
		return false
	}
	if len(h.Ligands) > 0 {
		found := false
		for _, lig := range h.Ligands {
			if lig == s.Ligand {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (h Hook) render(anchor *plan.Stage) (string, error) {
	ctx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"ligand":  cty.StringVal(anchor.Ligand),
			"replica": cty.NumberIntVal(int64(anchor.Replica)),
			"system":  cty.StringVal(string(anchor.System)),
			"leg":     cty.StringVal(string(anchor.Leg)),
			"window":  cty.NumberIntVal(int64(anchor.Window)),
			"dir":     cty.StringVal(anchor.Dir),
		},
	}
	val, diags := h.Run.Value(ctx)
	if diags.HasErrors() {
		return "", fmt.Errorf("rules: hook %q: evaluating run: %w", h.Name, diags)
	}
	if val.Type() != cty.String {
		return "", fmt.Errorf("rules: hook %q: run must be a string", h.Name)
	}
	return val.AsString(), nil
}
