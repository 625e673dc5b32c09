package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alchemlab/abfe/internal/config"
	"github.com/alchemlab/abfe/internal/plan"
)

func writeRules(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hooks.hcl"), []byte(body), 0o644))
	return dir
}

func testPlan(t *testing.T) *plan.Plan {
	t.Helper()
	c := &config.Campaign{
		Name:   "hooks-test",
		Engine: config.Engine{Binary: "gmx", Estimator: "abfe-estimator"},
		Sim: config.Simulation{
			Temperature: 298.15, Pressure: 1.0, DT: 0.002,
			HeatSteps: 1000, ProdSteps: 1000, WindowSteps: 1000,
			EquilChain: []int{1000}, PosresFC: []float64{0}, Seed: -1,
		},
		Windows:  config.Windows{Restraints: 2, Coulomb: 2, Vdw: 2},
		Replicas: 1,
	}
	p, err := plan.Build(c, []string{"lig_a"})
	require.NoError(t, err)
	return p
}

func TestLoadDirParsesHooks(t *testing.T) {
	dir := writeRules(t, `
hook "strip_water" {
  after  = "prod"
  system = "complex"
  run    = "gmx trjconv -f ${dir}/prod.xtc"
}

hook "cleanup" {
  after = "collect"
  run   = "rm -rf scratch/${ligand}"
}
`)
	hooks, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, hooks, 2)
	assert.Equal(t, "strip_water", hooks[0].Name)
	assert.Equal(t, plan.KindProduction, hooks[0].After)
	assert.Equal(t, plan.SystemComplex, hooks[0].System)
}

func TestLoadDirRejectsUnknownAnchor(t *testing.T) {
	dir := writeRules(t, `
hook "bad" {
  after = "solvate"
  run   = "true"
}
`)
	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown anchor")
}

func TestLoadDirRejectsInvalidHCL(t *testing.T) {
	dir := writeRules(t, `hook "broken" {`)
	_, err := LoadDir(dir)
	require.Error(t, err)
}

func TestExpandAttachesHookPerAnchor(t *testing.T) {
	dir := writeRules(t, `
hook "strip_water" {
  after  = "prod"
  system = "complex"
  run    = "gmx trjconv -f ${dir}/prod.xtc -o ${dir}/dry.xtc"
}
`)
	hooks, err := LoadDir(dir)
	require.NoError(t, err)

	p := testPlan(t)
	before := len(p.Stages)
	require.NoError(t, Expand(p, hooks))
	assert.Equal(t, before+1, len(p.Stages), "one complex prod stage")

	s := p.Stage("lig_a/rep1/complex/prod/hook/strip_water")
	require.NotNil(t, s)
	assert.Equal(t, plan.KindHook, s.Kind)
	assert.Equal(t, []string{"lig_a/rep1/complex/prod"}, s.DependsOn)
	assert.Equal(t,
		[]string{"sh", "-c", "gmx trjconv -f lig_a/rep1/complex/prod/prod.xtc -o lig_a/rep1/complex/prod/dry.xtc"},
		s.Command)
}

func TestExpandInterpolatesVariables(t *testing.T) {
	dir := writeRules(t, `
hook "tag" {
  after = "analysis"
  leg   = "vdw"
  run   = "echo ${ligand} ${system} ${leg}"
}
`)
	hooks, err := LoadDir(dir)
	require.NoError(t, err)

	p := testPlan(t)
	require.NoError(t, Expand(p, hooks))

	s := p.Stage("lig_a/rep1/ligand/vdw/analysis/hook/tag")
	require.NotNil(t, s)
	assert.Equal(t, "echo lig_a ligand vdw", s.Command[2])
}

func TestExpandUnmatchedHookFails(t *testing.T) {
	dir := writeRules(t, `
hook "nope" {
  after   = "prod"
  ligands = ["other_ligand"]
  run     = "true"
}
`)
	hooks, err := LoadDir(dir)
	require.NoError(t, err)

	err = Expand(testPlan(t), hooks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matches no stage")
}
