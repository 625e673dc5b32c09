package mdp

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eqSubs() map[string]string {
	return map[string]string{
		"DEFINE":          "-DPOSRES -DPOSRES_FC=400",
		"DT":              "0.002",
		"NSTEPS":          "50000",
		"TC_GRPS":         "SOLU MEMB SOLV",
		"TAU_T":           "1.0 1.0 1.0",
		"REF_T":           "298.15 298.15 298.15",
		"PCOUPL":          "Berendsen",
		"PCOUPLTYPE":      "semiisotropic",
		"REF_P":           "1.0 1.0",
		"COMPRESSIBILITY": "4.5e-5 4.5e-5",
	}
}

func TestRenderEquilibrationGolden(t *testing.T) {
	doc, err := Render(TemplateEquil, eqSubs())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "eq_posres", []byte(doc.String()))
}

func TestRenderSubstitutesListValues(t *testing.T) {
	doc, err := Render(TemplateEquil, eqSubs())
	require.NoError(t, err)

	assert.Equal(t, []string{"SOLU", "MEMB", "SOLV"}, doc.Values("tc_grps"))
	assert.Equal(t, []string{"-DPOSRES", "-DPOSRES_FC=400"}, doc.Values("define"))
	assert.Equal(t, "Berendsen", doc.Get("pcoupl"))
}

func TestRenderUnresolvedPlaceholderFails(t *testing.T) {
	subs := eqSubs()
	delete(subs, "NSTEPS")
	delete(subs, "REF_T")

	_, err := Render(TemplateEquil, subs)
	require.Error(t, err)

	var uerr *UnresolvedError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, TemplateEquil, uerr.Template)
	assert.Equal(t, []string{"NSTEPS", "REF_T"}, uerr.Tokens)
}

func TestRenderIonsNeedsNoSubstitutions(t *testing.T) {
	doc, err := Render(TemplateIons, nil)
	require.NoError(t, err)

	assert.Equal(t, "cut-off", doc.Get("coulombtype"))
	assert.Equal(t, "-1", doc.Get("verlet-buffer-tolerance"))
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := Render("annealing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template")
}

func TestTemplateNamesComplete(t *testing.T) {
	assert.Equal(t,
		[]string{"em", "eq", "fep", "heat", "ions", "prod"},
		TemplateNames())
}

func TestPlaceholdersListed(t *testing.T) {
	tokens, err := Placeholders(TemplateHeat)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"DT", "GEN_SEED", "GEN_TEMP", "NSTEPS", "REF_T", "TAU_T", "TC_GRPS"},
		tokens)
}

func TestRenderedTemplatesHaveNoTokens(t *testing.T) {
	doc, err := Render(TemplateEquil, eqSubs())
	require.NoError(t, err)

	for _, key := range doc.Keys() {
		for _, val := range doc.Values(key) {
			assert.NotContains(t, val, "@", "key %s", key)
		}
	}
}
