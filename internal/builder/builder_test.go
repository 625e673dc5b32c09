package builder

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alchemlab/abfe/internal/config"
	"github.com/alchemlab/abfe/internal/gmx"
)

func TestDiscoverLigands(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zzz.mol", "aaa.mol", "mid.mol", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	got, err := DiscoverLigands(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "mid", "zzz"}, got)
}

func TestDiscoverLigandsEmpty(t *testing.T) {
	_, err := DiscoverLigands(t.TempDir())
	assert.ErrorContains(t, err, "no .mol files")
}

func writeFFArchive(t *testing.T, dir, name string, files map[string]string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for path, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: path, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestExtractForceFields(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFFArchive(t, src, "amber99sb.ff.tar.gz", map[string]string{
		"amber99sb.ff/forcefield.itp": "; ff",
		"amber99sb.ff/tip3p.itp":      "; water",
	})

	names, err := ExtractForceFields(src, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"amber99sb"}, names)

	data, err := os.ReadFile(filepath.Join(dst, "amber99sb.ff", "forcefield.itp"))
	require.NoError(t, err)
	assert.Equal(t, "; ff", string(data))
}

func TestExtractForceFieldsRejectsEscape(t *testing.T) {
	src := t.TempDir()
	writeFFArchive(t, src, "evil.ff.tar.gz", map[string]string{
		"../outside.itp": "x",
	})

	_, err := ExtractForceFields(src, t.TempDir())
	assert.ErrorContains(t, err, "escapes destination")
}

func TestReadCryst1(t *testing.T) {
	dir := t.TempDir()
	pdb := filepath.Join(dir, "membrane.pdb")
	content := strings.Join([]string{
		"REMARK generated",
		"CRYST1   80.123   80.123   95.500  90.00  90.00  90.00 P 1           1",
		"ATOM      1  N   MET A   1      10.000  10.000  10.000  1.00  0.00",
	}, "\n")
	require.NoError(t, os.WriteFile(pdb, []byte(content), 0o644))

	box, err := ReadCryst1(pdb)
	require.NoError(t, err)
	assert.InDelta(t, 80.123, box.A, 1e-9)
	assert.InDelta(t, 95.5, box.C, 1e-9)
	assert.InDelta(t, 90.0, box.Gamma, 1e-9)
	assert.Equal(t, "P 1", box.SpaceGroup)

	a, _, c := box.Nanometers()
	assert.InDelta(t, 8.0123, a, 1e-9)
	assert.InDelta(t, 9.55, c, 1e-9)
}

func TestReadCryst1Missing(t *testing.T) {
	dir := t.TempDir()
	pdb := filepath.Join(dir, "protein.pdb")
	require.NoError(t, os.WriteFile(pdb, []byte("ATOM      1\n"), 0o644))

	_, err := ReadCryst1(pdb)
	assert.ErrorContains(t, err, "no CRYST1 record")
}

func TestAppendLigandInclude(t *testing.T) {
	dir := t.TempDir()
	top := filepath.Join(dir, "topol.top")
	content := strings.Join([]string{
		`#include "amber99sb.ff/forcefield.itp"`,
		"",
		"[ system ]",
		"Protein in water",
		"",
		"[ molecules ]",
		"Protein_chain_A     1",
	}, "\n")
	require.NoError(t, os.WriteFile(top, []byte(content), 0o644))

	require.NoError(t, appendMoleculeInclude(top, "lig_a", "LIG"))

	data, err := os.ReadFile(top)
	require.NoError(t, err)
	got := string(data)

	// The ligand include follows the force-field include.
	idx := strings.Index(got, `#include "lig_a.itp"`)
	require.Positive(t, idx)
	assert.Less(t, strings.Index(got, "forcefield.itp"), idx)
	assert.True(t, strings.HasSuffix(strings.TrimRight(got, "\n"), "LIG                 1"))

	// A second molecule stacks below the first in [ molecules ].
	require.NoError(t, appendMoleculeInclude(top, "nadp", "COF"))
	data, err = os.ReadFile(top)
	require.NoError(t, err)
	got = string(data)
	assert.Contains(t, got, `#include "nadp.itp"`)
	assert.True(t, strings.HasSuffix(strings.TrimRight(got, "\n"), "COF                 1"))
	assert.Less(t, strings.Index(got, "LIG "), strings.Index(got, "COF "))
}

// fakeEngine writes a shell stub that logs every invocation and emits
// the topology pdb2gmx would produce.
func fakeEngine(t *testing.T) (bin, argvFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}
	dir := t.TempDir()
	bin = filepath.Join(dir, "gmx")
	argvFile = filepath.Join(dir, "argv")
	script := "#!/bin/sh\n" +
		"echo \"$@\" >> " + argvFile + "\n" +
		"cat > /dev/null\n" +
		"if [ \"$1\" = pdb2gmx ]; then\n" +
		"  printf '#include \"amber99sb.ff/forcefield.itp\"\\n\\n[ system ]\\nProtein\\n\\n[ molecules ]\\nProtein_chain_A     1\\n' > topol.top\n" +
		"fi\n" +
		"exit 0\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, argvFile
}

func stageInputs(t *testing.T, membrane, cofactor bool) *config.Campaign {
	t.Helper()
	in := t.TempDir()
	ligDir := filepath.Join(in, "ligands")
	ffDir := filepath.Join(in, "ff")
	require.NoError(t, os.MkdirAll(ligDir, 0o755))
	require.NoError(t, os.MkdirAll(ffDir, 0o755))
	for _, name := range []string{"lig_a.mol", "lig_a.gro", "lig_a.itp"} {
		require.NoError(t, os.WriteFile(filepath.Join(ligDir, name), []byte("; x\n"), 0o644))
	}
	writeFFArchive(t, ffDir, "amber99sb.ff.tar.gz", map[string]string{
		"amber99sb.ff/forcefield.itp": "; ff",
	})
	protein := filepath.Join(in, "protein.pdb")
	require.NoError(t, os.WriteFile(protein, []byte("ATOM      1\n"), 0o644))

	c := &config.Campaign{
		Name: "stage-test",
		Inputs: config.Inputs{
			LigandDir:     ligDir,
			ProteinPDB:    protein,
			ForceFieldDir: ffDir,
		},
	}
	if membrane {
		mem := filepath.Join(in, "membrane.pdb")
		cryst := "CRYST1   80.000   80.000  100.000  90.00  90.00  90.00 P 1           1\n"
		require.NoError(t, os.WriteFile(mem, []byte(cryst), 0o644))
		c.Inputs.MembranePDB = mem
	}
	if cofactor {
		require.NoError(t, os.WriteFile(filepath.Join(in, "nadp.mol"), []byte("; m\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(in, "nadp.itp"), []byte("; cof\n"), 0o644))
		c.Inputs.CofactorMol = filepath.Join(in, "nadp.mol")
	}
	return c
}

func editconfLines(t *testing.T, argvFile string) []string {
	t.Helper()
	data, err := os.ReadFile(argvFile)
	require.NoError(t, err)
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.HasPrefix(l, "editconf") {
			lines = append(lines, l)
		}
	}
	return lines
}

func TestBuildMembraneKeepsAssembledCell(t *testing.T) {
	bin, argvFile := fakeEngine(t)
	c := stageInputs(t, true, false)
	b := &Builder{Campaign: c, Runner: gmx.New(bin), Root: t.TempDir()}

	require.NoError(t, b.Build(context.Background(), "lig_a"))

	lines := editconfLines(t, argvFile)
	require.Len(t, lines, 2)
	// The complex box takes the CRYST1 cell, the ligand box does not.
	assert.Equal(t, "editconf -f conf.gro -o box.gro -bt triclinic -box 8 8 10 -angles 90 90 90", lines[0])
	assert.Equal(t, "editconf -f conf.gro -o box.gro -bt dodecahedron -d 1.2", lines[1])
}

func TestBuildSolventBoxWithoutMembrane(t *testing.T) {
	bin, argvFile := fakeEngine(t)
	c := stageInputs(t, false, false)
	b := &Builder{Campaign: c, Runner: gmx.New(bin), Root: t.TempDir()}

	require.NoError(t, b.Build(context.Background(), "lig_a"))

	for _, line := range editconfLines(t, argvFile) {
		assert.Contains(t, line, "-bt dodecahedron -d 1.2")
	}
}

func TestBuildStagesCofactor(t *testing.T) {
	bin, _ := fakeEngine(t)
	c := stageInputs(t, false, true)
	root := t.TempDir()
	b := &Builder{Campaign: c, Runner: gmx.New(bin), Root: root}

	require.NoError(t, b.Build(context.Background(), "lig_a"))

	complexDir := filepath.Join(root, "lig_a", "complex")
	_, err := os.Stat(filepath.Join(complexDir, "nadp.itp"))
	require.NoError(t, err)

	top, err := os.ReadFile(filepath.Join(complexDir, "topol.top"))
	require.NoError(t, err)
	got := string(top)
	assert.Contains(t, got, `#include "nadp.itp"`)
	assert.Contains(t, got, "COF                 1")
	assert.Less(t, strings.Index(got, "LIG "), strings.Index(got, "COF "))

	// The ligand box stays cofactor-free.
	top, err = os.ReadFile(filepath.Join(root, "lig_a", "ligand", "topol.top"))
	require.NoError(t, err)
	assert.NotContains(t, string(top), "nadp")
}

func TestAppendMoleculeIncludeNoForceField(t *testing.T) {
	dir := t.TempDir()
	top := filepath.Join(dir, "topol.top")
	require.NoError(t, os.WriteFile(top, []byte("[ system ]\nx\n"), 0o644))

	err := appendMoleculeInclude(top, "lig_a", "LIG")
	assert.ErrorContains(t, err, "no force-field include")
}
