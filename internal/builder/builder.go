// Package builder stages the simulation systems of a ligand: the
// solvated protein-ligand complex box and the solvated ligand-only
// box. It lays out the per-ligand directory tree, unpacks the bundled
// force fields, and drives the engine through the topology, box,
// solvation, and neutralization chain.
package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alchemlab/abfe/internal/config"
	"github.com/alchemlab/abfe/internal/ctxlog"
	"github.com/alchemlab/abfe/internal/gmx"
	"github.com/alchemlab/abfe/internal/mdp"
)

// Defaults of the solvation chain.
const (
	boxDistanceNM = 1.2  // solute-to-wall distance for editconf -d
	ionConc       = 0.15 // mol/l, physiological
	gromppMaxWarn = 2
	waterModel    = "tip3p"
)

// Builder prepares ligand systems under the run root.
type Builder struct {
	Campaign *config.Campaign
	Runner   *gmx.Runner
	Root     string
}

// DiscoverLigands lists ligand names from the .mol files in dir.
func DiscoverLigands(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.mol"))
	if err != nil {
		return nil, fmt.Errorf("discover ligands: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("discover ligands: no .mol files in %s", dir)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".mol"))
	}
	sort.Strings(names)
	return names, nil
}

// Build stages both boxes of one ligand. The complex box combines the
// receptor (and membrane, if configured) with the ligand; the ligand
// box holds the ligand alone in water.
func (b *Builder) Build(ctx context.Context, ligand string) error {
	log := ctxlog.FromContext(ctx)
	ligRoot := filepath.Join(b.Root, ligand)

	for _, system := range []string{"complex", "ligand"} {
		dir := filepath.Join(ligRoot, system)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("build %s: %w", ligand, err)
		}
		ffs, err := ExtractForceFields(b.Campaign.Inputs.ForceFieldDir, dir)
		if err != nil {
			return fmt.Errorf("build %s/%s: %w", ligand, system, err)
		}
		if err := b.writeIonsMdp(dir); err != nil {
			return fmt.Errorf("build %s/%s: %w", ligand, system, err)
		}
		if err := b.stageBox(ctx, dir, ligand, system, ffs[0]); err != nil {
			return fmt.Errorf("build %s/%s: %w", ligand, system, err)
		}
		log.Info("system staged", "ligand", ligand, "system", system, "force_field", ffs[0])
	}
	return nil
}

// writeIonsMdp renders the steepest-descent settings genion's grompp
// pass needs. The ions template has no placeholders.
func (b *Builder) writeIonsMdp(dir string) error {
	doc, err := mdp.Render(mdp.TemplateIons, nil)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "ions.mdp"), []byte(doc.String()), 0o644)
}

// stageBox runs the preparation chain in dir, ending with the
// neutralized, solvated structure solv_ions.gro and its topology.
func (b *Builder) stageBox(ctx context.Context, dir, ligand, system, forceField string) error {
	in := b.Campaign.Inputs
	r := b.Runner

	if system == "complex" {
		if err := copyFile(in.ProteinPDB, filepath.Join(dir, "protein.pdb")); err != nil {
			return err
		}
		if b.Campaign.Membrane() {
			if err := copyFile(in.MembranePDB, filepath.Join(dir, "membrane.pdb")); err != nil {
				return err
			}
		}
		if err := r.Pdb2gmx(ctx, dir, "protein.pdb", forceField, waterModel, "conf.gro", "topol.top"); err != nil {
			return err
		}
	} else {
		// The ligand box starts from the staged ligand coordinates; its
		// parameters come via the topology include below.
		if err := copyFile(filepath.Join(in.LigandDir, ligand+".gro"), filepath.Join(dir, "conf.gro")); err != nil {
			return err
		}
		if err := b.writeLigandTopology(dir, forceField, ligand); err != nil {
			return err
		}
	}

	if err := copyLigandParameters(in.LigandDir, dir, ligand); err != nil {
		return err
	}
	if system == "complex" {
		if err := appendMoleculeInclude(filepath.Join(dir, "topol.top"), ligand, "LIG"); err != nil {
			return err
		}
		if in.CofactorMol != "" {
			if err := b.stageCofactor(dir); err != nil {
				return err
			}
		}
	}

	boxOpts := gmx.EditconfOpts{BoxType: "dodecahedron", Distance: boxDistanceNM}
	if b.Campaign.Membrane() && system == "complex" {
		// A membrane system keeps the cell it was assembled in.
		box, err := ReadCryst1(filepath.Join(dir, "membrane.pdb"))
		if err != nil {
			return err
		}
		a, bb, c := box.Nanometers()
		boxOpts = gmx.EditconfOpts{
			BoxType: "triclinic",
			Vectors: []float64{a, bb, c},
			Angles:  []float64{box.Alpha, box.Beta, box.Gamma},
		}
		ctxlog.FromContext(ctx).Info("using membrane cell",
			"a", a, "b", bb, "c", c, "alpha", box.Alpha, "beta", box.Beta, "gamma", box.Gamma)
	}
	if err := r.Editconf(ctx, dir, "conf.gro", "box.gro", boxOpts); err != nil {
		return err
	}
	if err := r.Solvate(ctx, dir, "box.gro", "topol.top", "solv.gro"); err != nil {
		return err
	}
	if err := r.Grompp(ctx, dir, "ions.mdp", "solv.gro", "topol.top", "ions.tpr", gromppMaxWarn); err != nil {
		return err
	}
	return r.Genion(ctx, dir, "ions.tpr", "topol.top", "solv_ions.gro", ionConc)
}

// stageCofactor copies the cofactor's parameter file next to the
// complex topology and splices it in. The cofactor goes after the
// ligand so solvation leaves its molecule count last but one before
// the water.
func (b *Builder) stageCofactor(dir string) error {
	mol := b.Campaign.Inputs.CofactorMol
	name := strings.TrimSuffix(filepath.Base(mol), ".mol")
	src := filepath.Join(filepath.Dir(mol), name+".itp")
	if err := copyFile(src, filepath.Join(dir, name+".itp")); err != nil {
		return fmt.Errorf("cofactor parameters: %w", err)
	}
	return appendMoleculeInclude(filepath.Join(dir, "topol.top"), name, "COF")
}

// writeLigandTopology emits the minimal ligand-box topology that pulls
// in the force field and the ligand's parameter file.
func (b *Builder) writeLigandTopology(dir, forceField, ligand string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#include \"%s.ff/forcefield.itp\"\n", forceField)
	fmt.Fprintf(&sb, "#include \"%s.itp\"\n", ligand)
	fmt.Fprintf(&sb, "#include \"%s.ff/%s.itp\"\n", forceField, waterModel)
	fmt.Fprintf(&sb, "#include \"%s.ff/ions.itp\"\n\n", forceField)
	sb.WriteString("[ system ]\n")
	fmt.Fprintf(&sb, "%s in water\n\n", ligand)
	sb.WriteString("[ molecules ]\n")
	sb.WriteString("LIG                 1\n")
	return os.WriteFile(filepath.Join(dir, "topol.top"), []byte(sb.String()), 0o644)
}

// copyLigandParameters stages the ligand's .itp (and any .posre file)
// next to the topology.
func copyLigandParameters(srcDir, dstDir, ligand string) error {
	if err := copyFile(filepath.Join(srcDir, ligand+".itp"), filepath.Join(dstDir, ligand+".itp")); err != nil {
		return err
	}
	posre := filepath.Join(srcDir, "posre_"+ligand+".itp")
	if _, err := os.Stat(posre); err == nil {
		return copyFile(posre, filepath.Join(dstDir, "posre_"+ligand+".itp"))
	}
	return nil
}

// appendMoleculeInclude splices a parameterized molecule into a
// pdb2gmx topology: the include goes after the force-field include,
// the molecule count at the end of [ molecules ].
func appendMoleculeInclude(topology, name, molName string) error {
	data, err := os.ReadFile(topology)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	var out []string
	included := false
	for _, line := range lines {
		out = append(out, line)
		if !included && strings.HasPrefix(strings.TrimSpace(line), "#include") {
			out = append(out, fmt.Sprintf("#include \"%s.itp\"", name))
			included = true
		}
	}
	if !included {
		return fmt.Errorf("topology %s has no force-field include", topology)
	}
	out = append(out, fmt.Sprintf("%-19s 1", molName))
	return os.WriteFile(topology, []byte(strings.Join(out, "\n")+"\n"), 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
