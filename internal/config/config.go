// Package config loads and validates ABFE campaign configuration.
//
// A campaign file is YAML describing the inputs (ligands, receptor,
// optional membrane and cofactor), the MD engine settings, the length of
// every pipeline stage, the alchemical window counts, and the cluster
// profile used when the run is exported to SLURM. The file is validated
// against an embedded CUE schema before any stage is planned so that
// malformed campaigns fail before anything touches the filesystem.
package config

// Campaign is a fully-loaded, validated campaign configuration.
type Campaign struct {
	Name    string     `yaml:"name"`
	Inputs  Inputs     `yaml:"inputs"`
	Engine  Engine     `yaml:"engine"`
	Sim     Simulation `yaml:"simulation"`
	Windows Windows    `yaml:"windows"`

	// Replicas is the number of independent repeats per ligand.
	Replicas int `yaml:"replicas"`

	Cluster Cluster `yaml:"cluster"`

	// Ledger is the path of the SQLite run ledger.
	Ledger string `yaml:"ledger"`

	// HooksDir optionally points at a directory of *.hcl hook rules.
	HooksDir string `yaml:"hooks_dir"`
}

// Inputs names the structure and topology sources of the campaign.
type Inputs struct {
	// LigandDir holds one .mol file per ligand.
	LigandDir  string `yaml:"ligand_dir"`
	ProteinPDB string `yaml:"protein_pdb"`

	// MembranePDB switches the campaign to the membrane protocol:
	// three coupling groups and semiisotropic pressure coupling.
	MembranePDB string `yaml:"membrane_pdb"`

	CofactorMol string `yaml:"cofactor_mol"`

	// ForceFieldDir holds the bundled *.ff.tar.gz archives.
	ForceFieldDir string `yaml:"force_field_dir"`
}

// Engine configures the external MD binary.
type Engine struct {
	Binary string `yaml:"binary"`

	// MPIThreads / OMPThreads of 0 mean "derive from the host".
	MPIThreads int  `yaml:"mpi_threads"`
	OMPThreads int  `yaml:"omp_threads"`
	GPU        bool `yaml:"gpu"`

	// Estimator is the command run by analysis stages. It receives the
	// leg directory as its argument and must write results.json there.
	Estimator string `yaml:"estimator"`
}

// Simulation holds stage lengths and thermodynamic settings.
type Simulation struct {
	Temperature float64 `yaml:"temperature"` // K
	Pressure    float64 `yaml:"pressure"`    // bar
	DT          float64 `yaml:"dt"`          // ps

	HeatSteps   int `yaml:"heat_steps"`
	ProdSteps   int `yaml:"prod_steps"`
	WindowSteps int `yaml:"window_steps"`

	// EquilChain is the NPT equilibration chain: one stage per entry,
	// restrained with the matching PosresFC entry. A PosresFC of 0 drops
	// the restraint define for that stage.
	EquilChain []int     `yaml:"equil_steps"`
	PosresFC   []float64 `yaml:"posres_fc"`

	// Seed feeds gen_seed; -1 lets the engine randomize.
	Seed int `yaml:"seed"`
}

// Windows sets per-leg alchemical window counts.
type Windows struct {
	Restraints int `yaml:"restraints"`
	Coulomb    int `yaml:"coulomb"`
	Vdw        int `yaml:"vdw"`
}

// Cluster is the SLURM export profile.
type Cluster struct {
	Partition   string `yaml:"partition"`
	Time        string `yaml:"time"`
	MemMB       int    `yaml:"mem_mb"`
	Jobs        int    `yaml:"jobs"`
	LatencyWait int    `yaml:"latency_wait"` // seconds to wait for shared-FS output

	// Account may be empty outside accounted clusters.
	Account string `yaml:"account"`
}

// Membrane reports whether the membrane protocol is active.
func (c *Campaign) Membrane() bool {
	return c.Inputs.MembranePDB != ""
}

// CouplingGroups returns the temperature-coupling groups for the campaign.
func (c *Campaign) CouplingGroups() []string {
	if c.Membrane() {
		return []string{"SOLU", "MEMB", "SOLV"}
	}
	return []string{"SOLU", "SOLV"}
}
