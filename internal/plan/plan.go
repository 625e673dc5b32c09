package plan

import (
	"fmt"
	"path"
	"sort"
	"strconv"

	"github.com/alchemlab/abfe/internal/config"
	"github.com/alchemlab/abfe/internal/lambda"
)

// Plan is the complete stage DAG of one campaign run.
// Stages appear in dependency order: every stage is preceded by all of
// its dependencies.
type Plan struct {
	Campaign string
	Stages   []*Stage

	index map[string]*Stage
}

// Build constructs the plan for a campaign over the given ligand names.
// Ligand names are sorted so planning is order-independent.
func Build(c *config.Campaign, ligands []string) (*Plan, error) {
	if len(ligands) == 0 {
		return nil, fmt.Errorf("plan: no ligands")
	}
	names := append([]string(nil), ligands...)
	sort.Strings(names)

	p := &Plan{Campaign: c.Name, index: make(map[string]*Stage)}
	for _, lig := range names {
		if err := p.addLigand(c, lig); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Stage looks up a stage by ID, or nil.
func (p *Plan) Stage(id string) *Stage {
	return p.index[id]
}

// Add appends a stage, checking ID uniqueness and dependency references.
// Used by the planner itself and by hook-rule expansion.
func (p *Plan) Add(s *Stage) error {
	if s.ID == "" {
		return fmt.Errorf("plan: stage with empty ID")
	}
	if p.index == nil {
		p.index = make(map[string]*Stage)
	}
	if _, dup := p.index[s.ID]; dup {
		return fmt.Errorf("plan: duplicate stage ID %q", s.ID)
	}
	for _, dep := range s.DependsOn {
		if _, ok := p.index[dep]; !ok {
			return fmt.Errorf("plan: stage %q depends on unknown stage %q", s.ID, dep)
		}
	}
	p.index[s.ID] = s
	p.Stages = append(p.Stages, s)
	return nil
}

// addLigand emits the full per-ligand pipeline:
// build, then per replica and per system the equilibration chain,
// production, the alchemical windows with their leg analyses, and the
// replica's collect stage.
func (p *Plan) addLigand(c *config.Campaign, lig string) error {
	buildID := path.Join(lig, "build")
	if err := p.Add(&Stage{
		ID:     buildID,
		Ligand: lig,
		Kind:   KindBuild,
		Window: -1,
		Dir:    path.Join(lig, "build"),
	}); err != nil {
		return err
	}

	for rep := 1; rep <= c.Replicas; rep++ {
		var analyses []string
		for _, system := range []System{SystemComplex, SystemLigand} {
			ids, err := p.addSystem(c, lig, rep, system, buildID)
			if err != nil {
				return err
			}
			analyses = append(analyses, ids...)
		}

		collectID := path.Join(lig, repName(rep), "collect")
		if err := p.Add(&Stage{
			ID:        collectID,
			Ligand:    lig,
			Replica:   rep,
			Kind:      KindCollect,
			Window:    -1,
			Dir:       path.Join(lig, repName(rep)),
			DependsOn: analyses,
		}); err != nil {
			return err
		}
	}
	return nil
}

// addSystem emits one box's chain and returns its analysis stage IDs.
func (p *Plan) addSystem(c *config.Campaign, lig string, rep int, system System, buildID string) ([]string, error) {
	base := path.Join(lig, repName(rep), string(system))

	chain := []*Stage{
		{
			Kind:     KindMinimize,
			Dir:      path.Join(base, "em"),
			Template: "em",
			Subs:     map[string]string{"NSTEPS": "10000"},
		},
		{
			Kind:     KindHeat,
			Dir:      path.Join(base, "heat"),
			Template: "heat",
			Subs:     heatSubs(c),
		},
	}
	for i, steps := range c.Sim.EquilChain {
		chain = append(chain, &Stage{
			Kind:     KindEquil,
			Dir:      path.Join(base, fmt.Sprintf("eq%d", i+1)),
			Template: "eq",
			Subs:     equilSubs(c, steps, c.Sim.PosresFC[i]),
		})
	}
	chain = append(chain, &Stage{
		Kind:     KindProduction,
		Dir:      path.Join(base, "prod"),
		Template: "prod",
		Subs:     prodSubs(c),
	})

	prev := buildID
	for _, s := range chain {
		s.ID = s.Dir
		s.Ligand = lig
		s.Replica = rep
		s.System = system
		s.Window = -1
		s.DependsOn = []string{prev}
		if err := p.Add(s); err != nil {
			return nil, err
		}
		prev = s.ID
	}
	prodID := prev

	var analyses []string
	for _, leg := range system.Legs() {
		id, err := p.addLeg(c, lig, rep, system, leg, prodID)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, id)
	}
	return analyses, nil
}

// addLeg emits a leg's windows and analysis, returning the analysis ID.
func (p *Plan) addLeg(c *config.Campaign, lig string, rep int, system System, leg lambda.Leg, prodID string) (string, error) {
	sched, err := lambda.Windows(leg, windowCount(c, leg))
	if err != nil {
		return "", err
	}
	if system == SystemLigand {
		// No receptor restraints exist in the ligand box.
		sched.Restraint = make([]float64, sched.Len())
	}

	base := path.Join(lig, repName(rep), string(system), string(leg))
	vectors := sched.Vectors()

	var windowIDs []string
	for w := 0; w < sched.Len(); w++ {
		subs := windowSubs(c, w)
		for k, v := range vectors {
			subs[k] = v
		}
		s := &Stage{
			ID:        path.Join(base, fmt.Sprintf("win%02d", w)),
			Ligand:    lig,
			Replica:   rep,
			System:    system,
			Kind:      KindWindow,
			Leg:       leg,
			Window:    w,
			Dir:       path.Join(base, fmt.Sprintf("win%02d", w)),
			Template:  "fep",
			Subs:      subs,
			DependsOn: []string{prodID},
		}
		if err := p.Add(s); err != nil {
			return "", err
		}
		windowIDs = append(windowIDs, s.ID)
	}

	analysisID := path.Join(base, "analysis")
	if err := p.Add(&Stage{
		ID:        analysisID,
		Ligand:    lig,
		Replica:   rep,
		System:    system,
		Kind:      KindAnalysis,
		Leg:       leg,
		Window:    -1,
		Dir:       base,
		Command:   []string{c.Engine.Estimator, base},
		DependsOn: windowIDs,
	}); err != nil {
		return "", err
	}
	return analysisID, nil
}

func windowCount(c *config.Campaign, leg lambda.Leg) int {
	switch leg {
	case lambda.LegRestraints:
		return c.Windows.Restraints
	case lambda.LegCoulomb:
		return c.Windows.Coulomb
	default:
		return c.Windows.Vdw
	}
}

func repName(rep int) string {
	return "rep" + strconv.Itoa(rep)
}

// Substitution builders. Every MD stage carries its complete
// substitution map so a stage can be rendered in isolation (that is what
// `abfe exec` does inside a SLURM job).

func commonSubs(c *config.Campaign) map[string]string {
	groups := c.CouplingGroups()
	return map[string]string{
		"DT":      formatFloat(c.Sim.DT),
		"TC_GRPS": joinGroups(groups, ""),
		"TAU_T":   joinGroups(groups, "1.0"),
		"REF_T":   joinGroups(groups, formatFloat(c.Sim.Temperature)),
	}
}

func pressureSubs(c *config.Campaign, coupler string) map[string]string {
	subs := map[string]string{
		"PCOUPL": coupler,
	}
	if c.Membrane() {
		subs["PCOUPLTYPE"] = "semiisotropic"
		subs["REF_P"] = formatFloat(c.Sim.Pressure) + " " + formatFloat(c.Sim.Pressure)
		subs["COMPRESSIBILITY"] = "4.5e-5 4.5e-5"
	} else {
		subs["PCOUPLTYPE"] = "isotropic"
		subs["REF_P"] = formatFloat(c.Sim.Pressure)
		subs["COMPRESSIBILITY"] = "4.5e-5"
	}
	return subs
}

func heatSubs(c *config.Campaign) map[string]string {
	subs := commonSubs(c)
	subs["NSTEPS"] = strconv.Itoa(c.Sim.HeatSteps)
	subs["GEN_TEMP"] = formatFloat(c.Sim.Temperature)
	subs["GEN_SEED"] = strconv.Itoa(c.Sim.Seed)
	return subs
}

func equilSubs(c *config.Campaign, steps int, posresFC float64) map[string]string {
	subs := commonSubs(c)
	for k, v := range pressureSubs(c, "Berendsen") {
		subs[k] = v
	}
	subs["NSTEPS"] = strconv.Itoa(steps)
	if posresFC > 0 {
		subs["DEFINE"] = fmt.Sprintf("-DPOSRES -DPOSRES_FC=%d", int(posresFC))
	} else {
		subs["DEFINE"] = ""
	}
	return subs
}

func prodSubs(c *config.Campaign) map[string]string {
	subs := commonSubs(c)
	for k, v := range pressureSubs(c, "Parrinello-Rahman") {
		subs[k] = v
	}
	subs["NSTEPS"] = strconv.Itoa(c.Sim.ProdSteps)
	return subs
}

func windowSubs(c *config.Campaign, window int) map[string]string {
	subs := commonSubs(c)
	for k, v := range pressureSubs(c, "Parrinello-Rahman") {
		subs[k] = v
	}
	subs["NSTEPS"] = strconv.Itoa(c.Sim.WindowSteps)
	subs["LAMBDA_STATE"] = strconv.Itoa(window)
	subs["COUPLE_MOLTYPE"] = "LIG"
	return subs
}

func joinGroups(groups []string, fill string) string {
	out := ""
	for i, g := range groups {
		if i > 0 {
			out += " "
		}
		if fill == "" {
			out += g
		} else {
			out += fill
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
