// Package analysis combines per-leg estimator output into binding free
// energies. The estimator writes a results.json into each leg
// directory; legs combine over the thermodynamic cycle and replicas
// combine into a mean with a standard error.
package analysis

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/alchemlab/abfe/internal/store"
)

// LegResult is the estimator output for one leg, in kcal/mol.
type LegResult struct {
	DG    float64
	DGErr float64
}

// ReadLegResult parses an estimator results.json. The dg and dg_err
// fields may sit at the top level or under free_energy, depending on
// the estimator version.
func ReadLegResult(path string) (LegResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LegResult{}, fmt.Errorf("leg result: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return LegResult{}, fmt.Errorf("leg result: %s is not valid JSON", path)
	}

	dg := gjson.GetBytes(data, "dg")
	dgErr := gjson.GetBytes(data, "dg_err")
	if !dg.Exists() {
		dg = gjson.GetBytes(data, "free_energy.dg")
		dgErr = gjson.GetBytes(data, "free_energy.dg_err")
	}
	if !dg.Exists() || !dgErr.Exists() {
		return LegResult{}, fmt.Errorf("leg result: %s has no dg/dg_err fields", path)
	}
	return LegResult{DG: dg.Float(), DGErr: dgErr.Float()}, nil
}

// Binding is the binding free energy of one replica.
type Binding struct {
	Ligand  string
	Replica int
	DG      float64
	DGErr   float64
}

// LigandSummary aggregates a ligand's replicas.
type LigandSummary struct {
	Ligand   string
	Replicas int
	Mean     float64

	// SEM is the standard error of the replica mean; for a single
	// replica it falls back to that replica's propagated error.
	SEM float64
}

// CombineReplica closes the thermodynamic cycle for one replica:
// the ligand decoupled from water minus the ligand decoupled from the
// complex, restraint leg included. Errors add in quadrature. Both
// systems must have every leg recorded.
func CombineReplica(ligand string, replica int, results []store.Result) (Binding, error) {
	var complexSum, ligandSum, errSq float64
	var complexLegs, ligandLegs int
	for _, r := range results {
		if r.Ligand != ligand || r.Replica != replica {
			continue
		}
		switch r.System {
		case "complex":
			complexSum += r.DG
			complexLegs++
		case "ligand":
			ligandSum += r.DG
			ligandLegs++
		default:
			return Binding{}, fmt.Errorf("combine %s/%d: unknown system %q", ligand, replica, r.System)
		}
		errSq += r.DGErr * r.DGErr
	}
	if complexLegs != 3 || ligandLegs != 2 {
		return Binding{}, fmt.Errorf("combine %s/%d: incomplete cycle, %d complex and %d ligand legs",
			ligand, replica, complexLegs, ligandLegs)
	}
	return Binding{
		Ligand:  ligand,
		Replica: replica,
		DG:      ligandSum - complexSum,
		DGErr:   math.Sqrt(errSq),
	}, nil
}

// Summarize combines every complete replica cycle in results and
// aggregates them per ligand. Ligands with incomplete cycles are
// reported as errors, not silently dropped.
func Summarize(results []store.Result) ([]LigandSummary, []Binding, error) {
	type key struct {
		ligand  string
		replica int
	}
	seen := make(map[key]bool)
	for _, r := range results {
		seen[key{r.Ligand, r.Replica}] = true
	}

	keys := make([]key, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ligand != keys[j].ligand {
			return keys[i].ligand < keys[j].ligand
		}
		return keys[i].replica < keys[j].replica
	})

	var bindings []Binding
	perLigand := make(map[string][]Binding)
	for _, k := range keys {
		b, err := CombineReplica(k.ligand, k.replica, results)
		if err != nil {
			return nil, nil, err
		}
		bindings = append(bindings, b)
		perLigand[k.ligand] = append(perLigand[k.ligand], b)
	}

	ligands := make([]string, 0, len(perLigand))
	for lig := range perLigand {
		ligands = append(ligands, lig)
	}
	sort.Strings(ligands)

	var summaries []LigandSummary
	for _, lig := range ligands {
		reps := perLigand[lig]
		mean := 0.0
		for _, b := range reps {
			mean += b.DG
		}
		mean /= float64(len(reps))

		var sem float64
		if len(reps) == 1 {
			sem = reps[0].DGErr
		} else {
			var ss float64
			for _, b := range reps {
				d := b.DG - mean
				ss += d * d
			}
			sem = math.Sqrt(ss/float64(len(reps)-1)) / math.Sqrt(float64(len(reps)))
		}
		summaries = append(summaries, LigandSummary{
			Ligand:   lig,
			Replicas: len(reps),
			Mean:     mean,
			SEM:      sem,
		})
	}
	return summaries, bindings, nil
}
