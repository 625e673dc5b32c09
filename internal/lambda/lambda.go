// Package lambda builds alchemical window schedules for ABFE legs.
//
// A schedule is the triple of lambda vectors (restraint, coulomb, vdw)
// that the FEP parameter template expects, with one column per window.
// Each leg perturbs exactly one component while the components already
// transformed by earlier legs stay pinned at 1.
package lambda

import (
	"fmt"
	"strconv"
	"strings"
)

// Leg identifies one alchemical transformation of the thermodynamic cycle.
type Leg string

const (
	// LegRestraints switches on the ligand-receptor restraints (complex only).
	LegRestraints Leg = "restraints"
	// LegCoulomb decouples ligand charges.
	LegCoulomb Leg = "coulomb"
	// LegVdw decouples ligand Lennard-Jones sites.
	LegVdw Leg = "vdw"
)

// Default window counts, matching the shipped FEP protocol.
const (
	DefaultRestraintWindows = 12
	DefaultCoulombWindows   = 11
	DefaultVdwWindows       = 21
)

// defaultRestraintRamp front-loads windows near lambda=0 where the
// restraint free energy changes fastest.
var defaultRestraintRamp = []float64{
	0.0, 0.01, 0.025, 0.05, 0.075, 0.1, 0.15, 0.2, 0.3, 0.5, 0.75, 1.0,
}

// Schedule holds the three lambda vectors for one leg. All vectors have
// the same length; window i reads column i of each.
type Schedule struct {
	Leg       Leg
	Restraint []float64
	Coul      []float64
	Vdw       []float64
}

// Windows returns the schedule for a leg with n windows.
//
// n must be at least 2 (both endpoints are always present). The restraint
// leg with the default count uses the front-loaded ramp; everything else
// is evenly spaced.
func Windows(leg Leg, n int) (Schedule, error) {
	if n < 2 {
		return Schedule{}, fmt.Errorf("lambda: leg %s: need at least 2 windows, got %d", leg, n)
	}

	ramp := linspace(n)
	s := Schedule{
		Leg:       leg,
		Restraint: constant(n, 0),
		Coul:      constant(n, 0),
		Vdw:       constant(n, 0),
	}
	switch leg {
	case LegRestraints:
		if n == DefaultRestraintWindows {
			ramp = append([]float64(nil), defaultRestraintRamp...)
		}
		s.Restraint = ramp
	case LegCoulomb:
		s.Restraint = constant(n, 1)
		s.Coul = ramp
	case LegVdw:
		s.Restraint = constant(n, 1)
		s.Coul = constant(n, 1)
		s.Vdw = ramp
	default:
		return Schedule{}, fmt.Errorf("lambda: unknown leg %q", leg)
	}
	return s, nil
}

// Len returns the number of windows.
func (s Schedule) Len() int {
	return len(s.Vdw)
}

// Vectors formats the three vectors the way the .mdp free-energy block
// expects them, keyed by the FEP template placeholder names.
func (s Schedule) Vectors() map[string]string {
	return map[string]string{
		"RESTRAINT_LAMBDAS": formatVector(s.Restraint),
		"COUL_LAMBDAS":      formatVector(s.Coul),
		"VDW_LAMBDAS":       formatVector(s.Vdw),
	}
}

// Validate checks the schedule invariants: equal lengths, values within
// [0,1], the perturbed component monotone non-decreasing with endpoints
// pinned at 0 and 1.
func (s Schedule) Validate() error {
	n := s.Len()
	if len(s.Restraint) != n || len(s.Coul) != n {
		return fmt.Errorf("lambda: leg %s: vector lengths differ", s.Leg)
	}
	for _, vec := range [][]float64{s.Restraint, s.Coul, s.Vdw} {
		for _, v := range vec {
			if v < 0 || v > 1 {
				return fmt.Errorf("lambda: leg %s: value %v outside [0,1]", s.Leg, v)
			}
		}
	}

	active := s.active()
	for i := 1; i < len(active); i++ {
		if active[i] < active[i-1] {
			return fmt.Errorf("lambda: leg %s: window %d not monotone", s.Leg, i)
		}
	}
	if n > 0 && (active[0] != 0 || active[n-1] != 1) {
		return fmt.Errorf("lambda: leg %s: endpoints must be 0 and 1", s.Leg)
	}
	return nil
}

// active returns the vector the leg perturbs.
func (s Schedule) active() []float64 {
	switch s.Leg {
	case LegRestraints:
		return s.Restraint
	case LegCoulomb:
		return s.Coul
	default:
		return s.Vdw
	}
}

func linspace(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) / float64(n-1)
	}
	out[n-1] = 1 // avoid 0.9999... from division
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func formatVector(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'f', 4, 64)
	}
	return strings.Join(parts, " ")
}
