package config

import "github.com/alchemlab/abfe/internal/lambda"

// Defaults that mirror the shipped FEP protocol. Anything the campaign
// file sets explicitly wins.
const (
	DefaultBinary      = "gmx"
	DefaultEstimator   = "abfe-estimator"
	DefaultTemperature = 298.15
	DefaultPressure    = 1.0
	DefaultDT          = 0.002
	DefaultHeatSteps   = 50000
	DefaultProdSteps   = 500000
	DefaultWindowSteps = 250000
	DefaultReplicas    = 1
	DefaultLedger      = "abfe.db"

	DefaultPartition   = "cpu"
	DefaultTime        = "96:00:00"
	DefaultMemMB       = 5000
	DefaultJobs        = 10
	DefaultLatencyWait = 120
)

// defaultEquilChain steps restraints down over three NPT stages.
var (
	defaultEquilChain = []int{50000, 50000, 100000}
	defaultPosresFC   = []float64{400, 200, 0}
)

// applyDefaults fills zero-valued fields in place.
func applyDefaults(c *Campaign) {
	if c.Engine.Binary == "" {
		c.Engine.Binary = DefaultBinary
	}
	if c.Engine.Estimator == "" {
		c.Engine.Estimator = DefaultEstimator
	}
	if c.Sim.Temperature == 0 {
		c.Sim.Temperature = DefaultTemperature
	}
	if c.Sim.Pressure == 0 {
		c.Sim.Pressure = DefaultPressure
	}
	if c.Sim.DT == 0 {
		c.Sim.DT = DefaultDT
	}
	if c.Sim.HeatSteps == 0 {
		c.Sim.HeatSteps = DefaultHeatSteps
	}
	if c.Sim.ProdSteps == 0 {
		c.Sim.ProdSteps = DefaultProdSteps
	}
	if c.Sim.WindowSteps == 0 {
		c.Sim.WindowSteps = DefaultWindowSteps
	}
	if len(c.Sim.EquilChain) == 0 {
		c.Sim.EquilChain = append([]int(nil), defaultEquilChain...)
	}
	if len(c.Sim.PosresFC) == 0 {
		c.Sim.PosresFC = append([]float64(nil), defaultPosresFC...)
	}
	if c.Sim.Seed == 0 {
		c.Sim.Seed = -1
	}
	if c.Windows.Restraints == 0 {
		c.Windows.Restraints = lambda.DefaultRestraintWindows
	}
	if c.Windows.Coulomb == 0 {
		c.Windows.Coulomb = lambda.DefaultCoulombWindows
	}
	if c.Windows.Vdw == 0 {
		c.Windows.Vdw = lambda.DefaultVdwWindows
	}
	if c.Replicas == 0 {
		c.Replicas = DefaultReplicas
	}
	if c.Ledger == "" {
		c.Ledger = DefaultLedger
	}
	if c.Cluster.Partition == "" {
		c.Cluster.Partition = DefaultPartition
	}
	if c.Cluster.Time == "" {
		c.Cluster.Time = DefaultTime
	}
	if c.Cluster.MemMB == 0 {
		c.Cluster.MemMB = DefaultMemMB
	}
	if c.Cluster.Jobs == 0 {
		c.Cluster.Jobs = DefaultJobs
	}
	if c.Cluster.LatencyWait == 0 {
		c.Cluster.LatencyWait = DefaultLatencyWait
	}
}
