// Package sysinfo probes the local machine to size MD engine thread
// counts. The engine config can pin explicit values; detection only
// fills what the user left at zero.
package sysinfo

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/alchemlab/abfe/internal/ctxlog"
)

// Resources describes what the local node offers an MD run.
type Resources struct {
	PhysicalCores int
	LogicalCores  int
	MemoryMB      uint64
}

// Detect probes CPU and memory. Failures fall back to runtime.NumCPU
// so a run never aborts just because the probe is unsupported.
func Detect(ctx context.Context) Resources {
	log := ctxlog.FromContext(ctx)
	r := Resources{
		PhysicalCores: runtime.NumCPU(),
		LogicalCores:  runtime.NumCPU(),
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil && n > 0 {
		r.PhysicalCores = n
	} else if err != nil {
		log.Debug("physical core probe failed", "error", err)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		r.LogicalCores = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		r.MemoryMB = vm.Total / (1024 * 1024)
	} else {
		log.Debug("memory probe failed", "error", err)
	}
	return r
}

// ThreadSplit divides cores between thread-MPI ranks and OpenMP
// threads. mdrun performs best with a few OpenMP threads per rank, so
// the split favors the largest rank count that keeps 2 to 8 threads
// per rank. Small machines get a single rank.
func ThreadSplit(cores int) (ntmpi, ntomp int) {
	if cores < 1 {
		cores = 1
	}
	if cores <= 8 {
		return 1, cores
	}
	for per := 4; per <= 8; per++ {
		if cores%per == 0 {
			return cores / per, per
		}
	}
	// No clean divisor; leave the remainder idle rather than oversubscribe.
	return cores / 4, 4
}
