// Package mpi reports the position of this process within a parallel launch.
//
// Ranks are read from the environment set by common launchers, so every process runs the same program
// and only the master node writes results.
package mpi

import (
	"os"
	"strconv"
)

var (
	rankVars = []string{"OMPI_COMM_WORLD_RANK", "PMI_RANK", "PMIX_RANK", "SLURM_PROCID"}
	sizeVars = []string{"OMPI_COMM_WORLD_SIZE", "PMI_SIZE", "PMIX_SIZE", "SLURM_NTASKS"}
)

func lookup(vars []string, def int) int {
	for _, v := range vars {
		s, ok := os.LookupEnv(v)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			continue
		}
		return n
	}
	return def
}

// Rank returns the rank of this process, 0 when not launched in parallel.
func Rank() int { return lookup(rankVars, 0) }

// Size returns the number of processes, 1 when not launched in parallel.
func Size() int {
	if n := lookup(sizeVars, 1); n > 0 {
		return n
	}
	return 1
}

func IsMasterNode() bool { return Rank() == 0 }
