package mpi

import (
	"fmt"
	"testing"
)

func TestRank(t *testing.T) {
	tests := []struct {
		env    map[string]string
		rank   int
		size   int
		master bool
	}{
		{env: map[string]string{}, rank: 0, size: 1, master: true},
		{env: map[string]string{"OMPI_COMM_WORLD_RANK": "3", "OMPI_COMM_WORLD_SIZE": "4"}, rank: 3, size: 4},
		{env: map[string]string{"PMI_RANK": "0", "PMI_SIZE": "2"}, rank: 0, size: 2, master: true},
		{env: map[string]string{"SLURM_PROCID": "1", "SLURM_NTASKS": "8"}, rank: 1, size: 8},
		{env: map[string]string{"PMIX_RANK": "x", "SLURM_PROCID": "5"}, rank: 5, size: 1},
		{env: map[string]string{"OMPI_COMM_WORLD_SIZE": "0"}, rank: 0, size: 1, master: true},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.env), func(t *testing.T) {
			for _, vars := range [][]string{rankVars, sizeVars} {
				for _, v := range vars {
					t.Setenv(v, "")
				}
			}
			for k, v := range test.env {
				t.Setenv(k, v)
			}
			if r := Rank(); r != test.rank {
				t.Fatalf("%d, expected %d", r, test.rank)
			}
			if s := Size(); s != test.size {
				t.Fatalf("%d, expected %d", s, test.size)
			}
			if m := IsMasterNode(); m != test.master {
				t.Fatalf("%v, expected %v", m, test.master)
			}
		})
	}
}
