package exactdiag

import (
	"math"

	"github.com/pkg/errors"

	"github.com/henhans/pomerol2triqs/gf"
	"github.com/henhans/pomerol2triqs/operators"
)

// lehmannTerm is a pole of a single particle Green's function between eigenstates n and m,
// with v = <n|c_a|m><m|c†_b|n>.
type lehmannTerm struct {
	n int
	m int
	v float64
}

func (ed *ED) lehmann(a, b int) []lehmannTerm {
	terms := make([]lehmannTerm, 0)
	for m, ts := range ed.c[a].from {
		for _, t := range ts {
			vb, ok := ed.c[b].at(t.state, m)
			if !ok {
				continue
			}
			terms = append(terms, lehmannTerm{n: t.state, m: m, v: t.v * vb})
		}
	}
	return terms
}

func (ed *ED) blockModes(blk gf.BlockStruct) ([]int, error) {
	modes := make([]int, 0, len(blk.Indices))
	for _, inner := range blk.Indices {
		m, err := ed.Mode(operators.Index{Block: blk.Name, Inner: inner})
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		modes = append(modes, m)
	}
	return modes, nil
}

// singleParticle fills a Green's function of structure s on mesh, with value returning G at mesh point k from the poles of a matrix element.
func (ed *ED) singleParticle(s gf.GfStruct, mesh gf.Mesh, value func(terms []lehmannTerm, k int) complex128) (*gf.BlockGf, error) {
	g := gf.NewBlockGf(mesh, s)
	for bi, blk := range s {
		modes, err := ed.blockModes(blk)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		for i, a := range modes {
			for j, b := range modes {
				terms := ed.lehmann(a, b)
				for k := range mesh.Len() {
					g.Blocks[bi].Set(k, i, j, value(terms, k))
				}
			}
		}
	}
	return g, nil
}

// GIw returns G_ab(iν_n) = -∫_0^β dτ e^{iν_n τ} <T c_a(τ) c†_b(0)> on nIw non-negative fermionic frequencies and their negatives.
func (ed *ED) GIw(s gf.GfStruct, beta float64, nIw int) (*gf.BlockGf, error) {
	if err := ed.check(beta); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if nIw < 1 {
		return nil, errors.Errorf("%d Matsubara frequencies", nIw)
	}
	w, _ := ed.boltzmann(beta)
	mesh := gf.NewImFreq(beta, gf.Fermion, nIw)
	return ed.singleParticle(s, mesh, func(terms []lehmannTerm, k int) complex128 {
		z := mesh.Point(k)
		var v complex128
		for _, t := range terms {
			pole := ed.energies[t.m] - ed.energies[t.n]
			v += complex(t.v*(w[t.n]+w[t.m]), 0) / (z - complex(pole, 0))
		}
		return v
	})
}

// GTau returns G_ab(τ) = -<T c_a(τ) c†_b(0)> on nTau points spanning [0, β].
func (ed *ED) GTau(s gf.GfStruct, beta float64, nTau int) (*gf.BlockGf, error) {
	if err := ed.check(beta); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if nTau < 2 {
		return nil, errors.Errorf("%d imaginary time points", nTau)
	}
	_, z := ed.boltzmann(beta)
	mesh := gf.NewImTime(beta, gf.Fermion, nTau)
	return ed.singleParticle(s, mesh, func(terms []lehmannTerm, k int) complex128 {
		tau := real(mesh.Point(k))
		var v float64
		for _, t := range terms {
			en, em := ed.energies[t.n]-ed.ground, ed.energies[t.m]-ed.ground
			v -= t.v * math.Exp(-(beta-tau)*en-tau*em) / z
		}
		return complex(v, 0)
	})
}

// GW returns the retarded G_ab(ω + iη) on nW points spanning window.
func (ed *ED) GW(s gf.GfStruct, beta float64, window [2]float64, nW int, eta float64) (*gf.BlockGf, error) {
	if err := ed.check(beta); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if nW < 1 {
		return nil, errors.Errorf("%d real frequencies", nW)
	}
	if window[0] > window[1] {
		return nil, errors.Errorf("invalid window %v", window)
	}
	if eta < 0 {
		return nil, errors.Errorf("negative broadening %f", eta)
	}
	w, _ := ed.boltzmann(beta)
	mesh := gf.NewReFreq(window[0], window[1], nW)
	return ed.singleParticle(s, mesh, func(terms []lehmannTerm, k int) complex128 {
		z := mesh.Point(k) + complex(0, eta)
		var v complex128
		for _, t := range terms {
			pole := ed.energies[t.m] - ed.energies[t.n]
			v += complex(t.v*(w[t.n]+w[t.m]), 0) / (z - complex(pole, 0))
		}
		return v
	})
}
