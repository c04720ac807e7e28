package exactdiag

import (
	"cmp"
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	edmat "github.com/henhans/pomerol2triqs/exactdiag/mat"
	"github.com/henhans/pomerol2triqs/operators"
)

// fermion returns the Jordan-Wigner representation of c or c† of a mode on the Fock space of nModes modes.
// Mode j is the j-th Kronecker factor, so its occupation is bit nModes-1-j of a Fock state.
func fermion(nModes, mode int, dagger bool) *edmat.COO {
	m := edmat.M([][]float64{{1}})
	for j := range nModes {
		switch {
		case j < mode:
			m.Kron(edmat.M(edmat.PauliZ))
		case j > mode:
			m.Kron(edmat.M(edmat.Identity))
		case dagger:
			m.Kron(edmat.M(edmat.Raise))
		default:
			m.Kron(edmat.M(edmat.Lower))
		}
	}
	return m
}

// operatorMatrix returns the Fock space matrix of e.
func (ed *ED) operatorMatrix(e operators.Expression) (*edmat.COO, error) {
	res := edmat.COOZeros(ed.dim(), ed.dim())
	for _, t := range e.Terms() {
		prod := edmat.COOIdentity(ed.dim())
		for _, op := range t.Monomial {
			mode, err := ed.Mode(op.Index)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			if op.Dagger {
				prod = prod.MatMul(ed.fock[1][mode])
			} else {
				prod = prod.MatMul(ed.fock[0][mode])
			}
		}
		res.Add(t.Coef, prod)
	}
	return res, nil
}

// partition returns the invariant subspaces of h, as the connected components of the graph of its non-zero entries.
// Subspaces are ordered by their smallest Fock state, and states within a subspace are ascending.
func partition(h *edmat.COO) [][]int {
	parent := make([]int, h.Rows())
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for yx := range h.All() {
		a, b := find(yx[0]), find(yx[1])
		if a == b {
			continue
		}
		if a < b {
			parent[b] = a
		} else {
			parent[a] = b
		}
	}

	groups := make([][]int, 0)
	groupOf := make(map[int]int)
	for s := range parent {
		root := find(s)
		g, ok := groupOf[root]
		if !ok {
			g = len(groups)
			groupOf[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], s)
	}
	return groups
}

type transition struct {
	state int
	v     float64
}

// transitions holds the non-zero matrix elements <n|O|m> of an operator between eigenstates.
type transitions struct {
	// from lists, for each eigenstate m, the eigenstates n with their matrix elements, ascending in n.
	from [][]transition
	elem map[[2]int]float64
}

func newTransitions(n int) *transitions {
	return &transitions{from: make([][]transition, n), elem: make(map[[2]int]float64)}
}

func (t *transitions) add(n, m int, v float64) {
	t.from[m] = append(t.from[m], transition{state: n, v: v})
	t.elem[[2]int{n, m}] = v
}

func (t *transitions) at(n, m int) (float64, bool) {
	v, ok := t.elem[[2]int{n, m}]
	return v, ok
}

func (t *transitions) count() int { return len(t.elem) }

// eigenbasis transforms a Fock space operator into the eigenbasis, blockwise between invariant subspaces.
func (ed *ED) eigenbasis(o *edmat.COO) *transitions {
	blocks := make(map[[2]int]*mat.Dense)
	for yx, v := range o.All() {
		key := [2]int{ed.stateSubspace[yx[0]], ed.stateSubspace[yx[1]]}
		b, ok := blocks[key]
		if !ok {
			b = mat.NewDense(len(ed.subspaces[key[0]].states), len(ed.subspaces[key[1]].states), nil)
			blocks[key] = b
		}
		b.Set(ed.stateLocal[yx[0]], ed.stateLocal[yx[1]], v)
	}

	t := newTransitions(len(ed.energies))
	for key, b := range blocks {
		to, from := ed.subspaces[key[0]], ed.subspaces[key[1]]
		var tmp, res mat.Dense
		tmp.Mul(to.vecs.T(), b)
		res.Mul(&tmp, from.vecs)
		r, c := res.Dims()
		for i := range r {
			for j := range c {
				if v := res.At(i, j); math.Abs(v) > matrixElementTol {
					t.add(to.offset+i, from.offset+j, v)
				}
			}
		}
	}
	for _, ts := range t.from {
		slices.SortFunc(ts, func(a, b transition) int { return cmp.Compare(a.state, b.state) })
	}
	return t
}
