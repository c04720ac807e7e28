// Package exactdiag implements an exact diagonalization solver for fermionic impurity problems.
//
// The solver diagonalizes a Hamiltonian given as an operators.Expression on the full Fock space,
// and evaluates single- and two-particle Green's functions from their Lehmann representations.
package exactdiag

import (
	"cmp"
	"context"
	"log"
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	edmat "github.com/henhans/pomerol2triqs/exactdiag/mat"
	"github.com/henhans/pomerol2triqs/operators"
)

const (
	// maxModes bounds the Fock space dimension to 2^maxModes.
	maxModes = 20
	// matrixElementTol is the magnitude below which eigenbasis matrix elements are dropped.
	matrixElementTol = 1e-12
	// levelTol is the energy difference below which eigenstates share an energy level.
	levelTol = 1e-9
	// hermitianTol is the largest asymmetry allowed in a Hamiltonian matrix.
	hermitianTol = 1e-10
)

type Spin int

const (
	SpinDown Spin = iota
	SpinUp
)

func (s Spin) String() string {
	if s == SpinUp {
		return "up"
	}
	return "down"
}

func ParseSpin(s string) (Spin, error) {
	switch s {
	case "up":
		return SpinUp, nil
	case "down":
		return SpinDown, nil
	}
	return 0, errors.Errorf("unknown spin %#v", s)
}

// SolverIndex is the solver's internal label of a mode.
type SolverIndex struct {
	Site    string
	Orbital int
	Spin    Spin
}

func compareSolverIndex(a, b SolverIndex) int {
	if c := cmp.Compare(a.Site, b.Site); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Orbital, b.Orbital); c != 0 {
		return c
	}
	return cmp.Compare(a.Spin, b.Spin)
}

// IndexConverter maps operator labels to solver labels.
// Modes are numbered by sorting the solver labels by site, orbital and then spin, with down before up.
type IndexConverter map[operators.Index]SolverIndex

// ED is an exact diagonalization solver.
type ED struct {
	Verbose bool

	labels  []operators.Index
	targets []SolverIndex
	modes   map[operators.Index]int
	// fock holds the Fock space matrices of c and c† for each mode.
	fock [2][]*edmat.COO

	// Fields below are set by Diagonalize.
	diagonalized bool
	subspaces    []*subspace
	// stateSubspace and stateLocal locate each Fock state within its invariant subspace.
	stateSubspace []int
	stateLocal    []int
	// energies are the eigenvalues, indexed by eigenstate.
	energies []float64
	ground   float64
	// levels maps an eigenstate to its energy level, and levelEnergies holds level energies relative to the ground state.
	levels        []int
	levelEnergies []float64
	// c and cDag are the annihilators and creators of each mode in the eigenbasis.
	c    []*transitions
	cDag []*transitions
}

type subspace struct {
	states []int
	// offset is the eigenstate index of the first eigenvector.
	offset int
	vals   []float64
	vecs   *mat.Dense
}

// NewED creates a solver whose modes are labelled by conv.
// conv must be injective, otherwise operator labels could not be told apart inside the solver.
func NewED(conv IndexConverter) (*ED, error) {
	if len(conv) == 0 {
		return nil, errors.Errorf("empty index converter")
	}
	if len(conv) > maxModes {
		return nil, errors.Errorf("%d modes, at most %d supported", len(conv), maxModes)
	}
	type pair struct {
		label  operators.Index
		target SolverIndex
	}
	pairs := make([]pair, 0, len(conv))
	for l, t := range conv {
		if t.Spin != SpinUp && t.Spin != SpinDown {
			return nil, errors.Errorf("invalid spin %#v %#v", l, t)
		}
		pairs = append(pairs, pair{label: l, target: t})
	}
	slices.SortFunc(pairs, func(a, b pair) int { return compareSolverIndex(a.target, b.target) })
	for i := 1; i < len(pairs); i++ {
		if pairs[i].target == pairs[i-1].target {
			return nil, errors.Errorf("%#v and %#v map to the same solver index %#v", pairs[i-1].label, pairs[i].label, pairs[i].target)
		}
	}

	ed := &ED{modes: make(map[operators.Index]int)}
	for i, p := range pairs {
		ed.labels = append(ed.labels, p.label)
		ed.targets = append(ed.targets, p.target)
		ed.modes[p.label] = i
	}
	for mode := range ed.labels {
		ed.fock[0] = append(ed.fock[0], fermion(len(ed.labels), mode, false))
		ed.fock[1] = append(ed.fock[1], fermion(len(ed.labels), mode, true))
	}
	return ed, nil
}

// Mode returns the mode number of an operator label.
func (ed *ED) Mode(idx operators.Index) (int, error) {
	m, ok := ed.modes[idx]
	if !ok {
		return -1, errors.Errorf("operator index %#v is not in the index converter", idx)
	}
	return m, nil
}

// Modes returns the operator labels ordered by mode number.
func (ed *ED) Modes() []operators.Index { return slices.Clone(ed.labels) }

// SolverIndices returns the solver labels ordered by mode number.
func (ed *ED) SolverIndices() []SolverIndex { return slices.Clone(ed.targets) }

func (ed *ED) dim() int { return 1 << len(ed.labels) }

// Diagonalize diagonalizes h, which must be Hermitian and only contain labels known to the index converter.
func (ed *ED) Diagonalize(ctx context.Context, h operators.Expression) error {
	hm, err := ed.operatorMatrix(h)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if !hm.EqualApprox(hm.Transpose(), hermitianTol) {
		return errors.Errorf("Hamiltonian is not Hermitian %s", h)
	}

	groups := partition(hm)
	ed.subspaces = make([]*subspace, 0, len(groups))
	ed.stateSubspace = make([]int, ed.dim())
	ed.stateLocal = make([]int, ed.dim())
	offset := 0
	for si, states := range groups {
		for li, s := range states {
			ed.stateSubspace[s] = si
			ed.stateLocal[s] = li
		}
		ed.subspaces = append(ed.subspaces, &subspace{states: states, offset: offset})
		offset += len(states)
	}

	blocks := make([]*mat.SymDense, len(ed.subspaces))
	for si, sub := range ed.subspaces {
		blocks[si] = mat.NewSymDense(len(sub.states), nil)
	}
	for yx, v := range hm.All() {
		si := ed.stateSubspace[yx[0]]
		i, j := ed.stateLocal[yx[0]], ed.stateLocal[yx[1]]
		if i > j {
			continue
		}
		blocks[si].SetSym(i, j, v)
	}

	ed.energies = make([]float64, 0, ed.dim())
	for si, sub := range ed.subspaces {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "")
		}
		var eig mat.EigenSym
		if ok := eig.Factorize(blocks[si], true); !ok {
			return errors.Errorf("eigen decomposition failed for subspace %d of dimension %d", si, len(sub.states))
		}
		sub.vals = eig.Values(nil)
		sub.vecs = &mat.Dense{}
		eig.VectorsTo(sub.vecs)
		ed.energies = append(ed.energies, sub.vals...)
	}
	ed.ground = slices.Min(ed.energies)
	ed.setLevels()

	ed.c = make([]*transitions, 0, len(ed.labels))
	ed.cDag = make([]*transitions, 0, len(ed.labels))
	for mode := range ed.labels {
		ed.c = append(ed.c, ed.eigenbasis(ed.fock[0][mode]))
		ed.cDag = append(ed.cDag, ed.eigenbasis(ed.fock[1][mode]))
	}
	ed.diagonalized = true

	if ed.Verbose {
		maxDim := 0
		for _, sub := range ed.subspaces {
			maxDim = max(maxDim, len(sub.states))
		}
		log.Printf("diagonalized %d states with %d Hamiltonian entries in %d invariant subspaces, largest %d, %d energy levels, ground energy %f", ed.dim(), hm.NumNonZero(), len(ed.subspaces), maxDim, len(ed.levelEnergies), ed.ground)
	}
	return nil
}

func (ed *ED) setLevels() {
	order := make([]int, len(ed.energies))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(ed.energies[a], ed.energies[b]) })

	ed.levels = make([]int, len(ed.energies))
	ed.levelEnergies = ed.levelEnergies[:0]
	var first float64
	for k, i := range order {
		e := ed.energies[i]
		if k == 0 || e-first > levelTol {
			first = e
			ed.levelEnergies = append(ed.levelEnergies, e-ed.ground)
		}
		ed.levels[i] = len(ed.levelEnergies) - 1
	}
}

// Eigenvalues returns all eigenvalues of the Hamiltonian in ascending order.
func (ed *ED) Eigenvalues() []float64 {
	e := slices.Clone(ed.energies)
	slices.Sort(e)
	return e
}

func (ed *ED) GroundEnergy() float64 { return ed.ground }

// boltzmann returns the thermal weights e^{-β(E_n-E_0)}/Z of each eigenstate.
func (ed *ED) boltzmann(beta float64) (weights []float64, z float64) {
	weights = make([]float64, len(ed.energies))
	for i, e := range ed.energies {
		weights[i] = math.Exp(-beta * (e - ed.ground))
		z += weights[i]
	}
	for i := range weights {
		weights[i] /= z
	}
	return weights, z
}

// EnsembleAverage returns the thermal expectation value Tr[e^{-βH} op]/Z.
func (ed *ED) EnsembleAverage(op operators.Expression, beta float64) (float64, error) {
	if err := ed.check(beta); err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	om, err := ed.operatorMatrix(op)
	if err != nil {
		return math.NaN(), errors.Wrap(err, "")
	}
	w, _ := ed.boltzmann(beta)

	var avg float64
	for yx, v := range om.All() {
		si := ed.stateSubspace[yx[0]]
		if ed.stateSubspace[yx[1]] != si {
			continue
		}
		sub := ed.subspaces[si]
		r, c := ed.stateLocal[yx[0]], ed.stateLocal[yx[1]]
		for k := range sub.vals {
			avg += w[sub.offset+k] * sub.vecs.At(r, k) * v * sub.vecs.At(c, k)
		}
	}
	return avg, nil
}

func (ed *ED) check(beta float64) error {
	if !ed.diagonalized {
		return errors.Errorf("Diagonalize must be called first")
	}
	if !(beta > 0) {
		return errors.Errorf("beta must be positive %f", beta)
	}
	return nil
}
