package exactdiag

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"math"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/henhans/pomerol2triqs/exactdiag/util"
	"github.com/henhans/pomerol2triqs/gf"
)

// G2Params selects a two-particle Green's function.
type G2Params struct {
	GfStruct   gf.GfStruct
	Beta       float64
	Channel    gf.Channel
	BlockOrder gf.BlockOrder
	// Blocks lists the block pairs (A, B) to compute.
	Blocks [][2]string
	// NIw is the number of non-negative bosonic frequencies.
	NIw int
	// NInu is the number of non-negative fermionic frequencies of G2IwInuInup.
	NInu int
	// NL is the number of Legendre coefficients of G2IwLLp.
	NL int
	// NInuSum is the number of non-negative fermionic frequencies summed over by G2IwLLp.
	NInuSum int
}

func (p G2Params) validate() error {
	if p.Channel != gf.PH && p.Channel != gf.PP {
		return errors.Errorf("unknown channel %#v", p.Channel)
	}
	if p.BlockOrder != gf.AABB && p.BlockOrder != gf.ABBA {
		return errors.Errorf("unknown block order %#v", p.BlockOrder)
	}
	if len(p.Blocks) == 0 {
		return errors.Errorf("no block pairs")
	}
	if p.NIw < 1 {
		return errors.Errorf("%d bosonic frequencies", p.NIw)
	}
	return nil
}

// permutations lists the orderings of the first three operators with their parity.
var permutations = [6]struct {
	order [3]int
	sign  float64
}{
	{order: [3]int{0, 1, 2}, sign: 1},
	{order: [3]int{0, 2, 1}, sign: -1},
	{order: [3]int{1, 0, 2}, sign: -1},
	{order: [3]int{1, 2, 0}, sign: 1},
	{order: [3]int{2, 0, 1}, sign: 1},
	{order: [3]int{2, 1, 0}, sign: -1},
}

// g2Element is one combination of operator indices of a block pair.
type g2Element struct {
	block int
	idx   [4]int
	modes [4]int
}

type g2Weight struct {
	elem int
	w    float64
}

// g2Group collects the paths a -> d -> c -> b -> a through eigenstates that share a permutation and energy levels,
// and hence the same time integral.
type g2Group struct {
	perm    int
	levels  [4]int
	weights []g2Weight
}

func (ed *ED) g2Elements(p G2Params) ([]g2Element, error) {
	elems := make([]g2Element, 0)
	for bi, pair := range p.Blocks {
		var modes [2][]int
		for i, name := range pair {
			blk, ok := p.GfStruct.Block(name)
			if !ok {
				return nil, errors.Errorf("unknown block %#v", name)
			}
			m, err := ed.blockModes(blk)
			if err != nil {
				return nil, errors.Wrap(err, "")
			}
			modes[i] = m
		}
		ops := [4][]int{modes[0], modes[0], modes[1], modes[1]}
		if p.BlockOrder == gf.ABBA {
			ops = [4][]int{modes[0], modes[1], modes[1], modes[0]}
		}
		for i, a := range ops[0] {
			for j, b := range ops[1] {
				for k, c := range ops[2] {
					for l, d := range ops[3] {
						elems = append(elems, g2Element{block: bi, idx: [4]int{i, j, k, l}, modes: [4]int{a, b, c, d}})
					}
				}
			}
		}
	}
	return elems, nil
}

// g2Groups enumerates the non-zero products of matrix elements of c_a c†_b c_c c†_d for every element and permutation.
func (ed *ED) g2Groups(elems []g2Element, beta float64) []g2Group {
	type key struct {
		perm   int
		levels [4]int
	}
	_, z := ed.boltzmann(beta)
	acc := make(map[key]map[int]float64)
	for ei, e := range elems {
		ops := [4]*transitions{ed.c[e.modes[0]], ed.cDag[e.modes[1]], ed.c[e.modes[2]], ed.cDag[e.modes[3]]}
		for pi, perm := range permutations {
			o := perm.order
			for a := range ed.energies {
				for _, td := range ops[3].from[a] {
					d := td.state
					for _, tc := range ops[o[2]].from[d] {
						c := tc.state
						for _, tb := range ops[o[1]].from[c] {
							b := tb.state
							va, ok := ops[o[0]].at(a, b)
							if !ok {
								continue
							}
							k := key{perm: pi, levels: [4]int{ed.levels[a], ed.levels[b], ed.levels[c], ed.levels[d]}}
							ws, ok := acc[k]
							if !ok {
								ws = make(map[int]float64)
								acc[k] = ws
							}
							ws[ei] += perm.sign * va * tb.v * tc.v * td.v / z
						}
					}
				}
			}
		}
	}

	groups := make([]g2Group, 0, len(acc))
	for k, ws := range acc {
		g := g2Group{perm: k.perm, levels: k.levels}
		for ei, w := range ws {
			if math.Abs(w) < coefTol {
				continue
			}
			g.weights = append(g.weights, g2Weight{elem: ei, w: w})
		}
		if len(g.weights) == 0 {
			continue
		}
		slices.SortFunc(g.weights, func(a, b g2Weight) int { return cmp.Compare(a.elem, b.elem) })
		groups = append(groups, g)
	}
	slices.SortFunc(groups, func(a, b g2Group) int {
		if c := cmp.Compare(a.perm, b.perm); c != 0 {
			return c
		}
		return slices.Compare(a.levels[:], b.levels[:])
	})
	return groups
}

const coefTol = 1e-14

// phases returns the exponents of the first three operators at the bosonic index m and fermionic indices n1, n2.
func phases(ch gf.Channel, beta float64, m, n1, n2 int) [3]complex128 {
	f := func(n int) complex128 { return complex(0, gf.Matsubara(beta, gf.Fermion, n)) }
	if ch == gf.PP {
		return [3]complex128{f(n1), -f(m - n2 - 1), f(m - n1 - 1)}
	}
	return [3]complex128{f(n1), -f(n1 + m), f(n2 + m)}
}

// g2Values sets acc to the value of every element at the given phases.
func (ed *ED) g2Values(acc []complex128, groups []g2Group, phi [3]complex128, beta float64, in *integrator) {
	clear(acc)
	for _, g := range groups {
		o := permutations[g.perm].order
		ea, eb := ed.levelEnergies[g.levels[0]], ed.levelEnergies[g.levels[1]]
		ec, edd := ed.levelEnergies[g.levels[2]], ed.levelEnergies[g.levels[3]]
		z1 := phi[o[0]] + complex(ea-eb, 0)
		z2 := phi[o[1]] + complex(eb-ec, 0)
		z3 := phi[o[2]] + complex(ec-edd, 0)
		v := in.nested(z1, z2, z3, beta, ea)
		for _, w := range g.weights {
			acc[w.elem] += complex(w.w, 0) * v
		}
	}
}

func (ed *ED) prepareG2(p G2Params) ([]g2Element, []g2Group, error) {
	if err := ed.check(p.Beta); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	if err := p.validate(); err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	elems, err := ed.g2Elements(p)
	if err != nil {
		return nil, nil, errors.Wrap(err, "")
	}
	groups := ed.g2Groups(elems, p.Beta)
	if ed.Verbose {
		log.Printf("%d elements, %d integral groups", len(elems), len(groups))
	}
	return elems, groups, nil
}

// G2IwInuInup computes the two-particle Green's function on a bosonic mesh and two fermionic meshes.
func (ed *ED) G2IwInuInup(ctx context.Context, p G2Params) (*gf.G2, error) {
	if p.NInu < 1 {
		return nil, errors.Errorf("%d fermionic frequencies", p.NInu)
	}
	elems, groups, err := ed.prepareG2(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	meshes := [3]gf.Mesh{
		gf.NewImFreq(p.Beta, gf.Boson, p.NIw),
		gf.NewImFreq(p.Beta, gf.Fermion, p.NInu),
		gf.NewImFreq(p.Beta, gf.Fermion, p.NInu),
	}
	g2, err := gf.NewG2(p.Channel, p.BlockOrder, meshes, p.GfStruct, p.Blocks)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	nw, nn := meshes[0].Len(), meshes[1].Len()
	res := make([]complex128, len(elems)*nw*nn*nn)
	prog := ed.newProgress(fmt.Sprintf("G2 %s %s iw inu inup", p.Channel, p.BlockOrder), nw*nn)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for wi := range nw {
		for n1 := range nn {
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return errors.Wrap(err, "")
				}
				var in integrator
				acc := make([]complex128, len(elems))
				m, f1 := meshes[0].Index(wi), meshes[1].Index(n1)
				for n2 := range nn {
					phi := phases(p.Channel, p.Beta, m, f1, meshes[2].Index(n2))
					ed.g2Values(acc, groups, phi, p.Beta, &in)
					for e, v := range acc {
						res[((e*nw+wi)*nn+n1)*nn+n2] = v
					}
				}
				prog.add(1)
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	for e, el := range elems {
		data := g2.Blocks[el.block].Data
		for wi := range nw {
			for n1 := range nn {
				for n2 := range nn {
					v := res[((e*nw+wi)*nn+n1)*nn+n2]
					data.SetAt([]int{wi, n1, n2, el.idx[0], el.idx[1], el.idx[2], el.idx[3]}, complex64(v))
				}
			}
		}
	}
	return g2, nil
}

// G2IwLLp computes the two-particle Green's function on a bosonic mesh and two Legendre meshes,
// by transforming the fermionic frequencies -NInuSum <= n, n' < NInuSum.
func (ed *ED) G2IwLLp(ctx context.Context, p G2Params) (*gf.G2, error) {
	if p.NL < 1 {
		return nil, errors.Errorf("%d Legendre coefficients", p.NL)
	}
	if p.NInuSum < 1 {
		return nil, errors.Errorf("%d fermionic frequencies to sum", p.NInuSum)
	}
	elems, groups, err := ed.prepareG2(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	meshes := [3]gf.Mesh{
		gf.NewImFreq(p.Beta, gf.Boson, p.NIw),
		gf.NewLegendre(p.Beta, gf.Fermion, p.NL),
		gf.NewLegendre(p.Beta, gf.Fermion, p.NL),
	}
	g2, err := gf.NewG2(p.Channel, p.BlockOrder, meshes, p.GfStruct, p.Blocks)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	nw, nl := meshes[0].Len(), p.NL
	tt := make([][]complex128, 0, 2*p.NInuSum)
	for n := -p.NInuSum; n < p.NInuSum; n++ {
		tt = append(tt, legendreT(n, nl))
	}

	res := make([]complex128, len(elems)*nw*nl*nl)
	mus := make([]sync.Mutex, nw)
	prog := ed.newProgress(fmt.Sprintf("G2 %s %s iw l lp", p.Channel, p.BlockOrder), nw*len(tt))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for wi := range nw {
		for n1, t1 := range tt {
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return errors.Wrap(err, "")
				}
				var in integrator
				acc := make([]complex128, len(elems))
				// s[e*nl+l'] = Σ_n' G_e(ω, ν, ν_n') T_n'l'.
				s := make([]complex128, len(elems)*nl)
				m := meshes[0].Index(wi)
				for n2, t2 := range tt {
					phi := phases(p.Channel, p.Beta, m, n1-p.NInuSum, n2-p.NInuSum)
					ed.g2Values(acc, groups, phi, p.Beta, &in)
					for e, v := range acc {
						for lp, t := range t2 {
							s[e*nl+lp] += v * t
						}
					}
				}

				mus[wi].Lock()
				defer mus[wi].Unlock()
				for e := range elems {
					for l, t := range t1 {
						tc := complex(real(t), -imag(t))
						for lp := range nl {
							res[((e*nw+wi)*nl+l)*nl+lp] += tc * s[e*nl+lp]
						}
					}
				}
				prog.add(1)
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	for e, el := range elems {
		data := g2.Blocks[el.block].Data
		for wi := range nw {
			for l := range nl {
				for lp := range nl {
					v := res[((e*nw+wi)*nl+l)*nl+lp]
					data.SetAt([]int{wi, l, lp, el.idx[0], el.idx[1], el.idx[2], el.idx[3]}, complex64(v))
				}
			}
		}
	}
	return g2, nil
}

// progress logs the completion of long computations, at most once in a while.
type progress struct {
	name      string
	total     int
	done      atomic.Int64
	start     time.Time
	throttler *util.SkipThrottler
	verbose   bool
}

func (ed *ED) newProgress(name string, total int) *progress {
	return &progress{name: name, total: total, start: time.Now(), throttler: util.NewSkipThrottler(10 * time.Second), verbose: ed.Verbose}
}

func (p *progress) add(n int) {
	done := p.done.Add(int64(n))
	if !p.verbose {
		return
	}
	if int(done) != p.total && !p.throttler.Ok() {
		return
	}
	log.Printf("%s %d/%d %s", p.name, done, p.total, time.Since(p.start))
}
