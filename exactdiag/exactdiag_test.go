package exactdiag

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"

	edmat "github.com/henhans/pomerol2triqs/exactdiag/mat"
	"github.com/henhans/pomerol2triqs/operators"
)

func TestNewED(t *testing.T) {
	t.Parallel()
	tests := []struct {
		conv  IndexConverter
		err   bool
		descr string
	}{
		{conv: IndexConverter{}, err: true, descr: "empty"},
		{
			conv: IndexConverter{
				{Block: "up", Inner: 0}: {Site: "0", Orbital: 0, Spin: SpinUp},
				{Block: "dn", Inner: 0}: {Site: "0", Orbital: 0, Spin: SpinUp},
			},
			err:   true,
			descr: "not injective",
		},
		{
			conv: IndexConverter{
				{Block: "up", Inner: 0}: {Site: "0", Orbital: 0, Spin: Spin(2)},
			},
			err:   true,
			descr: "invalid spin",
		},
		{
			conv: IndexConverter{
				{Block: "up", Inner: 0}: {Site: "0", Orbital: 0, Spin: SpinUp},
				{Block: "dn", Inner: 0}: {Site: "0", Orbital: 0, Spin: SpinDown},
			},
			descr: "ok",
		},
	}
	for _, test := range tests {
		t.Run(test.descr, func(t *testing.T) {
			t.Parallel()
			_, err := NewED(test.conv)
			if (err != nil) != test.err {
				t.Fatalf("%+v", err)
			}
		})
	}
}

func TestMode(t *testing.T) {
	t.Parallel()
	ed, err := NewED(twoBandConverter())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := []operators.Index{{Block: "dn", Inner: 0}, {Block: "up", Inner: 0}, {Block: "dn", Inner: 1}, {Block: "up", Inner: 1}}
	if diff := cmp.Diff(want, ed.Modes()); diff != "" {
		t.Fatalf("%s", diff)
	}
	for i, idx := range want {
		m, err := ed.Mode(idx)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		if m != i {
			t.Fatalf("%d, expected %d", m, i)
		}
	}
	if _, err := ed.Mode(operators.Index{Block: "up", Inner: 2}); err == nil {
		t.Fatalf("expected error")
	}
	targets := []SolverIndex{{Site: "0", Orbital: 0, Spin: SpinDown}, {Site: "0", Orbital: 0, Spin: SpinUp}, {Site: "0", Orbital: 1, Spin: SpinDown}, {Site: "0", Orbital: 1, Spin: SpinUp}}
	if diff := cmp.Diff(targets, ed.SolverIndices()); diff != "" {
		t.Fatalf("%s", diff)
	}
}

func TestParseSpin(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    string
		spin Spin
		err  bool
	}{
		{s: "up", spin: SpinUp},
		{s: "down", spin: SpinDown},
		{s: "dn", err: true},
		{s: "", err: true},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#v", test.s), func(t *testing.T) {
			t.Parallel()
			spin, err := ParseSpin(test.s)
			if test.err {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if spin != test.spin || spin.String() != test.s {
				t.Fatalf("%s, expected %s", spin, test.spin)
			}
		})
	}
}

func TestFermion(t *testing.T) {
	t.Parallel()
	const nModes = 3
	id := edmat.COOIdentity(1 << nModes)
	for i := range nModes {
		for j := range nModes {
			t.Run(fmt.Sprintf("%d %d", i, j), func(t *testing.T) {
				t.Parallel()
				ci, cj := fermion(nModes, i, false), fermion(nModes, j, false)
				cdj := fermion(nModes, j, true)

				anti := ci.MatMul(cdj)
				anti.Add(1, cdj.MatMul(ci))
				want := edmat.COOZeros(1<<nModes, 1<<nModes)
				if i == j {
					want = id
				}
				if !anti.EqualApprox(want, 0) {
					t.Fatalf("{c_i, c†_j} = %v", anti.Data)
				}

				anti = ci.MatMul(cj)
				anti.Add(1, cj.MatMul(ci))
				if anti.NumNonZero() != 0 {
					t.Fatalf("{c_i, c_j} = %v", anti.Data)
				}
			})
		}
	}

	// Mode j is bit nModes-1-j of a Fock state.
	if v := fermion(nModes, 0, true).At(4, 0); v != 1 {
		t.Fatalf("%f", v)
	}
	if v := fermion(nModes, 2, true).At(5, 4); v != -1 {
		t.Fatalf("%f", v)
	}
}

func twoBandConverter() IndexConverter {
	conv := make(IndexConverter)
	for o := range 2 {
		conv[operators.Index{Block: "up", Inner: o}] = SolverIndex{Site: "0", Orbital: o, Spin: SpinUp}
		conv[operators.Index{Block: "dn", Inner: o}] = SolverIndex{Site: "0", Orbital: o, Spin: SpinDown}
	}
	return conv
}

func kanamori(t *testing.T, u, j, mu float64) operators.Expression {
	const numOrb = 2
	uSame := mat.NewDense(numOrb, numOrb, nil)
	uOpp := mat.NewDense(numOrb, numOrb, nil)
	for a := range numOrb {
		for b := range numOrb {
			if a == b {
				uOpp.Set(a, b, u)
				continue
			}
			uSame.Set(a, b, u-3*j)
			uOpp.Set(a, b, u-2*j)
		}
	}
	h, err := operators.HIntKanamori([]string{"up", "dn"}, []int{0, 1}, uSame, uOpp, j, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, s := range []string{"up", "dn"} {
		for o := range numOrb {
			h = h.Sub(operators.N(s, o).Scale(mu))
		}
	}
	return h
}

func TestDiagonalizeKanamori(t *testing.T) {
	t.Parallel()
	ed, err := NewED(twoBandConverter())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := ed.Diagonalize(context.Background(), kanamori(t, 2, 0.2, 1.5)); err != nil {
		t.Fatalf("%+v", err)
	}

	want := []float64{-1.6, -1.6, -1.6, -1.5, -1.5, -1.5, -1.5, -1.2, -1.2, -0.8, 0, 0.5, 0.5, 0.5, 0.5, 4}
	vals := ed.Eigenvalues()
	if len(vals) != len(want) {
		t.Fatalf("%v", vals)
	}
	for i, v := range vals {
		if math.Abs(v-want[i]) > 1e-10 {
			t.Fatalf("%d %v, expected %v", i, vals, want)
		}
	}
	if math.Abs(ed.GroundEnergy()+1.6) > 1e-10 {
		t.Fatalf("%f", ed.GroundEnergy())
	}
	if len(ed.levelEnergies) != 7 {
		t.Fatalf("%v", ed.levelEnergies)
	}

	// Particle number is conserved, so no subspace mixes sectors.
	for _, sub := range ed.subspaces {
		bits := -1
		for _, s := range sub.states {
			n := popcount(s)
			if bits >= 0 && n != bits {
				t.Fatalf("subspace %v mixes particle numbers", sub.states)
			}
			bits = n
		}
	}

	// At low temperature the ground state triplet has two particles.
	var n operators.Expression
	for _, s := range []string{"up", "dn"} {
		for o := range 2 {
			n = n.Add(operators.N(s, o))
		}
	}
	avg, err := ed.EnsembleAverage(n, 1000)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if math.Abs(avg-2) > 1e-6 {
		t.Fatalf("%f", avg)
	}
}

func popcount(s int) int {
	var n int
	for ; s > 0; s >>= 1 {
		n += s & 1
	}
	return n
}

func TestDiagonalizeInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		h     operators.Expression
		descr string
	}{
		{h: operators.CDag("up", 0).Mul(operators.C("dn", 0)), descr: "not hermitian"},
		{h: operators.N("up", 3), descr: "unknown index"},
	}
	for _, test := range tests {
		t.Run(test.descr, func(t *testing.T) {
			t.Parallel()
			ed, err := NewED(twoBandConverter())
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if err := ed.Diagonalize(context.Background(), test.h); err == nil {
				t.Fatalf("expected error")
			}
			if _, err := ed.GIw(nil, 1, 1); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	// G2 evaluation fans out over goroutines, none of which may outlive a call.
	goleak.VerifyTestMain(m)
}
