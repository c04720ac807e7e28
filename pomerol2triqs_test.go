package pomerol2triqs

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/henhans/pomerol2triqs/archive"
	"github.com/henhans/pomerol2triqs/exactdiag"
	"github.com/henhans/pomerol2triqs/gf"
	"github.com/henhans/pomerol2triqs/operators"
)

func TestIndexConverter(t *testing.T) {
	t.Parallel()
	conv, err := IndexConverter([]string{"up", "dn"}, OrbitalNames(2))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := exactdiag.IndexConverter{
		{Block: "up", Inner: 0}: {Site: "loc", Orbital: 0, Spin: exactdiag.SpinUp},
		{Block: "up", Inner: 1}: {Site: "loc", Orbital: 1, Spin: exactdiag.SpinUp},
		{Block: "dn", Inner: 0}: {Site: "loc", Orbital: 0, Spin: exactdiag.SpinDown},
		{Block: "dn", Inner: 1}: {Site: "loc", Orbital: 1, Spin: exactdiag.SpinDown},
	}
	if diff := cmp.Diff(want, conv); diff != "" {
		t.Fatalf("%s", diff)
	}
	if _, err := exactdiag.NewED(conv); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestParticleNumber(t *testing.T) {
	t.Parallel()
	n := ParticleNumber([]string{"up", "dn"}, OrbitalNames(2))
	if terms := n.Terms(); len(terms) != 4 {
		t.Fatalf("%s", n)
	}
	want := operators.N("dn", 0).Add(operators.N("dn", 1)).Add(operators.N("up", 0)).Add(operators.N("up", 1))
	if !n.Equal(want, 0) {
		t.Fatalf("%s, expected %s", n, want)
	}
}

func TestKanamoriMatrices(t *testing.T) {
	t.Parallel()
	tests := []struct {
		numOrb int
		u      float64
		j      float64
	}{
		{numOrb: 2, u: 2, j: 0.2},
		{numOrb: 3, u: 4, j: 0.5},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %f %f", test.numOrb, test.u, test.j), func(t *testing.T) {
			t.Parallel()
			uSame, uOpp := KanamoriMatrices(test.numOrb, test.u, test.j)
			for a := range test.numOrb {
				for b := range test.numOrb {
					wantSame, wantOpp := test.u-3*test.j, test.u-2*test.j
					if a == b {
						wantSame, wantOpp = 0, test.u
					}
					if uSame.At(a, b) != wantSame || uOpp.At(a, b) != wantOpp {
						t.Fatalf("%d %d: %f %f, expected %f %f", a, b, uSame.At(a, b), uOpp.At(a, b), wantSame, wantOpp)
					}
				}
			}
		})
	}
}

func TestLoadParams(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)

	p, err := LoadParams(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(DefaultParams(), p); diff != "" {
		t.Fatalf("%s", diff)
	}

	path := filepath.Join(dir, "params.yaml")
	b := []byte("beta: 20\nn_iw: 64\ng2_blocks: [[up, dn]]\nenergy_window: [-2, 3]\n")
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatalf("%+v", err)
	}
	p, err = LoadParams(path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := DefaultParams()
	want.Beta, want.NIw = 20, 64
	want.G2Blocks = [][]string{{"up", "dn"}}
	want.EnergyWindow = []float64{-2, 3}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("%s", diff)
	}

	invalid := []string{
		"unknown_key: 1\n",
		"beta: -1\n",
		"spin_names: [up, up]\n",
		"g2_blocks: [[up, xx]]\n",
		"energy_window: [3, -2]\n",
		"g2_channels: [XY]\n",
		"g2_channels: [PH, PH]\n",
		"g2_block_orders: []\n",
		"g2_block_orders: [AAAA]\n",
	}
	for i, s := range invalid {
		path := filepath.Join(dir, fmt.Sprintf("invalid%d.yaml", i))
		if err := os.WriteFile(path, []byte(s), 0644); err != nil {
			t.Fatalf("%+v", err)
		}
		if _, err := LoadParams(path); err == nil {
			t.Fatalf("%#v expected error", s)
		}
	}
}

func smallParams() Params {
	p := DefaultParams()
	p.NIw, p.NTau, p.NW = 16, 11, 7
	p.G2NIw, p.G2NInu, p.G2NL, p.G2NInuSum = 1, 2, 2, 8
	p.Verbose = false
	return p
}

func TestCompute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := smallParams()
	r, err := Compute(ctx, p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff(ResultKeys(), r.Keys()); diff != "" {
		t.Fatalf("%s", diff)
	}
	if len(r.Keys()) != 11 {
		t.Fatalf("%v", r.Keys())
	}
	if math.Abs(r.GroundEnergy+1.6) > 1e-10 || len(r.Eigenvalues) != 16 || r.Eigenvalues[0] != r.GroundEnergy {
		t.Fatalf("%f %v", r.GroundEnergy, r.Eigenvalues)
	}
	if !(r.Density > 1 && r.Density < 3) {
		t.Fatalf("%f", r.Density)
	}

	obj, _ := r.Get(KeyGIw)
	giw := obj.(*gf.BlockGf)
	if diff := cmp.Diff(operators.SetOperatorStructure(p.SpinNames, OrbitalNames(p.NumOrb), true), giw.Struct()); diff != "" {
		t.Fatalf("%s", diff)
	}
	if giw.Mesh.Len() != 2*p.NIw {
		t.Fatalf("%d", giw.Mesh.Len())
	}
	obj, _ = r.Get(KeyGTau)
	gtau := obj.(*gf.BlockGf)
	up, _ := gtau.Block("up")
	// G(0) + G(β) = -1 for a diagonal element.
	if v := up.At(0, 0, 0) + up.At(p.NTau-1, 0, 0); math.Abs(real(v)+1) > 1e-10 {
		t.Fatalf("%v", v)
	}

	obj, _ = r.Get(G2Key(true, gf.PP, gf.ABBA))
	g2 := obj.(*gf.G2)
	if g2.Channel != gf.PP || g2.BlockOrder != gf.ABBA || len(g2.Blocks) != len(p.G2Blocks) {
		t.Fatalf("%s %s %d", g2.Channel, g2.BlockOrder, len(g2.Blocks))
	}
	if m := g2.Meshes[1]; m.Kind != gf.Legendre || m.Len() != p.G2NL {
		t.Fatalf("%#v", m)
	}
	if blk, ok := g2.Block("up", "dn"); !ok || blk.Data.Shape()[3] != p.NumOrb {
		t.Fatalf("%#v", g2.Blocks)
	}

	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "atom.db")
	if err := r.Save(ctx, path); err != nil {
		t.Fatalf("%+v", err)
	}
	ar, err := archive.Open(ctx, path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer ar.Close()
	keys, err := ar.Keys(ctx)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if len(keys) != 11 {
		t.Fatalf("%v", keys)
	}
	obj, err = ar.Get(ctx, KeyGIw)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := obj.(*gf.BlockGf).Diff(giw, 0); err != nil {
		t.Fatalf("%+v", err)
	}
}

func TestDefaultParams(t *testing.T) {
	t.Parallel()
	p := DefaultParams()
	if err := p.Validate(); err != nil {
		t.Fatalf("%+v", err)
	}
	// The Legendre transform sums over the same fermionic frequencies as pomerol2triqs by default.
	if p.G2NInuSum != 500 {
		t.Fatalf("%d", p.G2NInuSum)
	}
	chs, orders, err := p.g2Kinds()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff([]gf.Channel{gf.PH, gf.PP}, chs); diff != "" {
		t.Fatalf("%s", diff)
	}
	if diff := cmp.Diff([]gf.BlockOrder{gf.AABB, gf.ABBA}, orders); diff != "" {
		t.Fatalf("%s", diff)
	}
}

func TestComputeSelected(t *testing.T) {
	t.Parallel()
	p := smallParams()
	p.G2Channels, p.G2BlockOrders = []string{"PP"}, []string{"ABBA"}
	r, err := Compute(context.Background(), p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := []string{KeyGIw, KeyGTau, KeyGW, "G2_iw_inu_inup_pp_ABBA", "G2_iw_l_lp_pp_ABBA"}
	if diff := cmp.Diff(want, r.Keys()); diff != "" {
		t.Fatalf("%s", diff)
	}
}

func TestComputeInvalid(t *testing.T) {
	t.Parallel()
	p := smallParams()
	p.NumOrb = 0
	if _, err := Compute(context.Background(), p); err == nil {
		t.Fatalf("expected error")
	}
}

func TestG2Key(t *testing.T) {
	t.Parallel()
	if k := G2Key(false, gf.PH, gf.AABB); k != "G2_iw_inu_inup_ph_AABB" {
		t.Fatalf("%s", k)
	}
	if k := G2Key(true, gf.PP, gf.ABBA); k != "G2_iw_l_lp_pp_ABBA" {
		t.Fatalf("%s", k)
	}
}

func TestMain(m *testing.M) {
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	os.Exit(m.Run())
}
