package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/henhans/pomerol2triqs/gf"
)

func testBlockGf() *gf.BlockGf {
	s := gf.GfStruct{{Name: "up", Indices: []int{0, 1}}, {Name: "dn", Indices: []int{0, 1}}}
	g := gf.NewBlockGf(gf.NewImFreq(10, gf.Fermion, 4), s)
	for bi, b := range g.Blocks {
		for k := range g.Mesh.Len() {
			b.Set(k, 0, 0, complex(float64(k), float64(bi)))
			b.Set(k, 1, 0, complex(0, -1.5/float64(k+1)))
		}
	}
	return g
}

func testG2(t *testing.T) *gf.G2 {
	s := gf.GfStruct{{Name: "up", Indices: []int{0}}, {Name: "dn", Indices: []int{0, 1}}}
	meshes := [3]gf.Mesh{gf.NewImFreq(10, gf.Boson, 2), gf.NewLegendre(10, gf.Fermion, 3), gf.NewLegendre(10, gf.Fermion, 3)}
	g, err := gf.NewG2(gf.PP, gf.ABBA, meshes, s, [][2]string{{"up", "dn"}, {"dn", "dn"}})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	g.Blocks[0].Data.SetAt([]int{0, 1, 2, 0, 1, 0, 0}, 3-1i)
	g.Blocks[1].Data.SetAt([]int{2, 0, 0, 1, 1, 0, 1}, 0.25i)
	return g
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "a.db")

	a, err := Create(ctx, path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	g, g2 := testBlockGf(), testG2(t)
	if err := a.Set(ctx, "G_iw", g); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := a.Set(ctx, "G2", g2); err != nil {
		t.Fatalf("%+v", err)
	}
	// Setting a key again replaces its value.
	if err := a.Set(ctx, "G2", g2); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := a.Set(ctx, "bad", 1); err == nil {
		t.Fatalf("expected error")
	}
	id := a.ID
	if err := a.Close(); err != nil {
		t.Fatalf("%+v", err)
	}

	a, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer a.Close()
	if a.ID != id {
		t.Fatalf("%s, expected %s", a.ID, id)
	}
	keys, err := a.Keys(ctx)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if diff := cmp.Diff([]string{"G2", "G_iw"}, keys); diff != "" {
		t.Fatalf("%s", diff)
	}

	obj, err := a.Get(ctx, "G_iw")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := obj.(*gf.BlockGf).Diff(g, 0); err != nil {
		t.Fatalf("%+v", err)
	}
	obj, err = a.Get(ctx, "G2")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := obj.(*gf.G2).Diff(g2, 0); err != nil {
		t.Fatalf("%+v", err)
	}
	if kind, err := a.Kind(ctx, "G2"); err != nil || kind != KindG2 {
		t.Fatalf("%s %+v", kind, err)
	}

	if _, err := a.Get(ctx, "missing"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSparse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer os.RemoveAll(dir)

	a, err := Create(ctx, filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer a.Close()
	if err := a.Set(ctx, "G2", testG2(t)); err != nil {
		t.Fatalf("%+v", err)
	}
	var n int
	if err := a.db.QueryRowContext(ctx, "SELECT count(1) FROM "+tableValues).Scan(&n); err != nil {
		t.Fatalf("%+v", err)
	}
	if n != 2 {
		t.Fatalf("%d", n)
	}
}

func TestOpenMissing(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), filepath.Join(os.TempDir(), "does-not-exist.db")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFlatten(t *testing.T) {
	t.Parallel()
	shape := []int{2, 3, 4}
	for k := range 24 {
		idx := unflatten(shape, k)
		if got := flatten(shape, idx); got != k {
			t.Fatalf("%v %d, expected %d", idx, got, k)
		}
	}
	if diff := cmp.Diff([]int{1, 2, 3}, unflatten(shape, 23)); diff != "" {
		t.Fatalf("%s", diff)
	}
}
