package gf

import (
	"slices"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
)

// Channel selects the frequency convention of a two-particle Green's function.
//
// With the last operator at τ=0, the particle-hole function is
//
//	G_abcd(ω;ν,ν') = ∫ e^{iντ1} e^{-i(ν+ω)τ2} e^{i(ν'+ω)τ3} <T c_a(τ1) c†_b(τ2) c_c(τ3) c†_d(0)>
//
// and the particle-particle function is
//
//	G_abcd(ω;ν,ν') = ∫ e^{iντ1} e^{-i(ω-ν')τ2} e^{i(ω-ν)τ3} <T c_a(τ1) c†_b(τ2) c_c(τ3) c†_d(0)>
//
// where the integrals run over [0, β) for each of τ1, τ2, τ3.
type Channel string

const (
	PH Channel = "PH"
	PP Channel = "PP"
)

func ParseChannel(s string) (Channel, error) {
	switch c := Channel(s); c {
	case PH, PP:
		return c, nil
	}
	return "", errors.Errorf("unknown channel %#v", s)
}

// BlockOrder selects which blocks the four operators belong to.
// For a block pair (A, B), AABB takes a,b from A and c,d from B, whereas ABBA takes a,d from A and b,c from B.
type BlockOrder string

const (
	AABB BlockOrder = "AABB"
	ABBA BlockOrder = "ABBA"
)

func ParseBlockOrder(s string) (BlockOrder, error) {
	switch o := BlockOrder(s); o {
	case AABB, ABBA:
		return o, nil
	}
	return "", errors.Errorf("unknown block order %#v", s)
}

// G2Block holds the tensor of a block pair, with shape [w, n1, n2, d1, d2, d3, d4].
type G2Block struct {
	A    string
	B    string
	Data *tensor.Dense
}

func (b *G2Block) At(w, n1, n2, i, j, k, l int) complex128 {
	return complex128(b.Data.At(w, n1, n2, i, j, k, l))
}

// G2 is a two-particle Green's function on a bosonic frequency mesh and two fermionic meshes.
type G2 struct {
	Channel    Channel
	BlockOrder BlockOrder
	Meshes     [3]Mesh
	Blocks     []*G2Block
}

// NewG2 allocates zeroed blocks for the given block pairs, with operator index dimensions taken from s.
func NewG2(channel Channel, order BlockOrder, meshes [3]Mesh, s GfStruct, pairs [][2]string) (*G2, error) {
	g := &G2{Channel: channel, BlockOrder: order, Meshes: meshes}
	for _, p := range pairs {
		a, ok := s.Block(p[0])
		if !ok {
			return nil, errors.Errorf("unknown block %#v", p[0])
		}
		b, ok := s.Block(p[1])
		if !ok {
			return nil, errors.Errorf("unknown block %#v", p[1])
		}
		dims := G2Dims(order, len(a.Indices), len(b.Indices))
		shape := []int{meshes[0].Len(), meshes[1].Len(), meshes[2].Len(), dims[0], dims[1], dims[2], dims[3]}
		g.Blocks = append(g.Blocks, &G2Block{A: p[0], B: p[1], Data: tensor.Zeros(shape...)})
	}
	return g, nil
}

// G2Dims returns the operator index dimensions of a block pair whose blocks have sizes na and nb.
func G2Dims(order BlockOrder, na, nb int) [4]int {
	if order == ABBA {
		return [4]int{na, nb, nb, na}
	}
	return [4]int{na, na, nb, nb}
}

func (g *G2) Block(a, b string) (*G2Block, bool) {
	for _, blk := range g.Blocks {
		if blk.A == a && blk.B == b {
			return blk, true
		}
	}
	return nil, false
}

// Diff returns an error describing the first difference between g and o larger than tol.
func (g *G2) Diff(o *G2, tol float64) error {
	if g.Channel != o.Channel || g.BlockOrder != o.BlockOrder {
		return errors.Errorf("%s %s, expected %s %s", g.Channel, g.BlockOrder, o.Channel, o.BlockOrder)
	}
	if g.Meshes != o.Meshes {
		return errors.Errorf("meshes %#v, expected %#v", g.Meshes, o.Meshes)
	}
	if len(g.Blocks) != len(o.Blocks) {
		return errors.Errorf("%d blocks, expected %d", len(g.Blocks), len(o.Blocks))
	}
	for bi, b := range g.Blocks {
		ob := o.Blocks[bi]
		if b.A != ob.A || b.B != ob.B {
			return errors.Errorf("block %s %s, expected %s %s", b.A, b.B, ob.A, ob.B)
		}
		if !slices.Equal(b.Data.Shape(), ob.Data.Shape()) {
			return errors.Errorf("block %s %s shape %v, expected %v", b.A, b.B, b.Data.Shape(), ob.Data.Shape())
		}
		for idx := range b.Data.All() {
			v, ov := b.Data.At(idx...), ob.Data.At(idx...)
			d := complex128(v - ov)
			if real(d)*real(d)+imag(d)*imag(d) > tol*tol {
				return errors.Errorf("block %s %s %v: %v, expected %v", b.A, b.B, idx, v, ov)
			}
		}
	}
	return nil
}
