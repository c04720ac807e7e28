package gf

import (
	"math/cmplx"
	"slices"

	"github.com/pkg/errors"
)

// BlockStruct names one block of a block diagonal Green's function and its inner indices.
type BlockStruct struct {
	Name    string `json:"name"`
	Indices []int  `json:"indices"`
}

// GfStruct is an ordered list of blocks.
type GfStruct []BlockStruct

func (s GfStruct) Block(name string) (BlockStruct, bool) {
	for _, b := range s {
		if b.Name == name {
			return b, true
		}
	}
	return BlockStruct{}, false
}

// Gf is a matrix valued function on a mesh, stored as [mesh][i][j].
type Gf struct {
	Name    string
	Indices []int
	Data    []complex128
}

func (g *Gf) Size() int { return len(g.Indices) }

func (g *Gf) offset(k, i, j int) int {
	n := g.Size()
	return (k*n+i)*n + j
}

func (g *Gf) At(k, i, j int) complex128 { return g.Data[g.offset(k, i, j)] }

func (g *Gf) Set(k, i, j int, v complex128) { g.Data[g.offset(k, i, j)] = v }

// BlockGf is a block diagonal Green's function.
type BlockGf struct {
	Mesh   Mesh
	Blocks []*Gf
}

func NewBlockGf(mesh Mesh, s GfStruct) *BlockGf {
	g := &BlockGf{Mesh: mesh}
	for _, b := range s {
		n := len(b.Indices)
		g.Blocks = append(g.Blocks, &Gf{Name: b.Name, Indices: slices.Clone(b.Indices), Data: make([]complex128, mesh.Len()*n*n)})
	}
	return g
}

func (g *BlockGf) Block(name string) (*Gf, bool) {
	for _, b := range g.Blocks {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// Struct returns the block structure of g.
func (g *BlockGf) Struct() GfStruct {
	s := make(GfStruct, 0, len(g.Blocks))
	for _, b := range g.Blocks {
		s = append(s, BlockStruct{Name: b.Name, Indices: slices.Clone(b.Indices)})
	}
	return s
}

// Diff returns an error describing the first difference between g and o larger than tol.
func (g *BlockGf) Diff(o *BlockGf, tol float64) error {
	if g.Mesh != o.Mesh {
		return errors.Errorf("mesh %#v, expected %#v", g.Mesh, o.Mesh)
	}
	if len(g.Blocks) != len(o.Blocks) {
		return errors.Errorf("%d blocks, expected %d", len(g.Blocks), len(o.Blocks))
	}
	for bi, b := range g.Blocks {
		ob := o.Blocks[bi]
		if b.Name != ob.Name || !slices.Equal(b.Indices, ob.Indices) || len(b.Data) != len(ob.Data) {
			return errors.Errorf("block %s %v, expected %s %v", b.Name, b.Indices, ob.Name, ob.Indices)
		}
		for i, v := range b.Data {
			if cmplx.Abs(v-ob.Data[i]) > tol {
				return errors.Errorf("block %s offset %d: %v, expected %v", b.Name, i, v, ob.Data[i])
			}
		}
	}
	return nil
}
