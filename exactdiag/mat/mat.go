// Package mat implements the sparse real matrices used to represent operators on a Fock space.
package mat

import (
	"cmp"
	"fmt"
	"slices"
)

var (
	PauliZ = [][]float64{
		{1, 0},
		{0, -1},
	}
	// Lower is the single mode annihilator |0><1| in the basis {|0>, |1>}.
	Lower = [][]float64{
		{0, 1},
		{0, 0},
	}
	// Raise is the single mode creator |1><0|.
	Raise = [][]float64{
		{0, 0},
		{1, 0},
	}
	Identity = [][]float64{
		{1, 0},
		{0, 1},
	}
)

type vRowCol struct {
	v   float64
	row int
	col int
}

// COO is a sparse matrix in coordinate format, with entries kept in row major order.
type COO struct {
	rows int
	cols int
	Data []vRowCol

	m map[[2]int]float64
}

func M(dense [][]float64) *COO {
	m := &COO{rows: len(dense), cols: len(dense[0]), Data: make([]vRowCol, 0), m: make(map[[2]int]float64)}
	for i, row := range dense {
		for j, v := range row {
			if v == 0 {
				continue
			}
			m.Data = append(m.Data, vRowCol{v: v, row: i, col: j})
		}
	}
	return m
}

func COOZeros(rows, cols int) *COO {
	return &COO{rows: rows, cols: cols, Data: make([]vRowCol, 0), m: make(map[[2]int]float64)}
}

func COOIdentity(rows int) *COO {
	m := COOZeros(rows, rows)
	for i := 0; i < rows; i++ {
		m.Data = append(m.Data, vRowCol{v: 1, row: i, col: i})
	}
	return m
}

func (m *COO) Rows() int { return m.rows }

// NumNonZero returns the number of stored entries.
func (m *COO) NumNonZero() int { return len(m.Data) }

func (m *COO) At(i, j int) float64 {
	k, ok := slices.BinarySearchFunc(m.Data, vRowCol{row: i, col: j}, rowMajor)
	if !ok {
		return 0
	}
	return m.Data[k].v
}

// All iterates over the non-zero entries in row major order.
func (m *COO) All() func(yield func([2]int, float64) bool) {
	return func(yield func([2]int, float64) bool) {
		for _, v := range m.Data {
			if !yield([2]int{v.row, v.col}, v.v) {
				return
			}
		}
	}
}

// EqualApprox reports whether a and b differ by at most tol in every entry.
func (a *COO) EqualApprox(b *COO, tol float64) bool {
	if a.rows != b.rows || a.cols != b.cols {
		return false
	}
	d := a.Clone()
	d.Add(-1, b)
	for _, v := range d.Data {
		if v.v > tol || v.v < -tol {
			return false
		}
	}
	return true
}

func (m *COO) Clone() *COO {
	c := &COO{rows: m.rows, cols: m.cols, Data: slices.Clone(m.Data), m: make(map[[2]int]float64)}
	return c
}

// Add sets a to a + c*b.
func (a *COO) Add(c float64, b *COO) {
	if b.rows != a.rows || b.cols != a.cols {
		panic(fmt.Sprintf("wrong dimensions %dx%d %dx%d", a.rows, a.cols, b.rows, b.cols))
	}
	if a.m == nil {
		a.m = make(map[[2]int]float64)
	}
	clear(a.m)
	for _, v := range b.Data {
		a.m[[2]int{v.row, v.col}] = v.v
	}

	for i, av := range a.Data {
		byx := [2]int{av.row, av.col}
		bv := a.m[byx]
		delete(a.m, byx)

		a.Data[i].v = av.v + c*bv
	}

	a.Data = slices.DeleteFunc(a.Data, func(v vRowCol) bool {
		return v.v == 0
	})
	for yx, bv := range a.m {
		if c*bv == 0 {
			continue
		}
		a.Data = append(a.Data, vRowCol{v: c * bv, row: yx[0], col: yx[1]})
	}
	slices.SortFunc(a.Data, rowMajor)
	clear(a.m)
}

// MatMul returns the matrix product a*b.
func (a *COO) MatMul(b *COO) *COO {
	if a.cols != b.rows {
		panic(fmt.Sprintf("wrong dimensions %dx%d %dx%d", a.rows, a.cols, b.rows, b.cols))
	}
	byRow := make(map[int][]vRowCol)
	for _, v := range b.Data {
		byRow[v.row] = append(byRow[v.row], v)
	}

	sum := make(map[[2]int]float64)
	for _, av := range a.Data {
		for _, bv := range byRow[av.col] {
			sum[[2]int{av.row, bv.col}] += av.v * bv.v
		}
	}

	c := &COO{rows: a.rows, cols: b.cols, Data: make([]vRowCol, 0, len(sum)), m: make(map[[2]int]float64)}
	for yx, v := range sum {
		if v == 0 {
			continue
		}
		c.Data = append(c.Data, vRowCol{v: v, row: yx[0], col: yx[1]})
	}
	slices.SortFunc(c.Data, rowMajor)
	return c
}

func (a *COO) Kron(b *COO) {
	rows := a.rows * b.rows
	cols := a.cols * b.cols
	a.rows, a.cols = rows, cols

	prevElemNum := len(a.Data)
	for i := prevElemNum - 1; i >= 0; i-- {
		av := a.Data[i]
		a.Data[i].v = 0
		for _, bv := range b.Data {
			ky := av.row*b.rows + bv.row
			kx := av.col*b.cols + bv.col
			a.Data = append(a.Data, vRowCol{v: av.v * bv.v, row: ky, col: kx})
		}
	}

	a.Data = slices.DeleteFunc(a.Data, func(v vRowCol) bool {
		return v.v == 0
	})
	slices.SortFunc(a.Data, rowMajor)
}

func (m *COO) Transpose() *COO {
	t := &COO{rows: m.cols, cols: m.rows, Data: make([]vRowCol, 0, len(m.Data)), m: make(map[[2]int]float64)}
	for _, v := range m.Data {
		t.Data = append(t.Data, vRowCol{v: v.v, row: v.col, col: v.row})
	}
	slices.SortFunc(t.Data, rowMajor)
	return t
}

func rowMajor(a, b vRowCol) int {
	if c := cmp.Compare(a.row, b.row); c != 0 {
		return c
	}
	return cmp.Compare(a.col, b.col)
}
