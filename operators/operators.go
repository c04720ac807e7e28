// Package operators implements a real-coefficient algebra of fermionic creation and annihilation operators.
//
// Expressions are kept in normal order: creators come first in ascending index order, followed by annihilators in descending index order.
package operators

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Index labels a fermionic mode by block and inner index, for example a spin and an orbital.
type Index struct {
	Block string
	Inner int
}

func (i Index) String() string { return fmt.Sprintf("%s,%d", i.Block, i.Inner) }

func compareIndex(a, b Index) int {
	if c := cmp.Compare(a.Block, b.Block); c != 0 {
		return c
	}
	return cmp.Compare(a.Inner, b.Inner)
}

// Canonical is a single creation (Dagger) or annihilation operator.
type Canonical struct {
	Dagger bool
	Index  Index
}

func (c Canonical) String() string {
	if c.Dagger {
		return fmt.Sprintf("c_dag(%s)", c.Index)
	}
	return fmt.Sprintf("c(%s)", c.Index)
}

// before reports whether a precedes b in normal order.
func before(a, b Canonical) bool {
	switch {
	case a.Dagger && !b.Dagger:
		return true
	case !a.Dagger && b.Dagger:
		return false
	case a.Dagger:
		return compareIndex(a.Index, b.Index) < 0
	default:
		return compareIndex(a.Index, b.Index) > 0
	}
}

// Monomial is a product of canonical operators, applied right to left.
type Monomial []Canonical

func (m Monomial) String() string {
	if len(m) == 0 {
		return "1"
	}
	ss := make([]string, 0, len(m))
	for _, c := range m {
		ss = append(ss, c.String())
	}
	return strings.Join(ss, "*")
}

// Dagger returns the Hermitian conjugate of m, which is not necessarily normal ordered.
func (m Monomial) Dagger() Monomial {
	d := make(Monomial, 0, len(m))
	for i := len(m) - 1; i >= 0; i-- {
		d = append(d, Canonical{Dagger: !m[i].Dagger, Index: m[i].Index})
	}
	return d
}

type Term struct {
	Coef     float64
	Monomial Monomial
}

// Expression is a polynomial in canonical operators.
// The zero value is the zero operator.
type Expression struct {
	terms map[string]Term
}

// coefTol is the magnitude below which coefficients are dropped.
const coefTol = 1e-14

func Constant(v float64) Expression {
	e := Expression{}
	e.add(v, nil)
	return e
}

func C(block string, inner int) Expression {
	e := Expression{}
	e.add(1, Monomial{{Dagger: false, Index: Index{Block: block, Inner: inner}}})
	return e
}

func CDag(block string, inner int) Expression {
	e := Expression{}
	e.add(1, Monomial{{Dagger: true, Index: Index{Block: block, Inner: inner}}})
	return e
}

// N returns the number operator c†c of a mode.
func N(block string, inner int) Expression {
	return CDag(block, inner).Mul(C(block, inner))
}

func (e *Expression) add(c float64, m Monomial) {
	if e.terms == nil {
		e.terms = make(map[string]Term)
	}
	key := m.String()
	t, ok := e.terms[key]
	if !ok {
		t = Term{Monomial: slices.Clone(m)}
	}
	t.Coef += c
	if math.Abs(t.Coef) < coefTol {
		delete(e.terms, key)
		return
	}
	e.terms[key] = t
}

func (e Expression) clone() Expression {
	c := Expression{terms: make(map[string]Term, len(e.terms))}
	for k, t := range e.terms {
		c.terms[k] = t
	}
	return c
}

func (e Expression) Add(o Expression) Expression {
	r := e.clone()
	for _, t := range o.terms {
		r.add(t.Coef, t.Monomial)
	}
	return r
}

func (e Expression) Sub(o Expression) Expression {
	return e.Add(o.Scale(-1))
}

func (e Expression) Scale(c float64) Expression {
	r := Expression{}
	for _, t := range e.terms {
		r.add(c*t.Coef, t.Monomial)
	}
	return r
}

func (e Expression) Mul(o Expression) Expression {
	r := Expression{}
	for _, a := range e.terms {
		for _, b := range o.terms {
			prod := make(Monomial, 0, len(a.Monomial)+len(b.Monomial))
			prod = append(prod, a.Monomial...)
			prod = append(prod, b.Monomial...)
			normalOrder(&r, a.Coef*b.Coef, prod)
		}
	}
	return r
}

func (e Expression) Dagger() Expression {
	r := Expression{}
	for _, t := range e.terms {
		normalOrder(&r, t.Coef, t.Monomial.Dagger())
	}
	return r
}

func (e Expression) IsZero() bool { return len(e.terms) == 0 }

// Equal reports whether e and o have the same terms with coefficients within tol.
func (e Expression) Equal(o Expression, tol float64) bool {
	d := e.Sub(o)
	for _, t := range d.terms {
		if math.Abs(t.Coef) > tol {
			return false
		}
	}
	return true
}

// Terms returns the terms of e sorted by degree and then lexicographically.
func (e Expression) Terms() []Term {
	ts := make([]Term, 0, len(e.terms))
	for _, t := range e.terms {
		ts = append(ts, Term{Coef: t.Coef, Monomial: slices.Clone(t.Monomial)})
	}
	slices.SortFunc(ts, func(a, b Term) int {
		if c := cmp.Compare(len(a.Monomial), len(b.Monomial)); c != 0 {
			return c
		}
		return cmp.Compare(a.Monomial.String(), b.Monomial.String())
	})
	return ts
}

// Indices returns the distinct mode labels appearing in e, sorted.
func (e Expression) Indices() []Index {
	seen := make(map[Index]struct{})
	for _, t := range e.terms {
		for _, c := range t.Monomial {
			seen[c.Index] = struct{}{}
		}
	}
	idx := make([]Index, 0, len(seen))
	for i := range seen {
		idx = append(idx, i)
	}
	slices.SortFunc(idx, compareIndex)
	return idx
}

func (e Expression) String() string {
	ts := e.Terms()
	if len(ts) == 0 {
		return "0"
	}
	ss := make([]string, 0, len(ts))
	for _, t := range ts {
		ss = append(ss, fmt.Sprintf("%v*%s", t.Coef, t.Monomial))
	}
	return strings.Join(ss, " + ")
}

// normalOrder adds c*m to dst after bringing m into normal order with the canonical anticommutation relations.
func normalOrder(dst *Expression, c float64, m Monomial) {
	for i := 0; i+1 < len(m); i++ {
		x, y := m[i], m[i+1]
		if !before(y, x) {
			if x == y {
				// c c = c† c† = 0.
				return
			}
			continue
		}

		// y must move in front of x.
		swapped := slices.Clone(m)
		swapped[i], swapped[i+1] = y, x
		if !x.Dagger && y.Dagger && x.Index == y.Index {
			// c c† = 1 - c† c.
			contracted := make(Monomial, 0, len(m)-2)
			contracted = append(contracted, m[:i]...)
			contracted = append(contracted, m[i+2:]...)
			normalOrder(dst, c, contracted)
		}
		normalOrder(dst, -c, swapped)
		return
	}
	dst.add(c, m)
}
