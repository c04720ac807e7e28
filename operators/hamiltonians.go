package operators

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/henhans/pomerol2triqs/gf"
)

// SetOperatorStructure returns the block structure for the given spins and orbitals.
// With offDiag, every spin is one block holding all orbitals.
// Otherwise every (spin, orbital) pair is a block named "spin_orbital" with the single index 0.
func SetOperatorStructure(spinNames []string, orbNames []int, offDiag bool) gf.GfStruct {
	s := make(gf.GfStruct, 0)
	for _, sn := range spinNames {
		if offDiag {
			s = append(s, gf.BlockStruct{Name: sn, Indices: append([]int(nil), orbNames...)})
			continue
		}
		for _, o := range orbNames {
			s = append(s, gf.BlockStruct{Name: blockName(sn, o), Indices: []int{0}})
		}
	}
	return s
}

// GetMkind returns the map from (spin, orbital) to the mode label under the structure of SetOperatorStructure.
func GetMkind(offDiag bool) func(sn string, o int) Index {
	if offDiag {
		return func(sn string, o int) Index { return Index{Block: sn, Inner: o} }
	}
	return func(sn string, o int) Index { return Index{Block: blockName(sn, o), Inner: 0} }
}

func blockName(sn string, o int) string { return fmt.Sprintf("%s_%d", sn, o) }

func n(i Index) Expression    { return N(i.Block, i.Inner) }
func c(i Index) Expression    { return C(i.Block, i.Inner) }
func cDag(i Index) Expression { return CDag(i.Block, i.Inner) }

// HIntKanamori returns the Kanamori interaction
//
//	H = 1/2 Σ_{s,a1,a2} U[a1,a2] n_{s,a1} n_{s,a2} + 1/2 Σ_{s≠s',a1,a2} U'[a1,a2] n_{s,a1} n_{s',a2}
//	  - 1/2 J Σ_{s≠s',a1≠a2} c†_{s,a1} c_{s',a1} c†_{s',a2} c_{s,a2}
//	  + 1/2 J Σ_{s≠s',a1≠a2} c†_{s,a1} c†_{s',a1} c_{s',a2} c_{s,a2}
//
// where U couples equal spins and uPrime couples opposite spins.
func HIntKanamori(spinNames []string, orbNames []int, u, uPrime *mat.Dense, j float64, offDiag bool) (Expression, error) {
	if len(spinNames) != 2 {
		return Expression{}, errors.Errorf("need exactly two spin names %#v", spinNames)
	}
	for _, m := range []*mat.Dense{u, uPrime} {
		if err := checkSymmetric(m, len(orbNames)); err != nil {
			return Expression{}, errors.Wrap(err, "")
		}
	}
	mkind := GetMkind(offDiag)

	h := Expression{}
	// Density terms.
	for _, s1 := range spinNames {
		for _, s2 := range spinNames {
			for i1, a1 := range orbNames {
				for i2, a2 := range orbNames {
					var v float64
					switch {
					case s1 == s2:
						v = u.At(i1, i2)
					default:
						v = uPrime.At(i1, i2)
					}
					h = h.Add(n(mkind(s1, a1)).Mul(n(mkind(s2, a2))).Scale(0.5 * v))
				}
			}
		}
	}

	// Spin-flip terms.
	for _, s1 := range spinNames {
		for _, s2 := range spinNames {
			if s1 == s2 {
				continue
			}
			for _, a1 := range orbNames {
				for _, a2 := range orbNames {
					if a1 == a2 {
						continue
					}
					t := cDag(mkind(s1, a1)).Mul(c(mkind(s2, a1))).Mul(cDag(mkind(s2, a2))).Mul(c(mkind(s1, a2)))
					h = h.Add(t.Scale(-0.5 * j))
				}
			}
		}
	}

	// Pair-hopping terms.
	for _, s1 := range spinNames {
		for _, s2 := range spinNames {
			if s1 == s2 {
				continue
			}
			for _, a1 := range orbNames {
				for _, a2 := range orbNames {
					if a1 == a2 {
						continue
					}
					t := cDag(mkind(s1, a1)).Mul(cDag(mkind(s2, a1))).Mul(c(mkind(s2, a2))).Mul(c(mkind(s1, a2)))
					h = h.Add(t.Scale(0.5 * j))
				}
			}
		}
	}
	return h, nil
}

func checkSymmetric(m *mat.Dense, n int) error {
	r, c := m.Dims()
	if r != n || c != n {
		return errors.Errorf("interaction matrix is %dx%d, expected %dx%d", r, c, n, n)
	}
	if !mat.EqualApprox(m, m.T(), 1e-12) {
		return errors.Errorf("interaction matrix is not symmetric %v", mat.Formatted(m, mat.Squeeze()))
	}
	return nil
}
