package exactdiag

import (
	"math"
	"math/cmplx"
)

// resonanceTol is the magnitude below which an exponent is treated as zero.
const resonanceTol = 1e-8

// expTerm is c t^p e^{s t}.
type expTerm struct {
	c complex128
	p int
	s complex128
}

// integrator evaluates time ordered integrals of exponentials.
// It keeps scratch buffers and must not be shared between goroutines.
type integrator struct {
	a []expTerm
	b []expTerm
}

func resonant(z complex128) bool { return cmplx.Abs(z) < resonanceTol }

// nested returns
//
//	e^{-β ea} ∫_0^β dt1 e^{z1 t1} ∫_0^{t1} dt2 e^{z2 t2} ∫_0^{t2} dt3 e^{z3 t3}
//
// where the prefactor is folded into the exponents to avoid overflow.
func (in *integrator) nested(z1, z2, z3 complex128, beta, ea float64) complex128 {
	z12, z23, z123 := z1+z2, z2+z3, z1+z2+z3
	if resonant(z1) || resonant(z2) || resonant(z3) || resonant(z12) || resonant(z23) || resonant(z123) {
		return in.generic(z1, z2, z3, beta, ea)
	}

	b := complex(beta, 0)
	ea0 := complex(math.Exp(-ea*beta), 0)
	e := func(x complex128) complex128 {
		return (cmplx.Exp((x-complex(ea, 0))*b) - ea0) / x
	}
	e1 := e(z1)
	return (e(z123)-e1)/(z3*z23) - (e(z12)-e1)/(z3*z2)
}

// generic evaluates nested by integrating exponential polynomials exactly, which is valid for any exponents.
func (in *integrator) generic(z1, z2, z3 complex128, beta, ea float64) complex128 {
	in.a = append(in.a[:0], expTerm{c: 1, p: 0, s: z3})
	in.b = integrate(in.b[:0], in.a)
	shift(in.b, z2)
	in.a = integrate(in.a[:0], in.b)
	shift(in.a, z1)
	in.b = integrate(in.b[:0], in.a)

	var v complex128
	for _, t := range in.b {
		x := t.c * cmplx.Exp((t.s-complex(ea, 0))*complex(beta, 0))
		v += x * complex(math.Pow(beta, float64(t.p)), 0)
	}
	return v
}

// integrate appends to dst the terms of F(T) = ∫_0^T f(t) dt, where f is the sum of src.
func integrate(dst, src []expTerm) []expTerm {
	for _, t := range src {
		if resonant(t.s) {
			dst = append(dst, expTerm{c: t.c / complex(float64(t.p+1), 0), p: t.p + 1, s: 0})
			continue
		}

		// ∫_0^T t^p e^{st} = e^{sT} Σ_k f_k T^{p-k} - f_p.
		f := t.c / t.s
		for k := 0; k <= t.p; k++ {
			dst = append(dst, expTerm{c: f, p: t.p - k, s: t.s})
			if k < t.p {
				f *= complex(-float64(t.p-k), 0) / t.s
			}
		}
		dst = append(dst, expTerm{c: -f, p: 0, s: 0})
	}
	return dst
}

// shift multiplies every term by e^{zt}.
func shift(terms []expTerm, z complex128) {
	for i := range terms {
		terms[i].s += z
	}
}
