package exactdiag

import (
	"math"
)

// sphericalBessel returns j_0(x), ..., j_lmax(x) for x > 0.
// The upward recurrence is stable for x > lmax, otherwise Miller's downward recurrence is used.
func sphericalBessel(lmax int, x float64) []float64 {
	j := make([]float64, lmax+1)
	j0 := math.Sin(x) / x
	j[0] = j0
	if lmax == 0 {
		return j
	}
	j1 := math.Sin(x)/(x*x) - math.Cos(x)/x
	if x > float64(lmax) {
		j[1] = j1
		for l := 1; l < lmax; l++ {
			j[l+1] = float64(2*l+1)/x*j[l] - j[l-1]
		}
		return j
	}

	const big = 1e200
	start := lmax + 20 + int(math.Sqrt(40*float64(lmax)))
	next, cur := 0.0, 1e-300
	for l := start; l > 0; l-- {
		prev := float64(2*l+1)/x*cur - next
		next, cur = cur, prev
		if l-1 <= lmax {
			j[l-1] = prev
		}
		if math.Abs(cur) > big {
			cur /= big
			next /= big
			for k := l - 1; k <= lmax; k++ {
				j[k] /= big
			}
		}
	}
	scale := j0 / j[0]
	if math.Abs(j1) > math.Abs(j0) {
		scale = j1 / j[1]
	}
	for l := range j {
		j[l] *= scale
	}
	return j
}

// legendreT returns the overlaps, for l < nl, between the fermionic frequency n and the Legendre polynomial l:
//
//	T_nl = (-1)^n i^{l+1} sqrt(2l+1) j_l((2n+1)π/2)
//
// Summed over all n, Σ_n T_nl T*_nl' = δ_ll'.
func legendreT(n, nl int) []complex128 {
	x := float64(2*n+1) * math.Pi / 2
	sign := 1.0
	if x < 0 {
		x = -x
		sign = -1
	}
	j := sphericalBessel(nl-1, x)

	t := make([]complex128, nl)
	iPow := [4]complex128{1, 1i, -1, -1i}
	for l := range nl {
		v := math.Sqrt(float64(2*l+1)) * j[l]
		// j_l(-x) = (-1)^l j_l(x).
		if sign < 0 && l%2 == 1 {
			v = -v
		}
		if n%2 != 0 {
			v = -v
		}
		t[l] = complex(v, 0) * iPow[(l+1)%4]
	}
	return t
}
