// Package gf holds Green's function containers on Matsubara, imaginary time, real frequency and Legendre meshes.
package gf

import (
	"fmt"
	"math"
)

type Statistic int

const (
	Fermion Statistic = iota
	Boson
)

func (s Statistic) String() string {
	switch s {
	case Fermion:
		return "Fermion"
	case Boson:
		return "Boson"
	default:
		return fmt.Sprintf("Statistic(%d)", int(s))
	}
}

type MeshKind string

const (
	ImFreq   MeshKind = "imfreq"
	ImTime   MeshKind = "imtime"
	ReFreq   MeshKind = "refreq"
	Legendre MeshKind = "legendre"
)

// Mesh is a one dimensional mesh.
// For ImFreq, N is the number of non-negative frequencies: the fermionic mesh has Matsubara indices -N..N-1 and the bosonic mesh -(N-1)..N-1.
// For ImTime and ReFreq, N is the number of points including both end points.
// For Legendre, N is the number of coefficients.
type Mesh struct {
	Kind      MeshKind  `json:"kind"`
	Beta      float64   `json:"beta,omitempty"`
	Statistic Statistic `json:"statistic"`
	N         int       `json:"n"`
	Min       float64   `json:"min,omitempty"`
	Max       float64   `json:"max,omitempty"`
}

func NewImFreq(beta float64, s Statistic, n int) Mesh {
	return Mesh{Kind: ImFreq, Beta: beta, Statistic: s, N: n}
}

func NewImTime(beta float64, s Statistic, n int) Mesh {
	return Mesh{Kind: ImTime, Beta: beta, Statistic: s, N: n}
}

func NewReFreq(min, max float64, n int) Mesh {
	return Mesh{Kind: ReFreq, Statistic: Fermion, N: n, Min: min, Max: max}
}

func NewLegendre(beta float64, s Statistic, n int) Mesh {
	return Mesh{Kind: Legendre, Beta: beta, Statistic: s, N: n}
}

func (m Mesh) Len() int {
	if m.Kind == ImFreq && m.Statistic == Boson {
		return 2*m.N - 1
	}
	if m.Kind == ImFreq {
		return 2 * m.N
	}
	return m.N
}

// Index returns the Matsubara index of the i-th point of an ImFreq mesh, and i otherwise.
func (m Mesh) Index(i int) int {
	if m.Kind != ImFreq {
		return i
	}
	if m.Statistic == Boson {
		return i - (m.N - 1)
	}
	return i - m.N
}

// Point returns the i-th mesh point: iν_n for ImFreq, τ for ImTime, ω for ReFreq, and l for Legendre.
func (m Mesh) Point(i int) complex128 {
	switch m.Kind {
	case ImFreq:
		return complex(0, Matsubara(m.Beta, m.Statistic, m.Index(i)))
	case ImTime:
		if m.N == 1 {
			return 0
		}
		return complex(float64(i)*m.Beta/float64(m.N-1), 0)
	case ReFreq:
		if m.N == 1 {
			return complex(m.Min, 0)
		}
		return complex(m.Min+float64(i)*(m.Max-m.Min)/float64(m.N-1), 0)
	default:
		return complex(float64(i), 0)
	}
}

// Matsubara returns (2n+1)π/β for fermions and 2nπ/β for bosons.
func Matsubara(beta float64, s Statistic, n int) float64 {
	if s == Boson {
		return float64(2*n) * math.Pi / beta
	}
	return float64(2*n+1) * math.Pi / beta
}
