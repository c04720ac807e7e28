// Package pomerol2triqs computes the Green's functions of a two-band Kanamori atom by exact diagonalization.
package pomerol2triqs

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/henhans/pomerol2triqs/archive"
	"github.com/henhans/pomerol2triqs/exactdiag"
	"github.com/henhans/pomerol2triqs/gf"
	"github.com/henhans/pomerol2triqs/operators"
)

const (
	KeyGIw  = "G_iw"
	KeyGTau = "G_tau"
	KeyGW   = "G_w"
)

// Site is the solver site of every orbital.
const Site = "loc"

// G2Key returns the archive key of a two-particle Green's function, for example G2_iw_inu_inup_ph_AABB.
func G2Key(legendre bool, ch gf.Channel, order gf.BlockOrder) string {
	mesh := "inu_inup"
	if legendre {
		mesh = "l_lp"
	}
	return fmt.Sprintf("G2_iw_%s_%s_%s", mesh, strings.ToLower(string(ch)), order)
}

// ResultKeys returns every key a Results can hold, in the order of Results.Keys.
func ResultKeys() []string {
	keys := []string{KeyGIw, KeyGTau, KeyGW}
	for _, legendre := range []bool{false, true} {
		for _, ch := range []gf.Channel{gf.PH, gf.PP} {
			for _, order := range []gf.BlockOrder{gf.AABB, gf.ABBA} {
				keys = append(keys, G2Key(legendre, ch, order))
			}
		}
	}
	return keys
}

type Params struct {
	Beta      float64  `yaml:"beta"`
	NumOrb    int      `yaml:"num_orb"`
	Mu        float64  `yaml:"mu"`
	U         float64  `yaml:"U"`
	J         float64  `yaml:"J"`
	SpinNames []string `yaml:"spin_names"`

	NIw  int `yaml:"n_iw"`
	NTau int `yaml:"n_tau"`
	// EnergyWindow is the closed real frequency interval [min, max] of G_w.
	EnergyWindow []float64 `yaml:"energy_window"`
	NW           int       `yaml:"n_w"`
	Eta          float64   `yaml:"eta"`

	G2NIw  int `yaml:"g2_n_iw"`
	G2NInu int `yaml:"g2_n_inu"`
	G2NL   int `yaml:"g2_n_l"`
	// G2Blocks lists the (A, B) block pairs of every two-particle Green's function.
	G2Blocks [][]string `yaml:"g2_blocks"`
	// G2NInuSum is the number of non-negative fermionic frequencies summed over in the Legendre transform.
	G2NInuSum int `yaml:"g2_n_inu_sum"`
	// G2Channels and G2BlockOrders select which two-particle Green's functions are computed.
	G2Channels    []string `yaml:"g2_channels"`
	G2BlockOrders []string `yaml:"g2_block_orders"`

	Verbose bool `yaml:"verbose"`
}

func DefaultParams() Params {
	return Params{
		Beta:      10,
		NumOrb:    2,
		Mu:        1.5,
		U:         2,
		J:         0.2,
		SpinNames: []string{"up", "dn"},

		NIw:          1024,
		NTau:         10001,
		EnergyWindow: []float64{-5, 5},
		NW:           1000,
		Eta:          0.01,

		G2NIw:     5,
		G2NInu:    10,
		G2NL:      10,
		G2Blocks:  [][]string{{"up", "up"}, {"up", "dn"}, {"dn", "up"}},
		G2NInuSum: 500,

		G2Channels:    []string{string(gf.PH), string(gf.PP)},
		G2BlockOrders: []string{string(gf.AABB), string(gf.ABBA)},

		Verbose: true,
	}
}

// LoadParams reads parameters from a yaml file on top of DefaultParams.
// A missing file yields the defaults.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return Params{}, errors.Wrap(err, "")
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Params{}, errors.Wrap(err, path)
	}
	if err := p.Validate(); err != nil {
		return Params{}, errors.Wrap(err, path)
	}
	return p, nil
}

func (p Params) Validate() error {
	if !(p.Beta > 0) {
		return errors.Errorf("beta %f", p.Beta)
	}
	if p.NumOrb < 1 {
		return errors.Errorf("num_orb %d", p.NumOrb)
	}
	if len(p.SpinNames) != 2 || p.SpinNames[0] == p.SpinNames[1] {
		return errors.Errorf("spin names %#v", p.SpinNames)
	}
	if len(p.EnergyWindow) != 2 || p.EnergyWindow[0] > p.EnergyWindow[1] {
		return errors.Errorf("energy window %#v", p.EnergyWindow)
	}
	if p.Eta < 0 {
		return errors.Errorf("eta %f", p.Eta)
	}
	for _, n := range []int{p.NIw, p.NW, p.G2NIw, p.G2NInu, p.G2NL, p.G2NInuSum} {
		if n < 1 {
			return errors.Errorf("mesh size %d %#v", n, p)
		}
	}
	if p.NTau < 2 {
		return errors.Errorf("n_tau %d", p.NTau)
	}
	if len(p.G2Blocks) == 0 {
		return errors.Errorf("no g2 blocks")
	}
	for _, b := range p.G2Blocks {
		if len(b) != 2 || !slices.Contains(p.SpinNames, b[0]) || !slices.Contains(p.SpinNames, b[1]) {
			return errors.Errorf("g2 block %#v", b)
		}
	}
	if _, _, err := p.g2Kinds(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// g2Kinds parses G2Channels and G2BlockOrders.
func (p Params) g2Kinds() ([]gf.Channel, []gf.BlockOrder, error) {
	if len(p.G2Channels) == 0 || len(p.G2BlockOrders) == 0 {
		return nil, nil, errors.Errorf("no g2 channels %#v or block orders %#v", p.G2Channels, p.G2BlockOrders)
	}
	chs := make([]gf.Channel, 0, len(p.G2Channels))
	for _, s := range p.G2Channels {
		ch, err := gf.ParseChannel(s)
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		if slices.Contains(chs, ch) {
			return nil, nil, errors.Errorf("duplicate channel %#v", s)
		}
		chs = append(chs, ch)
	}
	orders := make([]gf.BlockOrder, 0, len(p.G2BlockOrders))
	for _, s := range p.G2BlockOrders {
		o, err := gf.ParseBlockOrder(s)
		if err != nil {
			return nil, nil, errors.Wrap(err, "")
		}
		if slices.Contains(orders, o) {
			return nil, nil, errors.Errorf("duplicate block order %#v", s)
		}
		orders = append(orders, o)
	}
	return chs, orders, nil
}

func (p Params) g2Blocks() [][2]string {
	blocks := make([][2]string, 0, len(p.G2Blocks))
	for _, b := range p.G2Blocks {
		blocks = append(blocks, [2]string{b[0], b[1]})
	}
	return blocks
}

func OrbitalNames(numOrb int) []int {
	orbs := make([]int, 0, numOrb)
	for o := range numOrb {
		orbs = append(orbs, o)
	}
	return orbs
}

// IndexConverter maps (sn, o) to ("loc", o, down) for sn == "dn", and to ("loc", o, up) otherwise.
func IndexConverter(spinNames []string, orbNames []int) (exactdiag.IndexConverter, error) {
	mkind := operators.GetMkind(true)
	conv := make(exactdiag.IndexConverter)
	for _, sn := range spinNames {
		name := "up"
		if sn == "dn" {
			name = "down"
		}
		spin, err := exactdiag.ParseSpin(name)
		if err != nil {
			return nil, errors.Wrap(err, sn)
		}
		for _, o := range orbNames {
			conv[mkind(sn, o)] = exactdiag.SolverIndex{Site: Site, Orbital: o, Spin: spin}
		}
	}
	return conv, nil
}

// ParticleNumber returns the total particle number operator.
func ParticleNumber(spinNames []string, orbNames []int) operators.Expression {
	mkind := operators.GetMkind(true)
	var n operators.Expression
	for _, sn := range spinNames {
		for _, o := range orbNames {
			idx := mkind(sn, o)
			n = n.Add(operators.N(idx.Block, idx.Inner))
		}
	}
	return n
}

// KanamoriMatrices returns the same-spin interaction, U-3J off the diagonal and 0 on it,
// and the opposite-spin interaction, U-2J off the diagonal and U on it.
func KanamoriMatrices(numOrb int, u, j float64) (*mat.Dense, *mat.Dense) {
	uSame := mat.NewDense(numOrb, numOrb, nil)
	uOpp := mat.NewDense(numOrb, numOrb, nil)
	for a := range numOrb {
		for b := range numOrb {
			if a == b {
				uOpp.Set(a, b, u)
				continue
			}
			uSame.Set(a, b, u-3*j)
			uOpp.Set(a, b, u-2*j)
		}
	}
	return uSame, uOpp
}

// Hamiltonian returns H_Kanamori - mu N.
func Hamiltonian(p Params) (operators.Expression, error) {
	orbs := OrbitalNames(p.NumOrb)
	uSame, uOpp := KanamoriMatrices(p.NumOrb, p.U, p.J)
	h, err := operators.HIntKanamori(p.SpinNames, orbs, uSame, uOpp, p.J, true)
	if err != nil {
		return operators.Expression{}, errors.Wrap(err, "")
	}
	return h.Sub(ParticleNumber(p.SpinNames, orbs).Scale(p.Mu)), nil
}

// Results holds the Green's functions of a run, keyed by ResultKeys.
type Results struct {
	Eigenvalues  []float64
	GroundEnergy float64
	// Density is the thermal average of the particle number.
	Density float64

	entries map[string]any
}

func (r *Results) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for _, k := range ResultKeys() {
		if _, ok := r.entries[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func (r *Results) Get(key string) (any, bool) {
	v, ok := r.entries[key]
	return v, ok
}

// Save writes every result to a new archive at path.
func (r *Results) Save(ctx context.Context, path string) error {
	ar, err := archive.Create(ctx, path)
	if err != nil {
		return errors.Wrap(err, "")
	}
	for _, k := range r.Keys() {
		if err := ar.Set(ctx, k, r.entries[k]); err != nil {
			ar.Close()
			return errors.Wrap(err, k)
		}
	}
	if err := ar.Close(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Compute diagonalizes the Hamiltonian of p and evaluates all Green's functions.
func Compute(ctx context.Context, p Params) (*Results, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	orbs := OrbitalNames(p.NumOrb)
	gfStruct := operators.SetOperatorStructure(p.SpinNames, orbs, true)

	chs, orders, err := p.g2Kinds()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	conv, err := IndexConverter(p.SpinNames, orbs)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ed, err := exactdiag.NewED(conv)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	ed.Verbose = p.Verbose
	targets := ed.SolverIndices()
	for i, label := range ed.Modes() {
		logf(p.Verbose, "mode %d: %s -> %s %d %s", i, label, targets[i].Site, targets[i].Orbital, targets[i].Spin)
	}
	h, err := Hamiltonian(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := ed.Diagonalize(ctx, h); err != nil {
		return nil, errors.Wrap(err, "")
	}

	r := &Results{Eigenvalues: ed.Eigenvalues(), GroundEnergy: ed.GroundEnergy(), entries: make(map[string]any)}
	r.Density, err = ed.EnsembleAverage(ParticleNumber(p.SpinNames, orbs), p.Beta)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if math.IsNaN(r.Density) {
		return nil, errors.Errorf("density is NaN")
	}

	if r.entries[KeyGIw], err = ed.GIw(gfStruct, p.Beta, p.NIw); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if r.entries[KeyGTau], err = ed.GTau(gfStruct, p.Beta, p.NTau); err != nil {
		return nil, errors.Wrap(err, "")
	}
	window := [2]float64{p.EnergyWindow[0], p.EnergyWindow[1]}
	if r.entries[KeyGW], err = ed.GW(gfStruct, p.Beta, window, p.NW, p.Eta); err != nil {
		return nil, errors.Wrap(err, "")
	}
	logf(p.Verbose, "single particle Green's functions done")

	for _, legendre := range []bool{false, true} {
		for _, ch := range chs {
			for _, order := range orders {
				g2p := exactdiag.G2Params{
					GfStruct:   gfStruct,
					Beta:       p.Beta,
					Channel:    ch,
					BlockOrder: order,
					Blocks:     p.g2Blocks(),
					NIw:        p.G2NIw,
					NInu:       p.G2NInu,
					NL:         p.G2NL,
					NInuSum:    p.G2NInuSum,
				}
				key := G2Key(legendre, ch, order)
				var g2 *gf.G2
				if legendre {
					g2, err = ed.G2IwLLp(ctx, g2p)
				} else {
					g2, err = ed.G2IwInuInup(ctx, g2p)
				}
				if err != nil {
					return nil, errors.Wrap(err, key)
				}
				r.entries[key] = g2
				logf(p.Verbose, "%s done", key)
			}
		}
	}
	return r, nil
}

func logf(verbose bool, format string, args ...any) {
	if !verbose {
		return
	}
	log.Printf(format, args...)
}
