// Package locgen draws random trip endpoints, either anywhere in a fixed box
// or inside a named zone subject to constraint checkers.
package locgen

import (
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
)

var (
	ErrUnknownZone    = errors.New("unknown zone")
	ErrCouldNotSample = errors.New("could not sample a valid location")
	ErrNoCurrentZone  = errors.New("no current zone")
)

// Generator produces points inside zones. UpdateZone positions the
// generator so that repeated GenLocWithinCurrZone calls skip the zone
// lookup and per-zone checker setup.
type Generator interface {
	Initialise() error
	UpdateZone(name string) error
	GenLocWithinZone(name string) (orb.Point, error)
	GenLocWithinCurrZone() (orb.Point, error)
	Cleanup()
}

// VolumeHinter is implemented by generators whose checkers pick a strategy
// from the number of draws expected in the next zone.
type VolumeHinter interface {
	SetExpectedVolume(n int)
}

// NewRand returns the generator-local source used throughout the package.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func uniformIn(r *rand.Rand, b orb.Bound) orb.Point {
	return orb.Point{
		b.Min.X() + r.Float64()*(b.Max.X()-b.Min.X()),
		b.Min.Y() + r.Float64()*(b.Max.Y()-b.Min.Y()),
	}
}

// BBoxGenerator ignores zones and draws uniformly inside a fixed bound.
type BBoxGenerator struct {
	seed  uint64
	bound orb.Bound
	rng   *rand.Rand
}

func NewBBoxGenerator(seed uint64, bound orb.Bound) *BBoxGenerator {
	return &BBoxGenerator{seed: seed, bound: bound, rng: NewRand(seed)}
}

func (g *BBoxGenerator) Initialise() error {
	if g.bound.IsEmpty() {
		return errors.New("bbox generator: empty bound")
	}
	g.rng = NewRand(g.seed)
	return nil
}

func (g *BBoxGenerator) UpdateZone(string) error { return nil }

func (g *BBoxGenerator) GenLocWithinZone(string) (orb.Point, error) {
	return uniformIn(g.rng, g.bound), nil
}

func (g *BBoxGenerator) GenLocWithinCurrZone() (orb.Point, error) {
	return uniformIn(g.rng, g.bound), nil
}

func (g *BBoxGenerator) Cleanup() {}
