package locgen

import (
	"log/slog"
	"math/rand/v2"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	"tripgen/internal/constraint"
	"tripgen/internal/geo"
)

// DefaultMaxAttempts caps rejection sampling per point.
const DefaultMaxAttempts = 10000

// ZoneLookup resolves zone names to polygons in a single CRS.
type ZoneLookup interface {
	Zone(name string) (orb.Geometry, bool)
	CRS() geo.CRS
}

// ZoneGenerator draws points inside zone polygons by rejection sampling
// from the zone's bound. A candidate is kept only if the polygon contains
// it and every checker accepts it. Points are returned in the target CRS.
type ZoneGenerator struct {
	seed        uint64
	rng         *rand.Rand
	zones       ZoneLookup
	checkers    []constraint.Checker
	maxAttempts int
	target      geo.CRS
	toTarget    geo.Transformer
	logger      *slog.Logger

	volume  int
	current string
	geom    orb.Geometry
	bound   orb.Bound

	stats Stats
}

// Stats counts sampling outcomes since Initialise.
type Stats struct {
	Accepted        int `json:"accepted"`
	RejectedOutside int `json:"rejectedOutside"`
	RejectedChecker int `json:"rejectedChecker"`
	ZoneUpdates     int `json:"zoneUpdates"`
}

type ZoneOption func(*ZoneGenerator)

// WithMaxAttempts sets the sampling cap. Zero removes it, which can loop
// forever when the checkers exclude the whole zone.
func WithMaxAttempts(n int) ZoneOption {
	return func(g *ZoneGenerator) { g.maxAttempts = n }
}

// WithTargetCRS sets the CRS returned points are expressed in. It defaults
// to the zones' own CRS.
func WithTargetCRS(crs geo.CRS) ZoneOption {
	return func(g *ZoneGenerator) { g.target = crs }
}

func WithLogger(l *slog.Logger) ZoneOption {
	return func(g *ZoneGenerator) { g.logger = l }
}

func NewZoneGenerator(seed uint64, zones ZoneLookup, checkers []constraint.Checker, opts ...ZoneOption) *ZoneGenerator {
	g := &ZoneGenerator{
		seed:        seed,
		rng:         NewRand(seed),
		zones:       zones,
		checkers:    checkers,
		maxAttempts: DefaultMaxAttempts,
		target:      zones.CRS(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	g.logger = g.logger.With("component", "zone_loc_generator", "seed", seed)
	return g
}

func (g *ZoneGenerator) Initialise() error {
	if g.maxAttempts < 0 {
		return errors.Newf("max attempts must be non-negative, got %d", g.maxAttempts)
	}
	tf, err := geo.NewTransformer(g.zones.CRS(), g.target)
	if err != nil {
		return errors.Wrap(err, "zone generator")
	}
	g.toTarget = tf

	for _, c := range g.checkers {
		if err := c.Initialise(g.zones.CRS()); err != nil {
			return errors.Wrap(err, "initialise checker")
		}
	}
	g.rng = NewRand(g.seed)
	g.stats = Stats{}
	g.current = ""
	g.geom = nil
	return nil
}

// SetExpectedVolume tells checkers how many draws the next zone will see.
func (g *ZoneGenerator) SetExpectedVolume(n int) {
	g.volume = n
}

// UpdateZone positions the generator at the named zone and scopes every
// checker to it.
func (g *ZoneGenerator) UpdateZone(name string) error {
	geom, ok := g.zones.Zone(name)
	if !ok {
		return errors.Wrapf(ErrUnknownZone, "%q", name)
	}
	for _, c := range g.checkers {
		if err := c.UpdateRegion(name, geom, g.volume); err != nil {
			return errors.Wrapf(err, "update checker region %q", name)
		}
	}
	g.current = name
	g.geom = geom
	g.bound = geom.Bound()
	g.stats.ZoneUpdates++
	return nil
}

func (g *ZoneGenerator) GenLocWithinZone(name string) (orb.Point, error) {
	if name != g.current || g.geom == nil {
		if err := g.UpdateZone(name); err != nil {
			return orb.Point{}, err
		}
	}
	return g.GenLocWithinCurrZone()
}

func (g *ZoneGenerator) GenLocWithinCurrZone() (orb.Point, error) {
	if g.geom == nil {
		return orb.Point{}, ErrNoCurrentZone
	}

	for attempt := 1; g.maxAttempts == 0 || attempt <= g.maxAttempts; attempt++ {
		p := uniformIn(g.rng, g.bound)
		if !geo.Contains(g.geom, p) {
			g.stats.RejectedOutside++
			continue
		}
		if !g.accepted(p) {
			g.stats.RejectedChecker++
			continue
		}
		g.stats.Accepted++
		return g.toTarget.Point(p), nil
	}

	g.logger.Warn("rejection sampling gave up",
		"zone", g.current,
		"max_attempts", g.maxAttempts,
	)
	return orb.Point{}, errors.WithHint(
		errors.Wrapf(ErrCouldNotSample, "zone %q after %d attempts", g.current, g.maxAttempts),
		"check that the constraint layers overlap the zone",
	)
}

func (g *ZoneGenerator) accepted(p orb.Point) bool {
	for _, c := range g.checkers {
		if !c.IsValid(p) {
			return false
		}
	}
	return true
}

func (g *ZoneGenerator) Stats() Stats {
	return g.stats
}

func (g *ZoneGenerator) Cleanup() {
	for _, c := range g.checkers {
		c.Cleanup()
	}
	g.current = ""
	g.geom = nil
}
