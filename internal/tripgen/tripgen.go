// Package tripgen turns an OD count table and a trip budget into a lazy
// sequence of trips, walking the OD pairs in sorted order.
package tripgen

import (
	"iter"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"tripgen/internal/alloc"
	"tripgen/internal/domain"
	"tripgen/internal/locgen"
	"tripgen/internal/timegen"
)

var ErrNotInitialised = errors.New("trip generator used before Initialise")

type Config struct {
	Time   timegen.Generator
	Origin locgen.Generator
	Dest   locgen.Generator
	Counts domain.ODCounts
	NTrips int
	Mode   alloc.Mode
	// Date, when set, puts every departure on that calendar day.
	Date   *time.Time
	Logger *slog.Logger
}

type state int

const (
	uninitialised state = iota
	positioned
	exhausted
	failed
)

// Quota is the number of trips assigned to one OD pair.
type Quota struct {
	Pair  domain.ODPair `json:"pair"`
	Trips int           `json:"trips"`
}

type Generator struct {
	cfg    Config
	logger *slog.Logger

	state  state
	err    error
	quotas []Quota
	pair   int
	inPair int
	next   int
}

func New(cfg Config) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{
		cfg:    cfg,
		logger: logger.With("component", "trip_generator"),
	}
}

// Initialise computes the quota table, initialises the sub-generators and
// positions at the first pair that has trips to generate.
func (g *Generator) Initialise() error {
	start := time.Now()
	if g.cfg.Origin == nil || g.cfg.Dest == nil || g.cfg.Time == nil {
		return errors.New("trip generator needs origin, destination and time generators")
	}
	if g.cfg.NTrips < 0 {
		return errors.Newf("trip budget must be non-negative, got %d", g.cfg.NTrips)
	}
	if err := g.cfg.Counts.Validate(); err != nil {
		return errors.Wrap(err, "od counts")
	}

	pairs := g.cfg.Counts.SortedPairs()
	weights := make([]float64, len(pairs))
	for i, p := range pairs {
		weights[i] = float64(g.cfg.Counts[p])
	}
	trips, err := alloc.Allocate(g.cfg.Mode, weights, g.cfg.NTrips)
	if err != nil {
		return errors.Wrapf(err, "allocate %d trips over %d pairs", g.cfg.NTrips, len(pairs))
	}
	g.quotas = make([]Quota, len(pairs))
	for i, p := range pairs {
		g.quotas[i] = Quota{Pair: p, Trips: trips[i]}
	}

	if err := g.cfg.Origin.Initialise(); err != nil {
		return errors.Wrap(err, "origin generator")
	}
	if err := g.cfg.Dest.Initialise(); err != nil {
		return errors.Wrap(err, "destination generator")
	}
	if err := g.cfg.Time.Initialise(); err != nil {
		return errors.Wrap(err, "time generator")
	}

	g.next = 0
	g.err = nil
	g.state = positioned
	if err := g.advance(0); err != nil {
		return err
	}

	g.logger.Info("trip generator initialised",
		"pairs", len(pairs),
		"budget", g.cfg.NTrips,
		"allocated", alloc.Sum(trips),
		"mode", g.cfg.Mode.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// advance positions at the first pair at or after i with a non-zero quota.
func (g *Generator) advance(i int) error {
	for ; i < len(g.quotas); i++ {
		if g.quotas[i].Trips > 0 {
			break
		}
	}
	g.pair = i
	g.inPair = 0
	if i == len(g.quotas) {
		g.state = exhausted
		return nil
	}

	q := g.quotas[i]
	for _, lg := range []locgen.Generator{g.cfg.Origin, g.cfg.Dest} {
		if h, ok := lg.(locgen.VolumeHinter); ok {
			h.SetExpectedVolume(q.Trips)
		}
	}
	if err := g.cfg.Origin.UpdateZone(q.Pair.Origin); err != nil {
		return g.fail(errors.Wrapf(err, "origin of %s", q.Pair))
	}
	if err := g.cfg.Dest.UpdateZone(q.Pair.Dest); err != nil {
		return g.fail(errors.Wrapf(err, "destination of %s", q.Pair))
	}
	if err := g.cfg.Time.UpdateZones(q.Pair, q.Trips); err != nil {
		return g.fail(errors.Wrapf(err, "departure times of %s", q.Pair))
	}

	g.logger.Debug("generating trips for pair", "origin", q.Pair.Origin, "dest", q.Pair.Dest, "trips", q.Trips)
	return nil
}

func (g *Generator) fail(err error) error {
	g.state = failed
	g.err = err
	return err
}

// Next returns the next trip. ok is false with a nil error once every
// quota has been generated.
func (g *Generator) Next() (domain.Trip, bool, error) {
	switch g.state {
	case uninitialised:
		return domain.Trip{}, false, ErrNotInitialised
	case failed:
		return domain.Trip{}, false, g.err
	case exhausted:
		return domain.Trip{}, false, nil
	}

	q := g.quotas[g.pair]
	origin, err := g.cfg.Origin.GenLocWithinCurrZone()
	if err != nil {
		return domain.Trip{}, false, g.fail(errors.Wrapf(err, "origin of %s", q.Pair))
	}
	dest, err := g.cfg.Dest.GenLocWithinCurrZone()
	if err != nil {
		return domain.Trip{}, false, g.fail(errors.Wrapf(err, "destination of %s", q.Pair))
	}
	tod, err := g.cfg.Time.GenTime()
	if err != nil {
		return domain.Trip{}, false, g.fail(errors.Wrapf(err, "departure time of %s", q.Pair))
	}

	dep, hasDate := tod.Clock(), false
	if g.cfg.Date != nil {
		dep, hasDate = tod.On(*g.cfg.Date), true
	}
	trip := domain.NewTrip(domain.SequentialID(g.next), origin, dest, dep, hasDate, q.Pair.Origin, q.Pair.Dest)
	g.next++
	g.inPair++

	if g.inPair >= q.Trips {
		// a failure positioning the next pair surfaces on the following call
		_ = g.advance(g.pair + 1)
	}
	return trip, true, nil
}

// All yields trips until the generator is exhausted or fails. A failure is
// yielded once as the final element.
func (g *Generator) All() iter.Seq2[domain.Trip, error] {
	return func(yield func(domain.Trip, error) bool) {
		for {
			trip, ok, err := g.Next()
			if err != nil {
				yield(domain.Trip{}, err)
				return
			}
			if !ok || !yield(trip, nil) {
				return
			}
		}
	}
}

// Quotas returns the per-pair trip table in generation order.
func (g *Generator) Quotas() []Quota {
	out := make([]Quota, len(g.quotas))
	copy(out, g.quotas)
	return out
}

// Generated is the number of trips produced since Initialise.
func (g *Generator) Generated() int {
	return g.next
}

func (g *Generator) Cleanup() {
	g.cfg.Origin.Cleanup()
	g.cfg.Dest.Cleanup()
	g.cfg.Time.Cleanup()
	g.state = uninitialised
	g.quotas = nil
}
