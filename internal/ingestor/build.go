package ingestor

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"tripgen/internal/alloc"
	"tripgen/internal/config"
	"tripgen/internal/constraint"
	"tripgen/internal/geo"
	"tripgen/internal/locgen"
	"tripgen/internal/timegen"
	"tripgen/internal/tripgen"
)

// RunOptions override scenario values for one generation run. Nil fields
// keep the scenario's value.
type RunOptions struct {
	Seed   *uint64
	Trips  *int
	Mode   *alloc.Mode
	Date   *time.Time
	Logger *slog.Logger
}

// Plan is the resolved configuration of one run.
type Plan struct {
	Seed  uint64
	Trips int
	Mode  alloc.Mode
	Date  *time.Time
}

func (r *References) Resolve(opts RunOptions) Plan {
	s := r.Scenario
	p := Plan{Seed: s.Seed, Trips: s.Trips, Mode: s.AllocMode(), Date: s.DepartureDate()}
	if opts.Seed != nil {
		p.Seed = *opts.Seed
	}
	if opts.Trips != nil {
		p.Trips = *opts.Trips
	}
	if opts.Mode != nil {
		p.Mode = *opts.Mode
	}
	if opts.Date != nil {
		p.Date = opts.Date
	}
	return p
}

// NewGenerator wires fresh checkers, location generators and a time
// generator over the shared references. The origin, destination and time
// streams are seeded seed, seed+1 and seed+2 so the same seed always
// reproduces the same trips. The caller initialises the generator.
func (r *References) NewGenerator(opts RunOptions) (*tripgen.Generator, Plan, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	plan := r.Resolve(opts)
	s := r.Scenario

	originCheckers, err := buildCheckers(r.Origin, logger)
	if err != nil {
		return nil, plan, errors.Wrap(err, "origin constraints")
	}
	destCheckers, err := buildCheckers(r.Dest, logger)
	if err != nil {
		return nil, plan, errors.Wrap(err, "destination constraints")
	}

	zoneOpts := []locgen.ZoneOption{
		locgen.WithMaxAttempts(*s.MaxAttempts),
		locgen.WithTargetCRS(geo.CRS(s.RouterCRS)),
		locgen.WithLogger(logger),
	}
	origin := locgen.NewZoneGenerator(plan.Seed, r.Zones, originCheckers, zoneOpts...)
	dest := locgen.NewZoneGenerator(plan.Seed+1, r.Zones, destCheckers, zoneOpts...)

	var tg timegen.Generator
	if s.Time.Mode == config.TimeUniform {
		start, end := s.TimeRange()
		tg = timegen.NewUniformGenerator(plan.Seed+2, start, end)
	} else {
		tg = timegen.NewBlockGenerator(plan.Seed+2, r.Table.Counts, logger)
	}

	gen := tripgen.New(tripgen.Config{
		Time:   tg,
		Origin: origin,
		Dest:   dest,
		Counts: r.Counts,
		NTrips: plan.Trips,
		Mode:   plan.Mode,
		Date:   plan.Date,
		Logger: logger,
	})
	return gen, plan, nil
}

func buildCheckers(checks []LayerCheck, logger *slog.Logger) ([]constraint.Checker, error) {
	out := make([]constraint.Checker, 0, len(checks))
	for _, lc := range checks {
		c := lc.Config
		switch c.Type {
		case config.ConstraintZoning:
			out = append(out, constraint.NewZoningChecker(lc.Layer, c.Allowed,
				constraint.WithZoneField(c.Field),
				constraint.WithZoningLogger(logger),
				constraint.WithZoningCacheSize(c.CacheSize),
			))
		case config.ConstraintProximity:
			opts := []constraint.ProximityOption{
				constraint.WithHighVolume(c.HighVolume),
				constraint.WithProximityLogger(logger),
				constraint.WithProximityCacheSize(c.CacheSize),
			}
			if c.Strict {
				opts = append(opts, constraint.WithStrict())
			}
			if g := c.Grid; g != nil {
				opts = append(opts, constraint.WithGridIndex(g.MaxLevels, g.CellsPerSide, g.TargetCount))
			}
			pc, err := constraint.NewProximityChecker(lc.Layer, c.Distance, opts...)
			if err != nil {
				return nil, err
			}
			out = append(out, pc)
		default:
			return nil, errors.Newf("unknown constraint type %q", c.Type)
		}
	}
	return out, nil
}
