package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"tripgen/internal/config"
	"tripgen/internal/geo"
	"tripgen/internal/ingestor"
	"tripgen/pkg/tripio"
)

func runGenerate(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := newFlagSet("generate")
	scenarioPath := fs.StringP("scenario", "s", cfg.ScenarioPath, "scenario YAML file")
	out := fs.StringP("out", "o", "trips.shp", "output trip shapefile")
	seed := fs.Uint64("seed", 0, "random seed, overrides the scenario")
	trips := fs.IntP("n-trips", "n", 0, "trip budget, overrides the scenario")
	mode := fs.String("mode", "", "allocation mode (exact or rounded), overrides the scenario")
	date := fs.String("date", "", "departure date as 2006-01-02, overrides the scenario")
	fs.Parse(args)

	s, err := loadScenario(*scenarioPath)
	if err != nil {
		return err
	}
	opts, err := runOverrides(fs, *seed, *trips, *mode, *date)
	if err != nil {
		return err
	}
	opts.Logger = logger

	refs, err := ingestor.LoadReferences(ctx, s, cfg.GTFSCacheDir, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	gen, plan, err := refs.NewGenerator(opts)
	if err != nil {
		return err
	}
	if err := gen.Initialise(); err != nil {
		return errors.Wrap(err, "initialise generator")
	}
	defer gen.Cleanup()

	n, err := tripio.WriteAll(*out, geo.CRS(s.RouterCRS), geo.CRS(s.OutputCRS), gen.All())
	if err != nil {
		return errors.Wrapf(err, "write %s after %d trips", *out, n)
	}

	logger.Info("trips generated",
		"scenario", s.Name,
		"seed", plan.Seed,
		"budget", plan.Trips,
		"written", n,
		"out", *out,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
