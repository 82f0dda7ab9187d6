package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"tripgen/internal/config"
	"tripgen/internal/domain"
	"tripgen/internal/geo"
	"tripgen/internal/ingestor"
	"tripgen/internal/store"
	"tripgen/pkg/otp"
	"tripgen/pkg/tripio"
)

func runRoute(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := newFlagSet("route")
	tripsPath := fs.StringP("trips", "t", "", "trip shapefile to route")
	routerURL := fs.StringP("router", "r", cfg.RouterURL, "trip planner base URL")
	routerID := fs.String("router-id", cfg.RouterID, "planner router ID")
	params := fs.StringToString("param", nil, "extra planner query parameter as key=value, repeatable")
	date := fs.String("date", "", "departure date as 2006-01-02 for trips without one")
	out := fs.StringP("out", "o", "results.json", "output results file")
	workers := fs.IntP("workers", "w", cfg.RouteWorkers, "concurrent planner requests")
	progress := fs.Float64("progress", otp.DefaultProgressEvery, "log progress every this many percent")
	minDistance := fs.Float64("min-distance", 0, "skip trips whose endpoints are closer than this many km")
	maxWalk := fs.Float64("max-walk", 0, "report routed trips with a walk leg longer than this many metres")
	scenarioPath := fs.String("scenario", "", "scenario whose zones the trip labels are checked against before routing")
	fs.Parse(args)

	if *tripsPath == "" {
		return errors.New("--trips is required")
	}
	if *workers < 1 {
		return errors.Newf("--workers must be at least 1, got %d", *workers)
	}

	trips, err := tripio.Read(*tripsPath, geo.WGS84)
	if err != nil {
		return err
	}
	if *scenarioPath != "" {
		if err := verifyZones(*scenarioPath, trips, logger); err != nil {
			return err
		}
	}
	if *minDistance > 0 {
		before := len(trips)
		trips = otp.MinDistance(trips, *minDistance)
		logger.Info("filtered short trips", "min_km", *minDistance, "kept", len(trips), "dropped", before-len(trips))
	}

	client := otp.New(*routerURL, otp.WithRouterID(*routerID), otp.WithParams(*params))
	opts := []otp.RunnerOption{
		otp.WithWorkers(*workers),
		otp.WithProgressEvery(*progress),
		otp.WithRunnerLogger(logger),
	}
	if *date != "" {
		d, err := time.Parse("2006-01-02", *date)
		if err != nil {
			return errors.Wrap(err, "--date")
		}
		opts = append(opts, otp.WithDate(d))
	}

	start := time.Now()
	results, err := otp.NewRunner(client, opts...).Run(ctx, trips)
	if err != nil {
		return err
	}
	if err := store.WriteResults(*out, results); err != nil {
		return err
	}

	ok := len(otp.WithItinerary(trips, results))
	logger.Info("trips routed",
		"trips", len(trips),
		"with_itinerary", ok,
		"failed", len(trips)-ok,
		"out", *out,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if *maxWalk > 0 {
		long := otp.LongestWalkOver(results, *maxWalk)
		logger.Info("trips with long walk legs", "max_walk_m", *maxWalk, "count", len(long))
	}
	return nil
}

// maxMismatchLogs caps the per-trip warnings verifyZones emits.
const maxMismatchLogs = 10

// verifyZones reports trips whose endpoints lie outside their labelled zones.
// Mismatches are logged, not fatal.
func verifyZones(path string, trips []domain.Trip, logger *slog.Logger) error {
	s, err := config.LoadScenario(path)
	if err != nil {
		return err
	}
	zs, err := ingestor.LoadZones(s)
	if err != nil {
		return err
	}
	mismatches, err := zs.Verify(trips, geo.WGS84)
	if err != nil {
		return err
	}
	for _, m := range mismatches[:min(len(mismatches), maxMismatchLogs)] {
		logger.Warn("trip endpoint outside its labelled zone",
			"trip", m.TripID, "end", m.End, "label", m.Label, "found", m.Found)
	}
	logger.Info("zone labels checked", "trips", len(trips), "mismatched", len(mismatches), "indexed", s.Zones.Grid != nil)
	return nil
}
