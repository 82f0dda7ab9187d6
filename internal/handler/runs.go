package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"tripgen/internal/alloc"
	"tripgen/internal/domain"
	"tripgen/internal/hub"
	"tripgen/internal/ingestor"
	"tripgen/internal/store"
)

var (
	errNotReady   = errors.New("reference data not loaded")
	errBadRequest = errors.New("bad request")
)

type ReferenceSource interface {
	References() *ingestor.References
}

// RunCache persists runs beyond the in-memory store.
type RunCache interface {
	SaveRun(ctx context.Context, run *domain.Run) error
	LoadRun(ctx context.Context, id string) (*domain.Run, bool, error)
}

// RunRequest overrides scenario values for one run.
type RunRequest struct {
	Seed  *uint64 `json:"seed,omitempty"`
	Trips *int    `json:"n_trips,omitempty"`
	Mode  *string `json:"mode,omitempty"`
	Date  *string `json:"date,omitempty"`
}

func (req RunRequest) options(maxTrips int) (ingestor.RunOptions, error) {
	opts := ingestor.RunOptions{Seed: req.Seed, Trips: req.Trips}
	if req.Trips != nil && (*req.Trips < 0 || *req.Trips > maxTrips) {
		return opts, errors.Mark(errors.Newf("n_trips must be between 0 and %d", maxTrips), errBadRequest)
	}
	if req.Mode != nil {
		m, err := alloc.ParseMode(*req.Mode)
		if err != nil {
			return opts, errors.Mark(err, errBadRequest)
		}
		opts.Mode = &m
	}
	if req.Date != nil {
		d, err := time.Parse("2006-01-02", *req.Date)
		if err != nil {
			return opts, errors.Mark(errors.Wrap(err, "date"), errBadRequest)
		}
		opts.Date = &d
	}
	return opts, nil
}

// RunService generates runs on demand and finds stored ones.
type RunService struct {
	refs     ReferenceSource
	store    *store.Store
	cache    RunCache
	events   *hub.Hub
	maxTrips int
	logger   *slog.Logger
}

// NewRunService wires generation to the store; cache may be nil.
func NewRunService(refs ReferenceSource, s *store.Store, cache RunCache, maxTrips int, logger *slog.Logger) *RunService {
	return &RunService{
		refs:     refs,
		store:    s,
		cache:    cache,
		maxTrips: maxTrips,
		logger:   logger.With("component", "run_service"),
	}
}

// PublishTo announces every finished run on h.
func (s *RunService) PublishTo(h *hub.Hub) {
	s.events = h
}

// Generate runs one generation to completion and stores it. onTrip, when
// set, sees every trip as it is produced; an error from it aborts the run.
func (s *RunService) Generate(ctx context.Context, req RunRequest, onTrip func(domain.Trip) error) (*domain.Run, error) {
	refs := s.refs.References()
	if refs == nil {
		return nil, errNotReady
	}
	opts, err := req.options(s.maxTrips)
	if err != nil {
		return nil, err
	}
	if opts.Trips == nil && refs.Scenario.Trips > s.maxTrips {
		return nil, errors.Mark(errors.Newf("scenario asks for %d trips, limit is %d", refs.Scenario.Trips, s.maxTrips), errBadRequest)
	}
	opts.Logger = s.logger

	start := time.Now()
	gen, plan, err := refs.NewGenerator(opts)
	if err != nil {
		return nil, err
	}
	if err := gen.Initialise(); err != nil {
		return nil, errors.Wrap(err, "initialise generator")
	}
	defer gen.Cleanup()

	run := &domain.Run{RunSummary: domain.RunSummary{
		ID:        uuid.New().String(),
		Scenario:  refs.Scenario.Name,
		CreatedAt: start,
		Seed:      plan.Seed,
		Budget:    plan.Trips,
		Mode:      plan.Mode.String(),
	}}
	for _, q := range gen.Quotas() {
		if q.Trips > 0 {
			run.Pairs++
		}
	}

	for trip, err := range gen.All() {
		if err != nil {
			return nil, errors.Wrapf(err, "run %s", run.ID)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if onTrip != nil {
			if err := onTrip(trip); err != nil {
				return nil, err
			}
		}
		run.Trips = append(run.Trips, trip)
	}
	run.Generated = len(run.Trips)
	run.DurationMs = time.Since(start).Milliseconds()

	s.store.Put(run)
	ServerStats.IncRuns(run.Generated)
	if s.cache != nil {
		if err := s.cache.SaveRun(ctx, run); err != nil {
			s.logger.Warn("failed to cache run", "run", run.ID, "error", err)
		}
	}

	if s.events != nil {
		s.events.Broadcast(hub.Event{Type: "run", Scenario: run.Scenario, Payload: run.RunSummary})
	}

	s.logger.Info("run generated",
		"run", run.ID,
		"seed", run.Seed,
		"trips", run.Generated,
		"duration_ms", run.DurationMs,
	)
	return run, nil
}

// Lookup finds a run in memory, falling back to the cache.
func (s *RunService) Lookup(ctx context.Context, id string) (domain.RunSummary, bool) {
	if summary, ok := s.store.Get(id); ok {
		return summary, true
	}
	if s.cache == nil {
		return domain.RunSummary{}, false
	}
	run, found, err := s.cache.LoadRun(ctx, id)
	if err != nil {
		s.logger.Warn("cache lookup failed", "run", id, "error", err)
	}
	if !found {
		ServerStats.IncCacheMisses()
		return domain.RunSummary{}, false
	}
	ServerStats.IncCacheHits()
	s.store.Put(run)
	return run.RunSummary, true
}
