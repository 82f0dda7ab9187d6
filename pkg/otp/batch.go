package otp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	"tripgen/internal/domain"
)

const DefaultProgressEvery = 5.0

var ErrNoDepartureDate = errors.New("trip has no departure date")

// Planner is the part of Client the runner needs.
type Planner interface {
	Plan(ctx context.Context, origin, dest orb.Point, dep time.Time) (*Itinerary, error)
}

// Result is the routing outcome for one trip. Itinerary is nil when routing
// failed, with the reason in Error.
type Result struct {
	TripID    string     `json:"tripId"`
	Requested time.Time  `json:"requested"`
	Itinerary *Itinerary `json:"itinerary,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (r Result) OK() bool {
	return r.Itinerary != nil
}

type Runner struct {
	planner       Planner
	workers       int
	progressEvery float64
	date          *time.Time
	logger        *slog.Logger
}

type RunnerOption func(*Runner)

func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithProgressEvery sets the progress log cadence as a percentage of trips.
func WithProgressEvery(pct float64) RunnerOption {
	return func(r *Runner) {
		if pct > 0 {
			r.progressEvery = pct
		}
	}
}

// WithDate routes every trip on date, keeping its time of day.
func WithDate(date time.Time) RunnerOption {
	return func(r *Runner) { r.date = &date }
}

func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRunner(p Planner, opts ...RunnerOption) *Runner {
	r := &Runner{
		planner:       p,
		workers:       1,
		progressEvery: DefaultProgressEvery,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r
}

// departure resolves the time a trip is requested at.
func (r *Runner) departure(t domain.Trip) (time.Time, error) {
	if r.date != nil {
		return t.TimeOfDay().On(*r.date), nil
	}
	if !t.HasDate {
		return time.Time{}, errors.Wrapf(ErrNoDepartureDate, "trip %s", t.ID)
	}
	return t.Departure, nil
}

// Run routes every trip and returns results in trip order. Per-trip
// failures are recorded in the result; only cancellation fails the run.
func (r *Runner) Run(ctx context.Context, trips []domain.Trip) ([]Result, error) {
	start := time.Now()
	results := make([]Result, len(trips))
	r.logger.Info("routing trips", "trips", len(trips), "workers", r.workers)

	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		done     int
		failed   int
		nextMark = r.progressEvery
	)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := r.route(ctx, trips[i])
				results[i] = res

				mu.Lock()
				done++
				if !res.OK() {
					failed++
				}
				pct := float64(done) / float64(len(trips)) * 100
				if pct >= nextMark {
					r.logger.Info("routing progress",
						"done", done,
						"total", len(trips),
						"percent", int(pct),
						"failed", failed,
					)
					for nextMark <= pct {
						nextMark += r.progressEvery
					}
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i := range trips {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, errors.Wrap(err, "routing cancelled")
	}

	r.logger.Info("routing complete",
		"trips", len(trips),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

func (r *Runner) route(ctx context.Context, t domain.Trip) Result {
	res := Result{TripID: t.ID}
	dep, err := r.departure(t)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Requested = dep

	it, err := r.planner.Plan(ctx, t.Origin, t.Dest, dep)
	if err != nil {
		res.Error = err.Error()
		r.logger.Warn("failed to route trip", "trip", t.ID, "error", err)
		return res
	}
	res.Itinerary = it
	return res
}
