package cache

import (
	"context"
	"log/slog"
	"time"

	"tripgen/internal/domain"
)

// RunSink receives runs restored from the cache.
type RunSink interface {
	Put(run *domain.Run)
}

// Warmer restores recent runs from Redis into the in-memory store on
// startup.
type Warmer struct {
	runs   *RunCache
	sink   RunSink
	limit  int
	logger *slog.Logger
}

func NewWarmer(runs *RunCache, sink RunSink, limit int, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Warmer{
		runs:   runs,
		sink:   sink,
		limit:  limit,
		logger: logger.With("component", "cache_warmer"),
	}
}

// WarmAll loads up to limit runs and returns how many were restored. Runs
// that fail to load are logged and skipped.
func (w *Warmer) WarmAll(ctx context.Context) (int, error) {
	start := time.Now()
	w.logger.Info("starting cache warming")

	ids, err := w.runs.RecentRunIDs(ctx, w.limit)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, id := range ids {
		run, found, err := w.runs.LoadRun(ctx, id)
		if err != nil {
			w.logger.Error("failed to restore run", "run", id, "error", err)
			continue
		}
		if !found {
			w.logger.Debug("run expired from cache", "run", id)
			continue
		}
		w.sink.Put(run)
		restored++
	}

	w.logger.Info("cache warming completed",
		"runs", restored,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return restored, nil
}
