package ingestor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tripgen/internal/config"
)

// Loader keeps the scenario's references loaded for the service, reloading
// them on an interval when one is set.
type Loader struct {
	scenario       *config.Scenario
	cacheDir       string
	updateInterval time.Duration
	logger         *slog.Logger
	onUpdate       func(context.Context, *References)

	mu    sync.RWMutex
	refs  *References
	ready bool
}

func NewLoader(s *config.Scenario, cacheDir string, updateInterval time.Duration, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		scenario:       s,
		cacheDir:       cacheDir,
		updateInterval: updateInterval,
		logger:         logger.With("component", "reference_loader"),
	}
}

// Start loads once and then, with a positive interval, reloads until ctx is
// done. A failed reload keeps the previous references.
func (l *Loader) Start(ctx context.Context) {
	l.update(ctx)

	if l.updateInterval <= 0 {
		return
	}
	ticker := time.NewTicker(l.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.update(ctx)
		}
	}
}

func (l *Loader) update(ctx context.Context) {
	l.logger.Info("loading references", "scenario", l.scenario.Name)

	refs, err := LoadReferences(ctx, l.scenario, l.cacheDir, l.logger)
	if err != nil {
		l.logger.Error("failed to load references", "error", err)
		return
	}

	l.mu.Lock()
	l.refs = refs
	l.ready = true
	l.mu.Unlock()

	if l.onUpdate != nil {
		l.onUpdate(ctx, refs)
	}
}

func (l *Loader) IsReady() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ready
}

// References returns the current snapshot, nil before the first load.
func (l *Loader) References() *References {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.refs
}

func (l *Loader) SetOnUpdate(fn func(context.Context, *References)) {
	l.onUpdate = fn
}
