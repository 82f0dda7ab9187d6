// Package store keeps generated runs in memory and holds routing results
// for subset lookup and scenario comparison.
package store

import (
	"slices"
	"sync"
	"time"

	"tripgen/internal/domain"
)

type ListOptions struct {
	Scenario string
	Limit    int
}

// Store holds generation runs until they age past the retention window.
type Store struct {
	mu         sync.RWMutex
	runs       map[string]*domain.Run
	byScenario map[string]map[string]struct{}

	retention time.Duration
}

func New(retention time.Duration) *Store {
	return &Store{
		runs:       make(map[string]*domain.Run),
		byScenario: make(map[string]map[string]struct{}),
		retention:  retention,
	}
}

// Put stores run, replacing any run with the same ID.
func (s *Store) Put(run *domain.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.runs[run.ID]; ok {
		s.removeFromIndex(existing)
	}
	s.runs[run.ID] = run
	if s.byScenario[run.Scenario] == nil {
		s.byScenario[run.Scenario] = make(map[string]struct{})
	}
	s.byScenario[run.Scenario][run.ID] = struct{}{}
}

func (s *Store) Get(id string) (domain.RunSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.RunSummary{}, false
	}
	return run.RunSummary, true
}

// Trips returns a copy of a run's trips.
func (s *Store) Trips(id string) ([]domain.Trip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(run.Trips), true
}

// List returns run summaries, newest first.
func (s *Store) List(opts ListOptions) []domain.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.RunSummary
	if opts.Scenario != "" {
		for id := range s.byScenario[opts.Scenario] {
			result = append(result, s.runs[id].RunSummary)
		}
	} else {
		for _, run := range s.runs {
			result = append(result, run.RunSummary)
		}
	}

	slices.SortFunc(result, func(a, b domain.RunSummary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result
}

// PruneStale drops runs created before the retention window and returns
// their IDs.
func (s *Store) PruneStale() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.retention)
	var removed []string
	for id, run := range s.runs {
		if run.CreatedAt.Before(cutoff) {
			s.removeFromIndex(run)
			delete(s.runs, id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// TripCount is the number of trips held across all runs.
func (s *Store) TripCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, run := range s.runs {
		n += len(run.Trips)
	}
	return n
}

func (s *Store) removeFromIndex(run *domain.Run) {
	if ids := s.byScenario[run.Scenario]; ids != nil {
		delete(ids, run.ID)
		if len(ids) == 0 {
			delete(s.byScenario, run.Scenario)
		}
	}
}
