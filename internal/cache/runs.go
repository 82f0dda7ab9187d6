package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"tripgen/internal/domain"
)

// RunCache stores run summaries as JSON and trip lists gzip-compressed,
// with an index of run IDs ordered by creation time.
type RunCache struct {
	cache *RedisCache
	ttl   time.Duration
}

func NewRunCache(cache *RedisCache, ttl time.Duration) *RunCache {
	return &RunCache{cache: cache, ttl: ttl}
}

func (rc *RunCache) SaveRun(ctx context.Context, run *domain.Run) error {
	if err := rc.cache.SetJSON(ctx, KeyRunSummary(run.ID), run.RunSummary, rc.ttl); err != nil {
		return errors.Wrapf(err, "save run %s", run.ID)
	}
	if err := rc.cache.SetJSONCompressed(ctx, KeyRunTrips(run.ID), run.Trips, rc.ttl); err != nil {
		return errors.Wrapf(err, "save trips of run %s", run.ID)
	}

	index := rc.cache.key(KeyRunIndex)
	z := redis.Z{Score: float64(run.CreatedAt.UnixMilli()), Member: run.ID}
	if err := rc.cache.client.ZAdd(ctx, index, z).Err(); err != nil {
		return errors.Wrap(err, "index run")
	}
	if rc.ttl > 0 {
		if err := rc.cache.client.Expire(ctx, index, rc.ttl).Err(); err != nil {
			return errors.Wrap(err, "expire run index")
		}
	}
	return nil
}

func (rc *RunCache) LoadSummary(ctx context.Context, id string) (domain.RunSummary, bool, error) {
	var summary domain.RunSummary
	found, err := rc.cache.GetJSON(ctx, KeyRunSummary(id), &summary)
	return summary, found, err
}

// LoadRun returns the run with its trips. A run whose trips have expired is
// reported as missing.
func (rc *RunCache) LoadRun(ctx context.Context, id string) (*domain.Run, bool, error) {
	summary, found, err := rc.LoadSummary(ctx, id)
	if err != nil || !found {
		return nil, false, err
	}
	run := &domain.Run{RunSummary: summary}
	found, err = rc.cache.GetJSONCompressed(ctx, KeyRunTrips(id), &run.Trips)
	if err != nil || !found {
		return nil, false, err
	}
	return run, true, nil
}

// RecentRunIDs lists up to limit run IDs, newest first.
func (rc *RunCache) RecentRunIDs(ctx context.Context, limit int) ([]string, error) {
	ids, err := rc.cache.client.ZRevRange(ctx, rc.cache.key(KeyRunIndex), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return ids, nil
}

func (rc *RunCache) DeleteRun(ctx context.Context, id string) error {
	if err := rc.cache.Delete(ctx, KeyRunSummary(id), KeyRunTrips(id)); err != nil {
		return errors.Wrapf(err, "delete run %s", id)
	}
	return rc.cache.client.ZRem(ctx, rc.cache.key(KeyRunIndex), id).Err()
}
