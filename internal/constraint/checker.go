// Package constraint holds the predicates a candidate trip endpoint must
// satisfy before a location generator accepts it.
package constraint

import (
	"log/slog"

	"github.com/bluele/gcache"
	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	"tripgen/internal/geo"
)

// Checker accepts or rejects candidate points. UpdateRegion scopes the
// checker to one zone before a run of IsValid calls inside it so per-zone
// setup happens once. Regions and points arrive in the CRS passed to
// Initialise.
type Checker interface {
	Initialise(crs geo.CRS) error
	UpdateRegion(key string, region orb.Geometry, expectedVolume int) error
	IsValid(p orb.Point) bool
	Cleanup()
}

var ErrNotInitialised = errors.New("constraint checker used before Initialise")

// DefaultCacheSize bounds the per-checker region caches. It is sized well
// above the zone counts the tool is used with so entries are never evicted.
const DefaultCacheSize = 16384

func newRegionCache(size int) gcache.Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return gcache.New(size).Simple().Build()
}

// cached returns the value stored under key, building and storing it on a
// miss.
func cached[V any](c gcache.Cache, key string, build func() (V, error)) (V, error) {
	var zero V
	if v, err := c.Get(key); err == nil {
		return v.(V), nil
	} else if !errors.Is(err, gcache.KeyNotFoundError) {
		return zero, errors.Wrapf(err, "region cache get %q", key)
	}

	v, err := build()
	if err != nil {
		return zero, err
	}
	if err := c.Set(key, v); err != nil {
		return zero, errors.Wrapf(err, "region cache set %q", key)
	}
	return v, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
