package constraint

import (
	"log/slog"
	"time"

	"github.com/bluele/gcache"
	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	"tripgen/internal/domain"
	"tripgen/internal/geo"
	"tripgen/internal/spatialindex"
)

// DefaultZoneCodeField is the planning-scheme attribute holding the zone
// category.
const DefaultZoneCodeField = "ZONE_CODE"

// Above this many reference polygons the region pre-filter goes through a
// grid index instead of a bound scan.
const zoningGridThreshold = 256

// ZoningChecker accepts points that fall inside a reference polygon whose
// category is in the allowed set.
type ZoningChecker struct {
	layer   domain.Layer
	field   string
	allowed map[string]struct{}
	opts    zoningOptions
	logger  *slog.Logger

	toLayer    geo.Transformer
	grid       *spatialindex.Index[int]
	cache      gcache.Cache
	all        []int
	candidates []int
	ready      bool
}

type zoningOptions struct {
	field     string
	cacheSize int
	logger    *slog.Logger
}

type ZoningOption func(*zoningOptions)

func WithZoneField(name string) ZoningOption {
	return func(o *zoningOptions) { o.field = name }
}

func WithZoningCacheSize(n int) ZoningOption {
	return func(o *zoningOptions) { o.cacheSize = n }
}

func WithZoningLogger(l *slog.Logger) ZoningOption {
	return func(o *zoningOptions) { o.logger = l }
}

func NewZoningChecker(layer domain.Layer, allowed []string, opts ...ZoningOption) *ZoningChecker {
	o := zoningOptions{field: DefaultZoneCodeField}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = discardLogger()
	}

	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}

	return &ZoningChecker{
		layer:   layer,
		field:   o.field,
		allowed: set,
		opts:    o,
		logger:  logger.With("component", "zoning_checker", "layer", layer.Name),
	}
}

func (c *ZoningChecker) Initialise(crs geo.CRS) error {
	start := time.Now()
	tf, err := geo.NewTransformer(crs, c.layer.CRS)
	if err != nil {
		return errors.Wrap(err, "zoning checker")
	}
	c.toLayer = tf
	c.cache = newRegionCache(c.opts.cacheSize)

	c.all = make([]int, len(c.layer.Features))
	for i := range c.all {
		c.all[i] = i
	}
	c.candidates = c.all

	if len(c.layer.Features) > zoningGridThreshold {
		grid, err := spatialindex.New[int](c.layer.Bound(), 4, 4, spatialindex.WithTargetCount(32))
		if err != nil {
			return errors.Wrap(err, "zoning checker index")
		}
		for i, f := range c.layer.Features {
			grid.Insert(f.Geometry, i)
		}
		c.grid = grid
	}
	c.ready = true

	c.logger.Debug("zoning checker initialised",
		"features", len(c.layer.Features),
		"allowed", len(c.allowed),
		"indexed", c.grid != nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// UpdateRegion narrows the reference polygons to those overlapping the
// region. The filtered set is remembered per key.
func (c *ZoningChecker) UpdateRegion(key string, region orb.Geometry, _ int) error {
	if !c.ready {
		return ErrNotInitialised
	}
	candidates, err := cached(c.cache, key, func() ([]int, error) {
		return c.filter(c.toLayer.Bound(region.Bound())), nil
	})
	if err != nil {
		return err
	}
	c.candidates = candidates
	c.logger.Debug("zoning region updated", "region", key, "candidates", len(candidates))
	return nil
}

func (c *ZoningChecker) filter(b orb.Bound) []int {
	if c.grid != nil {
		entries := c.grid.Search(b)
		result := make([]int, 0, len(entries))
		for _, e := range entries {
			result = append(result, e.Payload)
		}
		return result
	}

	var result []int
	for i, f := range c.layer.Features {
		if f.Geometry != nil && f.Geometry.Bound().Intersects(b) {
			result = append(result, i)
		}
	}
	return result
}

// ZoneAt returns the category of the first candidate polygon containing p.
func (c *ZoningChecker) ZoneAt(p orb.Point) (string, bool) {
	local := c.toLayer.Point(p)
	for _, i := range c.candidates {
		f := c.layer.Features[i]
		if f.Geometry == nil || !f.Geometry.Bound().Contains(local) {
			continue
		}
		if geo.Contains(f.Geometry, local) {
			return f.Attr(c.field), true
		}
	}
	return "", false
}

func (c *ZoningChecker) IsValid(p orb.Point) bool {
	zone, ok := c.ZoneAt(p)
	if !ok {
		return false
	}
	_, allowed := c.allowed[zone]
	return allowed
}

func (c *ZoningChecker) Cleanup() {
	if c.cache != nil {
		c.cache.Purge()
	}
	c.grid = nil
	c.candidates = nil
	c.all = nil
	c.ready = false
}
