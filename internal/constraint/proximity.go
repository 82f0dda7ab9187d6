package constraint

import (
	"log/slog"
	"math"
	"time"

	"github.com/bluele/gcache"
	"github.com/cockroachdb/errors"
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"tripgen/internal/domain"
	"tripgen/internal/geo"
	"tripgen/internal/spatialindex"
)

// DefaultHighVolume is the expected number of draws in a region above which
// the checker pays for a per-region R-tree instead of scanning a list.
const DefaultHighVolume = 500

// rtreego treats touching rectangles as disjoint, so every rectangle gets at
// least this much width.
const rectEpsilon = 1e-9

type Strategy int

const (
	StrategyList Strategy = iota
	StrategyTree
	StrategyGrid
)

func (s Strategy) String() string {
	switch s {
	case StrategyList:
		return "list"
	case StrategyTree:
		return "tree"
	case StrategyGrid:
		return "grid"
	}
	return "unknown"
}

// ProximityChecker accepts points lying within a fixed distance of any
// reference geometry (roads, stops). A point is inside the buffered union of
// the references exactly when its distance to the nearest one is at most
// the buffer distance, which is what every strategy tests.
type ProximityChecker struct {
	layer  domain.Layer
	dist   float64
	opts   proximityOptions
	logger *slog.Logger

	toLayer geo.Transformer
	grid    *spatialindex.Index[int]
	lists   gcache.Cache
	trees   gcache.Cache
	ready   bool

	strategy Strategy
	list     []orb.Geometry
	tree     *rtreego.Rtree
	empty    bool
}

type proximityOptions struct {
	highVolume int
	strict     bool
	cacheSize  int
	gridLevels int
	gridCells  int
	gridTarget int
	useGrid    bool
	logger     *slog.Logger
}

type ProximityOption func(*proximityOptions)

// WithHighVolume overrides DefaultHighVolume.
func WithHighVolume(n int) ProximityOption {
	return func(o *proximityOptions) { o.highVolume = n }
}

// WithStrict rejects every point in a region that has no reference
// geometry nearby. By default such regions are unconstrained.
func WithStrict() ProximityOption {
	return func(o *proximityOptions) { o.strict = true }
}

func WithProximityCacheSize(n int) ProximityOption {
	return func(o *proximityOptions) { o.cacheSize = n }
}

// WithGridIndex answers every query from one grid index built over the
// whole reference layer.
func WithGridIndex(maxLevels, cellsPerSide, targetCount int) ProximityOption {
	return func(o *proximityOptions) {
		o.useGrid = true
		o.gridLevels = maxLevels
		o.gridCells = cellsPerSide
		o.gridTarget = targetCount
	}
}

func WithProximityLogger(l *slog.Logger) ProximityOption {
	return func(o *proximityOptions) { o.logger = l }
}

// NewProximityChecker builds a checker over layer with buffer distance dist,
// expressed in the layer's CRS units.
func NewProximityChecker(layer domain.Layer, dist float64, opts ...ProximityOption) (*ProximityChecker, error) {
	if dist < 0 || math.IsNaN(dist) {
		return nil, errors.Newf("buffer distance must be non-negative, got %v", dist)
	}
	o := proximityOptions{highVolume: DefaultHighVolume}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = discardLogger()
	}
	return &ProximityChecker{
		layer:  layer,
		dist:   dist,
		opts:   o,
		logger: logger.With("component", "proximity_checker", "layer", layer.Name),
	}, nil
}

func (c *ProximityChecker) Initialise(crs geo.CRS) error {
	start := time.Now()
	tf, err := geo.NewTransformer(crs, c.layer.CRS)
	if err != nil {
		return errors.Wrap(err, "proximity checker")
	}
	c.toLayer = tf
	c.lists = newRegionCache(c.opts.cacheSize)
	c.trees = newRegionCache(c.opts.cacheSize)

	if c.opts.useGrid {
		extent := c.layer.Bound().Pad(c.dist)
		grid, err := spatialindex.New[int](extent, c.opts.gridLevels, c.opts.gridCells,
			spatialindex.WithTargetCount(c.opts.gridTarget))
		if err != nil {
			return errors.Wrap(err, "proximity checker index")
		}
		for i, f := range c.layer.Features {
			grid.Insert(f.Geometry, i)
		}
		c.grid = grid
		c.logger.Debug("built reference grid index", "stats", grid.Stats())
	}
	c.ready = true

	c.logger.Debug("proximity checker initialised",
		"features", len(c.layer.Features),
		"buffer", c.dist,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// UpdateRegion picks the query strategy for the region and loads, or builds
// once, the cached candidate set for it.
func (c *ProximityChecker) UpdateRegion(key string, region orb.Geometry, expectedVolume int) error {
	if !c.ready {
		return ErrNotInitialised
	}
	start := time.Now()
	search := c.toLayer.Bound(region.Bound()).Pad(c.dist)

	c.list = nil
	c.tree = nil

	switch {
	case c.grid != nil:
		c.strategy = StrategyGrid
		c.empty = len(c.grid.Search(search)) == 0

	case expectedVolume >= c.opts.highVolume:
		c.strategy = StrategyTree
		tree, err := cached(c.trees, key, func() (*rtreego.Rtree, error) {
			return c.buildTree(c.candidates(search)), nil
		})
		if err != nil {
			return err
		}
		c.tree = tree
		c.empty = tree.Size() == 0

	default:
		c.strategy = StrategyList
		list, err := cached(c.lists, key, func() ([]orb.Geometry, error) {
			return c.candidates(search), nil
		})
		if err != nil {
			return err
		}
		c.list = list
		c.empty = len(list) == 0
	}

	c.logger.Debug("proximity region updated",
		"region", key,
		"strategy", c.strategy.String(),
		"expected_volume", expectedVolume,
		"empty", c.empty,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// candidates returns the reference geometries whose bound meets b.
func (c *ProximityChecker) candidates(b orb.Bound) []orb.Geometry {
	var result []orb.Geometry
	for _, f := range c.layer.Features {
		if f.Geometry != nil && f.Geometry.Bound().Intersects(b) {
			result = append(result, f.Geometry)
		}
	}
	return result
}

type treeItem struct {
	geom orb.Geometry
	rect rtreego.Rect
}

func (t *treeItem) Bounds() rtreego.Rect {
	return t.rect
}

func (c *ProximityChecker) buildTree(geoms []orb.Geometry) *rtreego.Rtree {
	items := make([]rtreego.Spatial, 0, len(geoms))
	pad := math.Max(c.dist, rectEpsilon)
	for _, g := range geoms {
		b := g.Bound().Pad(pad)
		rect, err := rtreego.NewRectFromPoints(
			rtreego.Point{b.Min.X(), b.Min.Y()},
			rtreego.Point{b.Max.X(), b.Max.Y()},
		)
		if err != nil {
			continue
		}
		items = append(items, &treeItem{geom: g, rect: rect})
	}
	return rtreego.NewTree(2, 25, 50, items...)
}

func (c *ProximityChecker) IsValid(p orb.Point) bool {
	if !c.ready {
		return false
	}
	if c.empty {
		return !c.opts.strict
	}
	local := c.toLayer.Point(p)

	switch c.strategy {
	case StrategyGrid:
		return c.grid.WithinDistance(local, c.dist)

	case StrategyTree:
		hits := c.tree.SearchIntersect(rtreego.Point{local.X(), local.Y()}.ToRect(rectEpsilon))
		for _, h := range hits {
			if geo.WithinDistance(h.(*treeItem).geom, local, c.dist) {
				return true
			}
		}
		return false

	default:
		for _, g := range c.list {
			if geo.WithinDistance(g, local, c.dist) {
				return true
			}
		}
		return false
	}
}

// Strategy reports how the current region is being queried.
func (c *ProximityChecker) Strategy() Strategy {
	return c.strategy
}

func (c *ProximityChecker) Cleanup() {
	if c.lists != nil {
		c.lists.Purge()
	}
	if c.trees != nil {
		c.trees.Purge()
	}
	c.grid = nil
	c.list = nil
	c.tree = nil
	c.ready = false
}
