// Package spatialindex implements a bounded-depth recursive grid over a set
// of geometries. Every geometry is stored in each leaf cell its bound
// touches, so lookups only need to look at one branch of the tree.
package spatialindex

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	"tripgen/internal/geo"
)

// Entry is an indexed geometry with its cached bound and caller payload.
type Entry[T any] struct {
	Geometry orb.Geometry
	Bound    orb.Bound
	Payload  T

	seq int
}

type node[T any] struct {
	bound    orb.Bound
	depth    int
	children []*node[T]
	entries  []*Entry[T]
}

func (n *node[T]) leaf() bool {
	return n.children == nil
}

// Index is not safe for concurrent mutation. Concurrent queries on a fully
// built index are fine.
type Index[T any] struct {
	root         *node[T]
	maxLevels    int
	cellsPerSide int
	targetCount  int

	// entries whose bound reaches outside the extent, scanned when a query
	// leaves the extent
	overflow []*Entry[T]
	count    int
}

type Option func(*options)

type options struct {
	targetCount int
}

// WithTargetCount switches the index to lazy splitting: a leaf is divided
// once it holds more than n entries and depth remains.
func WithTargetCount(n int) Option {
	return func(o *options) {
		o.targetCount = n
	}
}

// New builds an empty index over extent. Without WithTargetCount the grid is
// subdivided eagerly down to maxLevels.
func New[T any](extent orb.Bound, maxLevels, cellsPerSide int, opts ...Option) (*Index[T], error) {
	if extent.Max.X() < extent.Min.X() || extent.Max.Y() < extent.Min.Y() {
		return nil, errors.Newf("invalid extent %s", geo.FormatBound(extent))
	}
	if maxLevels < 0 {
		return nil, errors.Newf("max levels must be non-negative, got %d", maxLevels)
	}
	if cellsPerSide < 1 {
		return nil, errors.Newf("cells per side must be positive, got %d", cellsPerSide)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.targetCount < 0 {
		return nil, errors.Newf("target count must be non-negative, got %d", o.targetCount)
	}

	idx := &Index[T]{
		root:         &node[T]{bound: extent},
		maxLevels:    maxLevels,
		cellsPerSide: cellsPerSide,
		targetCount:  o.targetCount,
	}
	if !idx.dynamic() {
		idx.buildFixed(idx.root)
	}
	return idx, nil
}

func (idx *Index[T]) dynamic() bool {
	return idx.targetCount > 0
}

func (idx *Index[T]) Extent() orb.Bound {
	return idx.root.bound
}

// Len is the number of distinct geometries inserted.
func (idx *Index[T]) Len() int {
	return idx.count
}

func (idx *Index[T]) buildFixed(n *node[T]) {
	if n.depth >= idx.maxLevels {
		return
	}
	idx.subdivide(n)
	for _, c := range n.children {
		idx.buildFixed(c)
	}
}

// subdivide splits n into a row-major grid of child cells.
func (idx *Index[T]) subdivide(n *node[T]) {
	k := idx.cellsPerSide
	w := (n.bound.Max.X() - n.bound.Min.X()) / float64(k)
	h := (n.bound.Max.Y() - n.bound.Min.Y()) / float64(k)

	n.children = make([]*node[T], 0, k*k)
	for i := 0; i < k; i++ {
		minY := n.bound.Min.Y() + float64(i)*h
		maxY := minY + h
		if i == k-1 {
			maxY = n.bound.Max.Y()
		}
		for j := 0; j < k; j++ {
			minX := n.bound.Min.X() + float64(j)*w
			maxX := minX + w
			if j == k-1 {
				maxX = n.bound.Max.X()
			}
			n.children = append(n.children, &node[T]{
				bound: orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}},
				depth: n.depth + 1,
			})
		}
	}
}

// Insert adds g to every leaf whose bound overlaps g's bound.
func (idx *Index[T]) Insert(g orb.Geometry, payload T) {
	if g == nil {
		return
	}
	e := &Entry[T]{Geometry: g, Bound: g.Bound(), Payload: payload, seq: idx.count}
	idx.count++

	if !geo.BoundWithin(e.Bound, idx.root.bound) {
		idx.overflow = append(idx.overflow, e)
	}
	if idx.root.bound.Intersects(e.Bound) {
		idx.insert(idx.root, e)
	}
}

func (idx *Index[T]) insert(n *node[T], e *Entry[T]) {
	if !n.leaf() {
		for _, c := range n.children {
			if c.bound.Intersects(e.Bound) {
				idx.insert(c, e)
			}
		}
		return
	}

	n.entries = append(n.entries, e)
	if idx.dynamic() && len(n.entries) > idx.targetCount && n.depth < idx.maxLevels {
		idx.split(n)
	}
}

func (idx *Index[T]) split(n *node[T]) {
	existing := n.entries
	n.entries = nil
	idx.subdivide(n)
	for _, e := range existing {
		idx.insert(n, e)
	}
}

// FindContaining returns the first indexed geometry that contains p. A point
// covered by nothing yields ok == false.
func (idx *Index[T]) FindContaining(p orb.Point) (Entry[T], bool) {
	if !idx.root.bound.Contains(p) {
		for _, e := range idx.overflow {
			if e.Bound.Contains(p) && geo.Contains(e.Geometry, p) {
				return *e, true
			}
		}
		return Entry[T]{}, false
	}
	if e := idx.findContaining(idx.root, p); e != nil {
		return *e, true
	}
	return Entry[T]{}, false
}

func (idx *Index[T]) findContaining(n *node[T], p orb.Point) *Entry[T] {
	if n.leaf() {
		for _, e := range n.entries {
			if e.Bound.Contains(p) && geo.Contains(e.Geometry, p) {
				return e
			}
		}
		return nil
	}
	for _, c := range n.children {
		if !c.bound.Contains(p) {
			continue
		}
		if e := idx.findContaining(c, p); e != nil {
			return e
		}
	}
	return nil
}

// Search returns the distinct entries whose bound intersects b, in insertion
// order.
func (idx *Index[T]) Search(b orb.Bound) []Entry[T] {
	seen := make(map[int]*Entry[T])
	idx.collect(idx.root, b, seen)
	if !geo.BoundWithin(b, idx.root.bound) {
		for _, e := range idx.overflow {
			if e.Bound.Intersects(b) {
				seen[e.seq] = e
			}
		}
	}

	result := make([]Entry[T], 0, len(seen))
	for _, e := range seen {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].seq < result[j].seq
	})
	return result
}

func (idx *Index[T]) collect(n *node[T], b orb.Bound, seen map[int]*Entry[T]) {
	if !n.bound.Intersects(b) {
		return
	}
	if n.leaf() {
		for _, e := range n.entries {
			if e.Bound.Intersects(b) {
				seen[e.seq] = e
			}
		}
		return
	}
	for _, c := range n.children {
		idx.collect(c, b, seen)
	}
}

// WithinDistance reports whether any indexed geometry lies within dist of p.
func (idx *Index[T]) WithinDistance(p orb.Point, dist float64) bool {
	q := geo.PointBound(p).Pad(dist)
	if idx.withinDistance(idx.root, p, q, dist) {
		return true
	}
	if geo.BoundWithin(q, idx.root.bound) {
		return false
	}
	for _, e := range idx.overflow {
		if e.Bound.Intersects(q) && geo.WithinDistance(e.Geometry, p, dist) {
			return true
		}
	}
	return false
}

func (idx *Index[T]) withinDistance(n *node[T], p orb.Point, q orb.Bound, dist float64) bool {
	if !n.bound.Intersects(q) {
		return false
	}
	if n.leaf() {
		for _, e := range n.entries {
			if e.Bound.Intersects(q) && geo.WithinDistance(e.Geometry, p, dist) {
				return true
			}
		}
		return false
	}
	for _, c := range n.children {
		if idx.withinDistance(c, p, q, dist) {
			return true
		}
	}
	return false
}

// Stats describes the shape of the tree.
type Stats struct {
	Geometries   int `json:"geometries"`
	Leaves       int `json:"leaves"`
	LeafEntries  int `json:"leafEntries"`
	Duplicates   int `json:"duplicates"`
	MaxDepth     int `json:"maxDepth"`
	Overflow     int `json:"overflow"`
	LargestLeaf  int `json:"largestLeaf"`
	CellsPerSide int `json:"cellsPerSide"`
}

func (idx *Index[T]) Stats() Stats {
	s := Stats{
		Geometries:   idx.count,
		Overflow:     len(idx.overflow),
		CellsPerSide: idx.cellsPerSide,
	}
	unique := make(map[int]struct{})
	var walk func(n *node[T])
	walk = func(n *node[T]) {
		if n.depth > s.MaxDepth {
			s.MaxDepth = n.depth
		}
		if n.leaf() {
			s.Leaves++
			s.LeafEntries += len(n.entries)
			if len(n.entries) > s.LargestLeaf {
				s.LargestLeaf = len(n.entries)
			}
			for _, e := range n.entries {
				unique[e.seq] = struct{}{}
			}
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(idx.root)
	s.Duplicates = s.LeafEntries - len(unique)
	return s
}
