// Package geo wraps the planar geometry primitives the generators rely on:
// containment, distance to a geometry, and transforms between the two
// coordinate reference systems the tool understands.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
)

// CRS is an EPSG code.
type CRS int

const (
	WGS84       CRS = 4326
	WebMercator CRS = 3857
)

var ErrUnsupportedCRS = errors.New("unsupported coordinate reference system")

func (c CRS) String() string {
	return "EPSG:" + strconv.Itoa(int(c))
}

func (c CRS) Validate() error {
	switch c {
	case WGS84, WebMercator:
		return nil
	}
	return errors.Wrapf(ErrUnsupportedCRS, "%s", c)
}

// ParseCRS accepts "EPSG:4326", "epsg:3857" or a bare code.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimPrefix(s, "EPSG:")
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(ErrUnsupportedCRS, "parse %q", s)
	}
	c := CRS(code)
	if err := c.Validate(); err != nil {
		return 0, err
	}
	return c, nil
}

// UnmarshalText lets CRS values be read straight from YAML scenario files.
func (c *CRS) UnmarshalText(b []byte) error {
	parsed, err := ParseCRS(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func projection(from, to CRS) (orb.Projection, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	switch {
	case from == to:
		return nil, nil
	case from == WGS84 && to == WebMercator:
		return project.WGS84.ToMercator, nil
	case from == WebMercator && to == WGS84:
		return project.Mercator.ToWGS84, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedCRS, "%s to %s", from, to)
}

// Transformer converts geometries between two reference systems. The zero
// value and identity transformers return their input unchanged.
type Transformer struct {
	From, To CRS
	proj     orb.Projection
}

func NewTransformer(from, to CRS) (Transformer, error) {
	proj, err := projection(from, to)
	if err != nil {
		return Transformer{}, err
	}
	return Transformer{From: from, To: to, proj: proj}, nil
}

func (t Transformer) Identity() bool {
	return t.proj == nil
}

func (t Transformer) Point(p orb.Point) orb.Point {
	if t.proj == nil {
		return p
	}
	return t.proj(p)
}

// Geometry returns a transformed copy; g itself is left untouched.
func (t Transformer) Geometry(g orb.Geometry) orb.Geometry {
	if t.proj == nil || g == nil {
		return g
	}
	return project.Geometry(orb.Clone(g), t.proj)
}

// Bound projects the corners of b. Both supported projections are monotonic
// per axis, so this is the bound of the projected geometry.
func (t Transformer) Bound(b orb.Bound) orb.Bound {
	if t.proj == nil {
		return b
	}
	return project.Bound(b, t.proj)
}

// Inverse returns the transformer going the other way.
func (t Transformer) Inverse() Transformer {
	if t.From == 0 && t.To == 0 {
		return t
	}
	inv, _ := NewTransformer(t.To, t.From)
	return inv
}

// Contains reports whether an areal geometry contains p. Boundary points are
// inside. Non-areal geometries contain nothing.
func Contains(g orb.Geometry, p orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) == 0 {
			return false
		}
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	case orb.Ring:
		if len(g) == 0 {
			return false
		}
		return planar.RingContains(g, p)
	case orb.Bound:
		return g.Contains(p)
	case orb.Collection:
		for _, sub := range g {
			if Contains(sub, p) {
				return true
			}
		}
	}
	return false
}

// Distance is the planar distance from p to g, zero when g contains p.
func Distance(g orb.Geometry, p orb.Point) float64 {
	if g == nil {
		return math.Inf(1)
	}
	if Contains(g, p) {
		return 0
	}
	return planar.DistanceFrom(g, p)
}

// WithinDistance reports whether p lies in g buffered by d.
func WithinDistance(g orb.Geometry, p orb.Point, d float64) bool {
	if g == nil {
		return false
	}
	if !g.Bound().Pad(d).Contains(p) {
		return false
	}
	return Distance(g, p) <= d
}

// PointBound is the degenerate bound of a single point.
func PointBound(p orb.Point) orb.Bound {
	return orb.Bound{Min: p, Max: p}
}

// BoundWithin reports whether inner lies entirely inside outer, inclusive.
func BoundWithin(inner, outer orb.Bound) bool {
	return outer.Contains(inner.Min) && outer.Contains(inner.Max)
}

// FormatBound renders b as minX,minY,maxX,maxY.
func FormatBound(b orb.Bound) string {
	return fmt.Sprintf("%f,%f,%f,%f", b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
}
