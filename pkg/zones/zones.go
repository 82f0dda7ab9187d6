// Package zones loads named zone polygons and reference layers from
// shapefiles and GeoJSON.
package zones

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"

	"tripgen/internal/domain"
	"tripgen/internal/geo"
	"tripgen/internal/spatialindex"
)

// DefaultNameField is the statistical local area name attribute of the
// ABS 2006 boundaries.
const DefaultNameField = "SLA_NAME06"

var ErrNotAreal = errors.New("zone geometry is not a polygon")

type Zone struct {
	Name     string
	Geometry orb.Geometry
	Attrs    map[string]string
}

// Set maps zone names to polygons. It is not modified after construction.
type Set struct {
	crs   geo.CRS
	zones map[string]Zone
	names []string
	index *spatialindex.Index[string]
}

// NewSet builds a set from zones. Zones sharing a name are merged into one
// multipolygon.
func NewSet(crs geo.CRS, zones []Zone) (*Set, error) {
	if err := crs.Validate(); err != nil {
		return nil, err
	}
	s := &Set{crs: crs, zones: make(map[string]Zone, len(zones))}
	for _, z := range zones {
		if !areal(z.Geometry) {
			return nil, errors.Wrapf(ErrNotAreal, "zone %q is %T", z.Name, z.Geometry)
		}
		if prev, ok := s.zones[z.Name]; ok {
			z.Geometry = merge(prev.Geometry, z.Geometry)
			z.Attrs = prev.Attrs
		} else {
			s.names = append(s.names, z.Name)
		}
		s.zones[z.Name] = z
	}
	sort.Strings(s.names)
	return s, nil
}

// FromLayer names each feature of l by its nameField attribute.
func FromLayer(l domain.Layer, nameField string) (*Set, error) {
	if nameField == "" {
		nameField = DefaultNameField
	}
	zones := make([]Zone, 0, len(l.Features))
	for i, f := range l.Features {
		name := f.Attr(nameField)
		if name == "" {
			return nil, errors.Newf("feature %d of %s has no %s attribute", i, l.Name, nameField)
		}
		zones = append(zones, Zone{Name: name, Geometry: f.Geometry, Attrs: f.Attrs})
	}
	return NewSet(l.CRS, zones)
}

func areal(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	}
	return false
}

func merge(a, b orb.Geometry) orb.MultiPolygon {
	var out orb.MultiPolygon
	for _, g := range []orb.Geometry{a, b} {
		switch v := g.(type) {
		case orb.Polygon:
			out = append(out, v)
		case orb.MultiPolygon:
			out = append(out, v...)
		}
	}
	return out
}

func (s *Set) CRS() geo.CRS { return s.crs }

func (s *Set) Zone(name string) (orb.Geometry, bool) {
	z, ok := s.zones[name]
	if !ok {
		return nil, false
	}
	return z.Geometry, true
}

func (s *Set) Len() int { return len(s.names) }

func (s *Set) Bound() orb.Bound {
	return s.Layer().Bound()
}

// Layer exposes the set as a reference layer keyed by name.
func (s *Set) Layer() domain.Layer {
	l := domain.Layer{Name: "zones", CRS: s.crs}
	for _, n := range s.names {
		z := s.zones[n]
		l.Features = append(l.Features, domain.Feature{Geometry: z.Geometry, Attrs: z.Attrs})
	}
	return l
}

// Index builds a grid index over the zones so ZoneContaining does not scan
// every polygon.
func (s *Set) Index(maxLevels, cellsPerSide, targetCount int) error {
	idx, err := spatialindex.New[string](s.Bound(), maxLevels, cellsPerSide,
		spatialindex.WithTargetCount(targetCount))
	if err != nil {
		return errors.Wrap(err, "zone index")
	}
	for _, n := range s.names {
		idx.Insert(s.zones[n].Geometry, n)
	}
	s.index = idx
	return nil
}

// ZoneContaining names the zone containing p, given in the set's CRS. When
// zones overlap the first in name order wins.
func (s *Set) ZoneContaining(p orb.Point) (string, bool) {
	if s.index != nil {
		e, ok := s.index.FindContaining(p)
		return e.Payload, ok
	}
	for _, n := range s.names {
		if geo.Contains(s.zones[n].Geometry, p) {
			return n, true
		}
	}
	return "", false
}

// Mismatch is a trip endpoint that lies outside the zone it is labelled with.
type Mismatch struct {
	TripID string
	End    string
	Label  string
	// Found is the zone actually containing the endpoint, empty when none does.
	Found string
}

// Verify checks every labelled trip endpoint against the zone polygons.
// Points are given in tripCRS. An endpoint lying in an overlap of its own
// zone and another is not a mismatch.
func (s *Set) Verify(trips []domain.Trip, tripCRS geo.CRS) ([]Mismatch, error) {
	tf, err := geo.NewTransformer(tripCRS, s.crs)
	if err != nil {
		return nil, errors.Wrap(err, "verify zones")
	}
	var out []Mismatch
	for _, t := range trips {
		for _, end := range []struct {
			name  string
			p     orb.Point
			label string
		}{
			{"origin", t.Origin, t.OriginZone},
			{"destination", t.Dest, t.DestZone},
		} {
			if end.label == "" {
				continue
			}
			local := tf.Point(end.p)
			found, _ := s.ZoneContaining(local)
			if found == end.label {
				continue
			}
			if z, ok := s.zones[end.label]; ok && geo.Contains(z.Geometry, local) {
				continue
			}
			out = append(out, Mismatch{TripID: t.ID, End: end.name, Label: end.label, Found: found})
		}
	}
	return out, nil
}
