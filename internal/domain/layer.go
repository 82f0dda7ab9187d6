package domain

import (
	"github.com/paulmach/orb"

	"tripgen/internal/geo"
)

// Feature is one geometry read from a vector source with its attributes.
type Feature struct {
	Geometry orb.Geometry
	Attrs    map[string]string
}

// Layer is a set of features sharing a coordinate reference system.
type Layer struct {
	Name     string
	CRS      geo.CRS
	Features []Feature
}

// Bound covers every feature in the layer.
func (l Layer) Bound() orb.Bound {
	var b orb.Bound
	first := true
	for _, f := range l.Features {
		if f.Geometry == nil {
			continue
		}
		if first {
			b = f.Geometry.Bound()
			first = false
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}

// Attr returns a feature attribute, empty when absent.
func (f Feature) Attr(name string) string {
	return f.Attrs[name]
}
