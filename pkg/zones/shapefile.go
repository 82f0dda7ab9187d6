package zones

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"tripgen/internal/domain"
	"tripgen/internal/geo"
)

// ReadLayer reads a vector file by extension: .shp via go-shp, .geojson or
// .json as a feature collection. fallback is the CRS assumed for shapefiles
// without a .prj sidecar.
func ReadLayer(path string, fallback geo.CRS) (domain.Layer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return ReadShapefile(path, fallback)
	case ".geojson", ".json":
		return ReadGeoJSON(path)
	}
	return domain.Layer{}, errors.Newf("unsupported vector format %q", path)
}

// Load reads a zone file and names each zone by nameField.
func Load(path, nameField string, fallback geo.CRS) (*Set, error) {
	l, err := ReadLayer(path, fallback)
	if err != nil {
		return nil, err
	}
	return FromLayer(l, nameField)
}

func layerName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func ReadShapefile(path string, fallback geo.CRS) (domain.Layer, error) {
	crs, ok, err := geo.ReadPrj(path)
	if err != nil {
		return domain.Layer{}, errors.Wrapf(err, "shapefile %s", path)
	}
	if !ok {
		crs = fallback
	}

	r, err := shp.Open(path)
	if err != nil {
		return domain.Layer{}, errors.Wrapf(err, "open shapefile %s", path)
	}
	defer r.Close()

	fields := r.Fields()
	layer := domain.Layer{Name: layerName(path), CRS: crs}
	for r.Next() {
		n, s := r.Shape()
		g, err := FromShape(s)
		if err != nil {
			return domain.Layer{}, errors.Wrapf(err, "%s record %d", path, n)
		}
		attrs := make(map[string]string, len(fields))
		for i, f := range fields {
			attrs[f.String()] = strings.TrimSpace(strings.TrimRight(r.ReadAttribute(n, i), "\x00"))
		}
		layer.Features = append(layer.Features, domain.Feature{Geometry: g, Attrs: attrs})
	}
	return layer, nil
}

// FromShape converts a shapefile record to an orb geometry. Null shapes map
// to nil.
func FromShape(s shp.Shape) (orb.Geometry, error) {
	switch v := s.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{v.X, v.Y}, nil
	case *shp.MultiPoint:
		mp := make(orb.MultiPoint, len(v.Points))
		for i, p := range v.Points {
			mp[i] = orb.Point{p.X, p.Y}
		}
		return mp, nil
	case *shp.PolyLine:
		lines := splitParts(v.Parts, v.Points)
		if len(lines) == 1 {
			return orb.LineString(lines[0]), nil
		}
		mls := make(orb.MultiLineString, len(lines))
		for i, l := range lines {
			mls[i] = orb.LineString(l)
		}
		return mls, nil
	case *shp.Polygon:
		return polygonFromRings(splitParts(v.Parts, v.Points)), nil
	}
	return nil, errors.Newf("unsupported shape type %T", s)
}

func splitParts(parts []int32, pts []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		seg := make([]orb.Point, 0, end-start)
		for _, p := range pts[start:end] {
			seg = append(seg, orb.Point{p.X, p.Y})
		}
		out = append(out, seg)
	}
	return out
}

// polygonFromRings groups shapefile rings into polygons. Outer rings wind
// clockwise and holes counter-clockwise; each hole joins the first outer
// ring that contains it.
func polygonFromRings(parts [][]orb.Point) orb.Geometry {
	var polys []orb.Polygon
	var holes []orb.Ring
	for _, p := range parts {
		r := orb.Ring(p)
		if r.Orientation() == orb.CW {
			polys = append(polys, orb.Polygon{r})
		} else {
			holes = append(holes, r)
		}
	}
	if len(polys) == 0 {
		for _, h := range holes {
			polys = append(polys, orb.Polygon{h})
		}
		holes = nil
	}

	for _, h := range holes {
		owner := 0
		for i, p := range polys {
			if len(h) > 0 && planar.RingContains(p[0], h[0]) {
				owner = i
				break
			}
		}
		polys[owner] = append(polys[owner], h)
	}

	if len(polys) == 1 {
		return polys[0]
	}
	return orb.MultiPolygon(polys)
}

// ReadGeoJSON reads a feature collection. GeoJSON coordinates are always
// WGS84 longitude/latitude.
func ReadGeoJSON(path string) (domain.Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Layer{}, errors.Wrapf(err, "read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return domain.Layer{}, errors.Wrapf(err, "decode %s", path)
	}

	layer := domain.Layer{Name: layerName(path), CRS: geo.WGS84}
	for _, f := range fc.Features {
		attrs := make(map[string]string, len(f.Properties))
		for k, v := range f.Properties {
			if v != nil {
				attrs[k] = fmt.Sprint(v)
			}
		}
		layer.Features = append(layer.Features, domain.Feature{Geometry: f.Geometry, Attrs: attrs})
	}
	return layer, nil
}
