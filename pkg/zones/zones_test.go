package zones

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripgen/internal/domain"
	"tripgen/internal/geo"
)

// clockwise squares, the shapefile convention for outer rings
func cwSquare(x, y, size float64) []shp.Point {
	return []shp.Point{{X: x, Y: y}, {X: x, Y: y + size}, {X: x + size, Y: y + size}, {X: x + size, Y: y}, {X: x, Y: y}}
}

func ccwSquare(x, y, size float64) []shp.Point {
	return []shp.Point{{X: x, Y: y}, {X: x + size, Y: y}, {X: x + size, Y: y + size}, {X: x, Y: y + size}, {X: x, Y: y}}
}

func writeZoneShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "slas.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField(DefaultNameField, 50)}))

	records := []struct {
		name  string
		parts [][]shp.Point
	}{
		{"Melton (S) - East", [][]shp.Point{cwSquare(0, 0, 10), ccwSquare(4, 4, 2)}},
		{"Melbourne (C) - Inner", [][]shp.Point{cwSquare(20, 0, 5), cwSquare(30, 0, 5)}},
	}
	for i, rec := range records {
		poly := shp.Polygon(*shp.NewPolyLine(rec.parts))
		w.Write(&poly)
		require.NoError(t, w.WriteAttribute(i, 0, rec.name))
	}
	w.Close()
	require.NoError(t, geo.WritePrj(path, geo.WGS84))
	return path
}

func TestLoadShapefile(t *testing.T) {
	path := writeZoneShapefile(t, t.TempDir())

	set, err := Load(path, "", geo.WebMercator)
	require.NoError(t, err)
	assert.Equal(t, geo.WGS84, set.CRS(), "prj sidecar wins over the fallback")
	assert.Equal(t, 2, set.Len())

	melton, ok := set.Zone("Melton (S) - East")
	require.True(t, ok)
	poly, ok := melton.(orb.Polygon)
	require.True(t, ok, "got %T", melton)
	assert.Len(t, poly, 2)
	assert.True(t, geo.Contains(poly, orb.Point{1, 1}))
	assert.False(t, geo.Contains(poly, orb.Point{5, 5}), "hole excluded")

	inner, ok := set.Zone("Melbourne (C) - Inner")
	require.True(t, ok)
	assert.IsType(t, orb.MultiPolygon{}, inner)

	_, ok = set.Zone("Nillumbik (S) - South-West")
	assert.False(t, ok)
}

func TestZoneContaining(t *testing.T) {
	set, err := Load(writeZoneShapefile(t, t.TempDir()), DefaultNameField, geo.WGS84)
	require.NoError(t, err)

	check := func() {
		name, ok := set.ZoneContaining(orb.Point{32, 2})
		require.True(t, ok)
		assert.Equal(t, "Melbourne (C) - Inner", name)

		_, ok = set.ZoneContaining(orb.Point{5, 5})
		assert.False(t, ok)
		_, ok = set.ZoneContaining(orb.Point{100, 100})
		assert.False(t, ok)
	}
	check()
	require.NoError(t, set.Index(3, 4, 2))
	check()
}

func TestVerifyLabels(t *testing.T) {
	set, err := Load(writeZoneShapefile(t, t.TempDir()), DefaultNameField, geo.WGS84)
	require.NoError(t, err)
	require.NoError(t, set.Index(3, 4, 2))

	trips := []domain.Trip{
		{ID: "ok", Origin: orb.Point{1, 1}, Dest: orb.Point{32, 2},
			OriginZone: "Melton (S) - East", DestZone: "Melbourne (C) - Inner"},
		{ID: "swapped", Origin: orb.Point{22, 2}, Dest: orb.Point{1, 1},
			OriginZone: "Melton (S) - East", DestZone: "Melton (S) - East"},
		{ID: "in-hole", Origin: orb.Point{5, 5}, OriginZone: "Melton (S) - East"},
		{ID: "unlabelled", Origin: orb.Point{100, 100}, Dest: orb.Point{100, 100}},
	}

	got, err := set.Verify(trips, geo.WGS84)
	require.NoError(t, err)
	assert.Equal(t, []Mismatch{
		{TripID: "swapped", End: "origin", Label: "Melton (S) - East", Found: "Melbourne (C) - Inner"},
		{TripID: "in-hole", End: "origin", Label: "Melton (S) - East"},
	}, got)

	// trips in Web Mercator are projected back before the lookup
	fwd, err := geo.NewTransformer(geo.WGS84, geo.WebMercator)
	require.NoError(t, err)
	merc := []domain.Trip{trips[0]}
	merc[0].Origin = fwd.Point(merc[0].Origin)
	merc[0].Dest = fwd.Point(merc[0].Dest)
	got, err = set.Verify(merc, geo.WebMercator)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.geojson")
	doc := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"name":"A","pop":12},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
	  {"type":"Feature","properties":{"name":"A","pop":3},"geometry":{"type":"Polygon","coordinates":[[[2,2],[3,2],[3,3],[2,3],[2,2]]]}},
	  {"type":"Feature","properties":{"name":"B"},"geometry":{"type":"Polygon","coordinates":[[[5,5],[6,5],[6,6],[5,6],[5,5]]]}}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	layer, err := ReadLayer(path, geo.WebMercator)
	require.NoError(t, err)
	assert.Equal(t, geo.WGS84, layer.CRS)
	require.Len(t, layer.Features, 3)
	assert.Equal(t, "12", layer.Features[0].Attr("pop"))

	set, err := FromLayer(layer, "name")
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	a, ok := set.Zone("A")
	require.True(t, ok)
	assert.IsType(t, orb.MultiPolygon{}, a, "duplicate names merge")
	assert.True(t, geo.Contains(a, orb.Point{2.5, 2.5}))
}

func TestFromLayerRejectsMissingName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.json")
	doc := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path, "name", geo.WGS84)
	assert.Error(t, err)
}

func TestNewSetRejectsLines(t *testing.T) {
	_, err := NewSet(geo.WGS84, []Zone{{Name: "road", Geometry: orb.LineString{{0, 0}, {1, 1}}}})
	assert.ErrorIs(t, err, ErrNotAreal)
}
