package ingestor

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripgen/internal/config"
	"tripgen/internal/domain"
	"tripgen/internal/geo"
	"tripgen/internal/locgen"
)

const zonesDoc = `{"type":"FeatureCollection","features":[
  {"type":"Feature","properties":{"SLA_NAME06":"A"},"geometry":{"type":"Polygon","coordinates":[[[144.90,-37.85],[144.95,-37.85],[144.95,-37.80],[144.90,-37.80],[144.90,-37.85]]]}},
  {"type":"Feature","properties":{"SLA_NAME06":"B"},"geometry":{"type":"Polygon","coordinates":[[[145.00,-37.85],[145.05,-37.85],[145.05,-37.80],[145.00,-37.80],[145.00,-37.85]]]}}
]}`

const planningDoc = `{"type":"FeatureCollection","features":[
  {"type":"Feature","properties":{"ZONE_CODE":"R1Z"},"geometry":{"type":"Polygon","coordinates":[[[144.89,-37.86],[144.93,-37.86],[144.93,-37.79],[144.89,-37.79],[144.89,-37.86]]]}},
  {"type":"Feature","properties":{"ZONE_CODE":"R1Z"},"geometry":{"type":"Polygon","coordinates":[[[144.99,-37.86],[145.03,-37.86],[145.03,-37.79],[144.99,-37.79],[144.99,-37.86]]]}},
  {"type":"Feature","properties":{"ZONE_CODE":"IN1Z"},"geometry":{"type":"Polygon","coordinates":[[[144.93,-37.86],[144.99,-37.86],[144.99,-37.79],[144.93,-37.79],[144.93,-37.86]]]}}
]}`

const odDoc = `"Trips by origin, destination and start hour"
,,"Destination SLA","A","B"
"Origin SLA","Start hour of travel",,,
"A","7am",,"0","6"
,"8am",,"0","4"
"B","7am",,"5","0"
`

const stopsDoc = "stop_id,stop_code,stop_name,stop_lat,stop_lon\n" +
	"1,,West stop,-37.82,144.92\n" +
	"2,,East stop,-37.82,145.02\n"

const scenarioDoc = `
name: test
seed: 11
n_trips: 6
date: "2010-01-01"
zones:
  path: zones.geojson
od:
  vista: od.csv
origin_constraints:
  - type: zoning
    source: {path: planning.geojson}
    allowed: [R1Z]
dest_constraints:
  - type: proximity
    source: {gtfs: feed.zip, project_to: 3857}
    distance: 500
    cache_size: 8
`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"zones.geojson":    zonesDoc,
		"planning.geojson": planningDoc,
		"od.csv":           odDoc,
		"scenario.yaml":    scenarioDoc,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	f, err := os.Create(filepath.Join(dir, "feed.zip"))
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("stops.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte(stopsDoc))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	return filepath.Join(dir, "scenario.yaml")
}

func loadRefs(t *testing.T) *References {
	t.Helper()
	s, err := config.LoadScenario(writeFixture(t))
	require.NoError(t, err)
	refs, err := LoadReferences(context.Background(), s, t.TempDir(), nil)
	require.NoError(t, err)
	return refs
}

func generate(t *testing.T, refs *References, opts RunOptions) []domain.Trip {
	t.Helper()
	gen, _, err := refs.NewGenerator(opts)
	require.NoError(t, err)
	require.NoError(t, gen.Initialise())
	defer gen.Cleanup()

	var trips []domain.Trip
	for trip, err := range gen.All() {
		require.NoError(t, err)
		trips = append(trips, trip)
	}
	return trips
}

func TestLoadReferences(t *testing.T) {
	refs := loadRefs(t)

	assert.Equal(t, 2, refs.Zones.Len())
	assert.Equal(t, 10, refs.Counts[domain.ODPair{Origin: "A", Dest: "B"}])
	require.Len(t, refs.Origin, 1)
	require.Len(t, refs.Dest, 1)
	assert.Equal(t, geo.WebMercator, refs.Dest[0].Layer.CRS)
	assert.Len(t, refs.Dest[0].Layer.Features, 2)
	assert.Equal(t, 8, refs.Dest[0].Config.CacheSize)
}

func TestLoadReferencesUnknownZone(t *testing.T) {
	for _, tc := range []struct {
		name    string
		od      string
		wantErr bool
	}{
		{"counted pair", `"Trips by origin, destination and start hour"
,,"Destination SLA","A","C"
"Origin SLA","Start hour of travel",,,
"A","7am",,"0","3"
`, true},
		{"empty pair", `"Trips by origin, destination and start hour"
,,"Destination SLA","A","C"
"Origin SLA","Start hour of travel",,,
"A","7am",,"2","0"
`, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFixture(t)
			require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "od.csv"), []byte(tc.od), 0o644))
			s, err := config.LoadScenario(path)
			require.NoError(t, err)

			refs, err := LoadReferences(context.Background(), s, t.TempDir(), nil)
			if !tc.wantErr {
				require.NoError(t, err)
				assert.Equal(t, 2, refs.Counts.Total())
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, locgen.ErrUnknownZone))
			assert.Contains(t, err.Error(), `"C"`)
			assert.NotEmpty(t, errors.GetAllHints(err))
		})
	}
}

func TestGeneratedTripsSatisfyConstraints(t *testing.T) {
	refs := loadRefs(t)
	trips := generate(t, refs, RunOptions{})
	require.Len(t, trips, 6)

	toMercator, err := geo.NewTransformer(geo.WGS84, geo.WebMercator)
	require.NoError(t, err)
	stops := []orb.Point{
		toMercator.Point(orb.Point{144.92, -37.82}),
		toMercator.Point(orb.Point{145.02, -37.82}),
	}

	pairs := map[string]int{}
	for _, trip := range trips {
		pairs[trip.OriginZone+">"+trip.DestZone]++
		assert.True(t, trip.HasDate)
		assert.Contains(t, []int{7, 8}, trip.Departure.Hour())

		origin, _ := refs.Zones.Zone(trip.OriginZone)
		dest, _ := refs.Zones.Zone(trip.DestZone)
		assert.True(t, geo.Contains(origin, trip.Origin))
		assert.True(t, geo.Contains(dest, trip.Dest))

		// origins only in R1Z land
		x := trip.Origin.X()
		assert.True(t, x < 144.93 || (x > 144.99 && x < 145.03), "origin %v", trip.Origin)

		d := toMercator.Point(trip.Dest)
		near := planar.Distance(d, stops[0]) <= 500 || planar.Distance(d, stops[1]) <= 500
		assert.True(t, near, "destination %v", trip.Dest)
	}
	assert.Equal(t, map[string]int{"A>B": 4, "B>A": 2}, pairs)
}

func TestLoadZonesIndexedMatchesGeneratedLabels(t *testing.T) {
	refs := loadRefs(t)
	trips := generate(t, refs, RunOptions{})

	s := *refs.Scenario
	s.Zones.Grid = &config.Grid{MaxLevels: 2, CellsPerSide: 4, TargetCount: 1}
	zs, err := LoadZones(&s)
	require.NoError(t, err)

	name, ok := zs.ZoneContaining(orb.Point{145.02, -37.82})
	require.True(t, ok)
	assert.Equal(t, "B", name)

	mismatches, err := zs.Verify(trips, geo.WGS84)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	trips[0].OriginZone, trips[0].DestZone = trips[0].DestZone, trips[0].OriginZone
	mismatches, err = zs.Verify(trips, geo.WGS84)
	require.NoError(t, err)
	assert.Len(t, mismatches, 2)
}

func TestGenerationIsReproducible(t *testing.T) {
	refs := loadRefs(t)
	a := generate(t, refs, RunOptions{})
	b := generate(t, refs, RunOptions{})
	assert.Equal(t, a, b)

	seed := uint64(99)
	trips := 3
	c := generate(t, refs, RunOptions{Seed: &seed, Trips: &trips})
	assert.Len(t, c, 3)
	assert.NotEqual(t, a[0].Origin, c[0].Origin)
}

func TestLoader(t *testing.T) {
	s, err := config.LoadScenario(writeFixture(t))
	require.NoError(t, err)

	var updated *References
	l := NewLoader(s, t.TempDir(), 0, nil)
	l.SetOnUpdate(func(_ context.Context, r *References) { updated = r })
	assert.False(t, l.IsReady())
	assert.Nil(t, l.References())

	l.Start(context.Background())
	assert.True(t, l.IsReady())
	require.NotNil(t, l.References())
	assert.Same(t, l.References(), updated)
}

func TestLoaderStaysUnreadyOnFailure(t *testing.T) {
	s, err := config.LoadScenario(writeFixture(t))
	require.NoError(t, err)
	s.Zones.Path = filepath.Join(t.TempDir(), "missing.shp")

	l := NewLoader(s, t.TempDir(), 0, nil)
	l.Start(context.Background())
	assert.False(t, l.IsReady())
	assert.Nil(t, l.References())
}
