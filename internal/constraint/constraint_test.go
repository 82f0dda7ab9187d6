package constraint

import (
	"math/rand/v2"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripgen/internal/domain"
	"tripgen/internal/geo"
)

func rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func planningLayer() domain.Layer {
	return domain.Layer{
		Name: "planning",
		CRS:  geo.WGS84,
		Features: []domain.Feature{
			{Geometry: rect(0, 0, 5, 10), Attrs: map[string]string{"ZONE_CODE": "GRZ1"}},
			{Geometry: rect(5, 0, 10, 10), Attrs: map[string]string{"ZONE_CODE": "IN1Z"}},
			{Geometry: rect(20, 20, 30, 30), Attrs: map[string]string{"ZONE_CODE": "GRZ1", "ALT": "X"}},
		},
	}
}

func roadLayer() domain.Layer {
	return domain.Layer{
		Name: "roads",
		CRS:  geo.WGS84,
		Features: []domain.Feature{
			{Geometry: orb.LineString{{0, 5}, {10, 5}}},
			{Geometry: orb.Point{25, 25}},
		},
	}
}

func TestZoningChecker(t *testing.T) {
	c := NewZoningChecker(planningLayer(), []string{"GRZ1"})
	require.NoError(t, c.Initialise(geo.WGS84))
	defer c.Cleanup()

	require.NoError(t, c.UpdateRegion("A", rect(0, 0, 10, 10), 10))

	zone, ok := c.ZoneAt(orb.Point{2, 2})
	require.True(t, ok)
	assert.Equal(t, "GRZ1", zone)
	assert.True(t, c.IsValid(orb.Point{2, 2}))

	zone, ok = c.ZoneAt(orb.Point{7, 2})
	require.True(t, ok)
	assert.Equal(t, "IN1Z", zone)
	assert.False(t, c.IsValid(orb.Point{7, 2}))

	_, ok = c.ZoneAt(orb.Point{15, 15})
	assert.False(t, ok)
	assert.False(t, c.IsValid(orb.Point{15, 15}))

	// the far polygon is filtered out for region A
	assert.False(t, c.IsValid(orb.Point{25, 25}))

	require.NoError(t, c.UpdateRegion("B", rect(18, 18, 32, 32), 10))
	assert.True(t, c.IsValid(orb.Point{25, 25}))
	assert.False(t, c.IsValid(orb.Point{2, 2}))
}

func TestZoningCheckerCustomField(t *testing.T) {
	c := NewZoningChecker(planningLayer(), []string{"X"}, WithZoneField("ALT"))
	require.NoError(t, c.Initialise(geo.WGS84))

	assert.True(t, c.IsValid(orb.Point{25, 25}), "unscoped checker scans every polygon")
	assert.False(t, c.IsValid(orb.Point{2, 2}))
}

func TestZoningCheckerRequiresInitialise(t *testing.T) {
	c := NewZoningChecker(planningLayer(), []string{"GRZ1"})
	assert.ErrorIs(t, c.UpdateRegion("A", rect(0, 0, 1, 1), 1), ErrNotInitialised)
}

func TestZoningCheckerGridMatchesScan(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 5))
	layer := domain.Layer{Name: "many", CRS: geo.WGS84}
	for i := 0; i < 40; i++ {
		for j := 0; j < 10; j++ {
			code := "GRZ1"
			if (i+j)%3 == 0 {
				code = "IN2Z"
			}
			layer.Features = append(layer.Features, domain.Feature{
				Geometry: rect(float64(i), float64(j), float64(i+1), float64(j+1)),
				Attrs:    map[string]string{"ZONE_CODE": code},
			})
		}
	}
	require.Greater(t, len(layer.Features), zoningGridThreshold)

	c := NewZoningChecker(layer, []string{"GRZ1"})
	require.NoError(t, c.Initialise(geo.WGS84))
	require.NotNil(t, c.grid)
	require.NoError(t, c.UpdateRegion("all", rect(0, 0, 40, 10), 100))

	for n := 0; n < 500; n++ {
		p := orb.Point{r.Float64()*39.8 + 0.1, r.Float64()*9.8 + 0.1}
		i, j := int(p.X()), int(p.Y())
		want := (i+j)%3 != 0
		assert.Equal(t, want, c.IsValid(p), "point %v", p)
	}
}

func TestZoningCheckerTransformsPoints(t *testing.T) {
	layer := planningLayer()
	tf, err := geo.NewTransformer(geo.WGS84, geo.WebMercator)
	require.NoError(t, err)
	for i, f := range layer.Features {
		layer.Features[i].Geometry = tf.Geometry(f.Geometry)
	}
	layer.CRS = geo.WebMercator

	c := NewZoningChecker(layer, []string{"GRZ1"})
	require.NoError(t, c.Initialise(geo.WGS84))
	require.NoError(t, c.UpdateRegion("A", rect(0, 0, 10, 10), 10))

	assert.True(t, c.IsValid(orb.Point{2, 2}))
	assert.False(t, c.IsValid(orb.Point{7, 2}))
}

func TestProximityCheckerStrategies(t *testing.T) {
	cases := []struct {
		name   string
		opts   []ProximityOption
		volume int
		want   Strategy
	}{
		{name: "list", volume: 10, want: StrategyList},
		{name: "tree", volume: 10, opts: []ProximityOption{WithHighVolume(5)}, want: StrategyTree},
		{name: "grid", volume: 10, opts: []ProximityOption{WithGridIndex(3, 2, 1)}, want: StrategyGrid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewProximityChecker(roadLayer(), 1.0, tc.opts...)
			require.NoError(t, err)
			require.NoError(t, c.Initialise(geo.WGS84))
			defer c.Cleanup()

			require.NoError(t, c.UpdateRegion("A", rect(0, 0, 10, 10), tc.volume))
			assert.Equal(t, tc.want, c.Strategy())

			assert.True(t, c.IsValid(orb.Point{3, 5.5}))
			assert.True(t, c.IsValid(orb.Point{3, 4.2}))
			assert.False(t, c.IsValid(orb.Point{3, 7}))
			assert.False(t, c.IsValid(orb.Point{3, 1}))

			require.NoError(t, c.UpdateRegion("B", rect(20, 20, 30, 30), tc.volume))
			assert.True(t, c.IsValid(orb.Point{25.5, 25.5}))
			assert.False(t, c.IsValid(orb.Point{27, 27}))
		})
	}
}

func TestProximityCheckerAgreesAcrossStrategies(t *testing.T) {
	r := rand.New(rand.NewPCG(9, 9))
	layer := domain.Layer{Name: "stops", CRS: geo.WGS84}
	for i := 0; i < 300; i++ {
		layer.Features = append(layer.Features, domain.Feature{
			Geometry: orb.Point{r.Float64() * 100, r.Float64() * 100},
		})
	}
	region := rect(10, 10, 90, 90)

	list, err := NewProximityChecker(layer, 2.5)
	require.NoError(t, err)
	tree, err := NewProximityChecker(layer, 2.5, WithHighVolume(1))
	require.NoError(t, err)
	grid, err := NewProximityChecker(layer, 2.5, WithGridIndex(4, 3, 8))
	require.NoError(t, err)

	for _, c := range []*ProximityChecker{list, tree, grid} {
		require.NoError(t, c.Initialise(geo.WGS84))
		require.NoError(t, c.UpdateRegion("R", region, 100))
	}

	for n := 0; n < 1000; n++ {
		p := orb.Point{10 + r.Float64()*80, 10 + r.Float64()*80}
		want := list.IsValid(p)
		assert.Equal(t, want, tree.IsValid(p), "tree at %v", p)
		assert.Equal(t, want, grid.IsValid(p), "grid at %v", p)
	}
}

func TestProximityCheckerEmptyRegion(t *testing.T) {
	lenient, err := NewProximityChecker(roadLayer(), 1.0)
	require.NoError(t, err)
	require.NoError(t, lenient.Initialise(geo.WGS84))
	require.NoError(t, lenient.UpdateRegion("far", rect(50, 50, 60, 60), 1))
	assert.True(t, lenient.IsValid(orb.Point{55, 55}))

	strict, err := NewProximityChecker(roadLayer(), 1.0, WithStrict())
	require.NoError(t, err)
	require.NoError(t, strict.Initialise(geo.WGS84))
	require.NoError(t, strict.UpdateRegion("far", rect(50, 50, 60, 60), 1))
	assert.False(t, strict.IsValid(orb.Point{55, 55}))
}

func TestProximityCheckerCachesPerRegion(t *testing.T) {
	c, err := NewProximityChecker(roadLayer(), 1.0)
	require.NoError(t, err)
	require.NoError(t, c.Initialise(geo.WGS84))

	require.NoError(t, c.UpdateRegion("A", rect(0, 0, 10, 10), 1))
	require.NoError(t, c.UpdateRegion("B", rect(20, 20, 30, 30), 1))
	assert.Equal(t, 2, c.lists.Len(false))

	// a cached key is reused even if a different geometry is passed
	require.NoError(t, c.UpdateRegion("A", rect(20, 20, 30, 30), 1))
	assert.True(t, c.IsValid(orb.Point{3, 5.5}))
	assert.Equal(t, 2, c.lists.Len(false))

	c.Cleanup()
	assert.Equal(t, 0, c.lists.Len(false))
	assert.False(t, c.IsValid(orb.Point{3, 5.5}))
}

func TestCheckerCacheSizeBoundsRegions(t *testing.T) {
	pc, err := NewProximityChecker(roadLayer(), 1.0, WithProximityCacheSize(1))
	require.NoError(t, err)
	require.NoError(t, pc.Initialise(geo.WGS84))
	defer pc.Cleanup()

	require.NoError(t, pc.UpdateRegion("A", rect(0, 0, 10, 10), 1))
	require.NoError(t, pc.UpdateRegion("B", rect(20, 20, 30, 30), 1))
	assert.Equal(t, 1, pc.lists.Len(false))

	// A was evicted, so its list is rebuilt from the geometry given now
	require.NoError(t, pc.UpdateRegion("A", rect(20, 20, 30, 30), 1))
	assert.False(t, pc.IsValid(orb.Point{3, 5.5}))
	assert.True(t, pc.IsValid(orb.Point{25, 25.5}))

	zc := NewZoningChecker(planningLayer(), []string{"GRZ1"}, WithZoningCacheSize(1))
	require.NoError(t, zc.Initialise(geo.WGS84))
	defer zc.Cleanup()

	require.NoError(t, zc.UpdateRegion("A", rect(0, 0, 10, 10), 1))
	require.NoError(t, zc.UpdateRegion("B", rect(18, 18, 32, 32), 1))
	assert.Equal(t, 1, zc.cache.Len(false))
	assert.True(t, zc.IsValid(orb.Point{25, 25}))
}

func TestNewProximityCheckerRejectsNegativeDistance(t *testing.T) {
	_, err := NewProximityChecker(roadLayer(), -1)
	assert.Error(t, err)
}
