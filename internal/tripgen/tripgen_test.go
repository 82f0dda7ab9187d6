package tripgen

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripgen/internal/alloc"
	"tripgen/internal/domain"
	"tripgen/internal/geo"
	"tripgen/internal/locgen"
	"tripgen/internal/timegen"
)

type mapZones map[string]orb.Geometry

func (m mapZones) Zone(name string) (orb.Geometry, bool) {
	g, ok := m[name]
	return g, ok
}

func (m mapZones) CRS() geo.CRS { return geo.WGS84 }

func rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

var zones = mapZones{
	"A": rect(0, 0, 1, 1),
	"B": rect(5, 5, 6, 6),
	"C": rect(10, 0, 11, 1),
}

func hourCounts() domain.ODHourCounts {
	return domain.ODHourCounts{
		{Origin: "A", Dest: "B"}: {"07:00": 10, "08:00": 30},
		{Origin: "B", Dest: "C"}: {"09:00": 20},
		{Origin: "C", Dest: "A"}: {"17:00": 0},
	}
}

func newGenerator(seed uint64, counts domain.ODHourCounts, n int, mode alloc.Mode, date *time.Time) *Generator {
	return New(Config{
		Time:   timegen.NewBlockGenerator(seed, counts, nil),
		Origin: locgen.NewZoneGenerator(seed, zones, nil),
		Dest:   locgen.NewZoneGenerator(seed+1, zones, nil),
		Counts: counts.Totals(),
		NTrips: n,
		Mode:   mode,
		Date:   date,
	})
}

func collect(t *testing.T, g *Generator) []domain.Trip {
	t.Helper()
	var trips []domain.Trip
	for trip, err := range g.All() {
		require.NoError(t, err)
		trips = append(trips, trip)
	}
	return trips
}

func TestGeneratorDeterministic(t *testing.T) {
	run := func() []domain.Trip {
		g := newGenerator(17, hourCounts(), 30, alloc.Exact, nil)
		require.NoError(t, g.Initialise())
		defer g.Cleanup()
		return collect(t, g)
	}
	first, second := run(), run()
	require.Len(t, first, 30)
	assert.Equal(t, first, second)
}

func TestGeneratorBudgetAndOrder(t *testing.T) {
	g := newGenerator(1, hourCounts(), 10, alloc.Exact, nil)
	require.NoError(t, g.Initialise())

	quotas := g.Quotas()
	require.Len(t, quotas, 3)
	assert.Equal(t, domain.ODPair{Origin: "A", Dest: "B"}, quotas[0].Pair)
	assert.Equal(t, 7, quotas[0].Trips)
	assert.Equal(t, 3, quotas[1].Trips)
	assert.Equal(t, 0, quotas[2].Trips)

	trips := collect(t, g)
	require.Len(t, trips, 10)
	for i, trip := range trips {
		assert.Equal(t, domain.SequentialID(i), trip.ID)
		assert.False(t, trip.HasDate)
		want := quotas[0].Pair
		if i >= 7 {
			want = quotas[1].Pair
		}
		assert.Equal(t, want.Origin, trip.OriginZone)
		assert.Equal(t, want.Dest, trip.DestZone)
		assert.True(t, geo.Contains(zones[trip.OriginZone], trip.Origin))
		assert.True(t, geo.Contains(zones[trip.DestZone], trip.Dest))
	}

	_, ok, err := g.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 10, g.Generated())
}

func TestGeneratorRoundedMode(t *testing.T) {
	counts := domain.ODHourCounts{
		{Origin: "A", Dest: "B"}: {"07:00": 1},
		{Origin: "B", Dest: "C"}: {"07:00": 1},
		{Origin: "C", Dest: "A"}: {"07:00": 1},
	}
	g := newGenerator(1, counts, 10, alloc.Rounded, nil)
	require.NoError(t, g.Initialise())

	total := 0
	for _, q := range g.Quotas() {
		assert.Equal(t, 3, q.Trips)
		total += q.Trips
	}
	assert.Len(t, collect(t, g), total)
}

func TestGeneratorWithDate(t *testing.T) {
	date := time.Date(2011, 7, 4, 0, 0, 0, 0, time.UTC)
	g := newGenerator(2, hourCounts(), 5, alloc.Exact, &date)
	require.NoError(t, g.Initialise())

	for _, trip := range collect(t, g) {
		assert.True(t, trip.HasDate)
		assert.Equal(t, 2011, trip.Departure.Year())
		assert.Equal(t, time.July, trip.Departure.Month())
		assert.Equal(t, 4, trip.Departure.Day())
	}
}

func TestGeneratorUnknownZone(t *testing.T) {
	counts := domain.ODHourCounts{
		{Origin: "A", Dest: "B"}: {"07:00": 1},
		{Origin: "B", Dest: "Z"}: {"07:00": 1},
	}
	g := newGenerator(1, counts, 4, alloc.Exact, nil)
	require.NoError(t, g.Initialise())

	var err error
	n := 0
	for _, e := range g.All() {
		if e != nil {
			err = e
			break
		}
		n++
	}
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, locgen.ErrUnknownZone)

	_, ok, again := g.Next()
	assert.False(t, ok)
	assert.ErrorIs(t, again, locgen.ErrUnknownZone)
}

func TestGeneratorZeroObservedTotal(t *testing.T) {
	counts := domain.ODHourCounts{{Origin: "A", Dest: "B"}: {"07:00": 0}}
	g := newGenerator(1, counts, 3, alloc.Exact, nil)
	assert.ErrorIs(t, g.Initialise(), alloc.ErrZeroTotal)
}

func TestGeneratorZeroBudget(t *testing.T) {
	g := newGenerator(1, hourCounts(), 0, alloc.Exact, nil)
	require.NoError(t, g.Initialise())
	_, ok, err := g.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestGeneratorRequiresInitialise(t *testing.T) {
	g := newGenerator(1, hourCounts(), 3, alloc.Exact, nil)
	_, _, err := g.Next()
	assert.ErrorIs(t, err, ErrNotInitialised)
}
