package tripio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripgen/internal/domain"
	"tripgen/internal/geo"
)

func sampleTrips() []domain.Trip {
	date := time.Date(2011, 7, 4, 8, 15, 0, 0, time.UTC)
	return []domain.Trip{
		domain.NewTrip("0", orb.Point{144.96, -37.81}, orb.Point{145.02, -37.65}, domain.NewTimeOfDay(7, 42).Clock(), false, "Melbourne (C) - Inner", "Nillumbik (S) - South-West"),
		domain.NewTrip("17", orb.Point{144.8, -37.88}, orb.Point{144.97, -37.8}, date, true, "Melton (S) - East", "Melbourne (C) - Inner"),
	}
}

func seqOf(trips []domain.Trip) func(func(domain.Trip, error) bool) {
	return func(yield func(domain.Trip, error) bool) {
		for _, t := range trips {
			if !yield(t, nil) {
				return
			}
		}
	}
}

func TestRoundTripWithReprojection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.shp")
	n, err := WriteAll(path, geo.WGS84, geo.WebMercator, seqOf(sampleTrips()))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	crs, ok, err := geo.ReadPrj(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geo.WebMercator, crs)

	got, err := Read(path, geo.WGS84)
	require.NoError(t, err)
	require.Len(t, got, 2)

	for i, want := range sampleTrips() {
		assert.Equal(t, want.ID, got[i].ID)
		assert.InDelta(t, want.Origin.X(), got[i].Origin.X(), 1e-7)
		assert.InDelta(t, want.Origin.Y(), got[i].Origin.Y(), 1e-7)
		assert.InDelta(t, want.Dest.X(), got[i].Dest.X(), 1e-7)
		assert.InDelta(t, want.Dest.Y(), got[i].Dest.Y(), 1e-7)
		assert.Equal(t, want.OriginZone, got[i].OriginZone)
		assert.Equal(t, want.DestZone, got[i].DestZone)
		assert.Equal(t, want.HasDate, got[i].HasDate)
		assert.True(t, want.Departure.Equal(got[i].Departure), "departure %v != %v", want.Departure, got[i].Departure)
	}
}

func TestReadWithoutPrjAssumesTripCRS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.shp")
	_, err := WriteAll(path, geo.WGS84, geo.WGS84, seqOf(sampleTrips()))
	require.NoError(t, err)
	require.NoError(t, os.Remove(geo.PrjPath(path)))

	got, err := Read(path, geo.WGS84)
	require.NoError(t, err)
	assert.InDelta(t, 144.96, got[0].Origin.X(), 1e-9)
}

func TestWriteAllStopsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.shp")
	boom := errors.New("boom")
	seq := func(yield func(domain.Trip, error) bool) {
		if !yield(sampleTrips()[0], nil) {
			return
		}
		yield(domain.Trip{}, boom)
	}

	n, err := WriteAll(path, geo.WGS84, geo.WGS84, seq)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)

	got, err := Read(path, geo.WGS84)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
