package otp

import (
	"github.com/umahmood/haversine"

	"tripgen/internal/domain"
)

// TripDistanceKm is the great-circle distance between a WGS84 trip's
// endpoints.
func TripDistanceKm(t domain.Trip) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: t.Origin.Lat(), Lon: t.Origin.Lon()},
		haversine.Coord{Lat: t.Dest.Lat(), Lon: t.Dest.Lon()},
	)
	return km
}

// MinDistance keeps trips whose endpoints are at least km apart.
func MinDistance(trips []domain.Trip, km float64) []domain.Trip {
	var out []domain.Trip
	for _, t := range trips {
		if TripDistanceKm(t) >= km {
			out = append(out, t)
		}
	}
	return out
}

// WithItinerary keeps trips that routed successfully.
func WithItinerary(trips []domain.Trip, results []Result) []domain.Trip {
	ok := make(map[string]bool, len(results))
	for _, r := range results {
		if r.OK() {
			ok[r.TripID] = true
		}
	}
	var out []domain.Trip
	for _, t := range trips {
		if ok[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// LongestWalkOver keeps results whose longest walk leg exceeds metres.
func LongestWalkOver(results []Result, metres float64) []Result {
	var out []Result
	for _, r := range results {
		if r.OK() && r.Itinerary.LongestWalkLeg() > metres {
			out = append(out, r)
		}
	}
	return out
}
