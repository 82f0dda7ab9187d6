package otp

import (
	"time"
)

const ModeWalk = "WALK"

type Leg struct {
	Mode       string  `json:"mode"`
	Distance   float64 `json:"distance"`
	AgencyName string  `json:"agencyName,omitempty"`
	StartTime  int64   `json:"startTime"`
	EndTime    int64   `json:"endTime"`
}

// Itinerary mirrors the planner's itinerary object. Start and end are epoch
// milliseconds; the durations are seconds.
type Itinerary struct {
	StartTime   int64 `json:"startTime"`
	EndTime     int64 `json:"endTime"`
	Duration    int64 `json:"duration"`
	WalkTime    int64 `json:"walkTime"`
	TransitTime int64 `json:"transitTime"`
	WaitingTime int64 `json:"waitingTime"`
	Transfers   int   `json:"transfers"`
	Legs        []Leg `json:"legs"`
}

func (it *Itinerary) Start() time.Time {
	return time.UnixMilli(it.StartTime)
}

func (it *Itinerary) End() time.Time {
	return time.UnixMilli(it.EndTime)
}

// TotalTime runs from the requested departure to arrival, so it includes the
// initial wait.
func (it *Itinerary) TotalTime(requested time.Time) time.Duration {
	return it.End().Sub(requested)
}

func (it *Itinerary) InitialWait(requested time.Time) time.Duration {
	return it.Start().Sub(requested)
}

// TransferWait is the waiting between legs; the planner does not count the
// initial wait in it.
func (it *Itinerary) TransferWait() time.Duration {
	return time.Duration(it.WaitingTime) * time.Second
}

func (it *Itinerary) TotalWait(requested time.Time) time.Duration {
	return it.InitialWait(requested) + it.TransferWait()
}

func (it *Itinerary) Transit() time.Duration {
	return time.Duration(it.TransitTime) * time.Second
}

func (it *Itinerary) Walk() time.Duration {
	return time.Duration(it.WalkTime) * time.Second
}

// Distance is the summed leg distance in metres.
func (it *Itinerary) Distance() float64 {
	var d float64
	for _, l := range it.Legs {
		d += l.Distance
	}
	return d
}

// SpeedAlongRoute is the route distance over total trip time, in km/h.
func (it *Itinerary) SpeedAlongRoute(requested time.Time) float64 {
	hours := it.TotalTime(requested).Hours()
	if hours <= 0 {
		return 0
	}
	return it.Distance() / 1000 / hours
}

func (it *Itinerary) LongestWalkLeg() float64 {
	var longest float64
	for _, l := range it.Legs {
		if l.Mode == ModeWalk && l.Distance > longest {
			longest = l.Distance
		}
	}
	return longest
}

// Modes lists leg modes in travel order.
func (it *Itinerary) Modes() []string {
	out := make([]string, len(it.Legs))
	for i, l := range it.Legs {
		out[i] = l.Mode
	}
	return out
}

// FirstNonWalkMode is empty for a walk-only trip.
func (it *Itinerary) FirstNonWalkMode() string {
	for _, l := range it.Legs {
		if l.Mode != ModeWalk {
			return l.Mode
		}
	}
	return ""
}

func (it *Itinerary) DistanceByMode() map[string]float64 {
	out := make(map[string]float64)
	for _, l := range it.Legs {
		out[l.Mode] += l.Distance
	}
	return out
}

// Agencies lists the distinct transit agencies used, in first-use order.
func (it *Itinerary) Agencies() []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range it.Legs {
		if l.Mode == ModeWalk || l.AgencyName == "" || seen[l.AgencyName] {
			continue
		}
		seen[l.AgencyName] = true
		out = append(out, l.AgencyName)
	}
	return out
}
