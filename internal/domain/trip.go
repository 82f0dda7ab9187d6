package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/paulmach/orb"
)

const (
	// DepartureLayout is used when a trip carries a full departure date.
	DepartureLayout = "2006-01-02-15:04"
	// TimeOnlyLayout is used when only the time of day is known.
	TimeOnlyLayout = "15:04"
)

// Trip is a single synthetic or surveyed trip. Coordinates are x=lon, y=lat
// in the router CRS. Trips are never modified after creation.
type Trip struct {
	ID         string    `json:"id"`
	Origin     orb.Point `json:"origin"`
	Dest       orb.Point `json:"dest"`
	Departure  time.Time `json:"departure"`
	HasDate    bool      `json:"hasDate"`
	OriginZone string    `json:"originZone"`
	DestZone   string    `json:"destZone"`
}

func NewTrip(id string, origin, dest orb.Point, dep time.Time, hasDate bool, originZone, destZone string) Trip {
	return Trip{
		ID:         id,
		Origin:     origin,
		Dest:       dest,
		Departure:  dep,
		HasDate:    hasDate,
		OriginZone: originZone,
		DestZone:   destZone,
	}
}

// SequentialID is the identifier given to generated trips.
func SequentialID(i int) string {
	return strconv.Itoa(i)
}

// WithDeparture returns a copy of t departing at dep.
func (t Trip) WithDeparture(dep time.Time, hasDate bool) Trip {
	t.Departure = dep
	t.HasDate = hasDate
	return t
}

// DepartureString formats the departure the way trip files store it.
func (t Trip) DepartureString() string {
	if t.HasDate {
		return t.Departure.Format(DepartureLayout)
	}
	return t.Departure.Format(TimeOnlyLayout)
}

// TimeOfDay returns the departure's clock time.
func (t Trip) TimeOfDay() TimeOfDay {
	return TimeOfDay(t.Departure.Hour()*60 + t.Departure.Minute())
}

// ParseDeparture tries the dated layout first and falls back to a bare time.
func ParseDeparture(s string) (time.Time, bool, error) {
	if dt, err := time.Parse(DepartureLayout, s); err == nil {
		return dt, true, nil
	}
	dt, err := time.Parse(TimeOnlyLayout, s)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "parse departure %q", s)
	}
	return dt, false, nil
}

func (t Trip) String() string {
	return fmt.Sprintf("trip '%s': %f,%f to %f,%f at %s ('%s'->'%s')",
		t.ID, t.Origin.X(), t.Origin.Y(), t.Dest.X(), t.Dest.Y(),
		t.DepartureString(), t.OriginZone, t.DestZone)
}
