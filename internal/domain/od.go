package domain

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
)

// ODPair is an ordered (origin zone, destination zone) key.
type ODPair struct {
	Origin string `json:"origin"`
	Dest   string `json:"dest"`
}

func (p ODPair) Less(o ODPair) bool {
	if p.Origin != o.Origin {
		return p.Origin < o.Origin
	}
	return p.Dest < o.Dest
}

func (p ODPair) String() string {
	return p.Origin + " -> " + p.Dest
}

// ODCounts holds a scalar trip count per OD pair.
type ODCounts map[ODPair]int

// SortedPairs returns the table's keys in generation order.
func (c ODCounts) SortedPairs() []ODPair {
	pairs := make([]ODPair, 0, len(c))
	for p := range c {
		pairs = append(pairs, p)
	}
	sortPairs(pairs)
	return pairs
}

func (c ODCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

func (c ODCounts) Validate() error {
	for p, n := range c {
		if n < 0 {
			return errors.Newf("negative trip count %d for %s", n, p)
		}
	}
	return nil
}

// ODHourCounts holds trip counts per OD pair broken down by departure hour
// label ("HH:MM").
type ODHourCounts map[ODPair]map[string]int

// Totals sums each pair's hourly counts.
func (c ODHourCounts) Totals() ODCounts {
	totals := make(ODCounts, len(c))
	for p, hours := range c {
		sum := 0
		for _, n := range hours {
			sum += n
		}
		totals[p] = sum
	}
	return totals
}

func (c ODHourCounts) Validate() error {
	for p, hours := range c {
		for label, n := range hours {
			if n < 0 {
				return errors.Newf("negative trip count %d for %s at %s", n, p, label)
			}
			if _, err := ParseTimeOfDay(label); err != nil {
				return errors.Wrapf(err, "hour label for %s", p)
			}
		}
	}
	return nil
}

// Add increments the count for pair at hour label.
func (c ODHourCounts) Add(p ODPair, label string, n int) {
	hours, ok := c[p]
	if !ok {
		hours = make(map[string]int)
		c[p] = hours
	}
	hours[label] += n
}

func sortPairs(pairs []ODPair) {
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].Less(pairs[j])
	})
}

// TimeOfDay is a clock time in minutes since midnight.
type TimeOfDay int

const MinutesPerDay = 24 * 60

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return time.Date(0, 1, 1, t.Hour(), t.Minute(), 0, 0, time.UTC).Format(TimeOnlyLayout)
}

// On places t on the given calendar date, in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, date.Location())
}

// Clock returns t as a time value with a zero date, matching what
// ParseDeparture yields for bare times.
func (t TimeOfDay) Clock() time.Time {
	return time.Date(0, 1, 1, t.Hour(), t.Minute(), 0, 0, time.UTC)
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	tm, err := time.Parse(TimeOnlyLayout, s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse time of day %q", s)
	}
	return NewTimeOfDay(tm.Hour(), tm.Minute()), nil
}
