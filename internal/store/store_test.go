package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripgen/internal/domain"
	"tripgen/pkg/otp"
)

func run(id, scenario string, created time.Time, trips int) *domain.Run {
	r := &domain.Run{RunSummary: domain.RunSummary{ID: id, Scenario: scenario, CreatedAt: created, Generated: trips}}
	for i := range trips {
		r.Trips = append(r.Trips, domain.Trip{ID: domain.SequentialID(i)})
	}
	return r
}

func TestStorePutGetList(t *testing.T) {
	s := New(time.Hour)
	now := time.Now()
	s.Put(run("a", "am", now.Add(-2*time.Minute), 3))
	s.Put(run("b", "pm", now.Add(-time.Minute), 2))
	s.Put(run("c", "am", now, 1))

	got, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, "pm", got.Scenario)

	trips, ok := s.Trips("a")
	require.True(t, ok)
	assert.Len(t, trips, 3)
	trips[0].ID = "changed"
	again, _ := s.Trips("a")
	assert.Equal(t, "0", again[0].ID, "callers get a copy")

	ids := func(list []domain.RunSummary) []string {
		var out []string
		for _, r := range list {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids(s.List(ListOptions{})))
	assert.Equal(t, []string{"c", "a"}, ids(s.List(ListOptions{Scenario: "am"})))
	assert.Equal(t, []string{"c"}, ids(s.List(ListOptions{Limit: 1})))

	assert.Equal(t, 3, s.Count())
	assert.Equal(t, 6, s.TripCount())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStorePruneStale(t *testing.T) {
	s := New(time.Minute)
	s.Put(run("old", "am", time.Now().Add(-time.Hour), 1))
	s.Put(run("new", "am", time.Now(), 1))

	assert.Equal(t, []string{"old"}, s.PruneStale())
	assert.Equal(t, 1, s.Count())
	assert.Len(t, s.List(ListOptions{Scenario: "am"}), 1)
}

func ok(id string) otp.Result {
	return otp.Result{TripID: id, Itinerary: &otp.Itinerary{}}
}

func failed(id string) otp.Result {
	return otp.Result{TripID: id, Error: "no itinerary"}
}

func TestResultsSubset(t *testing.T) {
	r := NewResults([]otp.Result{ok("1"), failed("2"), ok("3")}, nil)

	got, err := r.Subset([]string{"3", "1"}, true)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].TripID)

	_, err = r.Subset([]string{"1", "9"}, true)
	assert.True(t, errors.Is(err, ErrTripNotFound))

	got, err = r.Subset([]string{"1", "9"}, false)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestResultsExclude(t *testing.T) {
	r := NewResults([]otp.Result{ok("1"), failed("2"), ok("3")}, nil)
	got := r.Exclude([]string{"2", "missing"})
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].TripID)
	assert.Equal(t, "3", got[1].TripID)
}

func TestCompare(t *testing.T) {
	base := NewResults([]otp.Result{ok("1"), ok("2"), failed("3"), ok("10"), failed("11")}, nil)
	other := NewResults([]otp.Result{ok("1"), failed("2"), ok("3"), ok("10"), ok("12")}, nil)

	c := Compare(base, other)
	assert.Equal(t, []string{"1", "10"}, c.ValidInBoth)
	assert.Equal(t, []string{"2"}, c.Lost)
	assert.Equal(t, []string{"3", "12"}, c.Added)
	assert.Equal(t, 6, c.Total)
}

func TestResultsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	in := []otp.Result{ok("1"), failed("2")}
	require.NoError(t, WriteResults(path, in))

	r, err := ReadResults(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())
	got, found := r.Get("2")
	require.True(t, found)
	assert.False(t, got.OK())
}
