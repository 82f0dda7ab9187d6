package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"sort"

	"github.com/cockroachdb/errors"

	"tripgen/pkg/otp"
)

var ErrTripNotFound = errors.New("trip not found")

// Results indexes routing results by trip ID, keeping file order.
type Results struct {
	order  []string
	byID   map[string]otp.Result
	logger *slog.Logger
}

func NewResults(results []otp.Result, logger *slog.Logger) *Results {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Results{
		byID:   make(map[string]otp.Result, len(results)),
		logger: logger.With("component", "results"),
	}
	for _, res := range results {
		if _, dup := r.byID[res.TripID]; !dup {
			r.order = append(r.order, res.TripID)
		}
		r.byID[res.TripID] = res
	}
	return r
}

func ReadResults(path string, logger *slog.Logger) (*Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read results")
	}
	var results []otp.Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, errors.Wrapf(err, "decode results %s", path)
	}
	return NewResults(results, logger), nil
}

func WriteResults(path string, results []otp.Result) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode results")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write results")
}

func (r *Results) Len() int {
	return len(r.order)
}

func (r *Results) Get(id string) (otp.Result, bool) {
	res, ok := r.byID[id]
	return res, ok
}

func (r *Results) All() []otp.Result {
	out := make([]otp.Result, len(r.order))
	for i, id := range r.order {
		out[i] = r.byID[id]
	}
	return out
}

// Subset returns the results for ids in the order given. A missing ID is an
// error when required; otherwise it is logged and skipped.
func (r *Results) Subset(ids []string, required bool) ([]otp.Result, error) {
	out := make([]otp.Result, 0, len(ids))
	for _, id := range ids {
		res, ok := r.byID[id]
		if !ok {
			if required {
				return nil, errors.Wrapf(ErrTripNotFound, "trip %s", id)
			}
			r.logger.Warn("trip not in results, skipping", "trip", id)
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// Exclude returns every result whose ID is not in ids. IDs with no result
// are ignored.
func (r *Results) Exclude(ids []string) []otp.Result {
	skip := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	var out []otp.Result
	for _, id := range r.order {
		if _, ok := skip[id]; ok {
			continue
		}
		out = append(out, r.byID[id])
	}
	return out
}

// Comparison splits trips by whether they routed in a base and another
// scenario.
type Comparison struct {
	ValidInBoth []string `json:"validInBoth"`
	Lost        []string `json:"lost"`
	Added       []string `json:"added"`
	Total       int      `json:"total"`
}

// Compare matches results by trip ID. Lost trips routed in base but not in
// other; added trips did the reverse. A trip missing from one side counts as
// not routed there.
func Compare(base, other *Results) Comparison {
	ids := make(map[string]struct{}, base.Len()+other.Len())
	for _, id := range base.order {
		ids[id] = struct{}{}
	}
	for _, id := range other.order {
		ids[id] = struct{}{}
	}

	var c Comparison
	for id := range ids {
		b, _ := base.Get(id)
		o, _ := other.Get(id)
		switch {
		case b.OK() && o.OK():
			c.ValidInBoth = append(c.ValidInBoth, id)
		case b.OK():
			c.Lost = append(c.Lost, id)
		case o.OK():
			c.Added = append(c.Added, id)
		}
	}
	c.Total = len(ids)
	for _, s := range [][]string{c.ValidInBoth, c.Lost, c.Added} {
		sortIDs(s)
	}
	return c
}

// sortIDs orders numeric IDs numerically and the rest lexically after them.
func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		da, db := isDigits(a), isDigits(b)
		switch {
		case da && db && len(a) != len(b):
			return len(a) < len(b)
		case da != db:
			return da
		}
		return a < b
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
