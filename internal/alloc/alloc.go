// Package alloc apportions an integer trip budget across weighted
// categories (OD pairs, departure-hour blocks).
package alloc

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrZeroTotal means a non-zero budget was asked of categories that
	// have no observed weight at all.
	ErrZeroTotal = errors.New("cannot allocate budget: observed total is zero")

	ErrNegativeCount = errors.New("negative count")
)

// Mode selects how the budget is rounded to whole trips.
type Mode int

const (
	// Exact hands out the full budget using largest remainders.
	Exact Mode = iota
	// Rounded rounds each share independently; the result may miss the
	// budget by up to half a trip per category.
	Rounded
)

func (m Mode) String() string {
	switch m {
	case Exact:
		return "exact"
	case Rounded:
		return "rounded"
	}
	return "unknown"
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "exact":
		return Exact, nil
	case "rounded":
		return Rounded, nil
	}
	return 0, errors.Newf("unknown allocation mode %q", s)
}

// Allocate dispatches to LargestRemainder or Rounded.
func Allocate(mode Mode, counts []float64, budget int) ([]int, error) {
	if mode == Rounded {
		return Rounded(counts, budget)
	}
	return LargestRemainder(counts, budget)
}

func shares(counts []float64, budget int) ([]float64, error) {
	if budget < 0 {
		return nil, errors.Newf("budget must be non-negative, got %d", budget)
	}
	for i, c := range counts {
		if c < 0 {
			return nil, errors.Wrapf(ErrNegativeCount, "index %d: %v", i, c)
		}
	}
	total := floats.Sum(counts)
	if total == 0 {
		if budget == 0 {
			return make([]float64, len(counts)), nil
		}
		return nil, errors.Wrapf(ErrZeroTotal, "budget %d over %d categories", budget, len(counts))
	}

	ideal := make([]float64, len(counts))
	copy(ideal, counts)
	floats.Scale(float64(budget)/total, ideal)
	return ideal, nil
}

// LargestRemainder gives each category the floor of its ideal share,
// counts[i]*budget/total, then hands the units left over to the categories
// with the largest fractional parts. Ties go to the lowest index. The result
// always sums to budget and matches awarding one unit at a time to the
// largest remaining share.
func LargestRemainder(counts []float64, budget int) ([]int, error) {
	ideal, err := shares(counts, budget)
	if err != nil {
		return nil, err
	}

	result := make([]int, len(counts))
	frac := make([]float64, len(counts))
	left := budget
	for i, s := range ideal {
		whole := math.Floor(s)
		result[i] = int(whole)
		frac[i] = s - whole
		left -= result[i]
	}
	if left <= 0 {
		return result, nil
	}

	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return frac[order[a]] > frac[order[b]] })
	for k := range left {
		result[order[k%len(order)]]++
	}
	return result, nil
}

// Rounded gives each category round(counts[i]*budget/total) independently.
func Rounded(counts []float64, budget int) ([]int, error) {
	ideal, err := shares(counts, budget)
	if err != nil {
		return nil, err
	}

	result := make([]int, len(counts))
	for i, s := range ideal {
		result[i] = int(math.Round(s))
	}
	return result, nil
}

// Sum adds up an allocation.
func Sum(alloc []int) int {
	total := 0
	for _, n := range alloc {
		total += n
	}
	return total
}
