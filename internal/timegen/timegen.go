// Package timegen draws departure times for generated trips.
package timegen

import (
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/cockroachdb/errors"

	"tripgen/internal/alloc"
	"tripgen/internal/domain"
	"tripgen/internal/locgen"
)

var (
	ErrNoObservedTrips = errors.New("no observed trips for OD pair")
	ErrQuotaExhausted  = errors.New("time quota exhausted")
)

// BlockMinutes is the width of one departure block.
const BlockMinutes = 60

// Generator yields departure times. UpdateZones positions it at an OD pair
// with the number of trips it will be asked for there.
type Generator interface {
	Initialise() error
	UpdateZones(od domain.ODPair, quota int) error
	GenTime() (domain.TimeOfDay, error)
	Cleanup()
}

// UniformGenerator draws minutes uniformly from [start, end) regardless of
// the OD pair.
type UniformGenerator struct {
	seed       uint64
	start, end domain.TimeOfDay
	rng        *rand.Rand
}

func NewUniformGenerator(seed uint64, start, end domain.TimeOfDay) *UniformGenerator {
	return &UniformGenerator{seed: seed, start: start, end: end, rng: locgen.NewRand(seed)}
}

func (g *UniformGenerator) Initialise() error {
	if g.end <= g.start {
		return errors.Newf("time range end %s must be after start %s", g.end, g.start)
	}
	g.rng = locgen.NewRand(g.seed)
	return nil
}

func (g *UniformGenerator) UpdateZones(domain.ODPair, int) error { return nil }

func (g *UniformGenerator) GenTime() (domain.TimeOfDay, error) {
	return g.start + domain.TimeOfDay(g.rng.IntN(int(g.end-g.start))), nil
}

func (g *UniformGenerator) Cleanup() {}

type block struct {
	label     string
	start     domain.TimeOfDay
	end       domain.TimeOfDay
	remaining int
}

// BlockGenerator follows an observed OD-by-hour table. For each pair the
// quota is split across the observed hour blocks by largest remainder and
// times are drawn uniformly inside each block until its share is spent.
type BlockGenerator struct {
	seed   uint64
	counts domain.ODHourCounts
	rng    *rand.Rand
	logger *slog.Logger

	blocks []block
	cur    int
}

func NewBlockGenerator(seed uint64, counts domain.ODHourCounts, logger *slog.Logger) *BlockGenerator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BlockGenerator{
		seed:   seed,
		counts: counts,
		rng:    locgen.NewRand(seed),
		logger: logger.With("component", "block_time_generator"),
	}
}

func (g *BlockGenerator) Initialise() error {
	if err := g.counts.Validate(); err != nil {
		return errors.Wrap(err, "block time generator")
	}
	g.rng = locgen.NewRand(g.seed)
	g.blocks = nil
	g.cur = 0
	return nil
}

func (g *BlockGenerator) UpdateZones(od domain.ODPair, quota int) error {
	g.blocks = nil
	g.cur = 0
	if quota == 0 {
		return nil
	}

	hours := g.counts[od]
	blocks := make([]block, 0, len(hours))
	weights := make([]float64, 0, len(hours))
	for label, n := range hours {
		start, err := domain.ParseTimeOfDay(label)
		if err != nil {
			return errors.Wrapf(err, "block label for %s", od)
		}
		end := min(start+BlockMinutes, domain.TimeOfDay(domain.MinutesPerDay))
		blocks = append(blocks, block{label: label, start: start, end: end, remaining: n})
	}
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].start != blocks[j].start {
			return blocks[i].start < blocks[j].start
		}
		return blocks[i].label < blocks[j].label
	})
	for _, b := range blocks {
		weights = append(weights, float64(b.remaining))
	}

	shares, err := alloc.LargestRemainder(weights, quota)
	if errors.Is(err, alloc.ErrZeroTotal) || len(blocks) == 0 {
		return errors.Wrapf(ErrNoObservedTrips, "%s with quota %d", od, quota)
	}
	if err != nil {
		return errors.Wrapf(err, "allocate %s", od)
	}
	for i := range blocks {
		blocks[i].remaining = shares[i]
	}
	g.blocks = blocks

	g.logger.Debug("time blocks allocated", "od", od.String(), "quota", quota, "blocks", len(g.blocks))
	return nil
}

// Allocation reports how many draws are left in each block of the current
// pair, keyed by block label.
func (g *BlockGenerator) Allocation() map[string]int {
	out := make(map[string]int, len(g.blocks))
	for _, b := range g.blocks {
		out[b.start.String()] += b.remaining
	}
	return out
}

func (g *BlockGenerator) GenTime() (domain.TimeOfDay, error) {
	for g.cur < len(g.blocks) && g.blocks[g.cur].remaining == 0 {
		g.cur++
	}
	if g.cur == len(g.blocks) {
		return 0, ErrQuotaExhausted
	}
	b := &g.blocks[g.cur]
	b.remaining--
	return b.start + domain.TimeOfDay(g.rng.IntN(int(b.end-b.start))), nil
}

func (g *BlockGenerator) Cleanup() {
	g.blocks = nil
	g.cur = 0
}
