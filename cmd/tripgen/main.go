package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	flag "github.com/spf13/pflag"

	"tripgen/internal/alloc"
	"tripgen/internal/config"
	"tripgen/internal/ingestor"
)

const usage = `tripgen - synthetic trip generation and OD assignment

Usage:

  tripgen generate --scenario s.yaml [--out trips.shp] [--seed N] [--n-trips N]
  tripgen route    --trips trips.shp [--router URL] [--date 2006-01-02] [--out results.json]
  tripgen compare  --base a.json --other b.json [--ids 1,2,3] [--required]
  tripgen serve    --scenario s.yaml

Run "tripgen <command> --help" for the options of a command.
`

type command func(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error

var commands = map[string]command{
	"generate": runGenerate,
	"route":    runRoute,
	"compare":  runCompare,
	"serve":    runServe,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, cfg, logger, os.Args[2:]); err != nil {
		logger.Error(os.Args[1]+" failed", "error", err)
		if hints := errors.GetAllHints(err); len(hints) > 0 {
			logger.Error("hint", "hints", hints)
		}
		stop()
		os.Exit(1)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.SortFlags = false
	return fs
}

// runOverrides turns the generation flags the user actually set into run
// options; unset flags keep the scenario's values.
func runOverrides(fs *flag.FlagSet, seed uint64, trips int, mode, date string) (ingestor.RunOptions, error) {
	var opts ingestor.RunOptions
	if fs.Changed("seed") {
		opts.Seed = &seed
	}
	if fs.Changed("n-trips") {
		if trips < 0 {
			return opts, errors.Newf("--n-trips must be non-negative, got %d", trips)
		}
		opts.Trips = &trips
	}
	if mode != "" {
		m, err := alloc.ParseMode(mode)
		if err != nil {
			return opts, err
		}
		opts.Mode = &m
	}
	if date != "" {
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			return opts, errors.Wrap(err, "--date")
		}
		opts.Date = &d
	}
	return opts, nil
}

func loadScenario(path string) (*config.Scenario, error) {
	if path == "" {
		return nil, errors.WithHint(errors.New("no scenario given"), "pass --scenario or set TRIPGEN_SCENARIO")
	}
	return config.LoadScenario(path)
}
