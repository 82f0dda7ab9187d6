package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"

	"tripgen/internal/config"
	"tripgen/internal/store"
)

func runCompare(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := newFlagSet("compare")
	basePath := fs.StringP("base", "b", "", "base scenario results file")
	otherPath := fs.StringP("other", "c", "", "results file to compare against the base")
	ids := fs.StringSlice("ids", nil, "compare only these trip IDs")
	exclude := fs.StringSlice("exclude", nil, "leave these trip IDs out of the comparison")
	required := fs.Bool("required", false, "fail when an --ids trip is missing from either file")
	out := fs.StringP("out", "o", "", "write the comparison as JSON here instead of stdout")
	fs.Parse(args)

	if *basePath == "" || *otherPath == "" {
		return errors.New("--base and --other are required")
	}

	base, err := store.ReadResults(*basePath, logger)
	if err != nil {
		return err
	}
	other, err := store.ReadResults(*otherPath, logger)
	if err != nil {
		return err
	}

	if base, err = narrow(base, *ids, *exclude, *required, logger); err != nil {
		return err
	}
	if other, err = narrow(other, *ids, *exclude, *required, logger); err != nil {
		return err
	}

	c := store.Compare(base, other)
	logger.Info("scenarios compared",
		"total", c.Total,
		"valid_in_both", len(c.ValidInBoth),
		"lost", len(c.Lost),
		"added", len(c.Added),
	)

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

func narrow(r *store.Results, ids, exclude []string, required bool, logger *slog.Logger) (*store.Results, error) {
	if len(ids) > 0 {
		subset, err := r.Subset(ids, required)
		if err != nil {
			return nil, err
		}
		r = store.NewResults(subset, logger)
	}
	if len(exclude) > 0 {
		r = store.NewResults(r.Exclude(exclude), logger)
	}
	return r, nil
}
