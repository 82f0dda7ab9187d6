// Package ingestor loads the reference data a scenario needs (zones, OD
// counts, constraint layers) and keeps it fresh for the service.
package ingestor

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"tripgen/internal/config"
	"tripgen/internal/domain"
	"tripgen/internal/geo"
	"tripgen/internal/locgen"
	"tripgen/pkg/gtfs"
	"tripgen/pkg/vista"
	"tripgen/pkg/zones"
)

// LayerCheck is a constraint definition with its reference layer loaded.
type LayerCheck struct {
	Config config.Check
	Layer  domain.Layer
}

// References is an immutable snapshot of everything generation reads.
type References struct {
	Scenario *config.Scenario
	Zones    *zones.Set
	Table    vista.Table
	Counts   domain.ODCounts
	Origin   []LayerCheck
	Dest     []LayerCheck
	LoadedAt time.Time
}

// LoadReferences reads zones, the OD table and every constraint layer. GTFS
// feeds are parsed once per fingerprint and cached under cacheDir.
func LoadReferences(ctx context.Context, s *config.Scenario, cacheDir string, logger *slog.Logger) (*References, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	start := time.Now()

	zs, err := LoadZones(s)
	if err != nil {
		return nil, err
	}

	table, err := vista.ReadFile(s.OD.VISTA, vista.Options{Ignore: s.OD.Ignore})
	if err != nil {
		return nil, errors.Wrap(err, "load OD table")
	}
	counts := table.Counts.Totals()
	for _, p := range counts.SortedPairs() {
		for _, name := range []string{p.Origin, p.Dest} {
			if _, ok := zs.Zone(name); ok {
				continue
			}
			if counts[p] > 0 {
				return nil, errors.WithHint(
					errors.Wrapf(locgen.ErrUnknownZone, "OD pair %s names zone %q", p, name),
					"check zones.name_field and the zone names in the OD table")
			}
			logger.Warn("OD table names a zone missing from the zone layer", "zone", name, "pair", p.String())
		}
	}

	refs := &References{
		Scenario: s,
		Zones:    zs,
		Table:    table,
		Counts:   counts,
	}

	feeds := make(map[string]*gtfs.Feed)
	for _, side := range []struct {
		checks []config.Check
		out    *[]LayerCheck
	}{
		{s.Origin, &refs.Origin},
		{s.Dest, &refs.Dest},
	} {
		for _, c := range side.checks {
			layer, err := loadLayer(ctx, c.Source, cacheDir, feeds, logger)
			if err != nil {
				return nil, errors.Wrapf(err, "%s constraint", c.Type)
			}
			*side.out = append(*side.out, LayerCheck{Config: c, Layer: layer})
		}
	}

	refs.LoadedAt = time.Now()
	logger.Info("references loaded",
		"scenario", s.Name,
		"zones", zs.Len(),
		"pairs", len(refs.Counts),
		"origin_constraints", len(refs.Origin),
		"dest_constraints", len(refs.Dest),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return refs, nil
}

// LoadZones reads the scenario's zone layer, indexing it when a grid is
// configured.
func LoadZones(s *config.Scenario) (*zones.Set, error) {
	zs, err := zones.Load(s.Zones.Path, s.Zones.NameField, geo.CRS(s.Zones.CRS))
	if err != nil {
		return nil, errors.Wrap(err, "load zones")
	}
	if g := s.Zones.Grid; g != nil {
		if err := zs.Index(g.MaxLevels, g.CellsPerSide, g.TargetCount); err != nil {
			return nil, errors.Wrap(err, "index zones")
		}
	}
	return zs, nil
}

func loadLayer(ctx context.Context, src config.Source, cacheDir string, feeds map[string]*gtfs.Feed, logger *slog.Logger) (domain.Layer, error) {
	var (
		layer domain.Layer
		err   error
	)
	if src.Path != "" {
		layer, err = zones.ReadLayer(src.Path, geo.CRS(src.CRS))
		if err != nil {
			return domain.Layer{}, err
		}
	} else {
		feed, ok := feeds[src.GTFS]
		if !ok {
			feed, err = gtfs.Load(ctx, src.GTFS, cacheDir, logger)
			if err != nil {
				return domain.Layer{}, errors.Wrapf(err, "gtfs %s", src.GTFS)
			}
			feeds[src.GTFS] = feed
		}
		layer, err = gtfsLayer(feed, src)
		if err != nil {
			return domain.Layer{}, err
		}
	}

	if src.ProjectTo != 0 && geo.CRS(src.ProjectTo) != layer.CRS {
		layer, err = project(layer, geo.CRS(src.ProjectTo))
		if err != nil {
			return domain.Layer{}, err
		}
	}
	return layer, nil
}

func gtfsLayer(feed *gtfs.Feed, src config.Source) (domain.Layer, error) {
	if src.Layer == config.GTFSShapes {
		types := make([]gtfs.RouteType, 0, len(src.RouteTypes))
		for _, name := range src.RouteTypes {
			rt, ok := gtfs.ParseRouteType(name)
			if !ok {
				return domain.Layer{}, errors.Newf("unknown route type %q", name)
			}
			types = append(types, rt)
		}
		return feed.ShapesLayer(types...), nil
	}
	return feed.StopsLayer(), nil
}

// project returns a copy of l in crs.
func project(l domain.Layer, crs geo.CRS) (domain.Layer, error) {
	tf, err := geo.NewTransformer(l.CRS, crs)
	if err != nil {
		return domain.Layer{}, errors.Wrapf(err, "project layer %s", l.Name)
	}
	out := domain.Layer{Name: l.Name, CRS: crs, Features: make([]domain.Feature, len(l.Features))}
	for i, f := range l.Features {
		out.Features[i] = domain.Feature{Geometry: tf.Geometry(f.Geometry), Attrs: f.Attrs}
	}
	return out, nil
}
