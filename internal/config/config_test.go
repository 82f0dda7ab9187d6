package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripgen/internal/alloc"
	"tripgen/internal/domain"
	"tripgen/internal/locgen"
)

const scenarioYAML = `
name: melbourne-am-peak
seed: 42
n_trips: 1000
mode: rounded
date: "2010-01-01"
output_crs: 3857
zones:
  path: zones/sla.shp
od:
  vista: od.csv
  ignore: ["Melbourne Remainder"]
time:
  mode: uniform
  start: "06:00"
  end: "09:00"
origin_constraints:
  - type: zoning
    source:
      path: planning.shp
    allowed: [R1Z, R2Z]
dest_constraints:
  - type: proximity
    source:
      gtfs: https://example.org/gtfs.zip
      route_types: [tram, bus]
      project_to: 3857
    distance: 400
    cache_size: 64
router:
  url: http://localhost:8080
  workers: 4
`

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenarioYAML), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "melbourne-am-peak", s.Name)
	assert.Equal(t, uint64(42), s.Seed)
	assert.Equal(t, alloc.Rounded, s.AllocMode())
	assert.Equal(t, 4326, s.RouterCRS)
	assert.Equal(t, 3857, s.OutputCRS)
	assert.Equal(t, locgen.DefaultMaxAttempts, *s.MaxAttempts)
	assert.Equal(t, "SLA_NAME06", s.Zones.NameField)

	assert.Equal(t, filepath.Join(dir, "zones", "sla.shp"), s.Zones.Path)
	assert.Equal(t, filepath.Join(dir, "od.csv"), s.OD.VISTA)
	assert.Equal(t, filepath.Join(dir, "planning.shp"), s.Origin[0].Source.Path)
	assert.Equal(t, "https://example.org/gtfs.zip", s.Dest[0].Source.GTFS, "URLs stay as given")

	assert.Equal(t, "ZONE_CODE", s.Origin[0].Field)
	assert.Equal(t, GTFSStops, s.Dest[0].Source.Layer)
	assert.Equal(t, 500, s.Dest[0].HighVolume)
	assert.Equal(t, 64, s.Dest[0].CacheSize)
	assert.Zero(t, s.Origin[0].CacheSize)

	date := s.DepartureDate()
	require.NotNil(t, date)
	assert.Equal(t, time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC), *date)

	start, end := s.TimeRange()
	assert.Equal(t, domain.NewTimeOfDay(6, 0), start)
	assert.Equal(t, domain.NewTimeOfDay(9, 0), end)
}

func TestParseScenarioValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "zones: {path: z.shp}\nod: {vista: od.csv}\n"},
		{"missing zones", "name: x\nod: {vista: od.csv}\n"},
		{"bad mode", "name: x\nmode: nearest\nzones: {path: z.shp}\nod: {vista: od.csv}\n"},
		{"negative trips", "name: x\nn_trips: -1\nzones: {path: z.shp}\nod: {vista: od.csv}\n"},
		{"unsupported crs", "name: x\nrouter_crs: 28355\nzones: {path: z.shp}\nod: {vista: od.csv}\n"},
		{"bad date", "name: x\ndate: 01/01/2010\nzones: {path: z.shp}\nod: {vista: od.csv}\n"},
		{"zoning without allowed", "name: x\nzones: {path: z.shp}\nod: {vista: od.csv}\n" +
			"origin_constraints:\n  - type: zoning\n    source: {path: p.shp}\n"},
		{"constraint without source", "name: x\nzones: {path: z.shp}\nod: {vista: od.csv}\n" +
			"dest_constraints:\n  - type: proximity\n    distance: 10\n"},
		{"negative cache size", "name: x\nzones: {path: z.shp}\nod: {vista: od.csv}\n" +
			"dest_constraints:\n  - type: proximity\n    source: {path: r.shp}\n    cache_size: -1\n"},
		{"empty uniform range", "name: x\nzones: {path: z.shp}\nod: {vista: od.csv}\n" +
			"time: {mode: uniform, start: \"09:00\", end: \"06:00\"}\n"},
		{"not yaml", "name: [x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseScenarioDefaults(t *testing.T) {
	s, err := ParseScenario([]byte("name: x\nzones: {path: z.shp}\nod: {vista: od.csv}\nmax_attempts: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, alloc.Exact, s.AllocMode())
	assert.Equal(t, TimeBlocks, s.Time.Mode)
	assert.Nil(t, s.DepartureDate())
	assert.Equal(t, 0, *s.MaxAttempts, "explicit zero means unbounded")
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("ROUTE_WORKERS", "8")
	t.Setenv("RATE_LIMIT_WHITELIST", "127.0.0.1, ::1,")
	t.Setenv("RUN_RETENTION", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 8, cfg.RouteWorkers)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, cfg.RateLimitWhitelist)
	assert.Equal(t, time.Hour, cfg.RunRetention, "invalid values fall back to the default")
}

func TestLoadEnvRejectsBadWorkers(t *testing.T) {
	t.Setenv("ROUTE_WORKERS", "0")
	_, err := Load()
	assert.Error(t, err)
}
