package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"tripgen/internal/alloc"
	"tripgen/internal/constraint"
	"tripgen/internal/domain"
	"tripgen/internal/geo"
	"tripgen/internal/locgen"
	"tripgen/pkg/zones"
)

const (
	TimeBlocks  = "blocks"
	TimeUniform = "uniform"

	ConstraintZoning    = "zoning"
	ConstraintProximity = "proximity"

	GTFSStops  = "stops"
	GTFSShapes = "shapes"
)

// Scenario describes one study: where zones and OD counts come from, how
// many trips to draw and which constraints their endpoints must satisfy.
type Scenario struct {
	Name        string  `yaml:"name" validate:"required"`
	Seed        uint64  `yaml:"seed"`
	Trips       int     `yaml:"n_trips" validate:"gte=0"`
	Mode        string  `yaml:"mode" validate:"omitempty,oneof=exact rounded"`
	Date        string  `yaml:"date" validate:"omitempty,datetime=2006-01-02"`
	RouterCRS   int     `yaml:"router_crs" validate:"omitempty,oneof=4326 3857"`
	OutputCRS   int     `yaml:"output_crs" validate:"omitempty,oneof=4326 3857"`
	MaxAttempts *int    `yaml:"max_attempts" validate:"omitempty,gte=0"`
	Zones       Zones   `yaml:"zones"`
	OD          OD      `yaml:"od"`
	Time        Time    `yaml:"time"`
	Origin      []Check `yaml:"origin_constraints" validate:"dive"`
	Dest        []Check `yaml:"dest_constraints" validate:"dive"`
	Router      Router  `yaml:"router"`
}

type Zones struct {
	Path      string `yaml:"path" validate:"required"`
	NameField string `yaml:"name_field"`
	CRS       int    `yaml:"crs" validate:"omitempty,oneof=4326 3857"`
	Grid      *Grid  `yaml:"grid"`
}

// Grid configures a spatial grid index.
type Grid struct {
	MaxLevels    int `yaml:"max_levels" validate:"gte=1"`
	CellsPerSide int `yaml:"cells_per_side" validate:"gte=2"`
	TargetCount  int `yaml:"target_count" validate:"gte=1"`
}

type OD struct {
	VISTA  string   `yaml:"vista" validate:"required"`
	Ignore []string `yaml:"ignore"`
}

type Time struct {
	Mode  string `yaml:"mode" validate:"omitempty,oneof=blocks uniform"`
	Start string `yaml:"start" validate:"omitempty,datetime=15:04"`
	End   string `yaml:"end" validate:"omitempty,datetime=15:04"`
}

// Check is one endpoint constraint.
type Check struct {
	Type       string   `yaml:"type" validate:"required,oneof=zoning proximity"`
	Source     Source   `yaml:"source"`
	Field      string   `yaml:"field"`
	Allowed    []string `yaml:"allowed" validate:"required_if=Type zoning"`
	Distance   float64  `yaml:"distance" validate:"gte=0"`
	HighVolume int      `yaml:"high_volume" validate:"gte=0"`
	Strict     bool     `yaml:"strict"`
	Grid       *Grid    `yaml:"grid"`
	// CacheSize bounds the checker's per-region cache. Zero keeps the default.
	CacheSize int `yaml:"cache_size" validate:"gte=0"`
}

// Source names a reference layer: a vector file or a GTFS feed.
type Source struct {
	Path       string   `yaml:"path" validate:"required_without=GTFS"`
	GTFS       string   `yaml:"gtfs" validate:"required_without=Path"`
	Layer      string   `yaml:"layer" validate:"omitempty,oneof=stops shapes"`
	RouteTypes []string `yaml:"route_types"`
	CRS        int      `yaml:"crs" validate:"omitempty,oneof=4326 3857"`
	// ProjectTo reprojects the layer after loading so Distance can be given
	// in that CRS's units.
	ProjectTo int `yaml:"project_to" validate:"omitempty,oneof=4326 3857"`
}

type Router struct {
	URL           string            `yaml:"url" validate:"omitempty,url"`
	RouterID      string            `yaml:"router_id"`
	Params        map[string]string `yaml:"params"`
	Workers       int               `yaml:"workers" validate:"gte=0"`
	ProgressEvery float64           `yaml:"progress_every" validate:"gte=0,lte=100"`
	MinDistanceKm float64           `yaml:"min_distance_km" validate:"gte=0"`
}

// LoadScenario reads, defaults and validates a scenario file. Relative
// paths inside it are resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read scenario")
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", path)
	}
	s.resolvePaths(filepath.Dir(path))
	return s, nil
}

func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parse yaml")
	}
	s.applyDefaults()
	if err := validator.New().Struct(s); err != nil {
		return nil, errors.Wrap(err, "validate")
	}
	if s.Time.Mode == TimeUniform {
		start, end := s.TimeRange()
		if end <= start {
			return nil, errors.Newf("uniform time range %s-%s is empty", s.Time.Start, s.Time.End)
		}
	}
	return &s, nil
}

func (s *Scenario) applyDefaults() {
	if s.Mode == "" {
		s.Mode = alloc.Exact.String()
	}
	if s.RouterCRS == 0 {
		s.RouterCRS = int(geo.WGS84)
	}
	if s.OutputCRS == 0 {
		s.OutputCRS = s.RouterCRS
	}
	if s.MaxAttempts == nil {
		n := locgen.DefaultMaxAttempts
		s.MaxAttempts = &n
	}
	if s.Zones.NameField == "" {
		s.Zones.NameField = zones.DefaultNameField
	}
	if s.Zones.CRS == 0 {
		s.Zones.CRS = int(geo.WGS84)
	}
	if s.Time.Mode == "" {
		s.Time.Mode = TimeBlocks
	}
	if s.Time.Start == "" {
		s.Time.Start = "00:00"
	}
	if s.Time.End == "" {
		s.Time.End = "23:59"
	}
	for _, checks := range [][]Check{s.Origin, s.Dest} {
		for i := range checks {
			c := &checks[i]
			if c.Type == ConstraintZoning && c.Field == "" {
				c.Field = constraint.DefaultZoneCodeField
			}
			if c.Type == ConstraintProximity && c.HighVolume == 0 {
				c.HighVolume = constraint.DefaultHighVolume
			}
			if c.Source.CRS == 0 {
				c.Source.CRS = int(geo.WGS84)
			}
			if c.Source.GTFS != "" && c.Source.Layer == "" {
				c.Source.Layer = GTFSStops
			}
		}
	}
}

func (s *Scenario) resolvePaths(dir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) && !isURL(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	resolve(&s.Zones.Path)
	resolve(&s.OD.VISTA)
	for _, checks := range [][]Check{s.Origin, s.Dest} {
		for i := range checks {
			resolve(&checks[i].Source.Path)
			resolve(&checks[i].Source.GTFS)
		}
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (s *Scenario) AllocMode() alloc.Mode {
	m, _ := alloc.ParseMode(s.Mode)
	return m
}

// DepartureDate is nil when the scenario generates bare clock times.
func (s *Scenario) DepartureDate() *time.Time {
	if s.Date == "" {
		return nil
	}
	d, err := time.Parse("2006-01-02", s.Date)
	if err != nil {
		return nil
	}
	return &d
}

func (s *Scenario) TimeRange() (domain.TimeOfDay, domain.TimeOfDay) {
	start, _ := domain.ParseTimeOfDay(s.Time.Start)
	end, _ := domain.ParseTimeOfDay(s.Time.End)
	return start, end
}
