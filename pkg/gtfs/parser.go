package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	return &Parser{
		logger: logger.With("component", "gtfs_parser"),
	}
}

func (p *Parser) Parse(reader *zip.Reader) (*Feed, error) {
	totalStart := time.Now()
	p.logger.Info("starting GTFS parsing")

	feed := &Feed{
		Routes:      make(map[string]*Route),
		Shapes:      make(map[string]*Shape),
		Stops:       make(map[string]*Stop),
		RouteShapes: make(map[string][]string),
	}

	fileMap := make(map[string]*zip.File)
	for _, file := range reader.File {
		fileMap[file.Name] = file
		p.logger.Debug("found file in archive",
			"name", file.Name,
			"compressed_size", file.CompressedSize64,
			"uncompressed_size", file.UncompressedSize64,
		)
	}

	if _, ok := fileMap["stops.txt"]; !ok {
		return nil, errors.New("gtfs archive has no stops.txt")
	}

	steps := []struct {
		name  string
		parse func(*zip.File, *Feed) error
		count func() int
	}{
		{"routes.txt", p.parseRoutes, func() int { return len(feed.Routes) }},
		{"shapes.txt", p.parseShapes, func() int { return len(feed.Shapes) }},
		{"stops.txt", p.parseStops, func() int { return len(feed.Stops) }},
		{"trips.txt", p.parseTrips, func() int { return len(feed.RouteShapes) }},
	}
	for _, step := range steps {
		file, ok := fileMap[step.name]
		if !ok {
			continue
		}
		start := time.Now()
		if err := step.parse(file, feed); err != nil {
			return nil, errors.Wrapf(err, "parse %s", step.name)
		}
		p.logger.Info("parsed "+step.name,
			"count", step.count(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	p.logger.Info("GTFS parsing completed",
		"total_duration_ms", time.Since(totalStart).Milliseconds(),
		"routes", len(feed.Routes),
		"shapes", len(feed.Shapes),
		"stops", len(feed.Stops),
	)

	return feed, nil
}

// eachRecord opens a feed file and calls fn for every data row.
func eachRecord(file *zip.File, fn func(record []string, idx map[string]int) error) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return err
	}
	idx := makeIndex(header)

	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(record, idx); err != nil {
			return err
		}
	}
}

func (p *Parser) parseRoutes(file *zip.File, feed *Feed) error {
	return eachRecord(file, func(record []string, idx map[string]int) error {
		routeType := RouteTypeBus
		if v := getField(record, idx, "route_type"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				routeType = extendedRouteType(parsed)
			}
		}
		route := &Route{
			ID:        getField(record, idx, "route_id"),
			ShortName: getField(record, idx, "route_short_name"),
			Type:      routeType,
		}
		feed.Routes[route.ID] = route
		return nil
	})
}

// extendedRouteType folds the extended GTFS route types (100-1700) onto the
// basic ones.
func extendedRouteType(t int) RouteType {
	switch {
	case t < 100:
		return RouteType(t)
	case t < 200, t >= 300 && t < 400:
		return RouteTypeRail
	case t >= 200 && t < 300, t >= 700 && t < 800:
		return RouteTypeBus
	case t >= 400 && t < 500:
		return RouteTypeSubway
	case t >= 900 && t < 1000:
		return RouteTypeTram
	case t >= 1000 && t < 1100, t >= 1200 && t < 1300:
		return RouteTypeFerry
	case t >= 1300 && t < 1400:
		return RouteTypeAerialLift
	case t >= 1400 && t < 1500:
		return RouteTypeFunicular
	}
	return RouteTypeBus
}

func (p *Parser) parseShapes(file *zip.File, feed *Feed) error {
	points := make(map[string][]ShapePoint)
	err := eachRecord(file, func(record []string, idx map[string]int) error {
		shapeID := getField(record, idx, "shape_id")
		lat, err := strconv.ParseFloat(getField(record, idx, "shape_pt_lat"), 64)
		if err != nil {
			return errors.Wrapf(err, "shape %s latitude", shapeID)
		}
		lon, err := strconv.ParseFloat(getField(record, idx, "shape_pt_lon"), 64)
		if err != nil {
			return errors.Wrapf(err, "shape %s longitude", shapeID)
		}
		seq, _ := strconv.Atoi(getField(record, idx, "shape_pt_sequence"))

		points[shapeID] = append(points[shapeID], ShapePoint{
			Lat:      lat,
			Lon:      lon,
			Sequence: seq,
		})
		return nil
	})
	if err != nil {
		return err
	}

	for shapeID, pts := range points {
		sort.SliceStable(pts, func(i, j int) bool {
			return pts[i].Sequence < pts[j].Sequence
		})
		feed.Shapes[shapeID] = &Shape{
			ID:     shapeID,
			Points: pts,
		}
	}
	return nil
}

func (p *Parser) parseStops(file *zip.File, feed *Feed) error {
	skipped := 0
	err := eachRecord(file, func(record []string, idx map[string]int) error {
		lat, latErr := strconv.ParseFloat(getField(record, idx, "stop_lat"), 64)
		lon, lonErr := strconv.ParseFloat(getField(record, idx, "stop_lon"), 64)
		// stations and entrances may be listed without coordinates
		if latErr != nil || lonErr != nil {
			skipped++
			return nil
		}
		stop := &Stop{
			ID:   getField(record, idx, "stop_id"),
			Code: getField(record, idx, "stop_code"),
			Name: getField(record, idx, "stop_name"),
			Lat:  lat,
			Lon:  lon,
		}
		feed.Stops[stop.ID] = stop
		return nil
	})
	if skipped > 0 {
		p.logger.Debug("skipped stops without coordinates", "count", skipped)
	}
	return err
}

func (p *Parser) parseTrips(file *zip.File, feed *Feed) error {
	seen := make(map[string]map[string]bool)
	return eachRecord(file, func(record []string, idx map[string]int) error {
		routeID := getField(record, idx, "route_id")
		shapeID := getField(record, idx, "shape_id")
		if routeID == "" || shapeID == "" {
			return nil
		}
		if seen[routeID] == nil {
			seen[routeID] = make(map[string]bool)
		}
		if !seen[routeID][shapeID] {
			seen[routeID][shapeID] = true
			feed.RouteShapes[routeID] = append(feed.RouteShapes[routeID], shapeID)
		}
		return nil
	})
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		// strip a UTF-8 byte order mark from the first column
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		idx[name] = i
	}
	return idx
}

func getField(record []string, idx map[string]int, field string) string {
	if i, ok := idx[field]; ok && i < len(record) {
		return record[i]
	}
	return ""
}
