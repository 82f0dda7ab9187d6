package gtfs

import (
	"sort"

	"github.com/paulmach/orb"

	"tripgen/internal/domain"
	"tripgen/internal/geo"
)

// RouteType distinguishes transport types in GTFS
type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCableTram  RouteType = 5
	RouteTypeAerialLift RouteType = 6
	RouteTypeFunicular  RouteType = 7
)

func (t RouteType) String() string {
	switch t {
	case RouteTypeTram:
		return "tram"
	case RouteTypeSubway:
		return "subway"
	case RouteTypeRail:
		return "rail"
	case RouteTypeBus:
		return "bus"
	case RouteTypeFerry:
		return "ferry"
	case RouteTypeCableTram:
		return "cable_tram"
	case RouteTypeAerialLift:
		return "aerial_lift"
	case RouteTypeFunicular:
		return "funicular"
	default:
		return "unknown"
	}
}

// ParseRouteType accepts the names String returns.
func ParseRouteType(s string) (RouteType, bool) {
	for t := RouteTypeTram; t <= RouteTypeFunicular; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

type Route struct {
	ID        string
	ShortName string
	Type      RouteType
}

type ShapePoint struct {
	Lat      float64
	Lon      float64
	Sequence int
}

type Shape struct {
	ID     string
	Points []ShapePoint
}

type Stop struct {
	ID   string
	Code string
	Name string
	Lat  float64
	Lon  float64
}

// Feed is the part of a GTFS archive used as reference geometry.
type Feed struct {
	Routes      map[string]*Route
	Shapes      map[string]*Shape
	Stops       map[string]*Stop
	RouteShapes map[string][]string // route_id -> []shape_id
}

// StopsLayer returns every stop as a WGS84 point, ordered by stop ID.
func (f *Feed) StopsLayer() domain.Layer {
	ids := make([]string, 0, len(f.Stops))
	for id := range f.Stops {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	l := domain.Layer{Name: "gtfs_stops", CRS: geo.WGS84}
	for _, id := range ids {
		s := f.Stops[id]
		l.Features = append(l.Features, domain.Feature{
			Geometry: orb.Point{s.Lon, s.Lat},
			Attrs:    map[string]string{"stop_id": s.ID, "stop_code": s.Code, "stop_name": s.Name},
		})
	}
	return l
}

// ShapesLayer returns route shapes as WGS84 lines, ordered by shape ID.
// With types given, only shapes used by a route of one of those types are
// included.
func (f *Feed) ShapesLayer(types ...RouteType) domain.Layer {
	keep := f.shapeFilter(types)
	ids := make([]string, 0, len(f.Shapes))
	for id := range f.Shapes {
		if keep == nil || keep[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	l := domain.Layer{Name: "gtfs_shapes", CRS: geo.WGS84}
	for _, id := range ids {
		s := f.Shapes[id]
		if len(s.Points) < 2 {
			continue
		}
		line := make(orb.LineString, len(s.Points))
		for i, p := range s.Points {
			line[i] = orb.Point{p.Lon, p.Lat}
		}
		l.Features = append(l.Features, domain.Feature{
			Geometry: line,
			Attrs:    map[string]string{"shape_id": id},
		})
	}
	return l
}

func (f *Feed) shapeFilter(types []RouteType) map[string]bool {
	if len(types) == 0 {
		return nil
	}
	want := make(map[RouteType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	keep := make(map[string]bool)
	for routeID, shapes := range f.RouteShapes {
		r, ok := f.Routes[routeID]
		if !ok || !want[r.Type] {
			continue
		}
		for _, s := range shapes {
			keep[s] = true
		}
	}
	return keep
}
