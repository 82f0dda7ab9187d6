// Package tripio persists trips as a polyline shapefile: one two-vertex
// line per trip from origin to destination.
package tripio

import (
	"iter"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"tripgen/internal/domain"
	"tripgen/internal/geo"
)

const (
	FieldID        = "id"
	FieldOriginSLA = "orig_sla"
	FieldDestSLA   = "dest_sla"
	FieldDepTime   = "dep_time"
)

var fields = []shp.Field{
	shp.StringField(FieldID, 20),
	shp.StringField(FieldOriginSLA, 254),
	shp.StringField(FieldDestSLA, 254),
	shp.StringField(FieldDepTime, 254),
}

// Writer streams trips to a shapefile, reprojecting from the trip CRS to
// the output CRS. Close writes the .prj sidecar.
type Writer struct {
	path  string
	out   geo.CRS
	toOut geo.Transformer
	w     *shp.Writer
	n     int
}

func Create(path string, tripCRS, outCRS geo.CRS) (*Writer, error) {
	tf, err := geo.NewTransformer(tripCRS, outCRS)
	if err != nil {
		return nil, errors.Wrap(err, "trip shapefile")
	}
	w, err := shp.Create(path, shp.POLYLINE)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return nil, errors.Wrap(err, "set trip fields")
	}
	return &Writer{path: path, out: outCRS, toOut: tf, w: w}, nil
}

func (w *Writer) Write(t domain.Trip) error {
	o, d := w.toOut.Point(t.Origin), w.toOut.Point(t.Dest)
	line := shp.NewPolyLine([][]shp.Point{{
		{X: o.X(), Y: o.Y()},
		{X: d.X(), Y: d.Y()},
	}})
	row := int(w.w.Write(line))

	id := t.ID
	if id == "" {
		id = domain.SequentialID(w.n)
	}
	for i, v := range []string{id, t.OriginZone, t.DestZone, t.DepartureString()} {
		if err := w.w.WriteAttribute(row, i, v); err != nil {
			return errors.Wrapf(err, "write trip %s field %s", id, fields[i].String())
		}
	}
	w.n++
	return nil
}

// Count is the number of trips written so far.
func (w *Writer) Count() int {
	return w.n
}

func (w *Writer) Close() error {
	w.w.Close()
	return geo.WritePrj(w.path, w.out)
}

// WriteAll drains trips into a new shapefile and returns how many were
// written. An error yielded by the sequence stops the write and is returned
// after the file is closed.
func WriteAll(path string, tripCRS, outCRS geo.CRS, trips iter.Seq2[domain.Trip, error]) (int, error) {
	w, err := Create(path, tripCRS, outCRS)
	if err != nil {
		return 0, err
	}
	var werr error
	for t, err := range trips {
		if err != nil {
			werr = err
			break
		}
		if err := w.Write(t); err != nil {
			werr = err
			break
		}
	}
	if err := w.Close(); err != nil && werr == nil {
		werr = err
	}
	return w.Count(), werr
}

// Read loads trips from a shapefile and reprojects them into tripCRS. The
// file's CRS comes from its .prj sidecar, or tripCRS when there is none.
// Trip IDs are kept verbatim.
func Read(path string, tripCRS geo.CRS) ([]domain.Trip, error) {
	fileCRS, ok, err := geo.ReadPrj(path)
	if err != nil {
		return nil, errors.Wrapf(err, "trip shapefile %s", path)
	}
	if !ok {
		fileCRS = tripCRS
	}
	tf, err := geo.NewTransformer(fileCRS, tripCRS)
	if err != nil {
		return nil, errors.Wrap(err, "trip shapefile")
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer r.Close()

	col := make(map[string]int)
	for i, f := range r.Fields() {
		col[strings.ToLower(f.String())] = i
	}
	for _, name := range []string{FieldID, FieldOriginSLA, FieldDestSLA, FieldDepTime} {
		if _, ok := col[name]; !ok {
			return nil, errors.Newf("%s: missing field %q", path, name)
		}
	}
	attr := func(row int, name string) string {
		return strings.TrimSpace(strings.TrimRight(r.ReadAttribute(row, col[name]), "\x00"))
	}

	var trips []domain.Trip
	for r.Next() {
		row, s := r.Shape()
		line, ok := s.(*shp.PolyLine)
		if !ok || len(line.Points) < 2 {
			return nil, errors.Newf("%s record %d: expected a two-vertex polyline", path, row)
		}
		first, last := line.Points[0], line.Points[len(line.Points)-1]

		dep, hasDate, err := domain.ParseDeparture(attr(row, FieldDepTime))
		if err != nil {
			return nil, errors.Wrapf(err, "%s record %d", path, row)
		}
		trips = append(trips, domain.NewTrip(
			attr(row, FieldID),
			tf.Point(orb.Point{first.X, first.Y}),
			tf.Point(orb.Point{last.X, last.Y}),
			dep, hasDate,
			attr(row, FieldOriginSLA),
			attr(row, FieldDestSLA),
		))
	}
	return trips, nil
}
