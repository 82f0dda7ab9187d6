// Package vista reads origin-destination trip counts by departure hour from
// CSV tables exported by the VISTA travel survey website.
package vista

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"tripgen/internal/domain"
)

const (
	headerDestination = "Destination SLA"
	headerOrigin      = "Origin SLA"
	headerStartHour   = "Start hour of travel"
)

var ErrMalformedHeader = errors.New("malformed VISTA header")

type Options struct {
	// Ignore lists zone names dropped as both origins and destinations.
	Ignore []string
}

// Table is the parsed export.
type Table struct {
	Counts  domain.ODHourCounts
	Origins []string
	Dests   []string
}

func ReadFile(path string, opts Options) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	t, err := Read(f, opts)
	return t, errors.Wrapf(err, "read %s", path)
}

// Read parses an export. The destination header row is found by scanning
// for "Destination SLA"; the row after it names the origin and start hour
// columns. A data row with an empty origin cell continues the previous
// origin.
func Read(r io.Reader, opts Options) (Table, error) {
	ignore := make(map[string]bool, len(opts.Ignore))
	for _, s := range opts.Ignore {
		ignore[s] = true
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var destRow []string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return Table{}, errors.Wrapf(ErrMalformedHeader, "no %q row", headerDestination)
		}
		if err != nil {
			return Table{}, errors.Wrap(err, "scan for header")
		}
		row = clean(row)
		if indexOf(row, headerDestination) >= 0 {
			destRow = row
			break
		}
	}
	destCols, dests := destinationColumns(destRow, ignore)

	hdr, err := cr.Read()
	if err != nil {
		return Table{}, errors.Wrap(ErrMalformedHeader, "missing origin header row")
	}
	hdr = clean(hdr)
	originCol := indexOf(hdr, headerOrigin)
	startCol := indexOf(hdr, headerStartHour)
	if originCol < 0 || startCol < 0 {
		return Table{}, errors.Wrapf(ErrMalformedHeader, "need %q and %q columns", headerOrigin, headerStartHour)
	}

	t := Table{Counts: make(domain.ODHourCounts), Dests: dests}
	origin := ""
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, errors.Wrapf(err, "data row %d", line)
		}
		row = clean(row)

		if cell(row, originCol) != "" {
			origin = cell(row, originCol)
			if !ignore[origin] {
				t.Origins = append(t.Origins, origin)
				for _, d := range dests {
					if _, ok := t.Counts[domain.ODPair{Origin: origin, Dest: d}]; !ok {
						t.Counts[domain.ODPair{Origin: origin, Dest: d}] = map[string]int{}
					}
				}
			}
		}
		if origin == "" || ignore[origin] {
			continue
		}
		start := cell(row, startCol)
		if start == "" {
			continue
		}
		label, err := HourLabel(start)
		if err != nil {
			return Table{}, errors.Wrapf(err, "data row %d", line)
		}

		for i, col := range destCols {
			n, err := count(cell(row, col))
			if err != nil {
				return Table{}, errors.Wrapf(err, "data row %d, destination %q", line, dests[i])
			}
			t.Counts.Add(domain.ODPair{Origin: origin, Dest: dests[i]}, label, n)
		}
	}
	return t, nil
}

// destinationColumns lists the destination zone columns following the
// "Destination SLA" cell. The block ends at the first repeat of an accepted
// name, which marks the start of subsidiary columns. Annotation, RSE and
// ignored columns are skipped and never end the block.
func destinationColumns(row []string, ignore map[string]bool) ([]int, []string) {
	var cols []int
	var names []string
	seen := make(map[string]bool)
	start := indexOf(row, headerDestination)
	for i := start + 1; i < len(row); i++ {
		name := row[i]
		if seen[name] {
			break
		}
		if strings.HasSuffix(name, "Annotations") || strings.HasSuffix(name, "RSE") || ignore[name] {
			continue
		}
		seen[name] = true
		cols = append(cols, i)
		names = append(names, name)
	}
	return cols, names
}

// HourLabel turns a 12-hour value like "7am" or "12pm" into "HH:MM".
func HourLabel(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return "", errors.Newf("bad start hour %q", s)
	}
	suffix := s[len(s)-2:]
	h, err := strconv.Atoi(strings.TrimSpace(s[:len(s)-2]))
	if err != nil || h < 1 || h > 12 || (suffix != "am" && suffix != "pm") {
		return "", errors.Newf("bad start hour %q", s)
	}
	h %= 12
	if suffix == "pm" {
		h += 12
	}
	return domain.NewTimeOfDay(h, 0).String(), nil
}

// count rounds survey-weighted values to whole trips. Blank cells are zero.
func count(s string) (int, error) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || s == "-" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "count %q", s)
	}
	if f < 0 {
		return 0, errors.Newf("negative count %q", s)
	}
	return int(math.Round(f)), nil
}

func clean(row []string) []string {
	for i, c := range row {
		row[i] = strings.TrimSpace(strings.Trim(c, `"`))
	}
	return row
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func indexOf(row []string, s string) int {
	for i, c := range row {
		if c == s {
			return i
		}
	}
	return -1
}
