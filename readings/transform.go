package readings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/types"
)

// DefaultMeasurement is the measurement name written for every reading
const DefaultMeasurement = "meter_reading"

// Tag keys attached to each point
const (
	TagMPRN         = "mprn"
	TagSerialNumber = "meter_serial_number"
	TagReadType     = "read_type"
)

// ErrMissingColumn is returned when a record lacks a required column
var ErrMissingColumn = errors.New("missing column")

// Transformer converts export records into time-series points
type Transformer struct {
	measurement string
	location    *time.Location
}

// NewTransformer creates a Transformer writing to the given measurement and
// reading timestamps as wall-clock times in loc
func NewTransformer(measurement string, loc *time.Location) *Transformer {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Transformer{
		measurement: measurement,
		location:    loc,
	}
}

// Points converts every record, failing on the first bad row. Row numbers in
// errors count the header as row 1.
//
// A series can repeat a wall time inside an autumn fall-back hour. Row order
// decides which occurrence is summer time: in an export listed oldest first
// the first occurrence maps to the earlier instant, in one listed newest first
// it maps to the later instant. The direction is taken per series from its
// first two distinct wall times.
func (t *Transformer) Points(records []Record) ([]types.Point, error) {
	rows := make([]row, 0, len(records))
	for i, record := range records {
		r, err := t.parse(record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		rows = append(rows, r)
	}

	descending := seriesDescending(rows)
	seen := make(map[string]bool)
	points := make([]types.Point, 0, len(rows))

	for _, r := range rows {
		earlier, later, ambiguous := resolve(r.wall, t.location)
		instant := earlier
		if ambiguous {
			key := r.series + "@" + r.wall.Format(ReadTimeLayout)
			if seen[key] != descending[r.series] {
				instant = later
			}
			seen[key] = true
		}
		r.point.Timestamp = instant.Unix()
		points = append(points, r.point)
	}

	return points, nil
}

// row is a record whose wall time has not been placed on the timeline yet
type row struct {
	point  types.Point
	series string
	wall   time.Time
}

func (t *Transformer) parse(record Record) (row, error) {
	var fields [5]string
	for i, column := range []string{ColumnMPRN, ColumnSerialNumber, ColumnReadType, ColumnReadValue, ColumnReadTime} {
		value, ok := record[column]
		if !ok {
			return row{}, fmt.Errorf("%w %q", ErrMissingColumn, column)
		}
		fields[i] = value
	}
	mprn, serial, readType, rawValue, rawTime := fields[0], fields[1], fields[2], fields[3], fields[4]

	value, err := strconv.ParseFloat(strings.TrimSpace(rawValue), 64)
	if err != nil {
		return row{}, fmt.Errorf("invalid %s %q: %w", ColumnReadValue, rawValue, err)
	}

	wall, err := time.Parse(ReadTimeLayout, strings.TrimSpace(rawTime))
	if err != nil {
		return row{}, fmt.Errorf("invalid %s %q: %w", ColumnReadTime, rawTime, err)
	}

	point := types.Point{
		Measurement: t.measurement,
		Tags: map[string]string{
			TagMPRN:         mprn,
			TagSerialNumber: serial,
			TagReadType:     readType,
		},
		Fields: map[string]float64{
			types.DefaultField: value,
		},
	}

	return row{point: point, series: point.SeriesKey(), wall: wall}, nil
}

// seriesDescending reports, per series, whether its rows run newest first
func seriesDescending(rows []row) map[string]bool {
	last := make(map[string]time.Time)
	decided := make(map[string]bool)
	descending := make(map[string]bool)

	for _, r := range rows {
		if decided[r.series] {
			continue
		}
		prev, ok := last[r.series]
		last[r.series] = r.wall
		if !ok || prev.Equal(r.wall) {
			continue
		}
		descending[r.series] = r.wall.Before(prev)
		decided[r.series] = true
	}

	return descending
}
