package types

import (
	"sort"
	"strings"
	"time"
)

// DefaultField is the field name used when a point carries a single value
const DefaultField = "value"

// Point is a single time-series sample ready to be written to storage
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]float64
	// Timestamp is in Unix epoch seconds (UTC)
	Timestamp int64
}

// Time returns the point timestamp as a UTC time.Time
func (p Point) Time() time.Time {
	return time.Unix(p.Timestamp, 0).UTC()
}

// SeriesKey identifies the series the point belongs to: measurement plus sorted tags
func (p Point) SeriesKey() string {
	keys := make([]string, 0, len(p.Tags))
	for k := range p.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(p.Measurement)
	for _, k := range keys {
		sb.WriteByte(',')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(p.Tags[k])
	}
	return sb.String()
}

// TimeRange returns the earliest and latest timestamps in a batch of points
func TimeRange(points []Point) (first, last time.Time) {
	for _, p := range points {
		t := p.Time()
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}
	return first, last
}
