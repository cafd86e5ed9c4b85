package types

import (
	"testing"
	"time"
)

func TestSeriesKey_SortsTags(t *testing.T) {
	a := Point{Measurement: "meter_reading", Tags: map[string]string{"read_type": "Active Import", "mprn": "100"}}
	b := Point{Measurement: "meter_reading", Tags: map[string]string{"mprn": "100", "read_type": "Active Import"}}

	if a.SeriesKey() != b.SeriesKey() {
		t.Errorf("Expected equal keys, got %q and %q", a.SeriesKey(), b.SeriesKey())
	}

	want := "meter_reading,mprn=100,read_type=Active Import"
	if a.SeriesKey() != want {
		t.Errorf("Expected %q, got %q", want, a.SeriesKey())
	}
}

func TestTimeRange(t *testing.T) {
	points := []Point{
		{Timestamp: 1689946200},
		{Timestamp: 1689944400},
		{Timestamp: 1689948000},
	}

	first, last := TimeRange(points)
	if !first.Equal(time.Unix(1689944400, 0)) {
		t.Errorf("Unexpected first: %v", first)
	}
	if !last.Equal(time.Unix(1689948000, 0)) {
		t.Errorf("Unexpected last: %v", last)
	}
}

func TestTimeRange_Empty(t *testing.T) {
	first, last := TimeRange(nil)
	if !first.IsZero() || !last.IsZero() {
		t.Error("Expected zero times for empty batch")
	}
}
