package storage

import (
	"context"
	"sort"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/types"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// seriesName maps a measurement and field to a metric name. The default
// field keeps the bare measurement name.
func seriesName(measurement, field string) string {
	if field == types.DefaultField {
		return measurement
	}
	return measurement + "_" + field
}

// BuildTimeSeries groups points into Prometheus time series, one per
// measurement, field and tag set, with samples ordered by time
func BuildTimeSeries(ctx context.Context, points []types.Point) []prompb.TimeSeries {
	_, span := otel.Tracer("storage").Start(ctx, "storage.BuildTimeSeries")
	defer span.End()

	type seriesKey struct {
		series string
		field  string
	}

	index := make(map[seriesKey]int)
	var timeSeries []prompb.TimeSeries

	for _, p := range points {
		for field, value := range p.Fields {
			key := seriesKey{series: p.SeriesKey(), field: field}
			i, ok := index[key]
			if !ok {
				i = len(timeSeries)
				index[key] = i
				timeSeries = append(timeSeries, prompb.TimeSeries{Labels: buildLabels(p, field)})
			}
			timeSeries[i].Samples = append(timeSeries[i].Samples, prompb.Sample{
				Value:     value,
				Timestamp: p.Timestamp * 1000,
			})
		}
	}

	for i := range timeSeries {
		samples := timeSeries[i].Samples
		sort.SliceStable(samples, func(a, b int) bool {
			return samples[a].Timestamp < samples[b].Timestamp
		})
	}

	span.SetAttributes(
		attribute.Int("storage.points", len(points)),
		attribute.Int("storage.time_series_count", len(timeSeries)),
	)
	span.SetStatus(codes.Ok, "time series built")

	return timeSeries
}

// buildLabels returns __name__ followed by the point tags, sorted by name
func buildLabels(p types.Point, field string) []prompb.Label {
	labels := make([]prompb.Label, 0, len(p.Tags)+1)
	labels = append(labels, prompb.Label{Name: "__name__", Value: seriesName(p.Measurement, field)})
	for k, v := range p.Tags {
		labels = append(labels, prompb.Label{Name: k, Value: v})
	}
	sort.Slice(labels, func(a, b int) bool {
		return labels[a].Name < labels[b].Name
	})
	return labels
}
