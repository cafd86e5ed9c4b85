package pipeline

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/esb"
)

// Run outcomes reported on the esb.runs counter
const (
	outcomeSuccess   = "success"
	outcomeLogin     = "login_failed"
	outcomeExport    = "export_failed"
	outcomeNoData    = "no_readings"
	outcomeTransform = "transform_failed"
	outcomeWrite     = "write_failed"
)

type runMetrics struct {
	runs     metric.Int64Counter
	written  metric.Int64Counter
	duration metric.Float64Histogram
}

func newRunMetrics(meter metric.Meter) (*runMetrics, error) {
	runs, err := meter.Int64Counter("esb.runs",
		metric.WithDescription("Pipeline runs by outcome"))
	if err != nil {
		return nil, err
	}
	written, err := meter.Int64Counter("esb.points.written",
		metric.WithDescription("Points accepted by the storage backend"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("esb.run.duration",
		metric.WithDescription("Pipeline run duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &runMetrics{runs: runs, written: written, duration: duration}, nil
}

func (m *runMetrics) record(ctx context.Context, result *Result, outcome string) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, result.Duration.Seconds(), attrs)
	if outcome == outcomeSuccess {
		m.written.Add(ctx, int64(result.Points))
	}
}

func isLoginError(err error) bool {
	for _, target := range []error{
		esb.ErrLoginPage, esb.ErrCredentialsRejected, esb.ErrConfirm, esb.ErrAutoForm, esb.ErrCodeExchange,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
