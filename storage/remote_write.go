package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/types"
	"github.com/gogo/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RemoteWriteConfig contains configuration for the Prometheus remote_write backend
type RemoteWriteConfig struct {
	URL      string
	Username string
	Password string
	// Attempts is the number of tries per batch, values below 1 mean 1
	Attempts int
	Timeout  time.Duration
	// Transport overrides the HTTP transport, nil uses http.DefaultTransport
	Transport http.RoundTripper
}

// RemoteWriter writes points to a Prometheus remote_write endpoint
type RemoteWriter struct {
	url      string
	username string
	password string
	attempts int
	client   *http.Client
	logger   *zap.Logger
}

// NewRemoteWriter creates a remote_write backend with an instrumented HTTP client
func NewRemoteWriter(cfg RemoteWriteConfig, logger *zap.Logger) *RemoteWriter {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}

	return &RemoteWriter{
		url:      cfg.URL,
		username: cfg.Username,
		password: cfg.Password,
		attempts: attempts,
		client: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(
				transport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return "prometheus.remote_write"
				}),
			),
		},
		logger: logger,
	}
}

// Write sends all points in a single remote_write request
func (w *RemoteWriter) Write(ctx context.Context, points []types.Point) error {
	ctx, span := otel.Tracer("storage").Start(ctx, "storage.RemoteWrite",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("storage.points", len(points))),
	)
	defer span.End()

	if len(points) == 0 {
		span.SetStatus(codes.Ok, "no points to write")
		return nil
	}

	writeReq := &prompb.WriteRequest{Timeseries: BuildTimeSeries(ctx, points)}
	span.AddEvent("write request built",
		trace.WithAttributes(attribute.Int("storage.time_series_count", len(writeReq.Timeseries))),
	)

	var lastErr error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		err := w.writeOnce(ctx, writeReq)
		if err == nil {
			w.logger.Info("wrote points to remote_write",
				zap.Int("points", len(points)),
				zap.Int("time_series", len(writeReq.Timeseries)),
				zap.Int("attempt", attempt),
			)
			span.SetAttributes(attribute.Int("storage.successful_attempt", attempt))
			span.SetStatus(codes.Ok, "points written")
			return nil
		}

		lastErr = err
		span.AddEvent("write attempt failed",
			trace.WithAttributes(
				attribute.Int("storage.attempt", attempt),
				attribute.String("error", err.Error()),
			),
		)

		if attempt < w.attempts {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			w.logger.Warn("remote_write failed, will retry",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context cancelled")
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "remote_write failed")
	return fmt.Errorf("remote_write failed after %d attempt(s): %w", w.attempts, lastErr)
}

// writeOnce performs a single remote_write request
func (w *RemoteWriter) writeOnce(ctx context.Context, writeReq *prompb.WriteRequest) error {
	data, err := proto.Marshal(writeReq)
	if err != nil {
		return fmt.Errorf("failed to marshal protobuf: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	if w.username != "" && w.password != "" {
		req.SetBasicAuth(w.username, w.password)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received non-2xx status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Close releases idle connections
func (w *RemoteWriter) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
