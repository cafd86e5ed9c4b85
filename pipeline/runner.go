// Package pipeline runs the login, export, transform and write sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/esb"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/telemetry"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/types"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/readings"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/storage"
)

// ErrNoReadings is returned when the export holds a header but no rows, or nothing at all
var ErrNoReadings = errors.New("export contains no readings")

// WriteError carries the points of a batch the writer rejected
type WriteError struct {
	Points []types.Point
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %d points: %v", len(e.Points), e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Result summarizes a completed run
type Result struct {
	RunID     string
	StartDate time.Time
	Lines     int
	Records   int
	Points    int
	// Carried is the number of points retried from earlier failed runs
	Carried  int
	First    time.Time
	Last     time.Time
	Duration time.Duration
}

// Options configures a Runner
type Options struct {
	Credentials esb.Credentials
	Client      esb.Config
	Measurement string
	Location    *time.Location
}

// Runner executes the pipeline. Each run logs in afresh.
type Runner struct {
	creds       esb.Credentials
	auth        *esb.Authenticator
	fetcher     *esb.Fetcher
	transformer *readings.Transformer
	writer      storage.Writer
	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     *runMetrics
}

// NewRunner creates a Runner writing to writer
func NewRunner(opts Options, writer storage.Writer, logger *zap.Logger) (*Runner, error) {
	metrics, err := newRunMetrics(otel.Meter("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("failed to create run metrics: %w", err)
	}

	return &Runner{
		creds:       opts.Credentials,
		auth:        esb.NewAuthenticator(opts.Client, logger.Named("esb")),
		fetcher:     esb.NewFetcher(opts.Client.Endpoints, logger.Named("esb")),
		transformer: readings.NewTransformer(opts.Measurement, opts.Location),
		writer:      writer,
		logger:      logger,
		tracer:      otel.Tracer("pipeline"),
		metrics:     metrics,
	}, nil
}

// Run logs in, downloads the export from start until now and writes every reading
func (r *Runner) Run(ctx context.Context, start time.Time) (*Result, error) {
	return r.run(ctx, start, nil)
}

// Export logs in and returns the raw export lines without writing anything
func (r *Runner) Export(ctx context.Context, start time.Time) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.Export")
	defer span.End()

	lines, err := r.download(ctx, r.logger, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "export downloaded")
	return lines, nil
}

func (r *Runner) run(ctx context.Context, start time.Time, carried []types.Point) (*Result, error) {
	result := &Result{RunID: uuid.NewString(), StartDate: start, Carried: len(carried)}
	began := time.Now()

	ctx, span := r.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.run_id", result.RunID),
			attribute.String("pipeline.start_date", start.Format(esb.StartDateLayout)),
			attribute.Int("pipeline.carried_points", len(carried)),
		))
	defer span.End()

	logger := telemetry.WithTrace(ctx, r.logger.With(zap.String("run_id", result.RunID)))
	logger.Info("starting run", zap.String("start_date", start.Format(esb.StartDateLayout)))

	outcome, err := r.execute(ctx, logger, result, carried)
	result.Duration = time.Since(began)
	r.metrics.record(ctx, result, outcome)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		logger.Error("run failed", zap.Duration("duration", result.Duration), zap.Error(err))
		return result, err
	}

	span.SetAttributes(attribute.Int("pipeline.points", result.Points))
	span.SetStatus(codes.Ok, "run complete")
	logger.Info("run complete",
		zap.Int("records", result.Records),
		zap.Int("points", result.Points),
		zap.Int("carried", result.Carried),
		zap.Time("first", result.First),
		zap.Time("last", result.Last),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// execute runs the stages in order and reports the outcome label of the first failure
func (r *Runner) execute(ctx context.Context, logger *zap.Logger, result *Result, carried []types.Point) (string, error) {
	lines, err := r.download(ctx, logger, result.StartDate)
	switch {
	case errors.Is(err, esb.ErrEmptyExport):
		return outcomeNoData, fmt.Errorf("%w: %w", ErrNoReadings, err)
	case isLoginError(err):
		return outcomeLogin, err
	case err != nil:
		return outcomeExport, err
	}
	result.Lines = len(lines)

	records, err := readings.ParseRecords(lines)
	if err != nil {
		return outcomeTransform, fmt.Errorf("failed to parse export: %w", err)
	}
	result.Records = len(records)
	if len(records) == 0 {
		return outcomeNoData, ErrNoReadings
	}

	points, err := r.transformer.Points(records)
	if err != nil {
		return outcomeTransform, fmt.Errorf("failed to transform readings: %w", err)
	}
	result.First, result.Last = types.TimeRange(points)

	batch := mergePoints(carried, points)
	result.Points = len(batch)

	_, span := r.tracer.Start(ctx, "pipeline.Write",
		trace.WithAttributes(attribute.Int("pipeline.points", len(batch))))
	defer span.End()

	if err := r.writer.Write(ctx, batch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return outcomeWrite, &WriteError{Points: batch, Err: err}
	}
	span.SetStatus(codes.Ok, "points written")
	return outcomeSuccess, nil
}

func (r *Runner) download(ctx context.Context, logger *zap.Logger, start time.Time) ([]string, error) {
	session, err := r.auth.Login(ctx, r.creds)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	defer session.Close()

	lines, err := r.fetcher.Fetch(ctx, session, r.creds.MPRN, start)
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}
	logger.Debug("export downloaded", zap.Int("lines", len(lines)))
	return lines, nil
}

// mergePoints combines carried and fresh points, keeping the fresh value when
// both hold the same series and timestamp
func mergePoints(carried, fresh []types.Point) []types.Point {
	if len(carried) == 0 {
		return fresh
	}

	type key struct {
		series string
		ts     int64
	}
	seen := make(map[key]bool, len(fresh))
	for _, p := range fresh {
		seen[key{p.SeriesKey(), p.Timestamp}] = true
	}

	merged := make([]types.Point, 0, len(carried)+len(fresh))
	for _, p := range carried {
		k := key{p.SeriesKey(), p.Timestamp}
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, p)
	}
	return append(merged, fresh...)
}
