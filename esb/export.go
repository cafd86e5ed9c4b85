package esb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrEmptyExport is returned when the portal answers with no data
	ErrEmptyExport = errors.New("export returned no data")
	// ErrNotCSV is returned when the portal answers with a web page instead of
	// the export, which happens when the session is not authenticated
	ErrNotCSV = errors.New("export response is not CSV")
)

// Fetcher downloads HDF exports with an authenticated session
type Fetcher struct {
	endpoints Endpoints
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewFetcher creates a new Fetcher
func NewFetcher(endpoints Endpoints, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		endpoints: endpoints.withDefaults(),
		logger:    logger,
		tracer:    otel.Tracer("esb"),
	}
}

// Fetch downloads the export covering start until now and returns it split
// into lines
func (f *Fetcher) Fetch(ctx context.Context, session *Session, mprn string, start time.Time) ([]string, error) {
	ctx, span := f.tracer.Start(ctx, "esb.Fetch",
		trace.WithAttributes(
			attribute.String("esb.mprn", mprn),
			attribute.String("esb.start_date", start.Format(StartDateLayout)),
		))
	defer span.End()

	lines, err := f.fetch(ctx, session, mprn, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("esb.export_lines", len(lines)))
	span.SetStatus(codes.Ok, "export downloaded")
	return lines, nil
}

func (f *Fetcher) fetch(ctx context.Context, session *Session, mprn string, start time.Time) ([]string, error) {
	if session == nil {
		return nil, fmt.Errorf("no session")
	}

	f.logger.Info("downloading export",
		zap.String("mprn", mprn),
		zap.String("startDate", start.Format(StartDateLayout)))

	resp, body, err := session.get(ctx, f.endpoints.exportURL(mprn, start))
	if err != nil {
		return nil, fmt.Errorf("failed to download export: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download export: unexpected status code %d", resp.StatusCode)
	}

	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyExport
	}

	if isHTML(resp.Header.Get("Content-Type"), body) {
		f.logger.Error("export returned a web page", zap.String("sample", sample(body)))
		return nil, ErrNotCSV
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrNotCSV)
	}

	lines := splitLines(string(body))
	f.logger.Info("downloaded export",
		zap.Int("bytes", len(body)),
		zap.Int("lines", len(lines)))

	return lines, nil
}

func isHTML(contentType string, body []byte) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "text/html" {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("<"))
}

// splitLines splits on LF or CRLF and drops trailing blank lines
func splitLines(s string) []string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
