package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/types"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/readings"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultTable is the table readings are stored in when none is configured
const DefaultTable = "meter_readings"

var readingColumns = []string{
	"measurement", "mprn", "meter_serial_number", "read_type", "field", "value", "read_at",
}

// PostgresConfig contains configuration for the PostgreSQL backend
type PostgresConfig struct {
	DSN   string
	Table string
}

// PostgresWriter bulk-loads points into a PostgreSQL table. Re-exported
// readings that are already stored are ignored.
type PostgresWriter struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewPostgresWriter connects to the database and creates the readings table if needed
func NewPostgresWriter(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}

	w := &PostgresWriter{db: db, table: table, logger: logger}
	if err := w.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("connected to postgres", zap.String("table", table))
	return w, nil
}

func (w *PostgresWriter) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			measurement         TEXT NOT NULL,
			mprn                TEXT NOT NULL,
			meter_serial_number TEXT NOT NULL,
			read_type           TEXT NOT NULL,
			field               TEXT NOT NULL,
			value               DOUBLE PRECISION NOT NULL,
			read_at             TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (measurement, mprn, meter_serial_number, read_type, field, read_at)
		)`, pq.QuoteIdentifier(w.table))

	if _, err := w.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", w.table, err)
	}
	return nil
}

// Write copies all points into a staging table and merges them into the
// readings table in one transaction
func (w *PostgresWriter) Write(ctx context.Context, points []types.Point) (err error) {
	ctx, span := otel.Tracer("storage").Start(ctx, "storage.PostgresWrite",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("storage.points", len(points)),
			attribute.String("db.sql.table", w.table),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "postgres write failed")
		}
		span.End()
	}()

	if len(points) == 0 {
		span.SetStatus(codes.Ok, "no points to write")
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	staging := w.table + "_staging"
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pq.QuoteIdentifier(staging), pq.QuoteIdentifier(w.table))); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	rows, err := copyPoints(ctx, tx, staging, points)
	if err != nil {
		return err
	}

	cols := "measurement, mprn, meter_serial_number, read_type, field, value, read_at"
	result, err := tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT DO NOTHING",
		pq.QuoteIdentifier(w.table), cols, cols, pq.QuoteIdentifier(staging)))
	if err != nil {
		return fmt.Errorf("failed to merge staged readings: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit readings: %w", err)
	}

	inserted, _ := result.RowsAffected()
	w.logger.Info("wrote points to postgres",
		zap.Int("points", len(points)),
		zap.Int("rows", rows),
		zap.Int64("inserted", inserted),
	)
	span.SetAttributes(attribute.Int64("storage.rows_inserted", inserted))
	span.SetStatus(codes.Ok, "points written")
	return nil
}

// copyPoints streams one row per point field through COPY FROM STDIN
func copyPoints(ctx context.Context, tx *sql.Tx, table string, points []types.Point) (int, error) {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, readingColumns...))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare copy: %w", err)
	}
	defer stmt.Close()

	rows := 0
	for _, p := range points {
		for field, value := range p.Fields {
			if _, err := stmt.ExecContext(ctx,
				p.Measurement,
				p.Tags[readings.TagMPRN],
				p.Tags[readings.TagSerialNumber],
				p.Tags[readings.TagReadType],
				field,
				value,
				p.Time(),
			); err != nil {
				return rows, fmt.Errorf("failed to copy point: %w", err)
			}
			rows++
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return rows, fmt.Errorf("failed to flush copy: %w", err)
	}
	return rows, nil
}

// Close closes the database connection
func (w *PostgresWriter) Close() error {
	return w.db.Close()
}
