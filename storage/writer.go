// Package storage persists meter reading points to a time-series backend.
package storage

import (
	"context"
	"fmt"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/types"
	"go.uber.org/zap"
)

// Supported backends
const (
	BackendRemoteWrite = "remote_write"
	BackendPostgres    = "postgres"
)

// Writer stores a batch of points. A batch is written in one call; a failed
// call leaves no guarantee about which points were stored.
type Writer interface {
	Write(ctx context.Context, points []types.Point) error
	Close() error
}

// Config selects and configures the storage backend
type Config struct {
	Backend     string
	RemoteWrite RemoteWriteConfig
	Postgres    PostgresConfig
}

// New opens the configured backend
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Writer, error) {
	switch cfg.Backend {
	case "", BackendRemoteWrite:
		return NewRemoteWriter(cfg.RemoteWrite, logger), nil
	case BackendPostgres:
		return NewPostgresWriter(ctx, cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
