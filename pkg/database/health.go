package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Health statuses reported by Health.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is the database section of the /health response.
type HealthStatus struct {
	Status       string `json:"status"`
	ResponseTime int64  `json:"response_time_ms"`

	// SchemaVersion is the last applied migration; SchemaDirty is set when
	// a migration failed halfway.
	SchemaVersion int64 `json:"schema_version"`
	SchemaDirty   bool  `json:"schema_dirty,omitempty"`

	// ActiveRuns counts runs recorded as running and not yet completed.
	ActiveRuns int64 `json:"active_runs"`

	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	WaitDuration    int64 `json:"wait_duration_ms"`
	MaxOpenConns    int   `json:"max_open_conns"`
}

// Health pings the database and reports schema state, active runs and pool
// statistics. A failed ping returns an unhealthy status together with the
// error.
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()
	h := &HealthStatus{Status: StatusUnhealthy}

	if err := db.PingContext(ctx); err != nil {
		h.ResponseTime = time.Since(start).Milliseconds()
		return h, err
	}

	err := db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).
		Scan(&h.SchemaVersion, &h.SchemaDirty)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		h.ResponseTime = time.Since(start).Milliseconds()
		return h, fmt.Errorf("read schema version: %w", err)
	}
	err = db.QueryRowContext(ctx,
		`SELECT count(*) FROM runs WHERE status = 'running' AND completed_at IS NULL AND deleted_at IS NULL`).
		Scan(&h.ActiveRuns)
	if err != nil {
		h.ResponseTime = time.Since(start).Milliseconds()
		return h, fmt.Errorf("count active runs: %w", err)
	}

	stats := db.Stats()
	h.Status = StatusHealthy
	if h.SchemaDirty {
		h.Status = StatusUnhealthy
	}
	h.ResponseTime = time.Since(start).Milliseconds()
	h.OpenConnections = stats.OpenConnections
	h.InUse = stats.InUse
	h.Idle = stats.Idle
	h.WaitCount = stats.WaitCount
	h.WaitDuration = stats.WaitDuration.Milliseconds()
	h.MaxOpenConns = stats.MaxOpenConnections
	return h, nil
}
