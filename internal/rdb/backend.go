// Package rdb implements the relational storage engine for studystore.
// One engine serves sqlite, postgres and mysql; the differences live in
// dialect.go and schema.go.
package rdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

var _ types.Storage = (*Backend)(nil)

// Backend implements types.Storage over database/sql.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	dialect  dialect

	logger     *slog.Logger
	metrics    *metrics
	registerer prometheus.Registerer

	// now and newIdentifier are replaced in tests.
	now           func() time.Time
	newIdentifier func() string
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRegisterer registers the backend's metrics with r instead of a
// private registry. If r rejects the collectors, the backend logs a warning
// and keeps its metrics private.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(b *Backend) {
		if r != nil {
			b.registerer = r
		}
	}
}

// NewBackend creates a new storage backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		logger:        slog.Default(),
		now:           time.Now,
		newIdentifier: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.registerer != nil {
		m, err := newMetrics(b.registerer)
		if err == nil {
			b.metrics = m
		} else {
			b.logger.Warn("metrics registration failed, using a private registry", "err", err)
		}
	}
	if b.metrics == nil {
		// A fresh registry holds none of these names.
		b.metrics, _ = newMetrics(prometheus.NewRegistry())
	}
	return b
}

// Attach opens the database described by config, creates missing tables and
// runs the schema version check. Returns ErrAlreadyAttached if already
// attached. On any failure the connection pool is closed again.
func (b *Backend) Attach(ctx context.Context, config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}

	if err := config.Validate(); err != nil {
		return err
	}

	d, err := dialectFor(config.Backend)
	if err != nil {
		return err
	}

	// Create DataDir if needed
	if config.Backend == types.BackendSQLite && config.DSN == "" && config.DataDir != "" {
		if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
	}

	db, err := sql.Open(d.driverName(), d.dsn(config))
	if err != nil {
		return fmt.Errorf("opening %s: %w", d.name(), err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("connecting to %s: %w", d.name(), err)
	}

	if err := createTables(ctx, db, d); err != nil {
		db.Close()
		return err
	}

	if err := checkSchemaCompatibility(ctx, db, d, b.logger); err != nil {
		db.Close()
		return err
	}

	b.db = db
	b.dialect = d
	b.config = config
	b.attached = true

	b.logger.Info("storage attached",
		"backend", d.name(),
		"schema_version", SchemaVersion,
	)
	return nil
}

// Detach closes the connection pool. After Detach, Acquire returns
// ErrStorageDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil // idempotent
	}

	b.attached = false
	db := b.db
	b.db = nil
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", b.dialect.name(), err)
	}
	return nil
}

// Acquire reserves one pooled connection for the calling worker. The
// returned Session must be released by the same caller.
func (b *Backend) Acquire(ctx context.Context) (types.Session, error) {
	return b.acquire(ctx)
}

func (b *Backend) acquire(ctx context.Context) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStorageDetached
	}

	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	b.metrics.sessions.Inc()
	return &Session{backend: b, conn: conn}, nil
}

// createTables runs the dialect's DDL. Every statement is create-if-absent,
// so concurrent initializers converge. Postgres may still report a unique
// violation on its catalog when two CREATE TABLE IF NOT EXISTS race; the
// statement is retried once, at which point the table exists.
func createTables(ctx context.Context, db *sql.DB, d dialect) error {
	for _, stmt := range d.ddl() {
		_, err := db.ExecContext(ctx, stmt)
		if err != nil && d.isUniqueViolation(err) {
			_, err = db.ExecContext(ctx, stmt)
		}
		if err != nil {
			return fmt.Errorf("executing ddl: %w", err)
		}
	}
	return nil
}

func (b *Backend) timestamp() string {
	return formatTime(b.now())
}
