package types

import (
	"errors"
	"path/filepath"
)

// Config holds backend selection and connection parameters for Storage.Attach.
type Config struct {
	Backend string `json:"backend" yaml:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// DSN is the driver connection string. Required for postgres and mysql.
	// For sqlite it overrides the database file derived from DataDir.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	// MaxOpenConns caps the pool size; zero leaves the driver default.
	MaxOpenConns int `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`

	// BusyTimeoutMS is how long a sqlite connection waits on a locked
	// database before failing. Zero means DefaultBusyTimeoutMS.
	BusyTimeoutMS int `json:"busy_timeout_ms,omitempty" yaml:"busy_timeout_ms,omitempty"`
}

// Supported backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

// SQLiteFileName is the database file created inside DataDir.
const SQLiteFileName = "studystore.db"

// DefaultBusyTimeoutMS is the sqlite busy timeout used when none is configured.
const DefaultBusyTimeoutMS = 5000

// Config validation errors.
var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
	ErrDSNRequired    = errors.New("dsn is required for this backend")
	ErrPoolSize       = errors.New("max open connections must not be negative")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:   true,
	BackendPostgres: true,
	BackendMySQL:    true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Backend != BackendSQLite && c.DSN == "" {
		return ErrDSNRequired
	}
	if c.MaxOpenConns < 0 {
		return ErrPoolSize
	}
	return nil
}

// SQLitePath returns the database file for the sqlite backend.
func (c Config) SQLitePath() string {
	if c.DSN != "" {
		return c.DSN
	}
	dir := c.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, SQLiteFileName)
}

// BusyTimeout returns the configured busy timeout or the default.
func (c Config) BusyTimeout() int {
	if c.BusyTimeoutMS > 0 {
		return c.BusyTimeoutMS
	}
	return DefaultBusyTimeoutMS
}
