package rdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

// execQuerier is satisfied by *sql.Tx and *sql.Conn.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect isolates everything that differs between the supported databases.
// Queries are written with ? placeholders and rebound per dialect.
type dialect interface {
	name() string
	driverName() string
	dsn(cfg types.Config) string
	ddl() []string
	rebind(query string) string

	// insertID runs an INSERT and returns the generated key of idColumn.
	insertID(ctx context.Context, q execQuerier, query, idColumn string, args ...any) (int64, error)

	isUniqueViolation(err error) bool
	isForeignKeyViolation(err error) bool
}

// dialectFor returns the dialect for a validated backend name.
func dialectFor(backend string) (dialect, error) {
	switch backend {
	case types.BackendSQLite:
		return sqliteDialect{}, nil
	case types.BackendPostgres:
		return postgresDialect{}, nil
	case types.BackendMySQL:
		return mysqlDialect{}, nil
	default:
		return nil, types.ErrBackendUnknown
	}
}

// sqliteDialect drives modernc.org/sqlite.
type sqliteDialect struct{}

func (sqliteDialect) name() string       { return types.BackendSQLite }
func (sqliteDialect) driverName() string { return "sqlite" }
func (sqliteDialect) ddl() []string      { return sqliteDDL }

// dsn enables foreign keys and WAL on every pooled connection. The busy
// timeout comes first so the journal mode switch can wait out other
// initializers. Immediate transactions take the write lock up front, which
// keeps read-then-insert transactions from deadlocking on upgrade.
func (sqliteDialect) dsn(cfg types.Config) string {
	params := []string{
		"_pragma=busy_timeout(" + strconv.Itoa(cfg.BusyTimeout()) + ")",
		"_pragma=foreign_keys(1)",
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
		"_txlock=immediate",
	}
	path := cfg.SQLitePath()
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

func (sqliteDialect) rebind(query string) string { return query }

func (sqliteDialect) insertID(ctx context.Context, q execQuerier, query, idColumn string, args ...any) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, query+" RETURNING "+idColumn, args...).Scan(&id)
	return id, err
}

func (sqliteDialect) isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// Primary code only when extended codes are off.
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

func (sqliteDialect) isForeignKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "FOREIGN KEY constraint failed")
	}
	return false
}

// postgresDialect drives pgx through its database/sql adapter.
type postgresDialect struct{}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func (postgresDialect) name() string                { return types.BackendPostgres }
func (postgresDialect) driverName() string          { return "pgx" }
func (postgresDialect) ddl() []string               { return postgresDDL }
func (postgresDialect) dsn(cfg types.Config) string { return cfg.DSN }

// rebind rewrites ? placeholders as $1, $2, ...
func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d postgresDialect) insertID(ctx context.Context, q execQuerier, query, idColumn string, args ...any) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, d.rebind(query+" RETURNING "+idColumn), args...).Scan(&id)
	return id, err
}

func (postgresDialect) isUniqueViolation(err error) bool {
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == pgUniqueViolation
}

func (postgresDialect) isForeignKeyViolation(err error) bool {
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == pgForeignKeyViolation
}

// mysqlDialect drives go-sql-driver/mysql.
type mysqlDialect struct{}

const (
	mysqlDuplicateEntry    = 1062
	mysqlNoReferencedRow   = 1452
	mysqlNoReferencedRowV2 = 1216
)

func (mysqlDialect) name() string               { return types.BackendMySQL }
func (mysqlDialect) driverName() string         { return "mysql" }
func (mysqlDialect) ddl() []string              { return mysqlDDL }
func (mysqlDialect) rebind(query string) string { return query }

// dsn makes UPDATE report matched rather than changed rows so that
// RowsAffected can be used as an existence check on every dialect.
func (mysqlDialect) dsn(cfg types.Config) string {
	parsed, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		// Let sql.Open report the malformed DSN.
		return cfg.DSN
	}
	parsed.ClientFoundRows = true
	return parsed.FormatDSN()
}

func (mysqlDialect) insertID(ctx context.Context, q execQuerier, query, _ string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (mysqlDialect) isUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func (mysqlDialect) isForeignKeyViolation(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && (me.Number == mysqlNoReferencedRow || me.Number == mysqlNoReferencedRowV2)
}
