package rdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/studystore/pkg/studystore"
	"github.com/mesh-intelligence/studystore/pkg/types"
)

// versionRowID is the fixed primary key of the singleton version_info row.
const versionRowID = 1

// VersionInfo is the content of the singleton version_info row.
type VersionInfo struct {
	SchemaVersion  int
	LibraryVersion string
}

// checkSchemaCompatibility records the compiled schema version on a fresh
// store, or refuses a store written with a different schema version.
//
// Two first-time initializers may both see an empty table. The loser's
// insert hits the primary key and is ignored: both compiled the same
// schema version, so the winner's row is the one the loser would write.
func checkSchemaCompatibility(ctx context.Context, db *sql.DB, d dialect, logger *slog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning version check: %w", err)
	}
	defer tx.Rollback()

	stored, err := readVersionInfo(ctx, tx)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = tx.ExecContext(ctx,
			d.rebind("INSERT INTO version_info (version_info_id, schema_version, library_version) VALUES (?, ?, ?)"),
			versionRowID, SchemaVersion, studystore.Version,
		)
		if err == nil {
			err = tx.Commit()
		}
		if err != nil && d.isUniqueViolation(err) {
			logger.Debug("version row written by a concurrent initializer",
				"table", tableVersionInfo,
				"error", err,
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if stored.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: studystore %s uses schema %d, store has schema %d (set up by studystore %s)",
			types.ErrSchemaIncompatible, studystore.Version, SchemaVersion,
			stored.SchemaVersion, stored.LibraryVersion)
	}
	return nil
}

func readVersionInfo(ctx context.Context, q execQuerier) (VersionInfo, error) {
	var v VersionInfo
	err := q.QueryRowContext(ctx,
		"SELECT schema_version, library_version FROM version_info",
	).Scan(&v.SchemaVersion, &v.LibraryVersion)
	return v, err
}

// VersionInfo returns the stored version row.
func (b *Backend) VersionInfo(ctx context.Context) (VersionInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return VersionInfo{}, types.ErrStorageDetached
	}
	v, err := readVersionInfo(ctx, b.db)
	if err != nil {
		return VersionInfo{}, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}
