// This file implements the worker session: one dedicated pooled connection,
// one transaction per repository call, and the insert-or-verify write
// protocol shared by params and intermediate values.
package rdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

var _ types.Session = (*Session)(nil)

// Session implements types.Session on a single *sql.Conn.
type Session struct {
	backend *Backend
	conn    *sql.Conn

	mu       sync.Mutex
	released bool
}

// Release returns the connection to the pool. Idempotent.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true
	if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("releasing connection: %w", err)
	}
	return nil
}

func (s *Session) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// inTx runs fn in a read-write transaction and commits it when fn succeeds.
func (s *Session) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.run(ctx, op, nil, fn)
}

// readTx runs fn in a read-only transaction so every read of one call sees
// the same snapshot.
func (s *Session) readTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	return s.run(ctx, op, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *Session) run(ctx context.Context, op string, opts *sql.TxOptions, fn func(tx *sql.Tx) error) (err error) {
	if s.isReleased() {
		return types.ErrSessionReleased
	}

	start := time.Now()
	defer func() { s.backend.metrics.observe(op, start, err) }()

	tx, err := s.conn.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning %s: %w", op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", op, err)
	}
	return nil
}

// q rebinds a ?-placeholder query for the session's dialect.
func (s *Session) q(query string) string {
	return s.backend.dialect.rebind(query)
}

// verifyOrInsert is the write protocol for uniqueness-protected rows whose
// key must map to exactly one value. lookup reads the stored value; insert
// writes want. A unique violation on insert means a concurrent writer
// committed the key first and is reported as ErrRaceDiscarded. The caller
// must roll back after that error.
func (s *Session) verifyOrInsert(
	want float64,
	lookup func() (stored float64, found bool, err error),
	insert func() error,
) (types.WriteOutcome, error) {
	stored, found, err := lookup()
	if err != nil {
		return 0, err
	}
	if found {
		if stored == want {
			return types.OutcomeMatched, nil
		}
		return types.OutcomeConflict, fmt.Errorf("%w: stored %v, got %v", types.ErrInvariantViolation, stored, want)
	}

	if err := insert(); err != nil {
		if s.backend.dialect.isUniqueViolation(err) {
			return types.OutcomeRaceDiscarded, fmt.Errorf("%w: %v", types.ErrRaceDiscarded, err)
		}
		return 0, err
	}
	return types.OutcomeInserted, nil
}

// settle records the outcome of a protocol write and turns a lost race into
// success.
func (s *Session) settle(table string, outcome types.WriteOutcome, err error, attrs ...any) (types.WriteOutcome, error) {
	if errors.Is(err, types.ErrRaceDiscarded) {
		return types.OutcomeRaceDiscarded, s.discardRace(table, err, attrs...)
	}
	if err != nil && outcome != types.OutcomeConflict {
		return outcome, err
	}
	s.backend.metrics.outcome(table, outcome)
	return outcome, err
}

// discardRace turns ErrRaceDiscarded into success. Other errors pass through.
func (s *Session) discardRace(table string, err error, attrs ...any) error {
	if !errors.Is(err, types.ErrRaceDiscarded) {
		return err
	}
	s.backend.logger.Debug("concurrent write committed first; discarding",
		append([]any{"table", table, "error", err}, attrs...)...,
	)
	s.backend.metrics.outcome(table, types.OutcomeRaceDiscarded)
	return nil
}

// requireFinite rejects values that sqlite would store as NULL and JSON
// cannot encode.
func requireFinite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", types.ErrInvalidValue, v)
	}
	return nil
}

// affectedOne maps an UPDATE result with no matched rows to ErrNotFound.
func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

// Timestamps are stored as UTC RFC 3339 text so every dialect sorts and
// round-trips them the same way.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding attribute value: %w", err)
	}
	return string(data), nil
}

func decodeJSON(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("decoding attribute value: %w", err)
	}
	return v, nil
}

// decodeAttrMap decodes a JSON object. An empty text decodes to an empty map.
func decodeAttrMap(text string) (map[string]any, error) {
	m := map[string]any{}
	if text == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, fmt.Errorf("decoding attribute map: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// withSystemAttr returns attrs with key set inside the reserved system map.
func withSystemAttr(attrs map[string]any, key string, value any) map[string]any {
	system, ok := attrs[types.SystemAttrsKey].(map[string]any)
	if !ok {
		system = map[string]any{}
	}
	system[key] = value
	attrs[types.SystemAttrsKey] = system
	return attrs
}
