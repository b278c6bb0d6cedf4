package rdb

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

// quietLogger discards log output in tests.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqliteConfig(dir string) types.Config {
	return types.Config{Backend: types.BackendSQLite, DataDir: dir}
}

// setupBackend attaches a sqlite backend in a temp dir and detaches it when
// the test ends.
func setupBackend(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend(WithLogger(quietLogger()))
	require.NoError(t, b.Attach(context.Background(), sqliteConfig(t.TempDir())))
	t.Cleanup(func() { b.Detach() })
	return b
}

// setupSession acquires a session on a fresh backend.
func setupSession(t *testing.T) (*Backend, *Session) {
	t.Helper()
	b := setupBackend(t)
	s, err := b.acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Release() })
	return b, s
}

func TestBackend_Attach(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested")

	b := NewBackend(WithLogger(quietLogger()))
	require.NoError(t, b.Attach(ctx, sqliteConfig(dir)))
	defer b.Detach()

	_, err := os.Stat(filepath.Join(dir, types.SQLiteFileName))
	assert.NoError(t, err, "database file should be created")

	err = b.Attach(ctx, sqliteConfig(dir))
	assert.ErrorIs(t, err, types.ErrAlreadyAttached)
}

func TestBackend_AttachInvalidConfig(t *testing.T) {
	b := NewBackend(WithLogger(quietLogger()))

	err := b.Attach(context.Background(), types.Config{})
	assert.ErrorIs(t, err, types.ErrBackendEmpty)

	err = b.Attach(context.Background(), types.Config{Backend: "oracle"})
	assert.ErrorIs(t, err, types.ErrBackendUnknown)

	_, err = b.Acquire(context.Background())
	assert.ErrorIs(t, err, types.ErrStorageDetached)
}

func TestBackend_Detach(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(WithLogger(quietLogger()))
	require.NoError(t, b.Attach(ctx, sqliteConfig(t.TempDir())))

	require.NoError(t, b.Detach())
	assert.NoError(t, b.Detach(), "Detach should be idempotent")

	_, err := b.Acquire(ctx)
	assert.ErrorIs(t, err, types.ErrStorageDetached)
}

func TestBackend_ReattachKeepsData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b := NewBackend(WithLogger(quietLogger()))
	require.NoError(t, b.Attach(ctx, sqliteConfig(dir)))
	s, err := b.Acquire(ctx)
	require.NoError(t, err)
	studyID, err := s.CreateStudy(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Release())
	require.NoError(t, b.Detach())

	b2 := NewBackend(WithLogger(quietLogger()))
	require.NoError(t, b2.Attach(ctx, sqliteConfig(dir)))
	defer b2.Detach()
	s2, err := b2.Acquire(ctx)
	require.NoError(t, err)
	defer s2.Release()

	_, err = s2.GetStudyUUIDFromID(ctx, studyID)
	assert.NoError(t, err)
}

func TestSession_Release(t *testing.T) {
	ctx := context.Background()
	_, s := setupSession(t)

	require.NoError(t, s.Release())
	assert.NoError(t, s.Release(), "Release should be idempotent")

	_, err := s.CreateStudy(ctx)
	assert.ErrorIs(t, err, types.ErrSessionReleased)
	_, err = s.GetAllTrials(ctx, 1)
	assert.ErrorIs(t, err, types.ErrSessionReleased)
}
