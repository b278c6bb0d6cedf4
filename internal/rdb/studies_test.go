package rdb

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

func TestCreateStudy_IdentifierRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, s := setupSession(t)

	studyID, err := s.CreateStudy(ctx)
	require.NoError(t, err)

	studyUUID, err := s.GetStudyUUIDFromID(ctx, studyID)
	require.NoError(t, err)
	assert.Len(t, studyUUID, 36)

	got, err := s.GetStudyIDFromUUID(ctx, studyUUID)
	require.NoError(t, err)
	assert.Equal(t, studyID, got)

	other, err := s.CreateStudy(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, studyID, other)
}

func TestCreateStudy_InitializesSystemAttrs(t *testing.T) {
	ctx := context.Background()
	_, s := setupSession(t)

	studyID, err := s.CreateStudy(ctx)
	require.NoError(t, err)

	attrs, err := s.GetStudyUserAttrs(ctx, studyID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{types.SystemAttrsKey: map[string]any{}}, attrs)
}

func TestCreateStudy_IdentifierCollision(t *testing.T) {
	ctx := context.Background()
	b, s := setupSession(t)

	b.newIdentifier = func() string { return "fixed-uuid" }
	_, err := s.CreateStudy(ctx)
	require.NoError(t, err)

	_, err = s.CreateStudy(ctx)
	assert.ErrorIs(t, err, types.ErrIdentifierExhausted)

	calls := 0
	b.newIdentifier = func() string {
		calls++
		if calls < 3 {
			return "fixed-uuid"
		}
		return "fresh-uuid"
	}
	studyID, err := s.CreateStudy(ctx)
	require.NoError(t, err)
	got, err := s.GetStudyUUIDFromID(ctx, studyID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-uuid", got)
}

func TestStudyLookups_NotFound(t *testing.T) {
	ctx := context.Background()
	_, s := setupSession(t)

	_, err := s.GetStudyIDFromUUID(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.GetStudyUUIDFromID(ctx, 42)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.GetStudyUserAttrs(ctx, 42)
	assert.ErrorIs(t, err, types.ErrNotFound)

	err = s.SetStudyUserAttr(ctx, 42, "k", 1)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.GetStudySystemAttrs(ctx, 42)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSetStudyUserAttr(t *testing.T) {
	ctx := context.Background()
	_, s := setupSession(t)

	studyID, err := s.CreateStudy(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetStudyUserAttr(ctx, studyID, "owner", "ada"))
	require.NoError(t, s.SetStudyUserAttr(ctx, studyID, "tags", []string{"a", "b"}))
	require.NoError(t, s.SetStudyUserAttr(ctx, studyID, "owner", "grace"))

	attrs, err := s.GetStudyUserAttrs(ctx, studyID)
	require.NoError(t, err)
	assert.Equal(t, "grace", attrs["owner"])
	assert.Equal(t, []any{"a", "b"}, attrs["tags"])
	assert.Len(t, attrs, 3)
}

func TestStudySystemAttrs(t *testing.T) {
	ctx := context.Background()
	_, s := setupSession(t)

	studyID, err := s.CreateStudy(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetStudySystemAttr(ctx, studyID, "direction", "minimize"))
	require.NoError(t, s.SetStudySystemAttr(ctx, studyID, "n_objectives", 1))

	system, err := s.GetStudySystemAttrs(ctx, studyID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"direction": "minimize", "n_objectives": float64(1)}, system)

	attrs, err := s.GetStudyUserAttrs(ctx, studyID)
	require.NoError(t, err)
	assert.Equal(t, system, attrs[types.SystemAttrsKey])
}

func TestStudyAttrInsertRace(t *testing.T) {
	ctx := context.Background()
	_, s := setupSession(t)

	studyID, err := s.CreateStudy(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetStudyUserAttr(ctx, studyID, "k", "first"))

	// An insert that collides with a committed row classifies as a lost race.
	tx, err := s.conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO study_user_attributes (study_id, attr_key, value_json) VALUES (?, ?, ?)",
		studyID, "k", `"second"`)
	require.Error(t, err)
	assert.True(t, s.backend.dialect.isUniqueViolation(err))
	assert.NoError(t, s.discardRace(tableStudyUserAttrs, fmt.Errorf("%w: %v", types.ErrRaceDiscarded, err)))
}

func TestListStudies(t *testing.T) {
	ctx := context.Background()
	_, s := setupSession(t)

	empty, err := s.ListStudies(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first, err := s.CreateStudy(ctx)
	require.NoError(t, err)
	second, err := s.CreateStudy(ctx)
	require.NoError(t, err)

	for range 2 {
		_, err := s.CreateTrial(ctx, first)
		require.NoError(t, err)
	}
	done, err := s.CreateTrial(ctx, first)
	require.NoError(t, err)
	require.NoError(t, s.SetTrialState(ctx, done, types.StateComplete))

	list, err := s.ListStudies(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, first, list[0].StudyID)
	assert.Equal(t, 3, list[0].NTrials)
	assert.Equal(t, map[types.State]int{types.StateRunning: 2, types.StateComplete: 1}, list[0].ByState)

	assert.Equal(t, second, list[1].StudyID)
	assert.Equal(t, 0, list[1].NTrials)
	assert.Empty(t, list[1].ByState)
}
