package rdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

// maxIdentifierAttempts bounds UUID regeneration on collision.
const maxIdentifierAttempts = 8

// CreateStudy inserts a study under a fresh UUID together with its empty
// system attribute row.
func (s *Session) CreateStudy(ctx context.Context) (int64, error) {
	var studyID int64
	var studyUUID string
	err := s.inTx(ctx, "create_study", func(tx *sql.Tx) error {
		var err error
		studyUUID, err = s.uniqueStudyUUID(ctx, tx)
		if err != nil {
			return err
		}
		studyID, err = s.backend.dialect.insertID(ctx, tx,
			"INSERT INTO studies (study_uuid) VALUES (?)", "study_id", studyUUID)
		if err != nil {
			return fmt.Errorf("inserting study: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			s.q("INSERT INTO study_user_attributes (study_id, attr_key, value_json) VALUES (?, ?, ?)"),
			studyID, types.SystemAttrsKey, "{}",
		)
		if err != nil {
			return fmt.Errorf("initializing system attributes of study %d: %w", studyID, err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("creating study: %w", err)
	}

	s.backend.logger.Info("study created", "study_id", studyID, "study_uuid", studyUUID)
	return studyID, nil
}

func (s *Session) uniqueStudyUUID(ctx context.Context, tx *sql.Tx) (string, error) {
	for range maxIdentifierAttempts {
		candidate := s.backend.newIdentifier()
		var one int
		err := tx.QueryRowContext(ctx,
			s.q("SELECT 1 FROM studies WHERE study_uuid = ?"), candidate,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking study identifier: %w", err)
		}
	}
	return "", types.ErrIdentifierExhausted
}

// requireStudy returns ErrNotFound unless the study exists.
func (s *Session) requireStudy(ctx context.Context, tx *sql.Tx, studyID int64) error {
	var one int
	err := tx.QueryRowContext(ctx,
		s.q("SELECT 1 FROM studies WHERE study_id = ?"), studyID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("study %d: %w", studyID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("looking up study %d: %w", studyID, err)
	}
	return nil
}

// SetStudyUserAttr updates the (study, key) row in place, or inserts it.
// Two first writers of the same key race on the unique constraint; the
// first to commit wins and the other write is dropped.
func (s *Session) SetStudyUserAttr(ctx context.Context, studyID int64, key string, value any) error {
	text, err := encodeJSON(value)
	if err != nil {
		return err
	}
	err = s.inTx(ctx, "set_study_user_attr", func(tx *sql.Tx) error {
		if err := s.requireStudy(ctx, tx, studyID); err != nil {
			return err
		}
		return s.putStudyAttr(ctx, tx, studyID, key, text)
	})
	err = s.discardRace(tableStudyUserAttrs, err, "study_id", studyID, "key", key)
	if err != nil {
		return fmt.Errorf("setting attribute %q of study %d: %w", key, studyID, err)
	}
	return nil
}

func (s *Session) putStudyAttr(ctx context.Context, tx *sql.Tx, studyID int64, key, text string) error {
	res, err := tx.ExecContext(ctx,
		s.q("UPDATE study_user_attributes SET value_json = ? WHERE study_id = ? AND attr_key = ?"),
		text, studyID, key,
	)
	if err != nil {
		return fmt.Errorf("updating study attribute: %w", err)
	}
	if err := affectedOne(res); err == nil {
		return nil
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}

	_, err = tx.ExecContext(ctx,
		s.q("INSERT INTO study_user_attributes (study_id, attr_key, value_json) VALUES (?, ?, ?)"),
		studyID, key, text,
	)
	if err != nil {
		if s.backend.dialect.isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", types.ErrRaceDiscarded, err)
		}
		return fmt.Errorf("inserting study attribute: %w", err)
	}
	return nil
}

// GetStudyUserAttrs returns every attribute row of the study, decoded,
// including the reserved system map.
func (s *Session) GetStudyUserAttrs(ctx context.Context, studyID int64) (map[string]any, error) {
	var attrs map[string]any
	err := s.readTx(ctx, "get_study_user_attrs", func(tx *sql.Tx) error {
		if err := s.requireStudy(ctx, tx, studyID); err != nil {
			return err
		}
		var err error
		attrs, err = s.studyAttrs(ctx, tx, studyID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting attributes of study %d: %w", studyID, err)
	}
	return attrs, nil
}

func (s *Session) studyAttrs(ctx context.Context, tx *sql.Tx, studyID int64) (map[string]any, error) {
	rows, err := tx.QueryContext(ctx,
		s.q("SELECT attr_key, value_json FROM study_user_attributes WHERE study_id = ?"), studyID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying study attributes: %w", err)
	}
	defer rows.Close()

	attrs := map[string]any{}
	for rows.Next() {
		var key, text string
		if err := rows.Scan(&key, &text); err != nil {
			return nil, fmt.Errorf("scanning study attribute: %w", err)
		}
		v, err := decodeJSON(text)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		attrs[key] = v
	}
	return attrs, rows.Err()
}

// SetStudySystemAttr rewrites the reserved system map with key set.
func (s *Session) SetStudySystemAttr(ctx context.Context, studyID int64, key string, value any) error {
	err := s.inTx(ctx, "set_study_system_attr", func(tx *sql.Tx) error {
		if err := s.requireStudy(ctx, tx, studyID); err != nil {
			return err
		}
		system, err := s.studySystemAttrs(ctx, tx, studyID)
		if err != nil {
			return err
		}
		system[key] = value
		text, err := encodeJSON(system)
		if err != nil {
			return err
		}
		return s.putStudyAttr(ctx, tx, studyID, types.SystemAttrsKey, text)
	})
	err = s.discardRace(tableStudyUserAttrs, err, "study_id", studyID, "key", types.SystemAttrsKey)
	if err != nil {
		return fmt.Errorf("setting system attribute %q of study %d: %w", key, studyID, err)
	}
	return nil
}

// GetStudySystemAttrs returns the reserved system map of the study.
func (s *Session) GetStudySystemAttrs(ctx context.Context, studyID int64) (map[string]any, error) {
	var system map[string]any
	err := s.readTx(ctx, "get_study_system_attrs", func(tx *sql.Tx) error {
		if err := s.requireStudy(ctx, tx, studyID); err != nil {
			return err
		}
		var err error
		system, err = s.studySystemAttrs(ctx, tx, studyID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting system attributes of study %d: %w", studyID, err)
	}
	return system, nil
}

func (s *Session) studySystemAttrs(ctx context.Context, tx *sql.Tx, studyID int64) (map[string]any, error) {
	var text string
	err := tx.QueryRowContext(ctx,
		s.q("SELECT value_json FROM study_user_attributes WHERE study_id = ? AND attr_key = ?"),
		studyID, types.SystemAttrsKey,
	).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading system attributes: %w", err)
	}
	return decodeAttrMap(text)
}

// GetStudyIDFromUUID resolves a study UUID.
func (s *Session) GetStudyIDFromUUID(ctx context.Context, studyUUID string) (int64, error) {
	var studyID int64
	err := s.readTx(ctx, "get_study_id_from_uuid", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			s.q("SELECT study_id FROM studies WHERE study_uuid = ?"), studyUUID,
		).Scan(&studyID)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("getting study %s: %w", studyUUID, err)
	}
	return studyID, nil
}

// GetStudyUUIDFromID resolves a study id.
func (s *Session) GetStudyUUIDFromID(ctx context.Context, studyID int64) (string, error) {
	var studyUUID string
	err := s.readTx(ctx, "get_study_uuid_from_id", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			s.q("SELECT study_uuid FROM studies WHERE study_id = ?"), studyID,
		).Scan(&studyUUID)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("getting study %d: %w", studyID, err)
	}
	return studyUUID, nil
}

// ListStudies returns every study ordered by id, with trial counts.
func (s *Session) ListStudies(ctx context.Context) ([]types.StudySummary, error) {
	var out []types.StudySummary
	err := s.readTx(ctx, "list_studies", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT study_id, study_uuid FROM studies ORDER BY study_id")
		if err != nil {
			return fmt.Errorf("querying studies: %w", err)
		}
		index := map[int64]int{}
		for rows.Next() {
			sum := types.StudySummary{ByState: map[types.State]int{}}
			if err := rows.Scan(&sum.StudyID, &sum.StudyUUID); err != nil {
				rows.Close()
				return fmt.Errorf("scanning study: %w", err)
			}
			index[sum.StudyID] = len(out)
			out = append(out, sum)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.QueryContext(ctx,
			"SELECT study_id, state, COUNT(*) FROM trials GROUP BY study_id, state")
		if err != nil {
			return fmt.Errorf("counting trials: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var studyID int64
			var state string
			var n int
			if err := rows.Scan(&studyID, &state, &n); err != nil {
				return fmt.Errorf("scanning trial count: %w", err)
			}
			i, ok := index[studyID]
			if !ok {
				continue
			}
			out[i].ByState[types.State(state)] = n
			out[i].NTrials += n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing studies: %w", err)
	}
	return out, nil
}
