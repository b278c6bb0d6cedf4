package rdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

// initialTrialAttrs is the attribute blob of a new trial.
const initialTrialAttrs = `{"` + types.SystemAttrsKey + `":{}}`

// CreateTrial inserts a RUNNING trial started now.
func (s *Session) CreateTrial(ctx context.Context, studyID int64) (int64, error) {
	var trialID int64
	err := s.inTx(ctx, "create_trial", func(tx *sql.Tx) error {
		var err error
		trialID, err = s.backend.dialect.insertID(ctx, tx,
			"INSERT INTO trials (study_id, state, user_attributes_json, datetime_start) VALUES (?, ?, ?, ?)",
			"trial_id", studyID, string(types.StateRunning), initialTrialAttrs, s.backend.timestamp(),
		)
		if err != nil && s.backend.dialect.isForeignKeyViolation(err) {
			return types.ErrNotFound
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("creating trial in study %d: %w", studyID, err)
	}

	s.backend.logger.Debug("trial created", "study_id", studyID, "trial_id", trialID)
	return trialID, nil
}

// SetTrialState overwrites the state. Finished states stamp the completion
// time; the prior state is not consulted.
func (s *Session) SetTrialState(ctx context.Context, trialID int64, state types.State) error {
	if !state.Valid() {
		return fmt.Errorf("setting state of trial %d to %q: %w", trialID, state, types.ErrInvalidState)
	}
	err := s.inTx(ctx, "set_trial_state", func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if state.IsFinished() {
			res, err = tx.ExecContext(ctx,
				s.q("UPDATE trials SET state = ?, datetime_complete = ? WHERE trial_id = ?"),
				string(state), s.backend.timestamp(), trialID,
			)
		} else {
			res, err = tx.ExecContext(ctx,
				s.q("UPDATE trials SET state = ? WHERE trial_id = ?"),
				string(state), trialID,
			)
		}
		if err != nil {
			return err
		}
		return affectedOne(res)
	})
	if err != nil {
		return fmt.Errorf("setting state of trial %d: %w", trialID, err)
	}
	return nil
}

// SetTrialValue sets the objective value.
func (s *Session) SetTrialValue(ctx context.Context, trialID int64, value float64) error {
	if err := requireFinite(value); err != nil {
		return fmt.Errorf("setting value of trial %d: %w", trialID, err)
	}
	err := s.inTx(ctx, "set_trial_value", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.q("UPDATE trials SET value = ? WHERE trial_id = ?"), value, trialID,
		)
		if err != nil {
			return err
		}
		return affectedOne(res)
	})
	if err != nil {
		return fmt.Errorf("setting value of trial %d: %w", trialID, err)
	}
	return nil
}

// SetTrialUserAttr rewrites the trial's attribute blob with key set.
// Concurrent writers of different keys can lose each other's update.
func (s *Session) SetTrialUserAttr(ctx context.Context, trialID int64, key string, value any) error {
	err := s.updateTrialAttrs(ctx, "set_trial_user_attr", trialID, func(attrs map[string]any) map[string]any {
		attrs[key] = value
		return attrs
	})
	if err != nil {
		return fmt.Errorf("setting attribute %q of trial %d: %w", key, trialID, err)
	}
	return nil
}

// SetTrialSystemAttr rewrites the trial's attribute blob with key set in
// the reserved system map.
func (s *Session) SetTrialSystemAttr(ctx context.Context, trialID int64, key string, value any) error {
	err := s.updateTrialAttrs(ctx, "set_trial_system_attr", trialID, func(attrs map[string]any) map[string]any {
		return withSystemAttr(attrs, key, value)
	})
	if err != nil {
		return fmt.Errorf("setting system attribute %q of trial %d: %w", key, trialID, err)
	}
	return nil
}

func (s *Session) updateTrialAttrs(ctx context.Context, op string, trialID int64, modify func(map[string]any) map[string]any) error {
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		var text string
		err := tx.QueryRowContext(ctx,
			s.q("SELECT user_attributes_json FROM trials WHERE trial_id = ?"), trialID,
		).Scan(&text)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		if err != nil {
			return err
		}
		attrs, err := decodeAttrMap(text)
		if err != nil {
			return err
		}
		text, err = encodeJSON(modify(attrs))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			s.q("UPDATE trials SET user_attributes_json = ? WHERE trial_id = ?"), text, trialID,
		)
		return err
	})
}

// GetTrial assembles one trial.
func (s *Session) GetTrial(ctx context.Context, trialID int64) (types.Trial, error) {
	var trial types.Trial
	err := s.readTx(ctx, "get_trial", func(tx *sql.Tx) error {
		trials, err := s.loadTrials(ctx, tx, byTrial, trialID)
		if err != nil {
			return err
		}
		if len(trials) == 0 {
			return types.ErrNotFound
		}
		trial = trials[0]
		return nil
	})
	if err != nil {
		return types.Trial{}, fmt.Errorf("getting trial %d: %w", trialID, err)
	}
	return trial, nil
}

// GetAllTrials assembles every trial of the study in trial id order. An
// unknown study has no trials.
func (s *Session) GetAllTrials(ctx context.Context, studyID int64) ([]types.Trial, error) {
	var trials []types.Trial
	err := s.readTx(ctx, "get_all_trials", func(tx *sql.Tx) error {
		var err error
		trials, err = s.loadTrials(ctx, tx, byStudy, studyID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting trials of study %d: %w", studyID, err)
	}
	return trials, nil
}

// GetBestTrial returns the COMPLETE trial with the lowest objective value.
// Ties go to the earliest trial.
func (s *Session) GetBestTrial(ctx context.Context, studyID int64) (types.Trial, error) {
	var trial types.Trial
	err := s.readTx(ctx, "get_best_trial", func(tx *sql.Tx) error {
		var trialID int64
		err := tx.QueryRowContext(ctx, s.q(
			"SELECT trial_id FROM trials WHERE study_id = ? AND state = ? AND value IS NOT NULL "+
				"ORDER BY value, trial_id LIMIT 1"),
			studyID, string(types.StateComplete),
		).Scan(&trialID)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		if err != nil {
			return err
		}
		trials, err := s.loadTrials(ctx, tx, byTrial, trialID)
		if err != nil {
			return err
		}
		if len(trials) == 0 {
			return types.ErrNotFound
		}
		trial = trials[0]
		return nil
	})
	if err != nil {
		return types.Trial{}, fmt.Errorf("getting best trial of study %d: %w", studyID, err)
	}
	return trial, nil
}

// GetNTrials counts the study's trials in state, or all of them when state
// is empty.
func (s *Session) GetNTrials(ctx context.Context, studyID int64, state types.State) (int, error) {
	if state != "" && !state.Valid() {
		return 0, fmt.Errorf("counting trials in state %q: %w", state, types.ErrInvalidState)
	}
	var n int
	err := s.readTx(ctx, "get_n_trials", func(tx *sql.Tx) error {
		if state == "" {
			return tx.QueryRowContext(ctx,
				s.q("SELECT COUNT(*) FROM trials WHERE study_id = ?"), studyID,
			).Scan(&n)
		}
		return tx.QueryRowContext(ctx,
			s.q("SELECT COUNT(*) FROM trials WHERE study_id = ? AND state = ?"), studyID, string(state),
		).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("counting trials of study %d: %w", studyID, err)
	}
	return n, nil
}
