package rdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

// SetTrialParamDistribution registers the descriptor of one parameter.
// A second registration of the same name fails with ErrDescriptorExists.
func (s *Session) SetTrialParamDistribution(ctx context.Context, trialID int64, name string, dist types.Distribution) error {
	text, err := types.MarshalDistribution(dist)
	if err != nil {
		return fmt.Errorf("registering param %q of trial %d: %w", name, trialID, err)
	}
	err = s.inTx(ctx, "set_trial_param_distribution", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			s.q("INSERT INTO trial_param_distributions (trial_id, param_name, distribution_json) VALUES (?, ?, ?)"),
			trialID, name, text,
		)
		switch {
		case err == nil:
			return nil
		case s.backend.dialect.isUniqueViolation(err):
			return types.ErrDescriptorExists
		case s.backend.dialect.isForeignKeyViolation(err):
			return types.ErrNotFound
		default:
			return err
		}
	})
	if err != nil {
		return fmt.Errorf("registering param %q of trial %d: %w", name, trialID, err)
	}
	return nil
}

// SetTrialParam records the internal value of a registered parameter. The
// value is checked against the registered distribution.
func (s *Session) SetTrialParam(ctx context.Context, trialID int64, name string, internal float64) error {
	_, err := s.recordTrialParam(ctx, trialID, name, internal)
	return err
}

// recordTrialParam is SetTrialParam reporting how the write resolved.
func (s *Session) recordTrialParam(ctx context.Context, trialID int64, name string, internal float64) (types.WriteOutcome, error) {
	if err := requireFinite(internal); err != nil {
		return 0, fmt.Errorf("setting param %q of trial %d: %w", name, trialID, err)
	}
	var outcome types.WriteOutcome
	err := s.inTx(ctx, "set_trial_param", func(tx *sql.Tx) error {
		var distributionID int64
		var text string
		err := tx.QueryRowContext(ctx,
			s.q("SELECT param_distribution_id, distribution_json FROM trial_param_distributions WHERE trial_id = ? AND param_name = ?"),
			trialID, name,
		).Scan(&distributionID, &text)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("looking up descriptor: %w", err)
		}
		dist, err := types.UnmarshalDistribution(text)
		if err != nil {
			return err
		}
		if !dist.Contains(internal) {
			return fmt.Errorf("%w: %v outside %s", types.ErrInvalidDistribution, internal, text)
		}

		outcome, err = s.verifyOrInsert(internal,
			func() (float64, bool, error) {
				return s.lookupFloat(ctx, tx,
					"SELECT param_value FROM trial_params WHERE trial_id = ? AND param_distribution_id = ?",
					trialID, distributionID)
			},
			func() error {
				return s.insertTrialParam(ctx, tx, trialID, distributionID, internal)
			},
		)
		return err
	})
	outcome, err = s.settle(tableTrialParams, outcome, err, "trial_id", trialID, "param", name)
	if err != nil {
		return outcome, fmt.Errorf("setting param %q of trial %d: %w", name, trialID, err)
	}
	return outcome, nil
}

func (s *Session) insertTrialParam(ctx context.Context, tx *sql.Tx, trialID, distributionID int64, internal float64) error {
	_, err := tx.ExecContext(ctx,
		s.q("INSERT INTO trial_params (trial_id, param_distribution_id, param_value) VALUES (?, ?, ?)"),
		trialID, distributionID, internal,
	)
	return err
}

// SetTrialIntermediateValue records the value reported at step. A step maps
// to one value for the life of the trial.
func (s *Session) SetTrialIntermediateValue(ctx context.Context, trialID int64, step int64, value float64) error {
	_, err := s.recordIntermediateValue(ctx, trialID, step, value)
	return err
}

// recordIntermediateValue is SetTrialIntermediateValue reporting how the
// write resolved.
func (s *Session) recordIntermediateValue(ctx context.Context, trialID int64, step int64, value float64) (types.WriteOutcome, error) {
	if err := requireFinite(value); err != nil {
		return 0, fmt.Errorf("setting intermediate value of trial %d at step %d: %w", trialID, step, err)
	}
	var outcome types.WriteOutcome
	err := s.inTx(ctx, "set_trial_intermediate_value", func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			s.q("SELECT 1 FROM trials WHERE trial_id = ?"), trialID,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("looking up trial: %w", err)
		}

		outcome, err = s.verifyOrInsert(value,
			func() (float64, bool, error) {
				return s.lookupFloat(ctx, tx,
					"SELECT value FROM trial_values WHERE trial_id = ? AND step = ?",
					trialID, step)
			},
			func() error {
				return s.insertIntermediateValue(ctx, tx, trialID, step, value)
			},
		)
		return err
	})
	outcome, err = s.settle(tableTrialValues, outcome, err, "trial_id", trialID, "step", step)
	if err != nil {
		return outcome, fmt.Errorf("setting intermediate value of trial %d at step %d: %w", trialID, step, err)
	}
	return outcome, nil
}

func (s *Session) insertIntermediateValue(ctx context.Context, tx *sql.Tx, trialID, step int64, value float64) error {
	_, err := tx.ExecContext(ctx,
		s.q("INSERT INTO trial_values (trial_id, step, value) VALUES (?, ?, ?)"),
		trialID, step, value,
	)
	return err
}

// lookupFloat reads one float column, reporting whether a row exists.
func (s *Session) lookupFloat(ctx context.Context, tx *sql.Tx, query string, args ...any) (float64, bool, error) {
	var v float64
	err := tx.QueryRowContext(ctx, s.q(query), args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
