// This file assembles trial aggregates from the rows of the trials,
// trial_param_distributions, trial_params and trial_values tables.
package rdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

// trialRow is one row of the trials table.
type trialRow struct {
	trialID          int64
	studyID          int64
	state            string
	value            sql.NullFloat64
	userAttrsJSON    string
	datetimeStart    string
	datetimeComplete sql.NullString
}

// paramRow is a registered descriptor joined with its value, if any.
type paramRow struct {
	trialID          int64
	paramName        string
	distributionJSON string
	paramValue       sql.NullFloat64
}

// valueRow is one intermediate value.
type valueRow struct {
	trialID int64
	step    int64
	value   float64
}

// Row filters. Each loader query is suffixed with one of these.
const (
	byTrial = "trial_id = ?"
	byStudy = "study_id = ?"
)

// loadTrials reads the rows of every trial matching filter and assembles
// them in trial id order.
func (s *Session) loadTrials(ctx context.Context, tx *sql.Tx, filter string, arg any) ([]types.Trial, error) {
	trials, err := s.queryTrialRows(ctx, tx, filter, arg)
	if err != nil {
		return nil, err
	}
	if len(trials) == 0 {
		return []types.Trial{}, nil
	}
	params, err := s.queryParamRows(ctx, tx, filter, arg)
	if err != nil {
		return nil, err
	}
	values, err := s.queryValueRows(ctx, tx, filter, arg)
	if err != nil {
		return nil, err
	}
	return mergeTrials(trials, params, values)
}

func (s *Session) queryTrialRows(ctx context.Context, tx *sql.Tx, filter string, arg any) ([]trialRow, error) {
	rows, err := tx.QueryContext(ctx, s.q(
		"SELECT trial_id, study_id, state, value, user_attributes_json, datetime_start, datetime_complete "+
			"FROM trials WHERE "+filter+" ORDER BY trial_id"), arg)
	if err != nil {
		return nil, fmt.Errorf("querying trials: %w", err)
	}
	defer rows.Close()

	var out []trialRow
	for rows.Next() {
		var r trialRow
		if err := rows.Scan(&r.trialID, &r.studyID, &r.state, &r.value,
			&r.userAttrsJSON, &r.datetimeStart, &r.datetimeComplete); err != nil {
			return nil, fmt.Errorf("scanning trial: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Session) queryParamRows(ctx context.Context, tx *sql.Tx, filter string, arg any) ([]paramRow, error) {
	rows, err := tx.QueryContext(ctx, s.q(
		"SELECT d.trial_id, d.param_name, d.distribution_json, p.param_value "+
			"FROM trial_param_distributions d "+
			"LEFT JOIN trial_params p ON p.param_distribution_id = d.param_distribution_id "+
			"WHERE d.trial_id IN (SELECT trial_id FROM trials WHERE "+filter+") "+
			"ORDER BY d.trial_id, d.param_distribution_id"), arg)
	if err != nil {
		return nil, fmt.Errorf("querying params: %w", err)
	}
	defer rows.Close()

	var out []paramRow
	for rows.Next() {
		var r paramRow
		if err := rows.Scan(&r.trialID, &r.paramName, &r.distributionJSON, &r.paramValue); err != nil {
			return nil, fmt.Errorf("scanning param: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Session) queryValueRows(ctx context.Context, tx *sql.Tx, filter string, arg any) ([]valueRow, error) {
	rows, err := tx.QueryContext(ctx, s.q(
		"SELECT trial_id, step, value FROM trial_values "+
			"WHERE trial_id IN (SELECT trial_id FROM trials WHERE "+filter+") "+
			"ORDER BY trial_id, step"), arg)
	if err != nil {
		return nil, fmt.Errorf("querying intermediate values: %w", err)
	}
	defer rows.Close()

	var out []valueRow
	for rows.Next() {
		var r valueRow
		if err := rows.Scan(&r.trialID, &r.step, &r.value); err != nil {
			return nil, fmt.Errorf("scanning intermediate value: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// mergeTrials builds one aggregate per trial row, in trial row order.
// Param and value rows of trials not in trialRows are ignored.
func mergeTrials(trialRows []trialRow, paramRows []paramRow, valueRows []valueRow) ([]types.Trial, error) {
	out := make([]types.Trial, len(trialRows))
	index := make(map[int64]int, len(trialRows))
	for i, r := range trialRows {
		t, err := hydrateTrial(r)
		if err != nil {
			return nil, err
		}
		out[i] = t
		index[r.trialID] = i
	}

	// Descriptors repeat across trials; decode each distinct text once.
	decoded := map[string]types.Distribution{}
	for _, p := range paramRows {
		i, ok := index[p.trialID]
		if !ok {
			continue
		}
		dist, ok := decoded[p.distributionJSON]
		if !ok {
			var err error
			dist, err = types.UnmarshalDistribution(p.distributionJSON)
			if err != nil {
				return nil, fmt.Errorf("trial %d param %q: %w", p.trialID, p.paramName, err)
			}
			decoded[p.distributionJSON] = dist
		}

		t := &out[i]
		t.Distributions[p.paramName] = dist
		if !p.paramValue.Valid {
			continue
		}
		external, err := dist.ToExternal(p.paramValue.Float64)
		if err != nil {
			return nil, fmt.Errorf("trial %d param %q: %w", p.trialID, p.paramName, err)
		}
		t.Params[p.paramName] = external
		t.ParamsInInternalRepr[p.paramName] = p.paramValue.Float64
	}

	for _, v := range valueRows {
		if i, ok := index[v.trialID]; ok {
			out[i].IntermediateValues[v.step] = v.value
		}
	}
	return out, nil
}

// hydrateTrial converts a trial row into an aggregate with empty maps.
func hydrateTrial(r trialRow) (types.Trial, error) {
	state, err := types.ParseState(r.state)
	if err != nil {
		return types.Trial{}, fmt.Errorf("trial %d state %q: %w", r.trialID, r.state, err)
	}
	attrs, err := decodeAttrMap(r.userAttrsJSON)
	if err != nil {
		return types.Trial{}, fmt.Errorf("trial %d: %w", r.trialID, err)
	}
	start, err := parseTime(r.datetimeStart)
	if err != nil {
		return types.Trial{}, fmt.Errorf("trial %d: %w", r.trialID, err)
	}

	t := types.Trial{
		TrialID:              r.trialID,
		StudyID:              r.studyID,
		State:                state,
		Params:               map[string]any{},
		ParamsInInternalRepr: map[string]float64{},
		Distributions:        map[string]types.Distribution{},
		UserAttrs:            attrs,
		IntermediateValues:   map[int64]float64{},
		DatetimeStart:        start,
	}
	if r.value.Valid {
		v := r.value.Float64
		t.Value = &v
	}
	if r.datetimeComplete.Valid {
		complete, err := parseTime(r.datetimeComplete.String)
		if err != nil {
			return types.Trial{}, fmt.Errorf("trial %d: %w", r.trialID, err)
		}
		t.DatetimeComplete = &complete
	}
	return t, nil
}
