package rdb

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

const (
	catJSON     = `{"name":"CategoricalDistribution","attributes":{"choices":[1,2,4]}}`
	uniformJSON = `{"name":"UniformDistribution","attributes":{"low":0,"high":10}}`
	startText   = "2026-03-01T12:00:00Z"
)

func TestMergeTrials(t *testing.T) {
	trialRows := []trialRow{
		{trialID: 2, studyID: 1, state: "COMPLETE", value: sql.NullFloat64{Float64: 0.5, Valid: true},
			userAttrsJSON: `{"__system__":{}}`, datetimeStart: startText,
			datetimeComplete: sql.NullString{String: "2026-03-01T12:05:00Z", Valid: true}},
		{trialID: 1, studyID: 1, state: "RUNNING", userAttrsJSON: `{"k":"v"}`, datetimeStart: startText},
	}
	paramRows := []paramRow{
		{trialID: 1, paramName: "batch", distributionJSON: catJSON, paramValue: sql.NullFloat64{Float64: 2, Valid: true}},
		{trialID: 2, paramName: "batch", distributionJSON: catJSON, paramValue: sql.NullFloat64{Float64: 0, Valid: true}},
		{trialID: 2, paramName: "x", distributionJSON: uniformJSON},
		{trialID: 9, paramName: "orphan", distributionJSON: uniformJSON, paramValue: sql.NullFloat64{Float64: 1, Valid: true}},
	}
	valueRows := []valueRow{
		{trialID: 1, step: 0, value: 0.9},
		{trialID: 1, step: 1, value: 0.8},
	}

	trials, err := mergeTrials(trialRows, paramRows, valueRows)
	require.NoError(t, err)
	require.Len(t, trials, 2)

	// Trial row order is preserved.
	second, first := trials[0], trials[1]
	assert.Equal(t, int64(2), second.TrialID)
	assert.Equal(t, int64(1), first.TrialID)

	assert.Equal(t, map[string]any{"batch": int64(4)}, first.Params)
	assert.Equal(t, map[string]float64{"batch": 2}, first.ParamsInInternalRepr)
	assert.Equal(t, map[int64]float64{0: 0.9, 1: 0.8}, first.IntermediateValues)
	assert.Equal(t, "v", first.UserAttrs["k"])
	assert.Nil(t, first.Value)
	assert.Nil(t, first.DatetimeComplete)

	assert.Equal(t, types.StateComplete, second.State)
	assert.Equal(t, map[string]any{"batch": int64(1)}, second.Params)
	assert.Contains(t, second.Distributions, "x")
	assert.NotContains(t, second.Params, "x")
	require.NotNil(t, second.Value)
	assert.Equal(t, 0.5, *second.Value)
	require.NotNil(t, second.DatetimeComplete)
	assert.True(t, second.DatetimeComplete.After(second.DatetimeStart))
	assert.Empty(t, second.IntermediateValues)
}

func TestMergeTrials_BadRows(t *testing.T) {
	good := trialRow{trialID: 1, studyID: 1, state: "RUNNING", userAttrsJSON: "{}", datetimeStart: startText}

	tests := []struct {
		name   string
		trials []trialRow
		params []paramRow
		target error
	}{
		{
			name:   "unknown state",
			trials: []trialRow{{trialID: 1, state: "WAITING", userAttrsJSON: "{}", datetimeStart: startText}},
			target: types.ErrInvalidState,
		},
		{
			name:   "unknown descriptor kind",
			trials: []trialRow{good},
			params: []paramRow{{trialID: 1, paramName: "p", distributionJSON: `{"name":"Nope","attributes":{}}`}},
			target: types.ErrInvalidDistribution,
		},
		{
			name:   "categorical index out of range",
			trials: []trialRow{good},
			params: []paramRow{{trialID: 1, paramName: "p", distributionJSON: catJSON, paramValue: sql.NullFloat64{Float64: 3, Valid: true}}},
			target: types.ErrInvalidDistribution,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mergeTrials(tt.trials, tt.params, nil)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestGetTrial_AssemblesAllParts(t *testing.T) {
	ctx := context.Background()
	_, s, trialID := setupTrial(t)

	require.NoError(t, s.SetTrialParamDistribution(ctx, trialID, "optimizer",
		types.CategoricalDistribution{Choices: []any{"sgd", "adam"}}))
	require.NoError(t, s.SetTrialParamDistribution(ctx, trialID, "layers",
		types.IntUniformDistribution{Low: 1, High: 4}))
	require.NoError(t, s.SetTrialParam(ctx, trialID, "optimizer", 1))
	require.NoError(t, s.SetTrialParam(ctx, trialID, "layers", 3))
	require.NoError(t, s.SetTrialIntermediateValue(ctx, trialID, 10, 0.3))
	require.NoError(t, s.SetTrialValue(ctx, trialID, 0.2))

	trial, err := s.GetTrial(ctx, trialID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"optimizer": "adam", "layers": int64(3)}, trial.Params)
	assert.Equal(t, map[string]float64{"optimizer": 1, "layers": 3}, trial.ParamsInInternalRepr)
	assert.Equal(t, map[int64]float64{10: 0.3}, trial.IntermediateValues)
	assert.Len(t, trial.Distributions, 2)
}

func TestGetAllTrials_ExternalAndInternalParams(t *testing.T) {
	ctx := context.Background()
	_, s := setupSession(t)
	studyID, err := s.CreateStudy(ctx)
	require.NoError(t, err)
	trialID, err := s.CreateTrial(ctx, studyID)
	require.NoError(t, err)

	// Index 2 maps to 4.0.
	require.NoError(t, s.SetTrialParamDistribution(ctx, trialID, "x",
		types.CategoricalDistribution{Choices: []any{1.0, 2.0, 4.0}}))
	require.NoError(t, s.SetTrialParam(ctx, trialID, "x", 2.0))

	trials, err := s.GetAllTrials(ctx, studyID)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, trialID, trials[0].TrialID)
	assert.Equal(t, map[string]any{"x": 4.0}, trials[0].Params)
	assert.Equal(t, map[string]float64{"x": 2.0}, trials[0].ParamsInInternalRepr)
}
