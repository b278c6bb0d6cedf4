package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributionRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		dist Distribution
		want string
	}{
		{
			name: "uniform",
			dist: UniformDistribution{Low: -1.5, High: 2},
			want: `{"name":"UniformDistribution","attributes":{"low":-1.5,"high":2}}`,
		},
		{
			name: "log uniform",
			dist: LogUniformDistribution{Low: 1e-5, High: 1},
			want: `{"name":"LogUniformDistribution","attributes":{"low":0.00001,"high":1}}`,
		},
		{
			name: "int uniform",
			dist: IntUniformDistribution{Low: 1, High: 10},
			want: `{"name":"IntUniformDistribution","attributes":{"low":1,"high":10}}`,
		},
		{
			name: "categorical",
			dist: CategoricalDistribution{Choices: []any{"adam", "sgd", int64(4), 2.0, 0.5, nil, true}},
			want: `{"name":"CategoricalDistribution","attributes":{"choices":["adam","sgd",4,2.0,0.5,null,true]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := MarshalDistribution(tt.dist)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, text)

			got, err := UnmarshalDistribution(text)
			require.NoError(t, err)
			assert.Equal(t, tt.dist, got)
		})
	}
}

func TestUnmarshalDistribution_CategoricalNumbers(t *testing.T) {
	text := `{"name":"CategoricalDistribution","attributes":{"choices":` +
		`[1,2.5,1e3,-7,12345678901234567890,[3,"x"],{"n":4}]}}`
	got, err := UnmarshalDistribution(text)
	require.NoError(t, err)

	want := []any{
		int64(1),
		2.5,
		1000.0,
		int64(-7),
		12345678901234567890.0,
		[]any{int64(3), "x"},
		map[string]any{"n": int64(4)},
	}
	assert.Equal(t, want, got.(CategoricalDistribution).Choices)

	external, err := got.ToExternal(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), external)
}

func TestMarshalDistribution_CategoricalFloatLiterals(t *testing.T) {
	text, err := MarshalDistribution(CategoricalDistribution{Choices: []any{
		1, 4.0, float32(2), 1e21, []any{3.0}, map[string]any{"n": 5.0},
	}})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"CategoricalDistribution","attributes":{"choices":[1,4.0,2.0,1e+21,[3.0],{"n":5.0}]}}`, text)

	got, err := UnmarshalDistribution(text)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), 4.0, 2.0, 1e21, []any{3.0}, map[string]any{"n": 5.0}},
		got.(CategoricalDistribution).Choices)
}

func TestUnmarshalDistributionRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "not json", text: "uniform(0,1)"},
		{name: "unknown kind", text: `{"name":"NormalDistribution","attributes":{}}`},
		{name: "missing attributes", text: `{"name":"UniformDistribution"}`},
		{name: "inverted bounds", text: `{"name":"UniformDistribution","attributes":{"low":2,"high":1}}`},
		{name: "empty choices", text: `{"name":"CategoricalDistribution","attributes":{"choices":[]}}`},
		{name: "non-positive log low", text: `{"name":"LogUniformDistribution","attributes":{"low":0,"high":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalDistribution(tt.text)
			assert.ErrorIs(t, err, ErrInvalidDistribution)
		})
	}
}

func TestMarshalDistributionRejectsInvalid(t *testing.T) {
	_, err := MarshalDistribution(nil)
	assert.ErrorIs(t, err, ErrInvalidDistribution)

	_, err = MarshalDistribution(IntUniformDistribution{Low: 5, High: 1})
	assert.ErrorIs(t, err, ErrInvalidDistribution)
}

func TestToExternal(t *testing.T) {
	t.Run("uniform is identity", func(t *testing.T) {
		got, err := UniformDistribution{Low: 0, High: 1}.ToExternal(0.25)
		require.NoError(t, err)
		assert.Equal(t, 0.25, got)
	})

	t.Run("log uniform is identity", func(t *testing.T) {
		got, err := LogUniformDistribution{Low: 1e-3, High: 1}.ToExternal(0.01)
		require.NoError(t, err)
		assert.Equal(t, 0.01, got)
	})

	t.Run("int uniform rounds", func(t *testing.T) {
		got, err := IntUniformDistribution{Low: 0, High: 10}.ToExternal(3.0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got)
	})

	t.Run("categorical indexes choices", func(t *testing.T) {
		d := CategoricalDistribution{Choices: []any{1.0, 2.0, 4.0}}
		got, err := d.ToExternal(2.0)
		require.NoError(t, err)
		assert.Equal(t, 4.0, got)
	})

	t.Run("categorical rejects out of range index", func(t *testing.T) {
		d := CategoricalDistribution{Choices: []any{"a"}}
		_, err := d.ToExternal(1)
		assert.ErrorIs(t, err, ErrInvalidDistribution)
		_, err = d.ToExternal(0.5)
		assert.ErrorIs(t, err, ErrInvalidDistribution)
	})
}

func TestContains(t *testing.T) {
	assert.True(t, UniformDistribution{Low: 0, High: 1}.Contains(1))
	assert.False(t, UniformDistribution{Low: 0, High: 1}.Contains(1.01))
	assert.True(t, IntUniformDistribution{Low: -2, High: 2}.Contains(-2))
	assert.False(t, IntUniformDistribution{Low: -2, High: 2}.Contains(3))
	assert.True(t, CategoricalDistribution{Choices: []any{"a", "b"}}.Contains(1))
	assert.False(t, CategoricalDistribution{Choices: []any{"a", "b"}}.Contains(-1))
}
