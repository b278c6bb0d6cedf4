package types

import "time"

// State is the lifecycle state of a trial.
type State string

// Trial states. A trial starts RUNNING and moves once to a finished state.
const (
	StateRunning  State = "RUNNING"
	StateComplete State = "COMPLETE"
	StateFail     State = "FAIL"
)

// validStates is the set of recognized trial states.
var validStates = map[State]bool{
	StateRunning:  true,
	StateComplete: true,
	StateFail:     true,
}

// Valid reports whether s is a recognized state.
func (s State) Valid() bool {
	return validStates[s]
}

// IsFinished reports whether s is a terminal state.
func (s State) IsFinished() bool {
	return s == StateComplete || s == StateFail
}

// ParseState converts a stored or user-supplied label into a State.
// Returns ErrInvalidState for unknown labels.
func ParseState(label string) (State, error) {
	s := State(label)
	if !s.Valid() {
		return "", ErrInvalidState
	}
	return s, nil
}

// Trial is the aggregate view of one trial, assembled from its rows.
type Trial struct {
	TrialID int64 `json:"trial_id"`
	StudyID int64 `json:"study_id"`
	State   State `json:"state"`

	// Value is the objective value; nil until reported.
	Value *float64 `json:"value"`

	// Params maps parameter names to their external representation.
	Params map[string]any `json:"params"`
	// ParamsInInternalRepr maps parameter names to their stored values.
	ParamsInInternalRepr map[string]float64 `json:"params_in_internal_repr"`
	// Distributions holds the registered descriptor of each parameter.
	Distributions map[string]Distribution `json:"-"`

	// UserAttrs is the decoded attribute map, including SystemAttrsKey.
	UserAttrs map[string]any `json:"user_attrs"`

	// IntermediateValues maps steps to reported values.
	IntermediateValues map[int64]float64 `json:"intermediate_values"`

	DatetimeStart    time.Time  `json:"datetime_start"`
	DatetimeComplete *time.Time `json:"datetime_complete"`
}

// SystemAttrs returns the reserved system attribute map, or an empty map.
func (t Trial) SystemAttrs() map[string]any {
	if m, ok := t.UserAttrs[SystemAttrsKey].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
