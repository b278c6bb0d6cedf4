package types

// SystemAttrsKey is the reserved attribute key holding system attributes.
// It is initialized to an empty map when a study or trial is created.
const SystemAttrsKey = "__system__"

// StudySummary describes a study and its trial counts.
type StudySummary struct {
	StudyID   int64         `json:"study_id"`
	StudyUUID string        `json:"study_uuid"`
	NTrials   int           `json:"n_trials"`
	ByState   map[State]int `json:"by_state"`
}
