package types

import (
	"context"
	"errors"
)

// Storage is the durable store shared by every worker of a study.
// Callers attach it once, acquire one Session per worker, and detach when
// the process is done.
type Storage interface {
	// Attach opens the backend described by config, creates missing tables
	// and verifies schema compatibility. Returns ErrAlreadyAttached if
	// called while attached and an error wrapping ErrSchemaIncompatible if
	// the store was initialized by an incompatible schema.
	Attach(ctx context.Context, config Config) error

	// Acquire returns a Session bound to one dedicated connection.
	// The caller owns the session and must Release it.
	Acquire(ctx context.Context) (Session, error)

	// Detach releases backend resources. Idempotent.
	Detach() error
}

// Session is a worker's handle on the store. Every method runs one short,
// independently committed transaction. A Session must not be shared between
// goroutines.
type Session interface {
	// CreateStudy creates a study with a fresh random UUID and returns its id.
	CreateStudy(ctx context.Context) (int64, error)
	// SetStudyUserAttr inserts or updates one study attribute.
	SetStudyUserAttr(ctx context.Context, studyID int64, key string, value any) error
	// GetStudyUserAttrs returns every attribute of the study, decoded.
	GetStudyUserAttrs(ctx context.Context, studyID int64) (map[string]any, error)
	// SetStudySystemAttr writes key under the reserved system attribute.
	SetStudySystemAttr(ctx context.Context, studyID int64, key string, value any) error
	// GetStudySystemAttrs returns the reserved system attribute map.
	GetStudySystemAttrs(ctx context.Context, studyID int64) (map[string]any, error)
	// GetStudyIDFromUUID resolves a study UUID to its numeric id.
	GetStudyIDFromUUID(ctx context.Context, studyUUID string) (int64, error)
	// GetStudyUUIDFromID resolves a study id to its UUID.
	GetStudyUUIDFromID(ctx context.Context, studyID int64) (string, error)
	// ListStudies summarizes every study in the store.
	ListStudies(ctx context.Context) ([]StudySummary, error)

	// CreateTrial starts a RUNNING trial in the study and returns its id.
	CreateTrial(ctx context.Context, studyID int64) (int64, error)
	// SetTrialState overwrites the trial state. Finished states stamp the
	// completion time. The prior state is not checked.
	SetTrialState(ctx context.Context, trialID int64, state State) error
	// SetTrialParamDistribution registers the search space of one parameter.
	SetTrialParamDistribution(ctx context.Context, trialID int64, name string, dist Distribution) error
	// SetTrialParam records the internal value of a registered parameter.
	// The value must be finite (ErrInvalidValue) and inside the registered
	// distribution (ErrInvalidDistribution); a value the sampler could not
	// have produced is rejected before it reaches the store.
	SetTrialParam(ctx context.Context, trialID int64, name string, internal float64) error
	// SetTrialValue sets the objective value. Non-finite values fail with
	// ErrInvalidValue.
	SetTrialValue(ctx context.Context, trialID int64, value float64) error
	// SetTrialIntermediateValue records the value reported at step.
	// Non-finite values fail with ErrInvalidValue.
	SetTrialIntermediateValue(ctx context.Context, trialID int64, step int64, value float64) error
	// SetTrialUserAttr sets one key of the trial attribute map.
	SetTrialUserAttr(ctx context.Context, trialID int64, key string, value any) error
	// SetTrialSystemAttr sets one key under the reserved system attribute.
	SetTrialSystemAttr(ctx context.Context, trialID int64, key string, value any) error
	// GetTrial assembles one trial.
	GetTrial(ctx context.Context, trialID int64) (Trial, error)
	// GetAllTrials assembles every trial of the study, ordered by id.
	GetAllTrials(ctx context.Context, studyID int64) ([]Trial, error)
	// GetBestTrial returns the complete trial with the lowest objective value.
	GetBestTrial(ctx context.Context, studyID int64) (Trial, error)
	// GetNTrials counts the study's trials; an empty state counts all.
	GetNTrials(ctx context.Context, studyID int64, state State) (int, error)

	// Release returns the session's connection to the pool. Idempotent.
	Release() error
}

// Storage lifecycle errors.
var (
	ErrStorageDetached    = errors.New("storage is detached")
	ErrAlreadyAttached    = errors.New("storage is already attached")
	ErrSessionReleased    = errors.New("session is released")
	ErrSchemaIncompatible = errors.New("stored schema is incompatible with this build")
)

// Repository errors.
var (
	// ErrNotFound reports a missing study, trial or parameter descriptor.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation reports a re-write that disagrees with the value
	// already stored under the same key. It signals a caller logic error.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrRaceDiscarded classifies a uniqueness-protected insert that lost to
	// a concurrent equivalent write. Public operations report success instead.
	ErrRaceDiscarded = errors.New("write discarded after losing a race")

	ErrDescriptorExists    = errors.New("param distribution already registered")
	ErrIdentifierExhausted = errors.New("could not generate a unique study identifier")
	ErrInvalidState        = errors.New("invalid trial state")

	// ErrInvalidValue reports a NaN or infinite objective, intermediate or
	// parameter value. Not every backend can store one.
	ErrInvalidValue = errors.New("value must be finite")
)
