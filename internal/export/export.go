package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mesh-intelligence/studystore/pkg/types"
)

// Record kinds. A file holds one study record followed by its trials.
const (
	KindStudy = "study"
	KindTrial = "trial"
)

// ImportedFromKey is the study system attribute that records the UUID of
// the study an import was read from.
const ImportedFromKey = "imported_from"

// ErrMalformedFile reports a file without a leading study record, or with
// a record of unknown kind.
var ErrMalformedFile = errors.New("malformed export file")

// StudyRecord is the first line of an export file.
type StudyRecord struct {
	Kind      string         `json:"kind"`
	StudyUUID string         `json:"study_uuid"`
	UserAttrs map[string]any `json:"user_attrs"`
}

// ParamRecord is one parameter of an exported trial. A registered param
// without a value has a nil Internal.
type ParamRecord struct {
	Distribution json.RawMessage `json:"distribution"`
	Internal     *float64        `json:"internal,omitempty"`
}

// TrialRecord is one exported trial.
type TrialRecord struct {
	Kind               string                 `json:"kind"`
	TrialID            int64                  `json:"trial_id"`
	State              types.State            `json:"state"`
	Value              *float64               `json:"value,omitempty"`
	Params             map[string]ParamRecord `json:"params,omitempty"`
	UserAttrs          map[string]any         `json:"user_attrs,omitempty"`
	IntermediateValues map[string]float64     `json:"intermediate_values,omitempty"`
	DatetimeStart      time.Time              `json:"datetime_start"`
	DatetimeComplete   *time.Time             `json:"datetime_complete,omitempty"`
}

// Summary reports what an export or import moved.
type Summary struct {
	StudyID int64
	Trials  int
	Skipped int
}

// Export writes the study and all of its trials to path.
func Export(ctx context.Context, s types.Session, studyID int64, path string) (Summary, error) {
	studyUUID, err := s.GetStudyUUIDFromID(ctx, studyID)
	if err != nil {
		return Summary{}, err
	}
	attrs, err := s.GetStudyUserAttrs(ctx, studyID)
	if err != nil {
		return Summary{}, err
	}
	trials, err := s.GetAllTrials(ctx, studyID)
	if err != nil {
		return Summary{}, err
	}

	records := make([]json.RawMessage, 0, len(trials)+1)
	head, err := json.Marshal(StudyRecord{Kind: KindStudy, StudyUUID: studyUUID, UserAttrs: attrs})
	if err != nil {
		return Summary{}, fmt.Errorf("encoding study %d: %w", studyID, err)
	}
	records = append(records, head)

	for _, t := range trials {
		rec, err := trialRecord(t)
		if err != nil {
			return Summary{}, err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return Summary{}, fmt.Errorf("encoding trial %d: %w", t.TrialID, err)
		}
		records = append(records, data)
	}

	if err := writeJSONL(path, records); err != nil {
		return Summary{}, fmt.Errorf("writing %s: %w", path, err)
	}
	return Summary{StudyID: studyID, Trials: len(trials)}, nil
}

func trialRecord(t types.Trial) (TrialRecord, error) {
	rec := TrialRecord{
		Kind:             KindTrial,
		TrialID:          t.TrialID,
		State:            t.State,
		Value:            t.Value,
		UserAttrs:        t.UserAttrs,
		DatetimeStart:    t.DatetimeStart,
		DatetimeComplete: t.DatetimeComplete,
	}
	if len(t.Distributions) > 0 {
		rec.Params = make(map[string]ParamRecord, len(t.Distributions))
	}
	for name, dist := range t.Distributions {
		text, err := types.MarshalDistribution(dist)
		if err != nil {
			return TrialRecord{}, fmt.Errorf("trial %d param %q: %w", t.TrialID, name, err)
		}
		p := ParamRecord{Distribution: json.RawMessage(text)}
		if v, ok := t.ParamsInInternalRepr[name]; ok {
			p.Internal = &v
		}
		rec.Params[name] = p
	}
	if len(t.IntermediateValues) > 0 {
		rec.IntermediateValues = make(map[string]float64, len(t.IntermediateValues))
		for step, v := range t.IntermediateValues {
			rec.IntermediateValues[strconv.FormatInt(step, 10)] = v
		}
	}
	return rec, nil
}

// Import creates a new study from the file at path and replays every
// trial into it. Trials get new ids and start times; the source study's
// UUID is kept under the ImportedFromKey system attribute. Every record is
// decoded and checked before the study is created, so a malformed file
// leaves the store untouched.
func Import(ctx context.Context, s types.Session, path string) (Summary, error) {
	records, skipped, err := readJSONL(path)
	if err != nil {
		return Summary{}, err
	}
	if len(records) == 0 {
		return Summary{}, fmt.Errorf("%w: %s has no records", ErrMalformedFile, path)
	}

	var head StudyRecord
	if err := json.Unmarshal(records[0], &head); err != nil || head.Kind != KindStudy {
		return Summary{}, fmt.Errorf("%w: %s does not start with a study record", ErrMalformedFile, path)
	}

	trials := make([]pendingTrial, 0, len(records)-1)
	for i, raw := range records[1:] {
		t, err := decodeTrial(raw)
		if err != nil {
			return Summary{}, fmt.Errorf("record %d: %w", i+2, err)
		}
		trials = append(trials, t)
	}

	studyID, err := s.CreateStudy(ctx)
	if err != nil {
		return Summary{}, err
	}
	if err := importStudyAttrs(ctx, s, studyID, head); err != nil {
		return Summary{}, err
	}

	sum := Summary{StudyID: studyID, Skipped: skipped}
	for _, t := range trials {
		if err := importTrial(ctx, s, studyID, t); err != nil {
			return sum, fmt.Errorf("importing trial %d: %w", t.rec.TrialID, err)
		}
		sum.Trials++
	}
	return sum, nil
}

// pendingTrial is a decoded and checked trial record.
type pendingTrial struct {
	rec    TrialRecord
	params []pendingParam
	steps  map[int64]float64
}

type pendingParam struct {
	name     string
	dist     types.Distribution
	internal *float64
}

// decodeTrial decodes one trial record and checks everything the store
// would reject, wrapping failures in ErrMalformedFile.
func decodeTrial(raw json.RawMessage) (pendingTrial, error) {
	var rec TrialRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return pendingTrial{}, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	if rec.Kind != KindTrial {
		return pendingTrial{}, fmt.Errorf("%w: kind %q", ErrMalformedFile, rec.Kind)
	}
	if !rec.State.Valid() {
		return pendingTrial{}, fmt.Errorf("%w: state %q", ErrMalformedFile, rec.State)
	}

	t := pendingTrial{rec: rec, steps: make(map[int64]float64, len(rec.IntermediateValues))}
	names := make([]string, 0, len(rec.Params))
	for name := range rec.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := rec.Params[name]
		dist, err := types.UnmarshalDistribution(string(p.Distribution))
		if err != nil {
			return pendingTrial{}, fmt.Errorf("%w: param %q: %v", ErrMalformedFile, name, err)
		}
		if p.Internal != nil && !dist.Contains(*p.Internal) {
			return pendingTrial{}, fmt.Errorf("%w: param %q value %v outside its distribution", ErrMalformedFile, name, *p.Internal)
		}
		t.params = append(t.params, pendingParam{name: name, dist: dist, internal: p.Internal})
	}

	for key, v := range rec.IntermediateValues {
		step, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return pendingTrial{}, fmt.Errorf("%w: step %q", ErrMalformedFile, key)
		}
		t.steps[step] = v
	}
	return t, nil
}

func importStudyAttrs(ctx context.Context, s types.Session, studyID int64, head StudyRecord) error {
	for key, value := range head.UserAttrs {
		if key == types.SystemAttrsKey {
			continue
		}
		if err := s.SetStudyUserAttr(ctx, studyID, key, value); err != nil {
			return err
		}
	}
	if system, ok := head.UserAttrs[types.SystemAttrsKey].(map[string]any); ok {
		for key, value := range system {
			if err := s.SetStudySystemAttr(ctx, studyID, key, value); err != nil {
				return err
			}
		}
	}
	return s.SetStudySystemAttr(ctx, studyID, ImportedFromKey, head.StudyUUID)
}

// importTrial replays one trial. The state is written last so that a
// finished trial is never observed without its params and values.
func importTrial(ctx context.Context, s types.Session, studyID int64, t pendingTrial) error {
	trialID, err := s.CreateTrial(ctx, studyID)
	if err != nil {
		return err
	}

	for _, p := range t.params {
		if err := s.SetTrialParamDistribution(ctx, trialID, p.name, p.dist); err != nil {
			return err
		}
		if p.internal != nil {
			if err := s.SetTrialParam(ctx, trialID, p.name, *p.internal); err != nil {
				return err
			}
		}
	}

	for step, v := range t.steps {
		if err := s.SetTrialIntermediateValue(ctx, trialID, step, v); err != nil {
			return err
		}
	}

	rec := t.rec
	for key, value := range rec.UserAttrs {
		if key == types.SystemAttrsKey {
			continue
		}
		if err := s.SetTrialUserAttr(ctx, trialID, key, value); err != nil {
			return err
		}
	}
	if system, ok := rec.UserAttrs[types.SystemAttrsKey].(map[string]any); ok {
		for key, value := range system {
			if err := s.SetTrialSystemAttr(ctx, trialID, key, value); err != nil {
				return err
			}
		}
	}

	if rec.Value != nil {
		if err := s.SetTrialValue(ctx, trialID, *rec.Value); err != nil {
			return err
		}
	}
	if rec.State != types.StateRunning {
		return s.SetTrialState(ctx, trialID, rec.State)
	}
	return nil
}
