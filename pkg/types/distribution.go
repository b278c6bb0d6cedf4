package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidDistribution reports a malformed descriptor or an internal value
// outside a descriptor's domain.
var ErrInvalidDistribution = errors.New("invalid distribution")

// Distribution is the search space declared for one parameter of a trial.
// The set of kinds is closed: UniformDistribution, LogUniformDistribution,
// IntUniformDistribution and CategoricalDistribution.
type Distribution interface {
	// Kind returns the name used in the portable text form.
	Kind() string
	// ToExternal decodes a stored internal value into the value the user
	// sees.
	ToExternal(internal float64) (any, error)
	// Contains reports whether internal lies in the distribution's domain.
	Contains(internal float64) bool

	validate() error
}

// Distribution kind names.
const (
	KindUniform     = "UniformDistribution"
	KindLogUniform  = "LogUniformDistribution"
	KindIntUniform  = "IntUniformDistribution"
	KindCategorical = "CategoricalDistribution"
)

// UniformDistribution is a continuous range; internal and external values
// are the same float.
type UniformDistribution struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

func (d UniformDistribution) Kind() string { return KindUniform }

func (d UniformDistribution) ToExternal(internal float64) (any, error) { return internal, nil }

func (d UniformDistribution) Contains(internal float64) bool {
	return d.Low <= internal && internal <= d.High
}

func (d UniformDistribution) validate() error {
	if math.IsNaN(d.Low) || math.IsNaN(d.High) || d.Low > d.High {
		return fmt.Errorf("%w: uniform low %v > high %v", ErrInvalidDistribution, d.Low, d.High)
	}
	return nil
}

// LogUniformDistribution is a continuous range sampled on a log scale.
// Values are stored as-is.
type LogUniformDistribution struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

func (d LogUniformDistribution) Kind() string { return KindLogUniform }

func (d LogUniformDistribution) ToExternal(internal float64) (any, error) { return internal, nil }

func (d LogUniformDistribution) Contains(internal float64) bool {
	return d.Low <= internal && internal <= d.High
}

func (d LogUniformDistribution) validate() error {
	if !(d.Low > 0) || d.Low > d.High {
		return fmt.Errorf("%w: log-uniform needs 0 < low <= high, got [%v, %v]", ErrInvalidDistribution, d.Low, d.High)
	}
	return nil
}

// IntUniformDistribution is an integer range. External values are int64.
type IntUniformDistribution struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

func (d IntUniformDistribution) Kind() string { return KindIntUniform }

func (d IntUniformDistribution) ToExternal(internal float64) (any, error) {
	if math.IsNaN(internal) || math.IsInf(internal, 0) {
		return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidDistribution, internal)
	}
	return int64(math.Round(internal)), nil
}

func (d IntUniformDistribution) Contains(internal float64) bool {
	return float64(d.Low) <= internal && internal <= float64(d.High)
}

func (d IntUniformDistribution) validate() error {
	if d.Low > d.High {
		return fmt.Errorf("%w: int-uniform low %d > high %d", ErrInvalidDistribution, d.Low, d.High)
	}
	return nil
}

// CategoricalDistribution is a finite set of choices. The internal value is
// the index of the chosen element. Choices hold JSON values. Through the
// store, integer choices come back as int64 and floating-point choices as
// float64, whole-valued ones included.
type CategoricalDistribution struct {
	Choices []any `json:"choices"`
}

func (d CategoricalDistribution) Kind() string { return KindCategorical }

func (d CategoricalDistribution) ToExternal(internal float64) (any, error) {
	if !d.Contains(internal) {
		return nil, fmt.Errorf("%w: index %v outside %d choices", ErrInvalidDistribution, internal, len(d.Choices))
	}
	return d.Choices[int(internal)], nil
}

func (d CategoricalDistribution) Contains(internal float64) bool {
	if internal != math.Trunc(internal) {
		return false
	}
	return 0 <= internal && internal < float64(len(d.Choices))
}

// MarshalJSON writes whole-valued float choices with a fraction so that
// they decode as floats again.
func (d CategoricalDistribution) MarshalJSON() ([]byte, error) {
	type plain CategoricalDistribution
	choices := make([]any, len(d.Choices))
	for i, c := range d.Choices {
		choices[i] = floatLiterals(c)
	}
	return json.Marshal(plain{Choices: choices})
}

func (d CategoricalDistribution) validate() error {
	if len(d.Choices) == 0 {
		return fmt.Errorf("%w: categorical needs at least one choice", ErrInvalidDistribution)
	}
	return nil
}

// distributionEnvelope is the portable text form of a Distribution.
type distributionEnvelope struct {
	Name       string          `json:"name"`
	Attributes json.RawMessage `json:"attributes"`
}

// MarshalDistribution encodes d into its portable JSON text form.
func MarshalDistribution(d Distribution) (string, error) {
	if d == nil {
		return "", fmt.Errorf("%w: nil distribution", ErrInvalidDistribution)
	}
	if err := d.validate(); err != nil {
		return "", err
	}
	attrs, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshaling %s attributes: %w", d.Kind(), err)
	}
	out, err := json.Marshal(distributionEnvelope{Name: d.Kind(), Attributes: attrs})
	if err != nil {
		return "", fmt.Errorf("marshaling %s: %w", d.Kind(), err)
	}
	return string(out), nil
}

// UnmarshalDistribution decodes the portable JSON text form.
func UnmarshalDistribution(text string) (Distribution, error) {
	var env distributionEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDistribution, err)
	}

	var d Distribution
	var err error
	switch env.Name {
	case KindUniform:
		var u UniformDistribution
		err = json.Unmarshal(env.Attributes, &u)
		d = u
	case KindLogUniform:
		var u LogUniformDistribution
		err = json.Unmarshal(env.Attributes, &u)
		d = u
	case KindIntUniform:
		var u IntUniformDistribution
		err = json.Unmarshal(env.Attributes, &u)
		d = u
	case KindCategorical:
		d, err = decodeCategorical(env.Attributes)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDistribution, env.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s attributes: %v", ErrInvalidDistribution, env.Name, err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// decodeCategorical decodes categorical attributes keeping integer choices
// integral.
func decodeCategorical(attrs json.RawMessage) (CategoricalDistribution, error) {
	dec := json.NewDecoder(bytes.NewReader(attrs))
	dec.UseNumber()
	var c CategoricalDistribution
	if err := dec.Decode(&c); err != nil {
		return CategoricalDistribution{}, err
	}
	for i, choice := range c.Choices {
		v, err := fromJSONNumbers(choice)
		if err != nil {
			return CategoricalDistribution{}, err
		}
		c.Choices[i] = v
	}
	return c, nil
}

// fromJSONNumbers replaces every json.Number in v with an int64 when the
// literal is integral and fits, or a float64 otherwise.
func fromJSONNumbers(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if !strings.ContainsAny(x.String(), ".eE") {
			if n, err := x.Int64(); err == nil {
				return n, nil
			}
		}
		return x.Float64()
	case []any:
		for i := range x {
			e, err := fromJSONNumbers(x[i])
			if err != nil {
				return nil, err
			}
			x[i] = e
		}
		return x, nil
	case map[string]any:
		for k := range x {
			e, err := fromJSONNumbers(x[k])
			if err != nil {
				return nil, err
			}
			x[k] = e
		}
		return x, nil
	default:
		return v, nil
	}
}

// floatLiterals copies v, replacing each finite whole-valued float with a
// literal that keeps its fraction, e.g. 4.0 instead of 4.
func floatLiterals(v any) any {
	switch x := v.(type) {
	case float64:
		return floatLiteral(x)
	case float32:
		return floatLiteral(float64(x))
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = floatLiterals(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = floatLiterals(e)
		}
		return out
	default:
		return v
	}
}

func floatLiteral(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		// Left for json.Marshal to reject.
		return f
	}
	text := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(text, ".eE") {
		text += ".0"
	}
	return json.RawMessage(text)
}
