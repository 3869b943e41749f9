// Package completeness scores how well a set of tariff rate records
// satisfies the tracked metadata fields, weighting each populated field by
// how its value was obtained.
package completeness

import (
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/tariff-cli/internal/model"
)

// DefaultUntaggedSource is the provenance assumed for a populated field
// that carries no source tag. Records produced before provenance tracking
// existed are treated as authoritative.
const DefaultUntaggedSource = model.SourceExplicit

// Config tunes the credit policy. The zero value is usable: no credit for
// inferred values, untagged values count as explicit, the default field
// set, equal weights.
type Config struct {
	// InferredCredit is the credit in [0, 1] given to a meaningful value
	// tagged inferred.
	InferredCredit float64 `yaml:"inferred_credit" mapstructure:"inferred_credit" json:"inferred_credit"`

	// UntaggedSource overrides DefaultUntaggedSource when set.
	UntaggedSource model.SourceTag `yaml:"untagged_source" mapstructure:"untagged_source" json:"untagged_source,omitempty"`

	// Fields selects tracked fields by name from the catalog, in report
	// order. Empty means DefaultFieldNames.
	Fields []string `yaml:"fields" mapstructure:"fields" json:"fields,omitempty"`

	// Weights maps field names to weights for the overall score. Empty
	// means every tracked field weighs 1; otherwise unlisted fields weigh 0.
	// Names match case-insensitively.
	Weights map[string]float64 `yaml:"weights" mapstructure:"weights" json:"weights,omitempty"`
}

// ConfigurationError reports an invalid Config. It is returned before any
// scoring begins.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "completeness: invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks that c is internally consistent.
func (c Config) Validate() error {
	_, err := c.plan()
	return err
}

// untagged returns the effective untagged policy.
func (c Config) untagged() model.SourceTag {
	if c.UntaggedSource == model.SourceUntagged {
		return DefaultUntaggedSource
	}
	return c.UntaggedSource
}

// scoringPlan is a validated Config resolved to descriptors.
type scoringPlan struct {
	fields         []Field
	weights        []float64
	inferredCredit float64
	untagged       model.SourceTag
}

func (c Config) plan() (*scoringPlan, error) {
	var errs []string

	if math.IsNaN(c.InferredCredit) || c.InferredCredit < 0 || c.InferredCredit > 1 {
		errs = append(errs, fmt.Sprintf("inferred_credit must be between 0 and 1, got %v", c.InferredCredit))
	}

	switch c.UntaggedSource {
	case model.SourceUntagged, model.SourceExplicit, model.SourceInferred, model.SourceUnknown:
	default:
		errs = append(errs, fmt.Sprintf("untagged_source must be explicit, inferred or unknown, got %q", string(c.UntaggedSource)))
	}

	names := c.Fields
	if len(names) == 0 {
		names = DefaultFieldNames()
	}
	fields := make([]Field, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		f, ok := Lookup(name)
		if !ok {
			errs = append(errs, fmt.Sprintf("unknown field %q", name))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("field %q listed twice", f.Name))
			continue
		}
		seen[f.Name] = true
		fields = append(fields, f)
	}

	weights := make([]float64, len(fields))
	if len(c.Weights) == 0 {
		for i := range weights {
			weights[i] = 1
		}
	} else {
		byLower := make(map[string]float64, len(c.Weights))
		for name, w := range c.Weights {
			key := strings.ToLower(name)
			if !seen[canonicalName(key)] {
				errs = append(errs, fmt.Sprintf("weight given for untracked field %q", name))
			}
			switch {
			case math.IsNaN(w) || w < 0:
				errs = append(errs, fmt.Sprintf("weight for %q must be >= 0", name))
			case math.IsInf(w, 1):
				errs = append(errs, fmt.Sprintf("weight for %q must be finite", name))
			}
			byLower[key] = w
		}
		var sum float64
		for i, f := range fields {
			weights[i] = byLower[strings.ToLower(f.Name)]
			sum += weights[i]
		}
		if sum <= 0 && len(fields) > 0 {
			errs = append(errs, "weight sum over tracked fields must be > 0")
		}
	}

	if len(errs) > 0 {
		return nil, &ConfigurationError{Problems: errs}
	}

	return &scoringPlan{
		fields:         fields,
		weights:        weights,
		inferredCredit: c.InferredCredit,
		untagged:       c.untagged(),
	}, nil
}

// canonicalName maps a lower-cased field name back to its catalog name, or
// returns it unchanged when the catalog has no such field.
func canonicalName(lower string) string {
	if f, ok := Lookup(lower); ok {
		return f.Name
	}
	return lower
}
