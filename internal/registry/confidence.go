// Package registry classifies utilities by how complete their tariff
// metadata is, using completeness reports as input.
package registry

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tariff-cli/internal/model"
)

// ConfidenceLevel is the trust classification assigned to a utility's
// rate data.
type ConfidenceLevel string

const (
	ConfidenceAuthoritative ConfidenceLevel = "authoritative"
	ConfidencePartial       ConfidenceLevel = "partial"
	ConfidenceStub          ConfidenceLevel = "stub"
)

// Thresholds maps overall completeness to confidence levels.
type Thresholds struct {
	Authoritative float64 `yaml:"authoritative" mapstructure:"authoritative" json:"authoritative"`
	Partial       float64 `yaml:"partial" mapstructure:"partial" json:"partial"`
	// FieldFloor is the minimum every tracked field must reach for a
	// report to be authoritative.
	FieldFloor float64 `yaml:"field_floor" mapstructure:"field_floor" json:"field_floor"`
}

// DefaultThresholds returns the standard classification thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Authoritative: 0.9,
		Partial:       0.4,
		FieldFloor:    0.5,
	}
}

// inUnit reports whether v is a number in [0, 1]. NaN is not.
func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Validate checks 0 <= partial <= authoritative <= 1 and a floor in [0, 1].
func (t Thresholds) Validate() error {
	var errs []string
	if !inUnit(t.Partial) {
		errs = append(errs, "partial must be between 0 and 1")
	}
	if !inUnit(t.Authoritative) {
		errs = append(errs, "authoritative must be between 0 and 1")
	}
	if t.Authoritative < t.Partial {
		errs = append(errs, fmt.Sprintf("authoritative (%.2f) must be >= partial (%.2f)", t.Authoritative, t.Partial))
	}
	if !inUnit(t.FieldFloor) {
		errs = append(errs, "field_floor must be between 0 and 1")
	}
	if len(errs) > 0 {
		return eris.Errorf("registry: thresholds validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Classify assigns a confidence level to a report. A report over no
// records is always a stub.
func Classify(r *model.Report, t Thresholds) ConfidenceLevel {
	if r == nil || r.RecordCount == 0 || r.Overall < t.Partial {
		return ConfidenceStub
	}
	if r.Overall < t.Authoritative {
		return ConfidencePartial
	}
	for _, f := range r.Fields {
		if f.Pct < t.FieldFloor {
			return ConfidencePartial
		}
	}
	return ConfidenceAuthoritative
}

// WeakestField returns the lowest-scoring field of a report, or "" for a
// report with no fields. Ties go to the earlier field.
func WeakestField(r *model.Report) string {
	if r == nil || len(r.Fields) == 0 {
		return ""
	}
	weakest := r.Fields[0]
	for _, f := range r.Fields[1:] {
		if f.Pct < weakest.Pct {
			weakest = f
		}
	}
	return weakest.Name
}
