package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// PctSuffix is appended to a field name to form its report key
// (customerClass -> customerClassPct).
const PctSuffix = "Pct"

// FieldScore is the completeness result for one tracked field, with the
// per-record tallies that explain the percentage.
type FieldScore struct {
	Name     string  `json:"name"`
	Pct      float64 `json:"pct"`
	Credit   float64 `json:"credit"`
	Explicit int     `json:"explicit"`
	Inferred int     `json:"inferred"`
	Unknown  int     `json:"unknown"`
	Missing  int     `json:"missing"`
}

// Key returns the report key for the field.
func (f FieldScore) Key() string {
	return f.Name + PctSuffix
}

// Report is the completeness result for a record set. Fields are ordered
// as the tracked field set was configured.
type Report struct {
	RecordCount     int          `json:"record_count"`
	MissingRateCode int          `json:"missing_rate_code"`
	Overall         float64      `json:"overall"`
	Fields          []FieldScore `json:"fields"`
}

// Field returns the score for the named field.
func (r *Report) Field(name string) (FieldScore, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldScore{}, false
}

// Pct returns the percentage for a field name or report key
// ("voltage" and "voltagePct" are equivalent).
func (r *Report) Pct(name string) float64 {
	f, _ := r.Field(strings.TrimSuffix(name, PctSuffix))
	return f.Pct
}

// Percentages returns the report as a mapping from report key to
// percentage.
func (r *Report) Percentages() map[string]float64 {
	out := make(map[string]float64, len(r.Fields))
	for _, f := range r.Fields {
		out[f.Key()] = f.Pct
	}
	return out
}

// MarshalJSON flattens the percentages to top-level <field>Pct keys
// alongside the breakdown.
func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Percentages() {
		out[k] = v
	}
	out["record_count"] = r.RecordCount
	out["missing_rate_code"] = r.MissingRateCode
	out["overall"] = r.Overall
	fields := r.Fields
	if fields == nil {
		fields = []FieldScore{}
	}
	out["fields"] = fields
	return json.Marshal(out)
}

// UnmarshalJSON restores a report from its MarshalJSON form. The flattened
// percentage keys are derived data and are ignored.
func (r *Report) UnmarshalJSON(data []byte) error {
	var aux struct {
		RecordCount     int          `json:"record_count"`
		MissingRateCode int          `json:"missing_rate_code"`
		Overall         float64      `json:"overall"`
		Fields          []FieldScore `json:"fields"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return eris.Wrap(err, "model: decode report")
	}
	*r = Report{
		RecordCount:     aux.RecordCount,
		MissingRateCode: aux.MissingRateCode,
		Overall:         aux.Overall,
		Fields:          aux.Fields,
	}
	return nil
}

// GroupReport is a report for one utility/commodity partition.
type GroupReport struct {
	Key    GroupKey `json:"key"`
	Report Report   `json:"report"`
}

// Snapshot is a persisted completeness report.
type Snapshot struct {
	ID             string    `json:"id"`
	UtilityID      string    `json:"utility_id,omitempty"`
	Commodity      Commodity `json:"commodity,omitempty"`
	InferredCredit float64   `json:"inferred_credit"`
	Confidence     string    `json:"confidence"`
	Report         Report    `json:"report"`
	CreatedAt      time.Time `json:"created_at"`
}
