package completeness

import (
	"strings"

	"github.com/sells-group/tariff-cli/internal/model"
)

// Field describes one tracked metadata dimension: how to tell whether a
// record carries a meaningful value for it, and where its provenance lives.
type Field struct {
	Name    string
	Present func(r *model.RateRecord) bool
	Source  func(r *model.RateRecord) model.SourceTag
}

// Field names.
const (
	FieldCustomerClass    = "customerClass"
	FieldVoltage          = "voltage"
	FieldEligibilityNotes = "eligibilityNotes"
	FieldEffectiveDate    = "effectiveDate"
	FieldEffectiveEnd     = "effectiveEnd"
	FieldRateCode         = "rateCode"
)

// meaningfulLabel is the presence rule for free-text fields: non-blank after
// trimming and not the sentinel. The sentinel compare is an exact,
// case-sensitive match.
func meaningfulLabel(s string) bool {
	return strings.TrimSpace(s) != "" && s != model.UnknownValue
}

func hasDate(s string) bool {
	_, ok := model.ParseDate(s)
	return ok
}

func explicitAlways(*model.RateRecord) model.SourceTag { return model.SourceExplicit }

var (
	CustomerClass = Field{
		Name:    FieldCustomerClass,
		Present: func(r *model.RateRecord) bool { return meaningfulLabel(r.CustomerClass) },
		Source:  func(r *model.RateRecord) model.SourceTag { return r.CustomerClassSource },
	}
	Voltage = Field{
		Name:    FieldVoltage,
		Present: func(r *model.RateRecord) bool { return meaningfulLabel(r.Voltage) },
		Source:  func(r *model.RateRecord) model.SourceTag { return r.VoltageSource },
	}
	EligibilityNotes = Field{
		Name:    FieldEligibilityNotes,
		Present: func(r *model.RateRecord) bool { return meaningfulLabel(r.EligibilityNotes) },
		Source:  func(r *model.RateRecord) model.SourceTag { return r.EligibilitySource },
	}
	// EffectiveDate is derived from effectiveStart; effectiveEnd does not
	// affect it.
	EffectiveDate = Field{
		Name:    FieldEffectiveDate,
		Present: func(r *model.RateRecord) bool { return hasDate(r.EffectiveStart) },
		Source:  func(r *model.RateRecord) model.SourceTag { return r.EffectiveSource },
	}
	EffectiveEnd = Field{
		Name:    FieldEffectiveEnd,
		Present: func(r *model.RateRecord) bool { return hasDate(r.EffectiveEnd) },
		Source:  func(r *model.RateRecord) model.SourceTag { return r.EffectiveSource },
	}
	RateCode = Field{
		Name:    FieldRateCode,
		Present: func(r *model.RateRecord) bool { return strings.TrimSpace(r.RateCode) != "" },
		Source:  explicitAlways,
	}
)

// DefaultFields returns the descriptors tracked when Config.Fields is
// empty, in report order.
func DefaultFields() []Field {
	return []Field{CustomerClass, Voltage, EligibilityNotes, EffectiveDate}
}

// DefaultFieldNames returns the names of DefaultFields.
func DefaultFieldNames() []string {
	fields := DefaultFields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

var catalog = []Field{CustomerClass, Voltage, EligibilityNotes, EffectiveDate, EffectiveEnd, RateCode}

// Catalog returns every known field descriptor.
func Catalog() []Field {
	out := make([]Field, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalog descriptor with the given name. The match is
// case-insensitive so names survive config loaders that fold key case.
func Lookup(name string) (Field, bool) {
	for _, f := range catalog {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}
