package completeness

import (
	"math"
	"strings"

	"github.com/sells-group/tariff-cli/internal/model"
)

// Engine scores record sets under one validated Config. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	plan *scoringPlan
}

// New validates cfg and returns an Engine for it. The error, if any, is a
// *ConfigurationError.
func New(cfg Config) (*Engine, error) {
	p, err := cfg.plan()
	if err != nil {
		return nil, err
	}
	return &Engine{plan: p}, nil
}

// Compute scores records under cfg. It never fails on record content;
// the only error is a *ConfigurationError for an invalid cfg.
func Compute(records []model.RateRecord, cfg Config) (*model.Report, error) {
	e, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return e.Score(records), nil
}

// Fields returns the names of the tracked fields in report order.
func (e *Engine) Fields() []string {
	names := make([]string, len(e.plan.fields))
	for i, f := range e.plan.fields {
		names[i] = f.Name
	}
	return names
}

// Score computes the report for records. An empty record set scores 0 on
// every field. Records are read, never modified.
func (e *Engine) Score(records []model.RateRecord) *model.Report {
	report := &model.Report{
		RecordCount: len(records),
		Fields:      make([]model.FieldScore, len(e.plan.fields)),
	}

	for i, f := range e.plan.fields {
		fs := model.FieldScore{Name: f.Name}
		for j := range records {
			credit, tag := e.credit(f, &records[j])
			fs.Credit += credit
			switch tag {
			case model.SourceExplicit:
				fs.Explicit++
			case model.SourceInferred:
				fs.Inferred++
			case model.SourceUnknown:
				fs.Unknown++
			default:
				fs.Missing++
			}
		}
		if len(records) > 0 {
			// Rounding can push a sum of unit credits past the count.
			fs.Pct = math.Min(1, fs.Credit/float64(len(records)))
		}
		report.Fields[i] = fs
	}

	for j := range records {
		if strings.TrimSpace(records[j].RateCode) == "" {
			report.MissingRateCode++
		}
	}

	report.Overall = e.overall(report)
	return report
}

// credit returns the per-record credit for field f and the provenance it
// was resolved to. An absent value returns SourceUntagged with no credit;
// a missing tag never manufactures credit for an absent value.
func (e *Engine) credit(f Field, r *model.RateRecord) (float64, model.SourceTag) {
	if !f.Present(r) {
		return 0, model.SourceUntagged
	}
	tag := f.Source(r)
	if tag == model.SourceUntagged {
		tag = e.plan.untagged
	}
	switch tag {
	case model.SourceExplicit:
		return 1, tag
	case model.SourceInferred:
		return e.plan.inferredCredit, tag
	default:
		return 0, model.SourceUnknown
	}
}
