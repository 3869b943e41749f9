// Package store persists rate records and completeness snapshots.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/sells-group/tariff-cli/internal/model"
)

// ErrNotFound is returned (wrapped) when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// RateFilter specifies criteria for listing rate records.
type RateFilter struct {
	UtilityID string          `json:"utility_id,omitempty"`
	Commodity model.Commodity `json:"commodity,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// SnapshotFilter specifies criteria for listing snapshots.
type SnapshotFilter struct {
	UtilityID string          `json:"utility_id,omitempty"`
	Commodity model.Commodity `json:"commodity,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// UpsertResult summarizes a bulk upsert.
type UpsertResult struct {
	Written int `json:"written"`
	Skipped int `json:"skipped"`
}

// Store defines persistence for rate records and completeness snapshots.
type Store interface {
	// Rate records
	ListRateRecords(ctx context.Context, filter RateFilter) ([]model.RateRecord, error)
	UpsertRateRecords(ctx context.Context, records []model.RateRecord) (*UpsertResult, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// rateColumns is the column order shared by every rate_records query.
const rateColumns = `utility_id, commodity, rate_code, customer_class, customer_class_source, voltage, voltage_source, eligibility_notes, eligibility_source, effective_start, effective_end, effective_source`

// rateArgs returns the column values of r in rateColumns order.
func rateArgs(r *model.RateRecord) []any {
	return []any{
		r.UtilityID, string(r.Commodity), r.RateCode,
		r.CustomerClass, string(r.CustomerClassSource),
		r.Voltage, string(r.VoltageSource),
		r.EligibilityNotes, string(r.EligibilitySource),
		r.EffectiveStart, r.EffectiveEnd, string(r.EffectiveSource),
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRate(row scannable) (model.RateRecord, error) {
	var r model.RateRecord
	var commodity, ccSrc, vSrc, eligSrc, effSrc string
	err := row.Scan(
		&r.UtilityID, &commodity, &r.RateCode,
		&r.CustomerClass, &ccSrc,
		&r.Voltage, &vSrc,
		&r.EligibilityNotes, &eligSrc,
		&r.EffectiveStart, &r.EffectiveEnd, &effSrc,
	)
	if err != nil {
		return r, err
	}
	r.Commodity = model.Commodity(commodity)
	r.CustomerClassSource = model.ParseSourceTag(ccSrc)
	r.VoltageSource = model.ParseSourceTag(vSrc)
	r.EligibilitySource = model.ParseSourceTag(eligSrc)
	r.EffectiveSource = model.ParseSourceTag(effSrc)
	return r, nil
}

// keyable reports whether r can be stored; rows are keyed by
// utility/commodity/rate code.
func keyable(r *model.RateRecord) bool {
	return strings.TrimSpace(r.RateCode) != ""
}
