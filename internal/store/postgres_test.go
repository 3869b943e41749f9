package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

var rateColumnNames = []string{
	"utility_id", "commodity", "rate_code",
	"customer_class", "customer_class_source",
	"voltage", "voltage_source",
	"eligibility_notes", "eligibility_source",
	"effective_start", "effective_end", "effective_source",
}

var snapshotColumnNames = []string{"id", "utility_id", "commodity", "inferred_credit", "confidence", "report", "created_at"}

func TestPostgres_Migrate(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rate_records").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListRateRecords(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	rows := pgxmock.NewRows(rateColumnNames).
		AddRow("u1", "electric", "R-1", "residential", "explicit", "secondary", "inferred", "", "", "2024-01-01", "", "").
		AddRow("u1", "electric", "R-2", "commercial", "bogus", "", "", "", "", "", "", "")
	mock.ExpectQuery(`SELECT .* FROM rate_records WHERE true AND utility_id = \$1 ORDER BY utility_id, commodity, rate_code LIMIT \$2`).
		WithArgs("u1", 10).
		WillReturnRows(rows)

	got, err := st.ListRateRecords(context.Background(), RateFilter{UtilityID: "u1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, model.CommodityElectric, got[0].Commodity)
	assert.Equal(t, model.SourceExplicit, got[0].CustomerClassSource)
	assert.Equal(t, model.SourceInferred, got[0].VoltageSource)
	assert.Equal(t, model.SourceUntagged, got[0].EffectiveSource)
	assert.Equal(t, model.SourceUnknown, got[1].CustomerClassSource)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListRateRecords_Empty(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM rate_records").
		WillReturnRows(pgxmock.NewRows(rateColumnNames))

	got, err := st.ListRateRecords(context.Background(), RateFilter{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertRateRecords(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	records := []model.RateRecord{
		{UtilityID: "u1", Commodity: model.CommodityGas, RateCode: "G-1", CustomerClass: "residential"},
		{UtilityID: "u1", Commodity: model.CommodityGas, RateCode: "  "},
		{UtilityID: "u1", Commodity: model.CommodityGas, RateCode: "G-2", VoltageSource: model.SourceInferred},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rate_records").
		WithArgs("u1", "gas", "G-1", "residential", "", "", "", "", "", "", "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO rate_records").
		WithArgs("u1", "gas", "G-2", "", "", "", "inferred", "", "", "", "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := st.UpsertRateRecords(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 1, res.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertRateRecords_ExecErrorRollsBack(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rate_records").
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	_, err := st.UpsertRateRecords(context.Background(), []model.RateRecord{{UtilityID: "u1", RateCode: "R-1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: upsert rate record u1/R-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpsertRateRecords_Empty(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	res, err := st.UpsertRateRecords(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveSnapshot_FillsIDAndTime(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	snap := &model.Snapshot{UtilityID: "u1", Commodity: model.CommodityWater, InferredCredit: 0.7, Confidence: "partial"}
	mock.ExpectExec("INSERT INTO completeness_snapshots").
		WithArgs(pgxmock.AnyArg(), "u1", "water", 0.7, "partial", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.SaveSnapshot(context.Background(), snap))
	assert.NotEmpty(t, snap.ID)
	assert.False(t, snap.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetSnapshot(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	report := model.Report{
		RecordCount: 2,
		Overall:     0.5,
		Fields:      []model.FieldScore{{Name: "voltage", Pct: 0.5, Credit: 1, Explicit: 1, Missing: 1}},
	}
	reportJSON, err := json.Marshal(report)
	require.NoError(t, err)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM completeness_snapshots WHERE id = \$1`).
		WithArgs("snap-1").
		WillReturnRows(pgxmock.NewRows(snapshotColumnNames).
			AddRow("snap-1", "u1", "electric", 0.5, "stub", reportJSON, created))

	snap, err := st.GetSnapshot(context.Background(), "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "snap-1", snap.ID)
	assert.Equal(t, model.CommodityElectric, snap.Commodity)
	assert.Equal(t, created, snap.CreatedAt)
	assert.Equal(t, report, snap.Report)
	assert.InDelta(t, 0.5, snap.Report.Pct("voltagePct"), 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetSnapshot_NotFound(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM completeness_snapshots").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.GetSnapshot(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListSnapshots_DefaultLimitAndOffset(t *testing.T) {
	t.Parallel()
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM completeness_snapshots WHERE true AND commodity = \$1 ORDER BY created_at DESC, id LIMIT \$2 OFFSET \$3`).
		WithArgs("gas", defaultListLimit, 20).
		WillReturnRows(pgxmock.NewRows(snapshotColumnNames).
			AddRow("a", "u1", "gas", 0.5, "partial", []byte(`{"record_count":1,"fields":[]}`), time.Now().UTC()))

	snaps, err := st.ListSnapshots(context.Background(), SnapshotFilter{Commodity: model.CommodityGas, Offset: 20})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].Report.RecordCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
