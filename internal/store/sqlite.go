package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tariff-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS rate_records (
	utility_id            TEXT NOT NULL DEFAULT '',
	commodity             TEXT NOT NULL DEFAULT '',
	rate_code             TEXT NOT NULL,
	customer_class        TEXT NOT NULL DEFAULT '',
	customer_class_source TEXT NOT NULL DEFAULT '',
	voltage               TEXT NOT NULL DEFAULT '',
	voltage_source        TEXT NOT NULL DEFAULT '',
	eligibility_notes     TEXT NOT NULL DEFAULT '',
	eligibility_source    TEXT NOT NULL DEFAULT '',
	effective_start       TEXT NOT NULL DEFAULT '',
	effective_end         TEXT NOT NULL DEFAULT '',
	effective_source      TEXT NOT NULL DEFAULT '',
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (utility_id, commodity, rate_code)
);

CREATE TABLE IF NOT EXISTS completeness_snapshots (
	id              TEXT PRIMARY KEY,
	utility_id      TEXT NOT NULL DEFAULT '',
	commodity       TEXT NOT NULL DEFAULT '',
	inferred_credit REAL NOT NULL DEFAULT 0,
	confidence      TEXT NOT NULL DEFAULT '',
	report          TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_snapshots_utility ON completeness_snapshots(utility_id, commodity, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListRateRecords(ctx context.Context, filter RateFilter) ([]model.RateRecord, error) {
	query := `SELECT ` + rateColumns + ` FROM rate_records WHERE 1=1`
	var args []any

	if filter.UtilityID != "" {
		query += ` AND utility_id = ?`
		args = append(args, filter.UtilityID)
	}
	if filter.Commodity != "" {
		query += ` AND commodity = ?`
		args = append(args, string(filter.Commodity))
	}
	query += ` ORDER BY utility_id, commodity, rate_code`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rate records")
	}
	defer rows.Close() //nolint:errcheck

	records := []model.RateRecord{}
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rate record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list rate records iterate")
}

const sqliteUpsertRate = `INSERT INTO rate_records (` + rateColumns + `, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (utility_id, commodity, rate_code) DO UPDATE SET
	customer_class = excluded.customer_class,
	customer_class_source = excluded.customer_class_source,
	voltage = excluded.voltage,
	voltage_source = excluded.voltage_source,
	eligibility_notes = excluded.eligibility_notes,
	eligibility_source = excluded.eligibility_source,
	effective_start = excluded.effective_start,
	effective_end = excluded.effective_end,
	effective_source = excluded.effective_source,
	updated_at = excluded.updated_at`

func (s *SQLiteStore) UpsertRateRecords(ctx context.Context, records []model.RateRecord) (*UpsertResult, error) {
	res := &UpsertResult{}
	if len(records) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert rate records: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range records {
		r := &records[i]
		if !keyable(r) {
			res.Skipped++
			continue
		}
		args := append(rateArgs(r), now)
		if _, err := tx.ExecContext(ctx, sqliteUpsertRate, args...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert rate record %s/%s", r.UtilityID, r.RateCode)
		}
		res.Written++
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert rate records: commit")
	}
	if res.Skipped > 0 {
		zap.L().Warn("sqlite: skipped rate records without rate code", zap.Int("skipped", res.Skipped))
	}
	return res, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	reportJSON, err := json.Marshal(snap.Report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO completeness_snapshots (id, utility_id, commodity, inferred_credit, confidence, report, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.UtilityID, string(snap.Commodity), snap.InferredCredit, snap.Confidence, string(reportJSON), snap.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert snapshot %s", snap.ID)
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM completeness_snapshots WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get snapshot %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshot %s", id)
	}
	return snap, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM completeness_snapshots WHERE 1=1`
	var args []any

	if filter.UtilityID != "" {
		query += ` AND utility_id = ?`
		args = append(args, filter.UtilityID)
	}
	if filter.Commodity != "" {
		query += ` AND commodity = ?`
		args = append(args, string(filter.Commodity))
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close() //nolint:errcheck

	snaps := []model.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		snaps = append(snaps, *snap)
	}
	return snaps, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}
