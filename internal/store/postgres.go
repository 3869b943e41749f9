package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/model"
)

// pgPool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool pgPool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
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
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (utility_id, commodity, rate_code)
);

CREATE TABLE IF NOT EXISTS completeness_snapshots (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	utility_id      TEXT NOT NULL DEFAULT '',
	commodity       TEXT NOT NULL DEFAULT '',
	inferred_credit DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence      TEXT NOT NULL DEFAULT '',
	report          JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_utility ON completeness_snapshots(utility_id, commodity, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ListRateRecords(ctx context.Context, filter RateFilter) ([]model.RateRecord, error) {
	query := `SELECT ` + rateColumns + ` FROM rate_records WHERE true`
	var args []any
	argIdx := 1

	if filter.UtilityID != "" {
		query += fmt.Sprintf(` AND utility_id = $%d`, argIdx)
		args = append(args, filter.UtilityID)
		argIdx++
	}
	if filter.Commodity != "" {
		query += fmt.Sprintf(` AND commodity = $%d`, argIdx)
		args = append(args, string(filter.Commodity))
		argIdx++
	}
	query += ` ORDER BY utility_id, commodity, rate_code`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rate records")
	}
	defer rows.Close()

	records := []model.RateRecord{}
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rate record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list rate records iterate")
}

const postgresUpsertRate = `INSERT INTO rate_records (` + rateColumns + `, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
ON CONFLICT (utility_id, commodity, rate_code) DO UPDATE SET
	customer_class = EXCLUDED.customer_class,
	customer_class_source = EXCLUDED.customer_class_source,
	voltage = EXCLUDED.voltage,
	voltage_source = EXCLUDED.voltage_source,
	eligibility_notes = EXCLUDED.eligibility_notes,
	eligibility_source = EXCLUDED.eligibility_source,
	effective_start = EXCLUDED.effective_start,
	effective_end = EXCLUDED.effective_end,
	effective_source = EXCLUDED.effective_source,
	updated_at = now()`

func (s *PostgresStore) UpsertRateRecords(ctx context.Context, records []model.RateRecord) (*UpsertResult, error) {
	res := &UpsertResult{}
	if len(records) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert rate records: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i := range records {
		r := &records[i]
		if !keyable(r) {
			res.Skipped++
			continue
		}
		if _, err := tx.Exec(ctx, postgresUpsertRate, rateArgs(r)...); err != nil {
			return nil, eris.Wrapf(err, "postgres: upsert rate record %s/%s", r.UtilityID, r.RateCode)
		}
		res.Written++
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: upsert rate records: commit")
	}
	if res.Skipped > 0 {
		zap.L().Warn("postgres: skipped rate records without rate code", zap.Int("skipped", res.Skipped))
	}
	return res, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	reportJSON, err := json.Marshal(snap.Report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO completeness_snapshots (id, utility_id, commodity, inferred_credit, confidence, report, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.UtilityID, string(snap.Commodity), snap.InferredCredit, snap.Confidence, reportJSON, snap.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert snapshot %s", snap.ID)
}

const snapshotColumns = `id, utility_id, commodity, inferred_credit, confidence, report, created_at`

func (s *PostgresStore) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM completeness_snapshots WHERE id = $1`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get snapshot %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get snapshot %s", id)
	}
	return snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM completeness_snapshots WHERE true`
	var args []any
	argIdx := 1

	if filter.UtilityID != "" {
		query += fmt.Sprintf(` AND utility_id = $%d`, argIdx)
		args = append(args, filter.UtilityID)
		argIdx++
	}
	if filter.Commodity != "" {
		query += fmt.Sprintf(` AND commodity = $%d`, argIdx)
		args = append(args, string(filter.Commodity))
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	snaps := []model.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		snaps = append(snaps, *snap)
	}
	return snaps, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func scanSnapshot(row scannable) (*model.Snapshot, error) {
	var snap model.Snapshot
	var commodity string
	var reportJSON []byte
	if err := row.Scan(&snap.ID, &snap.UtilityID, &commodity, &snap.InferredCredit, &snap.Confidence, &reportJSON, &snap.CreatedAt); err != nil {
		return nil, err
	}
	snap.Commodity = model.Commodity(commodity)
	if err := json.Unmarshal(reportJSON, &snap.Report); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal report")
	}
	return &snap, nil
}
