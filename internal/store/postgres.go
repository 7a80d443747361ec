package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/docscan-ai/docscan/internal/db"
	"github.com/docscan-ai/docscan/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlGetEntitlement = `SELECT user_email, plan, scans_used, scans_limit, billing_cycle_start, created_at, updated_at FROM entitlements WHERE user_email = $1`

	// Create-if-absent: concurrent first accesses race on the primary key
	// and exactly one insert wins.
	sqlEnsureEntitlement = `INSERT INTO entitlements (user_email, plan, scans_used, scans_limit) VALUES ($1, 'trial', 0, $2) ON CONFLICT (user_email) DO NOTHING`

	// Relative update keeps the increment atomic under concurrent scans
	// from the same user.
	sqlIncrementScans = `UPDATE entitlements SET scans_used = scans_used + 1, updated_at = now() WHERE user_email = $1`

	// Conditional reset: the anchor predicate makes concurrent rollover
	// checks idempotent: only one caller moves the anchor forward.
	sqlResetCycle = `UPDATE entitlements SET scans_used = 0, billing_cycle_start = $2, updated_at = now() WHERE user_email = $1 AND plan <> 'trial' AND billing_cycle_start IS NOT NULL AND billing_cycle_start <= $3`

	sqlUpsertPlan = `INSERT INTO entitlements (user_email, plan, scans_used, scans_limit, billing_cycle_start) VALUES ($1, $2, 0, $3, $4) ON CONFLICT (user_email) DO UPDATE SET plan = EXCLUDED.plan, scans_limit = EXCLUDED.scans_limit, scans_used = 0, billing_cycle_start = EXCLUDED.billing_cycle_start, updated_at = now()`

	sqlInsertScan = `INSERT INTO scans (id, user_email, document_type, result, created_at) VALUES ($1, $2, $3, $4, $5)`

	sqlListScans = `SELECT id, user_email, document_type, result, created_at FROM scans WHERE user_email = $1 ORDER BY created_at DESC LIMIT $2`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_entitlement":    sqlGetEntitlement,
	"ensure_entitlement": sqlEnsureEntitlement,
	"increment_scans":    sqlIncrementScans,
	"insert_scan":        sqlInsertScan,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entitlements (
	user_email          TEXT PRIMARY KEY,
	plan                TEXT NOT NULL DEFAULT 'trial',
	scans_used          INTEGER NOT NULL DEFAULT 0,
	scans_limit         INTEGER NOT NULL DEFAULT 3,
	billing_cycle_start TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scans (
	id            TEXT PRIMARY KEY,
	user_email    TEXT NOT NULL,
	document_type TEXT NOT NULL,
	result        JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scans_user_created ON scans(user_email, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetEntitlement(ctx context.Context, userEmail string) (*model.Entitlement, error) {
	row := s.pool.QueryRow(ctx, sqlGetEntitlement, userEmail)
	ent, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get entitlement")
	}
	return ent, nil
}

func (s *PostgresStore) EnsureEntitlement(ctx context.Context, userEmail string) (*model.Entitlement, error) {
	trialLimit := model.SpecFor(model.PlanTrial).ScanLimit
	if _, err := s.pool.Exec(ctx, sqlEnsureEntitlement, userEmail, trialLimit); err != nil {
		return nil, eris.Wrap(err, "postgres: ensure entitlement")
	}

	ent, err := s.GetEntitlement(ctx, userEmail)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, eris.Errorf("postgres: entitlement missing after upsert for %s", userEmail)
	}
	return ent, nil
}

func (s *PostgresStore) IncrementScansUsed(ctx context.Context, userEmail string) error {
	tag, err := s.pool.Exec(ctx, sqlIncrementScans, userEmail)
	if err != nil {
		return eris.Wrap(err, "postgres: increment scans")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: increment scans: no entitlement for %s", userEmail)
	}
	return nil
}

func (s *PostgresStore) ResetCycleIfElapsed(ctx context.Context, userEmail string, cutoff, now time.Time) (*model.Entitlement, error) {
	if _, err := s.pool.Exec(ctx, sqlResetCycle, userEmail, now, cutoff); err != nil {
		return nil, eris.Wrap(err, "postgres: reset cycle")
	}

	// Re-read whether or not this call won the reset; a concurrent request
	// may have moved the anchor first.
	ent, err := s.GetEntitlement(ctx, userEmail)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, eris.Errorf("postgres: entitlement vanished during reset for %s", userEmail)
	}
	return ent, nil
}

func (s *PostgresStore) UpsertPlan(ctx context.Context, userEmail string, plan model.Plan, scansLimit int, cycleStart time.Time) error {
	if _, err := s.pool.Exec(ctx, sqlUpsertPlan, userEmail, string(plan), scansLimit, cycleStart); err != nil {
		return eris.Wrap(err, "postgres: upsert plan")
	}
	return nil
}

func (s *PostgresStore) SaveScan(ctx context.Context, rec *model.ScanRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, sqlInsertScan, id, rec.UserEmail, string(rec.DocumentType), []byte(rec.Result), createdAt); err != nil {
		return eris.Wrap(err, "postgres: save scan")
	}
	return nil
}

func (s *PostgresStore) ListScans(ctx context.Context, userEmail string, limit int) ([]model.ScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, sqlListScans, userEmail, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scans")
	}
	defer rows.Close()

	var records []model.ScanRecord
	for rows.Next() {
		var rec model.ScanRecord
		var docType string
		var result []byte
		if err := rows.Scan(&rec.ID, &rec.UserEmail, &docType, &result, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		rec.DocumentType = model.DocumentType(docType)
		rec.Result = result
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list scans rows")
	}
	return records, nil
}

// scanEntitlement reads one entitlement row.
func scanEntitlement(row pgx.Row) (*model.Entitlement, error) {
	var ent model.Entitlement
	var plan string
	if err := row.Scan(&ent.UserEmail, &plan, &ent.ScansUsed, &ent.ScansLimit, &ent.BillingCycleStart, &ent.CreatedAt, &ent.UpdatedAt); err != nil {
		return nil, err
	}
	ent.Plan = model.Plan(plan)
	return &ent, nil
}
