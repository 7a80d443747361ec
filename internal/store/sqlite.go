package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/docscan-ai/docscan/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and tests; production deployments run Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entitlements (
	user_email          TEXT PRIMARY KEY,
	plan                TEXT NOT NULL DEFAULT 'trial',
	scans_used          INTEGER NOT NULL DEFAULT 0,
	scans_limit         INTEGER NOT NULL DEFAULT 3,
	billing_cycle_start DATETIME,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scans (
	id            TEXT PRIMARY KEY,
	user_email    TEXT NOT NULL,
	document_type TEXT NOT NULL,
	result        TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_scans_user_created ON scans(user_email, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetEntitlement(ctx context.Context, userEmail string) (*model.Entitlement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_email, plan, scans_used, scans_limit, billing_cycle_start, created_at, updated_at FROM entitlements WHERE user_email = ?`,
		userEmail,
	)

	var ent model.Entitlement
	var plan string
	var cycleStart sql.NullTime
	err := row.Scan(&ent.UserEmail, &plan, &ent.ScansUsed, &ent.ScansLimit, &cycleStart, &ent.CreatedAt, &ent.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get entitlement")
	}
	ent.Plan = model.Plan(plan)
	if cycleStart.Valid {
		t := cycleStart.Time
		ent.BillingCycleStart = &t
	}
	return &ent, nil
}

func (s *SQLiteStore) EnsureEntitlement(ctx context.Context, userEmail string) (*model.Entitlement, error) {
	trialLimit := model.SpecFor(model.PlanTrial).ScanLimit
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entitlements (user_email, plan, scans_used, scans_limit) VALUES (?, 'trial', 0, ?) ON CONFLICT (user_email) DO NOTHING`,
		userEmail, trialLimit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: ensure entitlement")
	}

	ent, err := s.GetEntitlement(ctx, userEmail)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, eris.Errorf("sqlite: entitlement missing after upsert for %s", userEmail)
	}
	return ent, nil
}

func (s *SQLiteStore) IncrementScansUsed(ctx context.Context, userEmail string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entitlements SET scans_used = scans_used + 1, updated_at = datetime('now') WHERE user_email = ?`,
		userEmail,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: increment scans")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: increment scans rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: increment scans: no entitlement for %s", userEmail)
	}
	return nil
}

func (s *SQLiteStore) ResetCycleIfElapsed(ctx context.Context, userEmail string, cutoff, now time.Time) (*model.Entitlement, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE entitlements SET scans_used = 0, billing_cycle_start = ?, updated_at = datetime('now') WHERE user_email = ? AND plan <> 'trial' AND billing_cycle_start IS NOT NULL AND billing_cycle_start <= ?`,
		now, userEmail, cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: reset cycle")
	}

	ent, err := s.GetEntitlement(ctx, userEmail)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		return nil, eris.Errorf("sqlite: entitlement vanished during reset for %s", userEmail)
	}
	return ent, nil
}

func (s *SQLiteStore) UpsertPlan(ctx context.Context, userEmail string, plan model.Plan, scansLimit int, cycleStart time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entitlements (user_email, plan, scans_used, scans_limit, billing_cycle_start) VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (user_email) DO UPDATE SET plan = excluded.plan, scans_limit = excluded.scans_limit, scans_used = 0, billing_cycle_start = excluded.billing_cycle_start, updated_at = datetime('now')`,
		userEmail, string(plan), scansLimit, cycleStart,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert plan")
	}
	return nil
}

func (s *SQLiteStore) SaveScan(ctx context.Context, rec *model.ScanRecord) error {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (id, user_email, document_type, result, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, rec.UserEmail, string(rec.DocumentType), string(rec.Result), createdAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: save scan")
	}
	return nil
}

func (s *SQLiteStore) ListScans(ctx context.Context, userEmail string, limit int) ([]model.ScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_email, document_type, result, created_at FROM scans WHERE user_email = ? ORDER BY created_at DESC LIMIT ?`,
		userEmail, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scans")
	}
	defer rows.Close()

	var records []model.ScanRecord
	for rows.Next() {
		var rec model.ScanRecord
		var docType, result string
		if err := rows.Scan(&rec.ID, &rec.UserEmail, &docType, &result, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		rec.DocumentType = model.DocumentType(docType)
		rec.Result = []byte(result)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list scans rows")
	}
	return records, nil
}
