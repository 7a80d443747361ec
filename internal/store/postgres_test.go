package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docscan-ai/docscan/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func entitlementRows(userEmail string, plan string, used, limit int, cycleStart *time.Time) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows([]string{
		"user_email", "plan", "scans_used", "scans_limit", "billing_cycle_start", "created_at", "updated_at",
	}).AddRow(userEmail, plan, used, limit, cycleStart, now, now)
}

func TestPostgresStore_GetEntitlement_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT user_email, plan, scans_used, scans_limit, billing_cycle_start, created_at, updated_at FROM entitlements`).
		WithArgs("unknown@example.com").
		WillReturnError(pgx.ErrNoRows)

	ent, err := s.GetEntitlement(context.Background(), "unknown@example.com")
	require.NoError(t, err)
	assert.Nil(t, ent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetEntitlement_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT user_email, plan, scans_used, scans_limit, billing_cycle_start`).
		WithArgs("alice@example.com").
		WillReturnRows(entitlementRows("alice@example.com", "starter", 12, 30, nil))

	ent, err := s.GetEntitlement(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, model.PlanStarter, ent.Plan)
	assert.Equal(t, 12, ent.ScansUsed)
	assert.Equal(t, 30, ent.ScansLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureEntitlement_CreatesTrialDefaults(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO entitlements .* ON CONFLICT \(user_email\) DO NOTHING`).
		WithArgs("new@example.com", 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT user_email, plan, scans_used, scans_limit, billing_cycle_start`).
		WithArgs("new@example.com").
		WillReturnRows(entitlementRows("new@example.com", "trial", 0, 3, nil))

	ent, err := s.EnsureEntitlement(context.Background(), "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.PlanTrial, ent.Plan)
	assert.Equal(t, 3, ent.ScansLimit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureEntitlement_ExistingRowSurvives(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// Conflict path: the insert affects zero rows and the existing row is
	// returned untouched.
	mock.ExpectExec(`INSERT INTO entitlements .* ON CONFLICT \(user_email\) DO NOTHING`).
		WithArgs("alice@example.com", 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT user_email, plan, scans_used, scans_limit, billing_cycle_start`).
		WithArgs("alice@example.com").
		WillReturnRows(entitlementRows("alice@example.com", "pro", 500, model.UnlimitedScans, nil))

	ent, err := s.EnsureEntitlement(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.PlanPro, ent.Plan)
	assert.Equal(t, 500, ent.ScansUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementScansUsed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE entitlements SET scans_used = scans_used \+ 1`).
		WithArgs("alice@example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.IncrementScansUsed(context.Background(), "alice@example.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IncrementScansUsed_UnknownUser(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE entitlements SET scans_used = scans_used \+ 1`).
		WithArgs("ghost@example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.IncrementScansUsed(context.Background(), "ghost@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entitlement")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetCycleIfElapsed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	cutoff := now.Add(-30 * 24 * time.Hour)

	mock.ExpectExec(`UPDATE entitlements SET scans_used = 0, billing_cycle_start = \$2`).
		WithArgs("alice@example.com", now, cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`SELECT user_email, plan, scans_used, scans_limit, billing_cycle_start`).
		WithArgs("alice@example.com").
		WillReturnRows(entitlementRows("alice@example.com", "starter", 0, 30, &now))

	ent, err := s.ResetCycleIfElapsed(context.Background(), "alice@example.com", cutoff, now)
	require.NoError(t, err)
	assert.Equal(t, 0, ent.ScansUsed)
	require.NotNil(t, ent.BillingCycleStart)
	assert.True(t, ent.BillingCycleStart.Equal(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPlan(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cycleStart := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO entitlements .* ON CONFLICT \(user_email\) DO UPDATE`).
		WithArgs("alice@example.com", "pro", model.UnlimitedScans, cycleStart).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertPlan(context.Background(), "alice@example.com", model.PlanPro, model.UnlimitedScans, cycleStart))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveScan_GeneratesID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO scans`).
		WithArgs(pgxmock.AnyArg(), "alice@example.com", "receipt", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveScan(context.Background(), &model.ScanRecord{
		UserEmail:    "alice@example.com",
		DocumentType: model.DocTypeReceipt,
		Result:       []byte(`{"total": 42}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListScans(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "user_email", "document_type", "result", "created_at"}).
		AddRow("id-2", "alice@example.com", "invoice", []byte(`{"b": 2}`), now).
		AddRow("id-1", "alice@example.com", "receipt", []byte(`{"a": 1}`), now.Add(-time.Hour))

	mock.ExpectQuery(`SELECT id, user_email, document_type, result, created_at FROM scans`).
		WithArgs("alice@example.com", 50).
		WillReturnRows(rows)

	records, err := s.ListScans(context.Background(), "alice@example.com", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "id-2", records[0].ID)
	assert.Equal(t, model.DocTypeInvoice, records[0].DocumentType)
	assert.JSONEq(t, `{"a": 1}`, string(records[1].Result))
	assert.NoError(t, mock.ExpectationsWereMet())
}
