// Package entitlement owns per-user subscription state: plan tier, usage
// counter, limit, and the billing-cycle anchor.
package entitlement

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/docscan-ai/docscan/internal/model"
	"github.com/docscan-ai/docscan/internal/store"
)

// BillingCycle is the fixed usage window for paid plans. It is exactly
// 30×24h, not calendar-month-aware; the anchor is re-set on every payment.
const BillingCycle = 30 * 24 * time.Hour

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Plan    model.Plan
	Used    int
	Limit   int
}

// Ledger mediates all entitlement reads and mutations. It holds no state
// of its own: correctness under concurrent requests comes from the store's
// atomic upsert and increment operations.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

// New creates a Ledger backed by the given store.
func New(s store.Store) *Ledger {
	return &Ledger{store: s, now: time.Now}
}

// WithClock overrides the ledger's clock. Tests only.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// GetOrCreate returns the user's entitlement, creating the default trial
// record on first access. The create is a storage-level create-if-absent,
// so concurrent first accesses cannot produce duplicates.
func (l *Ledger) GetOrCreate(ctx context.Context, userEmail string) (*model.Entitlement, error) {
	if userEmail == "" {
		return nil, eris.New("entitlement: empty user email")
	}
	return l.store.EnsureEntitlement(ctx, userEmail)
}

// Get returns the user's entitlement without creating a record, or nil if
// the user is unknown.
func (l *Ledger) Get(ctx context.Context, userEmail string) (*model.Entitlement, error) {
	return l.store.GetEntitlement(ctx, userEmail)
}

// RolloverIfDue resets the usage counter when a monthly plan's 30-day
// window has elapsed. Trial is not monthly: its allowance is lifetime. The
// reset is a single conditional update in the store, so two requests
// crossing the boundary together cannot both zero the counter.
func (l *Ledger) RolloverIfDue(ctx context.Context, ent *model.Entitlement) (*model.Entitlement, error) {
	if !model.SpecFor(ent.Plan).Monthly || ent.BillingCycleStart == nil {
		return ent, nil
	}

	now := l.now()
	if now.Sub(*ent.BillingCycleStart) < BillingCycle {
		return ent, nil
	}

	cutoff := now.Add(-BillingCycle)
	fresh, err := l.store.ResetCycleIfElapsed(ctx, ent.UserEmail, cutoff, now)
	if err != nil {
		return nil, eris.Wrap(err, "entitlement: cycle rollover")
	}

	zap.L().Info("billing cycle rolled over",
		zap.String("user", ent.UserEmail),
		zap.String("plan", string(fresh.Plan)),
	)
	return fresh, nil
}

// CheckPermission evaluates whether one more scan is allowed. A limit of
// UnlimitedScans always allows.
func (l *Ledger) CheckPermission(ent *model.Entitlement) Decision {
	d := Decision{
		Plan:  ent.Plan,
		Used:  ent.ScansUsed,
		Limit: ent.ScansLimit,
	}
	d.Allowed = ent.Unlimited() || ent.ScansUsed < ent.ScansLimit
	return d
}

// RecordUsage counts one consumed scan. The increment is atomic at the
// storage layer, never read-modify-write here.
func (l *Ledger) RecordUsage(ctx context.Context, userEmail string) error {
	if err := l.store.IncrementScansUsed(ctx, userEmail); err != nil {
		return eris.Wrap(err, "entitlement: record usage")
	}
	return nil
}

// ApplyPlanChange moves a user onto a plan: new limit, counter reset to
// zero, cycle anchored at now. Upserts so a payment can land before the
// user's first scan.
func (l *Ledger) ApplyPlanChange(ctx context.Context, userEmail string, plan model.Plan) error {
	if !plan.Valid() {
		return eris.Errorf("entitlement: unknown plan %q", plan)
	}

	spec := model.SpecFor(plan)
	if err := l.store.UpsertPlan(ctx, userEmail, plan, spec.ScanLimit, l.now()); err != nil {
		return eris.Wrap(err, "entitlement: apply plan change")
	}

	zap.L().Info("plan changed",
		zap.String("user", userEmail),
		zap.String("plan", string(plan)),
		zap.Int("scans_limit", spec.ScanLimit),
	)
	return nil
}
