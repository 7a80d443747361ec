// Package store persists entitlements and scan history behind a single
// interface with Postgres and SQLite implementations.
package store

import (
	"context"
	"time"

	"github.com/docscan-ai/docscan/internal/model"
)

// Store defines the persistence interface for the scanning service.
//
// Correctness under concurrent requests relies on these operations being
// atomic at the storage layer: EnsureEntitlement is a create-if-absent
// upsert, IncrementScansUsed is a single relative UPDATE, and
// ResetCycleIfElapsed is one conditional UPDATE. None of them may be
// implemented as read-then-write from application code.
type Store interface {
	// Entitlements
	GetEntitlement(ctx context.Context, userEmail string) (*model.Entitlement, error)
	EnsureEntitlement(ctx context.Context, userEmail string) (*model.Entitlement, error)
	IncrementScansUsed(ctx context.Context, userEmail string) error
	// ResetCycleIfElapsed zeroes the counter and re-anchors the cycle at
	// now, but only if the stored anchor is at or before cutoff and the
	// plan is a paid tier. Returns the row as it stands afterward, whether
	// or not this call performed the reset.
	ResetCycleIfElapsed(ctx context.Context, userEmail string, cutoff, now time.Time) (*model.Entitlement, error)
	UpsertPlan(ctx context.Context, userEmail string, plan model.Plan, scansLimit int, cycleStart time.Time) error

	// Scan history
	SaveScan(ctx context.Context, rec *model.ScanRecord) error
	ListScans(ctx context.Context, userEmail string, limit int) ([]model.ScanRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
