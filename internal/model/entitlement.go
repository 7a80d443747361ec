package model

import "time"

// Entitlement is the per-user subscription record: plan tier, usage counter,
// limit, and the billing-cycle anchor. It is owned by the entitlement ledger
// and mutated only through the store's atomic operations.
type Entitlement struct {
	UserEmail  string     `json:"user_email"`
	Plan       Plan       `json:"plan"`
	ScansUsed  int        `json:"scans_used"`
	ScansLimit int        `json:"scans_limit"`
	// BillingCycleStart anchors the 30-day usage window. Nil for trial,
	// which never resets.
	BillingCycleStart *time.Time `json:"billing_cycle_start,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Unlimited reports whether this entitlement never rejects usage.
func (e *Entitlement) Unlimited() bool {
	return e.ScansLimit == UnlimitedScans
}

// DefaultEntitlement returns the record created implicitly on a user's
// first scan request.
func DefaultEntitlement(userEmail string, now time.Time) *Entitlement {
	return &Entitlement{
		UserEmail:  userEmail,
		Plan:       PlanTrial,
		ScansUsed:  0,
		ScansLimit: SpecFor(PlanTrial).ScanLimit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
