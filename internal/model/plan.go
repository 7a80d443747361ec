// Package model defines the core data types shared across the service.
package model

// Plan identifies a subscription tier.
type Plan string

const (
	PlanTrial   Plan = "trial"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// UnlimitedScans is the scans_limit sentinel meaning usage is never rejected.
const UnlimitedScans = -1

// PlanSpec describes the commercial terms of one plan.
type PlanSpec struct {
	Name string
	// ScanLimit is the number of scans per billing cycle, or UnlimitedScans.
	// The trial allowance is lifetime, not per-cycle.
	ScanLimit int
	// PriceCentavos is the monthly price in PHP centavos.
	PriceCentavos int
	// Monthly plans reset their counter every billing cycle.
	Monthly bool
}

var planSpecs = map[Plan]PlanSpec{
	PlanTrial:   {Name: "Free Trial", ScanLimit: 3, PriceCentavos: 0, Monthly: false},
	PlanStarter: {Name: "Starter", ScanLimit: 30, PriceCentavos: 49900, Monthly: true},
	PlanPro:     {Name: "Pro", ScanLimit: UnlimitedScans, PriceCentavos: 149900, Monthly: true},
}

// AllPlans returns the plans in ascending tier order.
func AllPlans() []Plan {
	return []Plan{PlanTrial, PlanStarter, PlanPro}
}

// Valid reports whether p is a recognized plan tier.
func (p Plan) Valid() bool {
	_, ok := planSpecs[p]
	return ok
}

// Paid reports whether p is a purchasable tier.
func (p Plan) Paid() bool {
	return p == PlanStarter || p == PlanPro
}

// SpecFor returns the spec for a plan, defaulting to trial terms for
// unknown tiers.
func SpecFor(p Plan) PlanSpec {
	if spec, ok := planSpecs[p]; ok {
		return spec
	}
	return planSpecs[PlanTrial]
}
