package subscription

import (
	"fmt"
	"strings"
	"time"
)

// Tier determines price and feature gates.
type Tier string

const (
	TierFounder Tier = "founder"
	TierStartup Tier = "startup"
	TierGrowth  Tier = "growth"
	TierScale   Tier = "scale"
)

// Cycle is the billing interval.
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleAnnual  Cycle = "annual"
)

// Feature keys checked by the access middleware.
const (
	FeatureDashboard        = "dashboard"
	FeatureReports          = "ai_reports"
	FeatureESGAnalytics     = "esg_analytics"
	FeatureAPIAccess        = "api_access"
	FeatureGovernmentPortal = "government_portal"
	FeaturePrioritySupport  = "priority_support"
)

// Plan describes the commercial terms of a tier. Prices are in minor units (kobo).
type Plan struct {
	Tier         Tier     `json:"tier"`
	Name         string   `json:"name"`
	Currency     string   `json:"currency"`
	PriceMonthly int64    `json:"price_monthly"`
	PriceAnnual  int64    `json:"price_annual"`
	TrialDays    int      `json:"trial_days"`
	Features     []string `json:"features"`
}

// Predefined plans.
var (
	PlanFounder = Plan{
		Tier:     TierFounder,
		Name:     "Founder",
		Currency: "NGN",
		Features: []string{FeatureDashboard},
	}

	PlanStartup = Plan{
		Tier:         TierStartup,
		Name:         "Startup",
		Currency:     "NGN",
		PriceMonthly: 2_500_000,
		PriceAnnual:  25_000_000,
		TrialDays:    30,
		Features:     []string{FeatureDashboard, FeatureReports},
	}

	PlanGrowth = Plan{
		Tier:         TierGrowth,
		Name:         "Growth",
		Currency:     "NGN",
		PriceMonthly: 7_500_000,
		PriceAnnual:  75_000_000,
		TrialDays:    30,
		Features:     []string{FeatureDashboard, FeatureReports, FeatureESGAnalytics, FeatureAPIAccess},
	}

	PlanScale = Plan{
		Tier:         TierScale,
		Name:         "Scale",
		Currency:     "NGN",
		PriceMonthly: 20_000_000,
		PriceAnnual:  200_000_000,
		TrialDays:    14,
		Features: []string{
			FeatureDashboard,
			FeatureReports,
			FeatureESGAnalytics,
			FeatureAPIAccess,
			FeatureGovernmentPortal,
			FeaturePrioritySupport,
		},
	}

	// AllPlans is the ordered list of available plans.
	AllPlans = []Plan{PlanFounder, PlanStartup, PlanGrowth, PlanScale}
)

// ParseTier accepts a tier name; "free" is an alias of founder.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFounder, "free":
		return TierFounder, nil
	case TierStartup:
		return TierStartup, nil
	case TierGrowth:
		return TierGrowth, nil
	case TierScale:
		return TierScale, nil
	}
	return "", fmt.Errorf("%w: unknown tier %q", ErrValidation, s)
}

// ParseCycle accepts a billing cycle; empty means monthly.
func ParseCycle(s string) (Cycle, error) {
	switch Cycle(strings.ToLower(strings.TrimSpace(s))) {
	case CycleMonthly, "":
		return CycleMonthly, nil
	case CycleAnnual, "yearly":
		return CycleAnnual, nil
	}
	return "", fmt.Errorf("%w: unknown billing cycle %q", ErrValidation, s)
}

// PlanFor looks up the plan for a tier.
func PlanFor(t Tier) (Plan, bool) {
	for _, p := range AllPlans {
		if p.Tier == t {
			return p, true
		}
	}
	return Plan{}, false
}

// Price returns the charge for one billing period.
func (p Plan) Price(c Cycle) int64 {
	if c == CycleAnnual {
		return p.PriceAnnual
	}
	return p.PriceMonthly
}

// IsFree reports whether the plan never charges.
func (p Plan) IsFree() bool {
	return p.PriceMonthly == 0 && p.PriceAnnual == 0
}

// HasFeature reports whether the plan unlocks feature.
func (p Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Next returns the start of the following billing period.
func (c Cycle) Next(from time.Time) time.Time {
	if c == CycleAnnual {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
