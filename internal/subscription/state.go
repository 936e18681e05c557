package subscription

import (
	"fmt"
	"time"

	"subscription-api/internal/models"
)

// Status is the persisted lifecycle status.
type Status string

const (
	StatusTrial  Status = models.SubscriptionStatusTrial
	StatusActive Status = models.SubscriptionStatusActive
	StatusGrace  Status = models.SubscriptionStatusGrace
	StatusFrozen Status = models.SubscriptionStatusFrozen
)

// State is the lifecycle state of a tenant. Each variant carries only the
// fields that are valid while the tenant is in it.
type State interface {
	Status() Status
	isState()
}

// Trial is a paid tier before its first charge.
type Trial struct {
	EndsAt time.Time
}

// Active is a paying (or free-forever) tenant. NextBilling is nil on zero-priced tiers.
type Active struct {
	NextBilling *time.Time
}

// Grace keeps access open while a charge is pending or has failed.
type Grace struct {
	EndsAt         time.Time
	LastFailureRef string
}

// Frozen blocks access until a payment succeeds.
type Frozen struct {
	Reason string
}

func (Trial) Status() Status  { return StatusTrial }
func (Active) Status() Status { return StatusActive }
func (Grace) Status() Status  { return StatusGrace }
func (Frozen) Status() Status { return StatusFrozen }

func (Trial) isState()  {}
func (Active) isState() {}
func (Grace) isState()  {}
func (Frozen) isState() {}

// Record is the in-memory view of a ledger row.
type Record struct {
	TenantID      string
	Email         string
	Tier          Tier
	Cycle         Cycle
	State         State
	PaymentFailed bool

	Provider       string
	CustomerID     string
	SubscriptionID string
}

// Plan returns the commercial plan of the record's tier.
func (r Record) Plan() Plan {
	p, _ := PlanFor(r.Tier)
	return p
}

// FromModel converts a flat ledger row into a Record, rejecting rows whose
// timestamp columns contradict their status.
func FromModel(row *models.Subscription) (Record, error) {
	rec := Record{
		TenantID:       row.TenantID,
		Email:          row.BillingEmail,
		Tier:           Tier(row.Tier),
		Cycle:          Cycle(row.BillingCycle),
		PaymentFailed:  row.PaymentFailed,
		Provider:       row.Provider,
		CustomerID:     row.ProviderCustomerID,
		SubscriptionID: row.ProviderSubscriptionID,
	}
	if _, ok := PlanFor(rec.Tier); !ok {
		return Record{}, fmt.Errorf("tenant %s: unknown tier %q in ledger", row.TenantID, row.Tier)
	}
	cycle, err := ParseCycle(row.BillingCycle)
	if err != nil {
		return Record{}, fmt.Errorf("tenant %s: unknown billing cycle %q in ledger", row.TenantID, row.BillingCycle)
	}
	rec.Cycle = cycle

	switch Status(row.Status) {
	case StatusTrial:
		if row.TrialEndsAt == nil || row.GraceEndsAt != nil || row.NextBillingDate != nil {
			return Record{}, inconsistent(row)
		}
		rec.State = Trial{EndsAt: row.TrialEndsAt.UTC()}
	case StatusActive:
		if row.TrialEndsAt != nil || row.GraceEndsAt != nil {
			return Record{}, inconsistent(row)
		}
		rec.State = Active{NextBilling: utcPtr(row.NextBillingDate)}
	case StatusGrace:
		if row.GraceEndsAt == nil || row.TrialEndsAt != nil || row.NextBillingDate != nil {
			return Record{}, inconsistent(row)
		}
		rec.State = Grace{EndsAt: row.GraceEndsAt.UTC(), LastFailureRef: row.LastFailureRef}
	case StatusFrozen:
		if row.TrialEndsAt != nil || row.GraceEndsAt != nil || row.NextBillingDate != nil {
			return Record{}, inconsistent(row)
		}
		rec.State = Frozen{Reason: row.FrozenReason}
	default:
		return Record{}, fmt.Errorf("tenant %s: unknown status %q in ledger", row.TenantID, row.Status)
	}
	return rec, nil
}

// ToModel writes the record onto row, resetting every state-specific column
// so that only the fields of the current variant are set.
func (r Record) ToModel(row *models.Subscription) {
	row.TenantID = r.TenantID
	row.BillingEmail = r.Email
	row.Tier = string(r.Tier)
	row.BillingCycle = string(r.Cycle)
	row.PaymentFailed = r.PaymentFailed
	row.Provider = r.Provider
	row.ProviderCustomerID = r.CustomerID
	row.ProviderSubscriptionID = r.SubscriptionID

	row.TrialEndsAt = nil
	row.GraceEndsAt = nil
	row.NextBillingDate = nil
	row.LastFailureRef = ""
	row.FrozenReason = ""

	switch s := r.State.(type) {
	case Trial:
		t := s.EndsAt
		row.TrialEndsAt = &t
	case Active:
		row.NextBillingDate = utcPtr(s.NextBilling)
	case Grace:
		t := s.EndsAt
		row.GraceEndsAt = &t
		row.LastFailureRef = s.LastFailureRef
	case Frozen:
		row.FrozenReason = s.Reason
	}
	row.Status = string(r.State.Status())
}

func inconsistent(row *models.Subscription) error {
	return fmt.Errorf("tenant %s: ledger row inconsistent with status %q", row.TenantID, row.Status)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
