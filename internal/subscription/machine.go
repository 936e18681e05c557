package subscription

import (
	"fmt"
	"time"

	"subscription-api/internal/models"
)

// DefaultGracePeriod is the fixed window between a failed (or pending) charge and a freeze.
const DefaultGracePeriod = 7 * 24 * time.Hour

// Change-log reasons.
const (
	ReasonSignup           = "signup"
	ReasonTrialExpiredFree = "trial_expired_free"
	ReasonTrialExpired     = "trial_expired_subscription_pending"
	ReasonChargeSucceeded  = "charge_succeeded"
	ReasonRenewal          = "renewal"
	ReasonChargeFailed     = "charge_failed"
	ReasonGraceExpired     = "grace_period_expired"
	ReasonManualRetry      = "manual_retry_succeeded"
	ReasonDisabled         = "disabled_by_provider"
	ReasonCorrelation      = "correlation_updated"
)

// Policy holds the tunables of the state machine.
type Policy struct {
	GracePeriod time.Duration
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{GracePeriod: DefaultGracePeriod}
}

// Payment is a payment-history row produced by a charge event.
type Payment struct {
	Reference string
	Amount    int64
	Currency  string
	Status    string
}

// CreateSubscriptionParams asks the provider to open a recurring subscription.
type CreateSubscriptionParams struct {
	TenantID string
	Email    string
	Tier     Tier
	Cycle    Cycle
	Amount   int64
	Currency string
}

// ProviderSubscription holds the correlation ids a provider assigns.
type ProviderSubscription struct {
	CustomerID     string
	SubscriptionID string
}

// Decision is the outcome of applying one event to one record. It is computed
// without I/O; the engine executes CreateSubscription (if any) before persisting.
type Decision struct {
	Current Record
	Next    Record

	// Transition is set when the status changes; it produces one change-log row.
	Transition bool
	Reason     string

	// Write is set when any ledger column changes.
	Write bool

	Payment            *Payment
	CreateSubscription *CreateSubscriptionParams
}

// Noop reports whether the decision leaves every table untouched.
func (d Decision) Noop() bool {
	return !d.Write && d.Payment == nil && d.CreateSubscription == nil
}

// WithProviderSubscription stores the ids returned by the provider.
// Previous ids are overwritten, never kept alongside.
func (d Decision) WithProviderSubscription(ps ProviderSubscription) Decision {
	d.Next.CustomerID = ps.CustomerID
	d.Next.SubscriptionID = ps.SubscriptionID
	d.CreateSubscription = nil
	d.Write = true
	return d
}

// NewRecord builds the initial record for a tenant at signup. Zero-priced tiers
// start active with no billing date; paid tiers start a trial.
func NewRecord(tenantID, email string, tier Tier, cycle Cycle, now time.Time) Record {
	plan, _ := PlanFor(tier)
	rec := Record{
		TenantID: tenantID,
		Email:    email,
		Tier:     tier,
		Cycle:    cycle,
	}
	if plan.Price(cycle) == 0 {
		rec.State = Active{}
		return rec
	}
	rec.State = Trial{EndsAt: now.AddDate(0, 0, plan.TrialDays)}
	return rec
}

// Decide computes the next record for ev. Events that do not apply to the
// current state produce a no-op decision rather than an error.
func Decide(rec Record, ev Event, now time.Time, policy Policy) (Decision, error) {
	if policy.GracePeriod <= 0 {
		policy.GracePeriod = DefaultGracePeriod
	}
	d := Decision{Current: rec, Next: rec}

	switch e := ev.(type) {
	case TrialExpired:
		t, ok := rec.State.(Trial)
		if !ok || !now.After(t.EndsAt) {
			return d, nil
		}
		amount := rec.Plan().Price(rec.Cycle)
		if amount == 0 {
			d.move(Active{}, ReasonTrialExpiredFree)
			return d, nil
		}
		// The first charge is pending, not confirmed: the tenant waits in grace.
		d.move(Grace{EndsAt: now.Add(policy.GracePeriod)}, ReasonTrialExpired)
		d.CreateSubscription = &CreateSubscriptionParams{
			TenantID: rec.TenantID,
			Email:    rec.Email,
			Tier:     rec.Tier,
			Cycle:    rec.Cycle,
			Amount:   amount,
			Currency: rec.Plan().Currency,
		}
		return d, nil

	case ChargeSucceeded:
		d.Payment = &Payment{Reference: e.Reference, Amount: e.Amount, Currency: e.Currency, Status: models.PaymentStatusSuccess}
		d.activate(now, ReasonChargeSucceeded)
		return d, nil

	case ManualRetrySucceeded:
		d.Payment = &Payment{Reference: e.Reference, Amount: e.Amount, Currency: e.Currency, Status: models.PaymentStatusSuccess}
		if _, ok := rec.State.(Active); ok {
			// Already paid up; only the payment is recorded.
			return d, nil
		}
		d.activate(now, ReasonManualRetry)
		return d, nil

	case ChargeFailed:
		d.Payment = &Payment{Reference: e.Reference, Amount: e.Amount, Currency: e.Currency, Status: models.PaymentStatusFailed}
		switch s := rec.State.(type) {
		case Active:
			d.Next.PaymentFailed = true
			d.move(Grace{EndsAt: now.Add(policy.GracePeriod), LastFailureRef: e.Reference}, ReasonChargeFailed)
		case Grace:
			// Grace is fixed-length from the first failure; repeat failures do not extend it.
			d.Next.PaymentFailed = true
			d.Next.State = Grace{EndsAt: s.EndsAt, LastFailureRef: e.Reference}
			d.Write = true
		}
		return d, nil

	case GracePeriodExpired:
		g, ok := rec.State.(Grace)
		if !ok || !now.After(g.EndsAt) {
			return d, nil
		}
		d.Next.PaymentFailed = true
		d.move(Frozen{Reason: ReasonGraceExpired}, ReasonGraceExpired)
		return d, nil

	case SubscriptionDisabledByProvider:
		if _, ok := rec.State.(Frozen); ok {
			return d, nil
		}
		d.move(Frozen{Reason: ReasonDisabled}, ReasonDisabled)
		return d, nil

	case SubscriptionCreated:
		if e.SubscriptionID == "" || (rec.CustomerID == e.CustomerID && rec.SubscriptionID == e.SubscriptionID) {
			return d, nil
		}
		d.Next.CustomerID = e.CustomerID
		d.Next.SubscriptionID = e.SubscriptionID
		d.Reason = ReasonCorrelation
		d.Write = true
		return d, nil
	}

	return d, fmt.Errorf("%w: unsupported event %T", ErrValidation, ev)
}

// activate moves any non-active state to active with a fresh billing date, or
// extends the billing date of an already active tenant (a renewal).
func (d *Decision) activate(now time.Time, reason string) {
	next := d.Current.Cycle.Next(now)
	d.Next.PaymentFailed = false
	if _, ok := d.Current.State.(Active); ok {
		d.Next.State = Active{NextBilling: &next}
		d.Reason = ReasonRenewal
		d.Write = true
		return
	}
	d.move(Active{NextBilling: &next}, reason)
}

func (d *Decision) move(next State, reason string) {
	d.Next.State = next
	d.Reason = reason
	d.Write = true
	d.Transition = d.Current.State.Status() != next.Status()
}
