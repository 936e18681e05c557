package subscription

// Event is an input to the lifecycle state machine. Every transition is
// triggered by exactly one event.
type Event interface {
	Name() string
}

// TrialExpired is emitted by the sweeper once trialEndsAt has passed.
type TrialExpired struct {
	TenantID string
}

// ChargeSucceeded is a confirmed provider charge, matched by customer id.
type ChargeSucceeded struct {
	Reference  string
	Amount     int64
	Currency   string
	CustomerID string
}

// ChargeFailed is a failed provider charge, matched by customer id.
type ChargeFailed struct {
	Reference  string
	Amount     int64
	Currency   string
	CustomerID string
}

// GracePeriodExpired is emitted by the sweeper once graceEndsAt has passed.
type GracePeriodExpired struct {
	TenantID string
}

// ManualRetrySucceeded is a tenant-initiated payment the provider has verified.
type ManualRetrySucceeded struct {
	TenantID  string
	Reference string
	Amount    int64
	Currency  string
}

// SubscriptionDisabledByProvider forces a freeze regardless of current state.
type SubscriptionDisabledByProvider struct {
	SubscriptionID string
}

// SubscriptionCreated only updates correlation ids; it never changes status.
type SubscriptionCreated struct {
	CustomerID     string
	SubscriptionID string
	Email          string
}

func (TrialExpired) Name() string                   { return "trial_expired" }
func (ChargeSucceeded) Name() string                { return "charge_succeeded" }
func (ChargeFailed) Name() string                   { return "charge_failed" }
func (GracePeriodExpired) Name() string             { return "grace_period_expired" }
func (ManualRetrySucceeded) Name() string           { return "manual_retry_succeeded" }
func (SubscriptionDisabledByProvider) Name() string { return "subscription_disabled_by_provider" }
func (SubscriptionCreated) Name() string            { return "subscription_created" }
