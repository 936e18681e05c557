package models

import (
	"time"
)

const (
	SubscriptionStatusTrial  = "trial"
	SubscriptionStatusActive = "active"
	SubscriptionStatusGrace  = "grace"
	SubscriptionStatusFrozen = "frozen"
)

// Subscription is the ledger row for one tenant. Its columns are the flat storage
// form of the lifecycle state; only the lifecycle engine writes to it.
type Subscription struct {
	BaseModel

	TenantID     string `json:"tenant_id" gorm:"not null;size:64;uniqueIndex"`
	BillingEmail string `json:"billing_email" gorm:"size:255"`

	Tier         string `json:"tier" gorm:"not null;size:20;index"`
	Status       string `json:"status" gorm:"not null;size:20;index:idx_subscriptions_status_deadline,priority:1"`
	BillingCycle string `json:"billing_cycle" gorm:"not null;size:20;default:'monthly'"`

	TrialEndsAt     *time.Time `json:"trial_ends_at,omitempty" gorm:"index"`
	GraceEndsAt     *time.Time `json:"grace_ends_at,omitempty" gorm:"index"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`

	PaymentFailed  bool   `json:"payment_failed" gorm:"default:false"`
	LastFailureRef string `json:"last_failure_ref,omitempty" gorm:"size:191"`
	FrozenReason   string `json:"frozen_reason,omitempty" gorm:"size:100"`

	// Provider correlation ids; one pending pair per tenant, overwritten on rotation.
	Provider               string `json:"provider" gorm:"size:20"`
	ProviderCustomerID     string `json:"provider_customer_id,omitempty" gorm:"size:191;index"`
	ProviderSubscriptionID string `json:"provider_subscription_id,omitempty" gorm:"size:191;index"`
}

// TableName 指定表名
func (Subscription) TableName() string {
	return "subscriptions"
}
