package models

import "time"

// SubscriptionChangeLog is the append-only audit trail of lifecycle transitions.
type SubscriptionChangeLog struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	TenantID   string    `json:"tenant_id" gorm:"not null;size:64;index"`
	FromStatus *string   `json:"from_status,omitempty" gorm:"size:20"`
	ToStatus   string    `json:"to_status" gorm:"not null;size:20"`
	FromTier   *string   `json:"from_tier,omitempty" gorm:"size:20"`
	ToTier     string    `json:"to_tier" gorm:"not null;size:20"`
	Reason     string    `json:"reason" gorm:"not null;size:100"`
	Automatic  bool      `json:"automatic"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

func (SubscriptionChangeLog) TableName() string {
	return "subscription_change_logs"
}
