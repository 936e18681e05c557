package models

import "time"

const (
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// PaymentHistory records one provider charge attempt. Rows are append-only; the
// (provider_reference, status) pair is unique so replays cannot double-append.
type PaymentHistory struct {
	ID                uint      `json:"id" gorm:"primaryKey"`
	TenantID          string    `json:"tenant_id" gorm:"not null;size:64;index"`
	ProviderReference string    `json:"provider_reference" gorm:"not null;size:191;uniqueIndex:ux_payment_history_ref_status,priority:1"`
	Status            string    `json:"status" gorm:"not null;size:20;uniqueIndex:ux_payment_history_ref_status,priority:2"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency" gorm:"size:8"`
	Tier              string    `json:"tier" gorm:"size:20"`
	BillingCycle      string    `json:"billing_cycle" gorm:"size:20"`
	CreatedAt         time.Time `json:"created_at" gorm:"index"`
}

func (PaymentHistory) TableName() string {
	return "payment_history"
}
