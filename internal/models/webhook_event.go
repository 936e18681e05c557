package models

import "time"

// WebhookEvent stores inbound provider webhook payloads with deduplication
// metadata for idempotent processing.
type WebhookEvent struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	Provider        string     `json:"provider" gorm:"type:varchar(20);not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	ProviderEventID string     `json:"provider_event_id" gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType       string     `json:"event_type" gorm:"type:varchar(100);not null;index"`
	PayloadJSON     string     `json:"payload_json" gorm:"type:text;not null"`
	SignatureValid  bool       `json:"signature_valid" gorm:"default:false"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `json:"processing_error" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
