package database

import (
	"context"
	"time"

	"subscription-api/internal/models"

	"gorm.io/gorm/clause"
)

// CreateWebhookEventIfNotExists stores an inbound event keyed by
// (provider, provider_event_id). It reports whether the row was new and
// returns the stored row either way.
func (s *Store) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	db := s.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, nil, classify(res.Error)
	}

	created := res.RowsAffected > 0
	var stored models.WebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, classify(err)
	}
	return created, &stored, nil
}

// MarkWebhookProcessed sets processed_at. A non-empty processingError records
// why an acknowledged event changed nothing.
func (s *Store) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return classify(s.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error)
}

// MarkWebhookFailed records a failed attempt and leaves the event unprocessed
// so a provider retry is applied.
func (s *Store) MarkWebhookFailed(ctx context.Context, id uint, processingError string) error {
	return classify(s.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).
		Update("processing_error", processingError).Error)
}
