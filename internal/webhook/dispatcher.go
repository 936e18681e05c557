package webhook

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"subscription-api/internal/metrics"
	"subscription-api/internal/models"
	"subscription-api/internal/services"
	"subscription-api/internal/subscription"
)

// claimTTL bounds how long an in-flight delivery blocks a concurrent duplicate.
const claimTTL = 2 * time.Minute

// EventStore persists inbound deliveries for idempotency and audit.
type EventStore interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
	MarkWebhookFailed(ctx context.Context, id uint, processingError string) error
}

// Engine applies lifecycle events.
type Engine interface {
	Handle(ctx context.Context, ev subscription.Event) (*subscription.Outcome, error)
}

// Result is what the HTTP layer returns to the provider.
type Result struct {
	StatusCode int
	Message    string
	EventType  string
	Outcome    *subscription.Outcome
}

// Dispatcher verifies, deduplicates and routes provider webhooks.
type Dispatcher struct {
	sources map[string]Source
	events  EventStore
	engine  Engine
	guard   services.EventGuard
}

// NewDispatcher registers sources by name.
func NewDispatcher(events EventStore, engine Engine, guard services.EventGuard, sources ...Source) *Dispatcher {
	d := &Dispatcher{
		sources: make(map[string]Source, len(sources)),
		events:  events,
		engine:  engine,
		guard:   guard,
	}
	for _, s := range sources {
		d.sources[s.Name()] = s
	}
	return d
}

// Dispatch processes one delivery. Only verified deliveries are written.
func (d *Dispatcher) Dispatch(ctx context.Context, provider string, body []byte, header http.Header) (res Result) {
	start := time.Now()
	res.EventType = "unknown"
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(provider, res.EventType, strconv.Itoa(res.StatusCode)).Inc()
		metrics.WebhookDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()

	source, ok := d.sources[provider]
	if !ok {
		return Result{StatusCode: http.StatusNotFound, Message: "unknown provider", EventType: "unknown"}
	}

	delivery, err := source.Verify(body, header)
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("Webhook rejected")
		msg := "malformed payload"
		if errors.Is(err, subscription.ErrAuth) {
			msg = "invalid signature"
		}
		return Result{StatusCode: http.StatusBadRequest, Message: msg, EventType: "unknown"}
	}
	res.EventType = delivery.EventType
	logger := log.With().
		Str("provider", provider).
		Str("event_id", delivery.EventID).
		Str("event_type", delivery.EventType).
		Logger()

	created, stored, err := d.events.CreateWebhookEventIfNotExists(ctx, &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: delivery.EventID,
		EventType:       delivery.EventType,
		PayloadJSON:     string(body),
		SignatureValid:  true,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record webhook event")
		return d.result(res, http.StatusInternalServerError, "failed to record event", nil)
	}
	if !created && stored.ProcessedAt != nil {
		logger.Info().Msg("Webhook already processed")
		return d.result(res, http.StatusOK, "already processed", nil)
	}

	key := provider + ":" + delivery.EventID
	claimed, err := d.guard.Claim(ctx, key, claimTTL)
	if err != nil {
		// The row lock and unique payment index still hold without the guard.
		logger.Warn().Err(err).Msg("Event guard unavailable, continuing")
		claimed = true
	}
	if !claimed {
		logger.Info().Msg("Webhook already in flight")
		return d.result(res, http.StatusOK, "already in progress", nil)
	}
	defer d.guard.Release(context.WithoutCancel(ctx), key)

	ev, handled, err := source.Registry().Build(delivery.EventType, delivery.Data)
	if err != nil {
		logger.Warn().Err(err).Msg("Webhook data rejected")
		d.markProcessed(ctx, stored.ID, err)
		return d.result(res, http.StatusBadRequest, "malformed event data", nil)
	}
	if !handled {
		logger.Info().Msg("Webhook ignored (unhandled type)")
		d.markProcessed(ctx, stored.ID, nil)
		return d.result(res, http.StatusOK, "ignored", nil)
	}

	out, err := d.engine.Handle(ctx, ev)
	switch {
	case err == nil:
		d.markProcessed(ctx, stored.ID, nil)
		return d.result(res, http.StatusOK, "processed", out)
	case errors.Is(err, subscription.ErrReconciliation),
		errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, subscription.ErrProvider):
		// Acknowledged so the provider stops retrying; the error is kept on the row.
		logger.Warn().Err(err).Msg("Webhook acknowledged without effect")
		d.markProcessed(ctx, stored.ID, err)
		return d.result(res, http.StatusOK, "acknowledged", nil)
	case errors.Is(err, subscription.ErrValidation):
		d.markProcessed(ctx, stored.ID, err)
		return d.result(res, http.StatusBadRequest, "invalid event", nil)
	default:
		logger.Error().Err(err).Msg("Webhook processing failed")
		if markErr := d.events.MarkWebhookFailed(context.WithoutCancel(ctx), stored.ID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("Failed to record webhook failure")
		}
		return d.result(res, http.StatusInternalServerError, "processing failed", nil)
	}
}

func (d *Dispatcher) result(res Result, status int, msg string, out *subscription.Outcome) Result {
	res.StatusCode = status
	res.Message = msg
	res.Outcome = out
	return res
}

func (d *Dispatcher) markProcessed(ctx context.Context, id uint, procErr error) {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := d.events.MarkWebhookProcessed(context.WithoutCancel(ctx), id, msg); err != nil {
		log.Error().Err(err).Uint("webhook_event_id", id).Msg("Failed to mark webhook processed")
	}
}
