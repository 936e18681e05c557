package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"subscription-api/internal/subscription"
)

// LifecycleNotifier fans committed transitions out to email and the status
// callback. Deliveries run in the background so the caller never waits.
type LifecycleNotifier struct {
	mailer   *BrevoService
	callback *WebhookNotifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

var _ subscription.Notifier = (*LifecycleNotifier)(nil)

// NewLifecycleNotifier accepts nil for either channel.
func NewLifecycleNotifier(mailer *BrevoService, callback *WebhookNotifier) *LifecycleNotifier {
	return &LifecycleNotifier{
		mailer:   mailer,
		callback: callback,
		timeout:  2 * time.Minute,
	}
}

func (n *LifecycleNotifier) SubscriptionChanged(ctx context.Context, c subscription.Change) {
	if n.mailer == nil && n.callback == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		if n.mailer != nil {
			if err := n.mailer.SendLifecycleEmail(ctx, c); err != nil {
				log.Error().Err(err).Str("tenant_id", c.TenantID).Msg("Lifecycle email failed")
			}
		}
		if n.callback != nil {
			if err := n.callback.NotifyStatusChanged(ctx, c); err != nil {
				log.Error().Err(err).Str("tenant_id", c.TenantID).Msg("Status callback failed")
			}
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (n *LifecycleNotifier) Wait() {
	n.wg.Wait()
}
