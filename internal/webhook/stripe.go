package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82/webhook"

	"subscription-api/internal/subscription"
)

// StripeSource verifies Stripe deliveries with the endpoint signing secret.
type StripeSource struct {
	secret   string
	registry Registry
}

// NewStripeSource creates a Stripe webhook source.
func NewStripeSource(secret string) *StripeSource {
	return &StripeSource{
		secret: secret,
		registry: Registry{
			"invoice.paid":                  stripeInvoicePaid,
			"invoice.payment_failed":        stripeInvoiceFailed,
			"customer.subscription.created": stripeSubscriptionCreated,
			"customer.subscription.deleted": stripeSubscriptionDeleted,
		},
	}
}

func (s *StripeSource) Name() string { return "stripe" }

func (s *StripeSource) Registry() Registry { return s.registry }

func (s *StripeSource) Verify(body []byte, header http.Header) (*Delivery, error) {
	sigHeader := header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" || s.secret == "" {
		return nil, fmt.Errorf("%w: missing stripe signature", subscription.ErrAuth)
	}
	event, err := webhook.ConstructEventWithOptions(body, sigHeader, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: invalid stripe signature: %v", subscription.ErrAuth, err)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: stripe event %s has no data", subscription.ErrValidation, event.ID)
	}

	id := event.ID
	if id == "" {
		id = PayloadHash(body)
	}
	return &Delivery{
		EventID:   id,
		EventType: string(event.Type),
		Data:      event.Data.Raw,
	}, nil
}

// Minimal views of Stripe objects; customer is an unexpanded id.
type stripeInvoice struct {
	ID         string `json:"id"`
	Customer   string `json:"customer"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
}

type stripeSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

func decodeInvoice(data json.RawMessage) (stripeInvoice, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return inv, err
	}
	if inv.ID == "" {
		return inv, fmt.Errorf("missing invoice id")
	}
	return inv, nil
}

func stripeInvoicePaid(data json.RawMessage) (subscription.Event, error) {
	inv, err := decodeInvoice(data)
	if err != nil {
		return nil, err
	}
	return subscription.ChargeSucceeded{
		Reference:  inv.ID,
		Amount:     inv.AmountPaid,
		Currency:   strings.ToUpper(inv.Currency),
		CustomerID: inv.Customer,
	}, nil
}

func stripeInvoiceFailed(data json.RawMessage) (subscription.Event, error) {
	inv, err := decodeInvoice(data)
	if err != nil {
		return nil, err
	}
	return subscription.ChargeFailed{
		Reference:  inv.ID,
		Amount:     inv.AmountDue,
		Currency:   strings.ToUpper(inv.Currency),
		CustomerID: inv.Customer,
	}, nil
}

func stripeSubscriptionCreated(data json.RawMessage) (subscription.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, err
	}
	return subscription.SubscriptionCreated{CustomerID: sub.Customer, SubscriptionID: sub.ID}, nil
}

func stripeSubscriptionDeleted(data json.RawMessage) (subscription.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, err
	}
	return subscription.SubscriptionDisabledByProvider{SubscriptionID: sub.ID}, nil
}
