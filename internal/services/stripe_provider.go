package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	stripesub "github.com/stripe/stripe-go/v82/subscription"

	"subscription-api/internal/metrics"
	"subscription-api/internal/subscription"
)

// StripeProvider implements the payment provider port using the Stripe API.
type StripeProvider struct {
	priceIDs map[string]string // "tier:cycle" -> Stripe price ID
}

var _ subscription.Provider = (*StripeProvider)(nil)

// NewStripeProvider configures the Stripe client with the API key and a
// bounded HTTP client.
func NewStripeProvider(apiKey string, priceIDs map[string]string, timeout time.Duration) *StripeProvider {
	stripe.Key = apiKey
	stripe.SetHTTPClient(&http.Client{Timeout: timeout})
	return &StripeProvider{priceIDs: priceIDs}
}

func (p *StripeProvider) Name() string { return "stripe" }

// CreateSubscription creates a customer for the tenant and subscribes it to
// the configured price.
func (p *StripeProvider) CreateSubscription(ctx context.Context, params subscription.CreateSubscriptionParams) (_ *subscription.ProviderSubscription, err error) {
	defer func() {
		metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), "create_subscription", metrics.Outcome(err)).Inc()
	}()

	priceID, ok := p.priceIDs[planKey(params.Tier, params.Cycle)]
	if !ok {
		return nil, fmt.Errorf("no stripe price configured for %s", planKey(params.Tier, params.Cycle))
	}

	custParams := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
		Metadata: map[string]string{
			"tenant_id": params.TenantID,
		},
	}
	custParams.Context = ctx
	c, err := customer.New(custParams)
	if err != nil {
		return nil, fmt.Errorf("%w: create stripe customer: %v", subscription.ErrProvider, err)
	}

	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(c.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		Metadata: map[string]string{
			"tenant_id": params.TenantID,
		},
	}
	subParams.Context = ctx
	sub, err := stripesub.New(subParams)
	if err != nil {
		return nil, fmt.Errorf("%w: create stripe subscription: %v", subscription.ErrProvider, err)
	}

	return &subscription.ProviderSubscription{
		CustomerID:     c.ID,
		SubscriptionID: sub.ID,
	}, nil
}

// VerifyTransaction treats the reference as a PaymentIntent id.
func (p *StripeProvider) VerifyTransaction(ctx context.Context, reference string) (_ *subscription.Transaction, err error) {
	defer func() {
		metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), "verify_transaction", metrics.Outcome(err)).Inc()
	}()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(reference, params)
	if err != nil {
		return nil, fmt.Errorf("%w: get payment intent: %v", subscription.ErrProvider, err)
	}

	txn := &subscription.Transaction{
		Reference: pi.ID,
		Success:   pi.Status == stripe.PaymentIntentStatusSucceeded,
		Amount:    pi.AmountReceived,
		Currency:  strings.ToUpper(string(pi.Currency)),
		PaidAt:    time.Unix(pi.Created, 0).UTC(),
	}
	if pi.Customer != nil {
		txn.CustomerID = pi.Customer.ID
	}
	return txn, nil
}
