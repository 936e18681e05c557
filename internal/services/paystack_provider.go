package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"subscription-api/internal/metrics"
	"subscription-api/internal/subscription"
)

// PaystackProvider talks to the Paystack REST API.
type PaystackProvider struct {
	secretKey  string
	baseURL    string
	planCodes  map[string]string // "tier:cycle" -> plan code
	httpClient *http.Client
}

var _ subscription.Provider = (*PaystackProvider)(nil)

// NewPaystackProvider creates a Paystack adapter. Every request is bounded by timeout.
func NewPaystackProvider(secretKey, baseURL string, planCodes map[string]string, timeout time.Duration) *PaystackProvider {
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	return &PaystackProvider{
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		planCodes: planCodes,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *PaystackProvider) Name() string { return "paystack" }

// paystackEnvelope is the common response wrapper of every Paystack endpoint
type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackCustomer struct {
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
}

type paystackSubscription struct {
	SubscriptionCode string `json:"subscription_code"`
	EmailToken       string `json:"email_token"`
	Status           string `json:"status"`
}

type paystackTransaction struct {
	Reference string           `json:"reference"`
	Status    string           `json:"status"`
	Amount    int64            `json:"amount"`
	Currency  string           `json:"currency"`
	PaidAt    *time.Time       `json:"paid_at"`
	Customer  paystackCustomer `json:"customer"`
}

// CreateSubscription creates (or fetches) the customer and subscribes them to
// the plan configured for the tier and cycle.
func (p *PaystackProvider) CreateSubscription(ctx context.Context, params subscription.CreateSubscriptionParams) (*subscription.ProviderSubscription, error) {
	planCode, ok := p.planCodes[planKey(params.Tier, params.Cycle)]
	if !ok {
		return nil, fmt.Errorf("no paystack plan configured for %s", planKey(params.Tier, params.Cycle))
	}

	var cust paystackCustomer
	err := p.do(ctx, "create_customer", http.MethodPost, "/customer", map[string]interface{}{
		"email": params.Email,
		"metadata": map[string]string{
			"tenant_id": params.TenantID,
		},
	}, &cust)
	if err != nil {
		return nil, err
	}
	if cust.CustomerCode == "" {
		return nil, fmt.Errorf("paystack returned no customer code")
	}

	var sub paystackSubscription
	err = p.do(ctx, "create_subscription", http.MethodPost, "/subscription", map[string]string{
		"customer": cust.CustomerCode,
		"plan":     planCode,
	}, &sub)
	if err != nil {
		return nil, err
	}

	return &subscription.ProviderSubscription{
		CustomerID:     cust.CustomerCode,
		SubscriptionID: sub.SubscriptionCode,
	}, nil
}

// VerifyTransaction looks a charge up by reference.
func (p *PaystackProvider) VerifyTransaction(ctx context.Context, reference string) (*subscription.Transaction, error) {
	var txn paystackTransaction
	if err := p.do(ctx, "verify_transaction", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &txn); err != nil {
		return nil, err
	}

	out := &subscription.Transaction{
		Reference:  txn.Reference,
		Success:    txn.Status == "success",
		Amount:     txn.Amount,
		Currency:   txn.Currency,
		CustomerID: txn.Customer.CustomerCode,
	}
	if txn.PaidAt != nil {
		out.PaidAt = txn.PaidAt.UTC()
	}
	return out, nil
}

// do sends one request and decodes the data field of the envelope into out.
// Non-2xx responses, status:false and transport errors all wrap ErrProvider.
func (p *PaystackProvider) do(ctx context.Context, op, method, path string, body, out interface{}) (err error) {
	defer func() {
		metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), op, metrics.Outcome(err)).Inc()
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal paystack request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: paystack %s: %v", subscription.ErrProvider, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: paystack %s: read body: %v", subscription.ErrProvider, op, err)
	}

	var env paystackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: paystack %s: status %d, undecodable body", subscription.ErrProvider, op, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Status {
		return fmt.Errorf("%w: paystack %s: status %d: %s", subscription.ErrProvider, op, resp.StatusCode, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: paystack %s: decode data: %v", subscription.ErrProvider, op, err)
		}
	}
	return nil
}

func planKey(tier subscription.Tier, cycle subscription.Cycle) string {
	return string(tier) + ":" + string(cycle)
}
