package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"subscription-api/internal/subscription"
)

// Signature headers accepted on Paystack deliveries.
const (
	HeaderProviderSignature = "X-Provider-Signature"
	HeaderPaystackSignature = "X-Paystack-Signature"
)

// PaystackSource verifies and decodes Paystack webhooks.
type PaystackSource struct {
	secret   string
	registry Registry
}

// NewPaystackSource signs with the Paystack secret key.
func NewPaystackSource(secret string) *PaystackSource {
	return &PaystackSource{
		secret: secret,
		registry: Registry{
			"charge.success":         paystackChargeSucceeded,
			"invoice.payment_failed": paystackChargeFailed,
			"subscription.create":    paystackSubscriptionCreated,
			"subscription.disable":   paystackSubscriptionDisabled,
		},
	}
}

func (s *PaystackSource) Name() string { return "paystack" }

func (s *PaystackSource) Registry() Registry { return s.registry }

type paystackEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *PaystackSource) Verify(body []byte, header http.Header) (*Delivery, error) {
	sig := header.Get(HeaderProviderSignature)
	if sig == "" {
		sig = header.Get(HeaderPaystackSignature)
	}
	if !VerifySHA512(body, s.secret, sig) {
		return nil, fmt.Errorf("%w: invalid paystack signature", subscription.ErrAuth)
	}

	var ev paystackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: malformed paystack payload: %v", subscription.ErrValidation, err)
	}
	if strings.TrimSpace(ev.Event) == "" {
		return nil, fmt.Errorf("%w: paystack payload has no event type", subscription.ErrValidation)
	}

	// Paystack deliveries carry no event id; identical bodies are the same event.
	return &Delivery{
		EventID:   PayloadHash(body),
		EventType: ev.Event,
		Data:      ev.Data,
	}, nil
}

type paystackCustomerRef struct {
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
}

type paystackCharge struct {
	Reference string              `json:"reference"`
	Amount    int64               `json:"amount"`
	Currency  string              `json:"currency"`
	Customer  paystackCustomerRef `json:"customer"`
}

type paystackInvoice struct {
	InvoiceCode string              `json:"invoice_code"`
	Amount      int64               `json:"amount"`
	Customer    paystackCustomerRef `json:"customer"`
	Transaction struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"transaction"`
}

type paystackSubscriptionData struct {
	SubscriptionCode string              `json:"subscription_code"`
	Customer         paystackCustomerRef `json:"customer"`
}

func paystackChargeSucceeded(data json.RawMessage) (subscription.Event, error) {
	var c paystackCharge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Reference == "" {
		return nil, fmt.Errorf("missing reference")
	}
	return subscription.ChargeSucceeded{
		Reference:  c.Reference,
		Amount:     c.Amount,
		Currency:   c.Currency,
		CustomerID: c.Customer.CustomerCode,
	}, nil
}

func paystackChargeFailed(data json.RawMessage) (subscription.Event, error) {
	var inv paystackInvoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, err
	}
	ref := inv.Transaction.Reference
	if ref == "" && inv.InvoiceCode != "" {
		// Each failed attempt on an invoice needs its own payment row.
		ref = inv.InvoiceCode + ":" + attemptSuffix(data)
	}
	if ref == "" {
		return nil, fmt.Errorf("missing reference")
	}
	amount := inv.Transaction.Amount
	if amount == 0 {
		amount = inv.Amount
	}
	return subscription.ChargeFailed{
		Reference:  ref,
		Amount:     amount,
		Currency:   inv.Transaction.Currency,
		CustomerID: inv.Customer.CustomerCode,
	}, nil
}

func paystackSubscriptionCreated(data json.RawMessage) (subscription.Event, error) {
	var sub paystackSubscriptionData
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, err
	}
	return subscription.SubscriptionCreated{
		CustomerID:     sub.Customer.CustomerCode,
		SubscriptionID: sub.SubscriptionCode,
		Email:          sub.Customer.Email,
	}, nil
}

func paystackSubscriptionDisabled(data json.RawMessage) (subscription.Event, error) {
	var sub paystackSubscriptionData
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, err
	}
	return subscription.SubscriptionDisabledByProvider{SubscriptionID: sub.SubscriptionCode}, nil
}

// attemptSuffix identifies one delivery of an invoice event by its content.
func attemptSuffix(data json.RawMessage) string {
	return strings.TrimPrefix(PayloadHash(data), "hash:")[:16]
}
