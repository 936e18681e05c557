package webhook_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"subscription-api/internal/clock"
	"subscription-api/internal/database"
	"subscription-api/internal/models"
	"subscription-api/internal/services"
	"subscription-api/internal/subscription"
	"subscription-api/internal/webhook"
)

const (
	paystackSecret = "sk_test_paystack"
	stripeSecret   = "whsec_test_123"
)

type stubProvider struct{}

func (stubProvider) Name() string { return "paystack" }

func (stubProvider) CreateSubscription(_ context.Context, p subscription.CreateSubscriptionParams) (*subscription.ProviderSubscription, error) {
	return &subscription.ProviderSubscription{CustomerID: "CUS_" + p.TenantID, SubscriptionID: "SUB_" + p.TenantID}, nil
}

func (stubProvider) VerifyTransaction(context.Context, string) (*subscription.Transaction, error) {
	return nil, fmt.Errorf("not used")
}

type fixture struct {
	store      *database.Store
	svc        *subscription.Service
	guard      *services.MemoryEventGuard
	dispatcher *webhook.Dispatcher
	clock      *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { database.Close(db, nil) })

	f := &fixture{
		store: database.NewStore(db),
		guard: services.NewMemoryEventGuard(),
		clock: &clock.Fixed{T: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	t.Cleanup(f.guard.Stop)
	f.svc = subscription.NewService(f.store, stubProvider{}, subscription.WithClock(f.clock))
	f.dispatcher = webhook.NewDispatcher(f.store, f.svc, f.guard,
		webhook.NewPaystackSource(paystackSecret),
		webhook.NewStripeSource(stripeSecret),
	)
	return f
}

// graceTenant creates a startup tenant whose trial has expired.
func (f *fixture) graceTenant(t *testing.T, tenantID string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Initialize(ctx, subscription.InitializeParams{TenantID: tenantID, Tier: subscription.TierStartup})
	require.NoError(t, err)
	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.svc.Handle(ctx, subscription.TrialExpired{TenantID: tenantID})
	require.NoError(t, err)
}

func (f *fixture) status(t *testing.T, tenantID string) string {
	t.Helper()
	row, err := f.store.Get(context.Background(), tenantID)
	require.NoError(t, err)
	return row.Status
}

func (f *fixture) countEvents(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.store.DB().Model(&models.WebhookEvent{}).Count(&n).Error)
	return n
}

func paystackHeader(body []byte) http.Header {
	h := http.Header{}
	h.Set(webhook.HeaderProviderSignature, webhook.SignSHA512(body, paystackSecret))
	return h
}

func chargeSuccess(ref, customer string) []byte {
	return []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"amount":2500000,"currency":"NGN","customer":{"customer_code":%q}}}`, ref, customer))
}

func TestDispatchTamperedBodyWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.graceTenant(t, "acme")

	body := chargeSuccess("ref-1", "CUS_acme")
	header := paystackHeader(body)
	tampered := []byte(string(body[:len(body)-2]) + ` }}`)

	res := f.dispatcher.Dispatch(context.Background(), "paystack", tampered, header)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "invalid signature", res.Message)
	assert.Equal(t, int64(0), f.countEvents(t))
	assert.Equal(t, "grace", f.status(t, "acme"))

	payments, err := f.store.ListPayments(context.Background(), "acme", 0)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestDispatchChargeSuccessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.graceTenant(t, "acme")
	ctx := context.Background()

	body := chargeSuccess("ref-1", "CUS_acme")
	res := f.dispatcher.Dispatch(ctx, "paystack", body, paystackHeader(body))
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, subscription.StatusActive, res.Outcome.To)
	assert.Equal(t, "active", f.status(t, "acme"))

	res = f.dispatcher.Dispatch(ctx, "paystack", body, paystackHeader(body))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "already processed", res.Message)

	payments, err := f.store.ListPayments(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	log, err := f.store.ListChangeLog(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Len(t, log, 3)
	assert.Equal(t, int64(1), f.countEvents(t))
}

func TestDispatchAcceptsPaystackHeaderAlias(t *testing.T) {
	f := newFixture(t)
	f.graceTenant(t, "acme")

	body := chargeSuccess("ref-2", "CUS_acme")
	h := http.Header{}
	h.Set(webhook.HeaderPaystackSignature, webhook.SignSHA512(body, paystackSecret))

	res := f.dispatcher.Dispatch(context.Background(), "paystack", body, h)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "active", f.status(t, "acme"))
}

func TestDispatchUnknownEventTypeIsIgnored(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"event":"transfer.success","data":{"reference":"tr_1"}}`)

	res := f.dispatcher.Dispatch(context.Background(), "paystack", body, paystackHeader(body))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ignored", res.Message)
	assert.Equal(t, "transfer.success", res.EventType)
}

func TestDispatchUnknownCustomerIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	body := chargeSuccess("ref-9", "CUS_ghost")

	res := f.dispatcher.Dispatch(context.Background(), "paystack", body, paystackHeader(body))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "acknowledged", res.Message)

	var ev models.WebhookEvent
	require.NoError(t, f.store.DB().First(&ev).Error)
	assert.NotNil(t, ev.ProcessedAt)
	assert.Contains(t, ev.ProcessingError, "reconciliation_error")
}

func TestDispatchChargeWithoutCustomerIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.graceTenant(t, "acme")
	body := chargeSuccess("ref-10", "")

	res := f.dispatcher.Dispatch(context.Background(), "paystack", body, paystackHeader(body))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "acknowledged", res.Message)
	assert.Equal(t, "grace", f.status(t, "acme"))

	var ev models.WebhookEvent
	require.NoError(t, f.store.DB().First(&ev).Error)
	assert.NotNil(t, ev.ProcessedAt)
	assert.Contains(t, ev.ProcessingError, "reconciliation_error")
}

func TestDispatchMalformedPayload(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"event":`)

	res := f.dispatcher.Dispatch(context.Background(), "paystack", body, paystackHeader(body))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, int64(0), f.countEvents(t))
}

func TestDispatchUnknownProvider(t *testing.T) {
	f := newFixture(t)
	res := f.dispatcher.Dispatch(context.Background(), "flutterwave", []byte(`{}`), http.Header{})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDispatchInFlightDuplicate(t *testing.T) {
	f := newFixture(t)
	f.graceTenant(t, "acme")
	ctx := context.Background()

	body := chargeSuccess("ref-3", "CUS_acme")
	ok, err := f.guard.Claim(ctx, "paystack:"+webhook.PayloadHash(body), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res := f.dispatcher.Dispatch(ctx, "paystack", body, paystackHeader(body))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "already in progress", res.Message)
	assert.Equal(t, "grace", f.status(t, "acme"))
}

func TestDispatchRepeatFailureKeepsGraceDeadline(t *testing.T) {
	f := newFixture(t)
	f.graceTenant(t, "acme")
	ctx := context.Background()

	body := chargeSuccess("ref-ok", "CUS_acme")
	require.Equal(t, http.StatusOK, f.dispatcher.Dispatch(ctx, "paystack", body, paystackHeader(body)).StatusCode)

	fail := func(ref string) {
		b := []byte(fmt.Sprintf(`{"event":"invoice.payment_failed","data":{"invoice_code":"INV_1","amount":2500000,"customer":{"customer_code":"CUS_acme"},"transaction":{"reference":%q,"currency":"NGN"}}}`, ref))
		res := f.dispatcher.Dispatch(ctx, "paystack", b, paystackHeader(b))
		require.Equal(t, http.StatusOK, res.StatusCode)
	}

	fail("fail-1")
	row, err := f.store.Get(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, "grace", row.Status)
	deadline := *row.GraceEndsAt

	f.clock.Advance(24 * time.Hour)
	fail("fail-2")
	row, err = f.store.Get(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, row.GraceEndsAt.Equal(deadline))
	assert.Equal(t, "fail-2", row.LastFailureRef)
}

func TestDispatchSubscriptionDisable(t *testing.T) {
	f := newFixture(t)
	f.graceTenant(t, "acme")

	body := []byte(`{"event":"subscription.disable","data":{"subscription_code":"SUB_acme","customer":{"customer_code":"CUS_acme"}}}`)
	res := f.dispatcher.Dispatch(context.Background(), "paystack", body, paystackHeader(body))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "frozen", f.status(t, "acme"))
}

func stripeSigned(t *testing.T, secret string, payload []byte) http.Header {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	h := http.Header{}
	h.Set("Stripe-Signature", signed.Header)
	return h
}

func TestDispatchStripeInvoiceFailed(t *testing.T) {
	f := newFixture(t)
	f.graceTenant(t, "acme")
	ctx := context.Background()

	paid := []byte(`{"id":"evt_1","object":"event","api_version":"2025-01-27.acacia","type":"invoice.paid",
		"data":{"object":{"id":"in_1","object":"invoice","customer":"CUS_acme","amount_paid":2500000,"currency":"ngn"}}}`)
	res := f.dispatcher.Dispatch(ctx, "stripe", paid, stripeSigned(t, stripeSecret, paid))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "active", f.status(t, "acme"))

	failed := []byte(`{"id":"evt_2","object":"event","api_version":"2025-01-27.acacia","type":"invoice.payment_failed",
		"data":{"object":{"id":"in_2","object":"invoice","customer":"CUS_acme","amount_due":2500000,"currency":"ngn"}}}`)
	res = f.dispatcher.Dispatch(ctx, "stripe", failed, stripeSigned(t, stripeSecret, failed))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "grace", f.status(t, "acme"))

	var ev models.WebhookEvent
	require.NoError(t, f.store.DB().Where("provider_event_id = ?", "evt_2").First(&ev).Error)
	assert.Equal(t, "invoice.payment_failed", ev.EventType)
}

func TestDispatchStripeWrongSecret(t *testing.T) {
	f := newFixture(t)
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`)

	res := f.dispatcher.Dispatch(context.Background(), "stripe", payload, stripeSigned(t, "whsec_wrong", payload))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, int64(0), f.countEvents(t))
}
