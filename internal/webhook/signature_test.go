package webhook

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-api/internal/subscription"
)

func TestVerifySHA512(t *testing.T) {
	body := []byte(`{"event":"charge.success"}`)
	sig := SignSHA512(body, "secret")

	assert.True(t, VerifySHA512(body, "secret", sig))
	assert.True(t, VerifySHA512(body, "secret", strings.ToUpper(sig)), "hex is case-insensitive")
	assert.False(t, VerifySHA512(body, "other", sig))
	assert.False(t, VerifySHA512([]byte(`{"event":"charge.failed"}`), "secret", sig))
	assert.False(t, VerifySHA512(body, "secret", "not-hex"))
	assert.False(t, VerifySHA512(body, "", sig))
	assert.False(t, VerifySHA512(body, "secret", ""))
}

func TestPayloadHashIsStable(t *testing.T) {
	a := PayloadHash([]byte("x"))
	assert.Equal(t, a, PayloadHash([]byte("x")))
	assert.NotEqual(t, a, PayloadHash([]byte("y")))
	assert.True(t, strings.HasPrefix(a, "hash:"))
}

func TestPaystackRegistry(t *testing.T) {
	reg := NewPaystackSource("s").Registry()

	ev, ok, err := reg.Build("invoice.payment_failed", json.RawMessage(`{"invoice_code":"INV_1","amount":500,"customer":{"customer_code":"CUS_1"},"transaction":{}}`))
	require.NoError(t, err)
	require.True(t, ok)
	failed := ev.(subscription.ChargeFailed)
	assert.True(t, strings.HasPrefix(failed.Reference, "INV_1:"), "falls back to the invoice code")
	assert.Equal(t, int64(500), failed.Amount)

	again, _, err := reg.Build("invoice.payment_failed", json.RawMessage(`{"invoice_code":"INV_1","amount":500,"customer":{"customer_code":"CUS_1"},"transaction":{}}`))
	require.NoError(t, err)
	assert.Equal(t, failed.Reference, again.(subscription.ChargeFailed).Reference, "a replayed attempt keeps its reference")

	next, _, err := reg.Build("invoice.payment_failed", json.RawMessage(`{"invoice_code":"INV_1","amount":500,"customer":{"customer_code":"CUS_1"},"transaction":{},"paid_at":"2025-02-02T00:00:00Z"}`))
	require.NoError(t, err)
	assert.NotEqual(t, failed.Reference, next.(subscription.ChargeFailed).Reference, "a later attempt gets its own reference")

	_, ok, err = reg.Build("charge.success", json.RawMessage(`{"amount":1}`))
	assert.True(t, ok)
	assert.ErrorIs(t, err, subscription.ErrValidation)

	_, ok, err = reg.Build("paymentrequest.pending", json.RawMessage(`{}`))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestStripeRegistry(t *testing.T) {
	reg := NewStripeSource("s").Registry()

	ev, ok, err := reg.Build("customer.subscription.deleted", json.RawMessage(`{"id":"sub_1","customer":"cus_1"}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, subscription.SubscriptionDisabledByProvider{SubscriptionID: "sub_1"}, ev)

	ev, _, err = reg.Build("invoice.paid", json.RawMessage(`{"id":"in_1","customer":"cus_1","amount_paid":900,"currency":"usd"}`))
	require.NoError(t, err)
	assert.Equal(t, "USD", ev.(subscription.ChargeSucceeded).Currency)
}
