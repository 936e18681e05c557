package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"

	"subscription-api/internal/subscription"
)

// Constructor turns a provider event's data object into a typed lifecycle event.
type Constructor func(data json.RawMessage) (subscription.Event, error)

// Registry maps provider event-type strings to constructors. Types that are
// not registered are acknowledged and ignored.
type Registry map[string]Constructor

// Build returns the typed event, or ok=false when eventType is not handled.
func (r Registry) Build(eventType string, data json.RawMessage) (ev subscription.Event, ok bool, err error) {
	ctor, ok := r[eventType]
	if !ok {
		return nil, false, nil
	}
	ev, err = ctor(data)
	if err != nil {
		return nil, true, fmt.Errorf("%w: decode %s: %v", subscription.ErrValidation, eventType, err)
	}
	return ev, true, nil
}

// Delivery is one verified inbound webhook.
type Delivery struct {
	EventID   string
	EventType string
	Data      json.RawMessage
}

// Source is the inbound side of a payment provider.
type Source interface {
	Name() string
	// Verify authenticates body and decodes the envelope. It returns an error
	// wrapping subscription.ErrAuth when the signature does not match.
	Verify(body []byte, header http.Header) (*Delivery, error)
	Registry() Registry
}
