// Package notifier fans message status changes out to dashboard subscribers.
// Delivery is best effort: no acknowledgement, no queueing, no replay.
// Subscribers must re-fetch current state after (re)connecting.
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// EventStatusChanged is the event name carried by every status envelope
const EventStatusChanged = "message_status_changed"

// StatusEvent announces that a message reached a new status
type StatusEvent struct {
	MessageID  uint  `json:"messageId"`
	NewStatus  int   `json:"newStatus"`
	TenantID   *uint `json:"tenantId,omitempty"`
	CustomerID *uint `json:"customerId,omitempty"`
}

// Envelope is the wire form of an event
type Envelope struct {
	Event string      `json:"event"`
	Data  StatusEvent `json:"data"`
}

// Publisher delivers status events
type Publisher interface {
	Publish(ctx context.Context, event StatusEvent) error
}

// Multi publishes each event to every publisher in order
type Multi []Publisher

// Publish sends the event to all publishers and joins their errors
func (m Multi) Publish(ctx context.Context, event StatusEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Room returns the room name for a tenant, or "" for no tenant
func Room(tenantID *uint) string {
	if tenantID == nil {
		return ""
	}
	return "tenant:" + strconv.FormatUint(uint64(*tenantID), 10)
}

func encode(event StatusEvent) ([]byte, error) {
	data, err := json.Marshal(Envelope{Event: EventStatusChanged, Data: event})
	if err != nil {
		return nil, fmt.Errorf("failed to encode status event: %w", err)
	}
	return data, nil
}

func decode(data []byte) (StatusEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return StatusEvent{}, fmt.Errorf("failed to decode status event: %w", err)
	}
	if env.Event != EventStatusChanged {
		return StatusEvent{}, fmt.Errorf("unexpected event %q", env.Event)
	}
	return env.Data, nil
}
