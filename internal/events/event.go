// Package events carries module lifecycle events to interested consumers.
// A single-node deployment uses InMemoryBroker; KafkaBroker fans events out
// across instances.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics published by the module host.
const (
	TopicModuleAudit     = "module.audit"
	TopicModuleDiscovery = "module.discovery"
)

// Event is one module lifecycle event.
type Event struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Action    string          `json:"action"`
	Module    string          `json:"module,omitempty"`
	TenantID  string          `json:"tenantId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an Event with a generated id and the current time.
func NewEvent(topic, action, module string, details json.RawMessage) Event {
	return Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Action:    action,
		Module:    module,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// Handler is called for every event delivered to a subscription.
type Handler func(Event)

// Broker publishes module events and delivers them to subscribers.
type Broker interface {
	// Publish sends event on event.Topic. Delivery is asynchronous and
	// publishers are never blocked by slow subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe delivers events on topic to handler until the returned
	// cancel func is called or the broker is closed.
	Subscribe(topic string, handler Handler) (cancel func(), err error)

	// Close releases the broker. Publish and Subscribe fail afterwards.
	Close() error
}
