// Package events publishes domain events to Pub/Sub or Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hanko-field/storefront/internal/domain"
)

// Publisher sends one event and blocks until the transport acknowledges it.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
	Close() error
}

// NopPublisher drops events. Used when no transport is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.Event) error { return nil }
func (NopPublisher) Close() error                                 { return nil }

// encode fills defaults and returns the JSON body plus transport attributes.
func encode(event domain.Event) ([]byte, map[string]string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	attrs := make(map[string]string, 4)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", string(event.Type))
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "accountId", event.AccountID)
	return data, attrs, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
