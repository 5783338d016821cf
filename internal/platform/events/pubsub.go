package events

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/storefront/internal/domain"
)

// PubSubPublisher publishes events to a Pub/Sub topic with per-order ordering keys.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

var _ Publisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher binds to topicID on client. The client is closed by Close.
func NewPubSubPublisher(client *pubsub.Client, topicID string) (*PubSubPublisher, error) {
	if client == nil || topicID == "" {
		return nil, errors.New("pubsub publisher: client and topic are required")
	}
	topic := client.Topic(topicID)
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{client: client, topic: topic}, nil
}

func (p *PubSubPublisher) Publish(ctx context.Context, event domain.Event) error {
	data, attrs, err := encode(event)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.OrderID,
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		p.topic.ResumePublish(event.OrderID)
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
