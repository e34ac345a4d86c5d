package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"gatekeeper/internal/config"
	"gatekeeper/internal/model"

	"cloud.google.com/go/pubsub"
)

// Publisher defines an interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, attrs map[string]string) (string, error)
}

// PubSubPublisher is an implementation of Publisher using Google Pub/Sub.
type PubSubPublisher struct {
	client *pubsub.Client
}

// NewPublisher creates a new PubSubPublisher using the GCP project from config.
func NewPublisher(ctx context.Context, cfg *config.Config) (*PubSubPublisher, error) {
	project := cfg.GetGCPProjectID()
	if project == "" {
		return nil, fmt.Errorf("failed to create Pub/Sub client: GCP_PROJECT_ID is not set")
	}
	// The client library dials PUBSUB_EMULATOR_HOST itself when it is set.
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &PubSubPublisher{client: client}, nil
}

// Publish sends the payload to the given Pub/Sub topic and returns the message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte, attrs map[string]string) (string, error) {
	t := p.client.Topic(topic)
	result := t.Publish(ctx, &pubsub.Message{Data: payload, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	return p.client.Close()
}

// EntitlementsNotifier publishes entitlements.changed messages so other
// services can drop their own copies of a user's capabilities.
type EntitlementsNotifier struct {
	pub   Publisher
	topic string
}

// NewEntitlementsNotifier publishes to topic through pub.
func NewEntitlementsNotifier(pub Publisher, topic string) *EntitlementsNotifier {
	return &EntitlementsNotifier{pub: pub, topic: topic}
}

func (n *EntitlementsNotifier) NotifyEntitlementsChanged(ctx context.Context, msg model.EntitlementsChanged) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode entitlements change for user %s: %w", msg.UserID, err)
	}
	attrs := map[string]string{
		"type":       "entitlements.changed",
		"user_id":    msg.UserID,
		"event_type": string(msg.EventType),
	}
	_, err = n.pub.Publish(ctx, n.topic, payload, attrs)
	return err
}
