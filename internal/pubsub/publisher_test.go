package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/model"

	ps "cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisherInvalidProject(t *testing.T) {
	cfg := &config.Config{GCPProjectID: ""}
	_, err := NewPublisher(context.Background(), cfg)
	assert.Error(t, err, "expected error when project ID is empty")
}

type capturePublisher struct {
	topic   string
	payload []byte
	attrs   map[string]string
	err     error
}

func (c *capturePublisher) Publish(ctx context.Context, topic string, payload []byte, attrs map[string]string) (string, error) {
	c.topic, c.payload, c.attrs = topic, payload, attrs
	return "msg-1", c.err
}

func TestNotifierPublishesChange(t *testing.T) {
	pub := &capturePublisher{}
	n := NewEntitlementsNotifier(pub, "entitlements-changed")
	msg := model.EntitlementsChanged{UserID: "u1", EventID: "evt_1", EventType: model.EventInvoicePaid, At: time.Unix(1700000000, 0).UTC()}

	require.NoError(t, n.NotifyEntitlementsChanged(context.Background(), msg))

	assert.Equal(t, "entitlements-changed", pub.topic)
	assert.Equal(t, "u1", pub.attrs["user_id"])
	assert.Equal(t, "invoice.paid", pub.attrs["event_type"])
	var got model.EntitlementsChanged
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Equal(t, msg, got)
}

func TestNotifierReturnsPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("topic not found")}
	n := NewEntitlementsNotifier(pub, "missing")
	err := n.NotifyEntitlementsChanged(context.Background(), model.EntitlementsChanged{UserID: "u1"})
	assert.Error(t, err)
}

func TestPublishWithEmulator(t *testing.T) {
	emulator := os.Getenv("PUBSUB_EMULATOR_HOST")
	if emulator == "" {
		t.Skip("PUBSUB_EMULATOR_HOST is not set, skip emulator integration test")
	}

	ctx := context.Background()
	cfg := &config.Config{GCPProjectID: "test-project", PubSubEmulatorHost: emulator}
	pub, err := NewPublisher(ctx, cfg)
	require.NoError(t, err)
	defer pub.Close()

	topicName := "entitlements-test-" + time.Now().Format("150405.000000")
	topic, err := pub.client.CreateTopic(ctx, topicName)
	require.NoError(t, err)
	sub, err := pub.client.CreateSubscription(ctx, topicName+"-sub", ps.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	n := NewEntitlementsNotifier(pub, topicName)
	require.NoError(t, n.NotifyEntitlementsChanged(ctx, model.EntitlementsChanged{UserID: "u1", EventID: "evt_1"}))

	recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c := make(chan *ps.Message, 1)
	go func() {
		_ = sub.Receive(recvCtx, func(ctx context.Context, m *ps.Message) {
			m.Ack()
			c <- m
			cancel()
		})
	}()

	select {
	case m := <-c:
		assert.Equal(t, "u1", m.Attributes["user_id"])
		assert.Contains(t, string(m.Data), `"event_id":"evt_1"`)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message from emulator subscription")
	}
}
