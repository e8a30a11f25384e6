package pubsub_test

import (
	"context"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/arkivist/mediavault/internal/publisher/pubsub"
)

// newTestTopic wires a topic and subscription on an in-process fake server.
func newTestTopic(t *testing.T) (*gcppubsub.Topic, *gcppubsub.Subscription) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := gcppubsub.NewClient(ctx, "mediavault-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "task-events")
	require.NoError(t, err)
	t.Cleanup(topic.Stop)

	sub, err := client.CreateSubscription(ctx, "task-events-sub", gcppubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
	return topic, sub
}

func TestPublisher_PublishDeliversPayloadAndAttributes(t *testing.T) {
	topic, sub := newTestTopic(t)
	p := pubsub.New(topic)

	payload := []byte(`{"task_id":"task-1","status":"completed"}`)
	id, err := p.Publish(context.Background(), payload, map[string]string{
		"status":   "completed",
		"platform": "youtube",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan *gcppubsub.Message, 1)
	go func() {
		_ = sub.Receive(ctx, func(_ context.Context, msg *gcppubsub.Message) {
			msg.Ack()
			received <- msg
			cancel()
		})
	}()

	select {
	case msg := <-received:
		assert.Equal(t, payload, msg.Data)
		assert.Equal(t, "completed", msg.Attributes["status"])
		assert.Equal(t, "youtube", msg.Attributes["platform"])
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestPublisher_UnconfiguredFails(t *testing.T) {
	var p *pubsub.Publisher
	_, err := p.Publish(context.Background(), []byte("x"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")

	_, err = pubsub.New(nil).Publish(context.Background(), []byte("x"), nil)
	assert.Error(t, err)
}

func TestConnect_RequiresProjectAndTopic(t *testing.T) {
	_, _, err := pubsub.Connect(context.Background(), "", "task-events")
	assert.Error(t, err)

	_, _, err = pubsub.Connect(context.Background(), "mediavault", "")
	assert.Error(t, err)
}
