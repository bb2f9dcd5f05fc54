package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appredis "melody-map/internal/redis"
)

type linkedEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

func (e linkedEvent) EventType() string   { return e.Type }
func (e linkedEvent) OrderingKey() string { return e.UserID }

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultStream, cfg.Stream)
	assert.Equal(t, int64(DefaultMaxLen), cfg.MaxLen)
	assert.Equal(t, "redis_stream", cfg.GetType())

	assert.Error(t, (&Config{MaxLen: -1}).Validate())
}

func TestNewBroker_RequiresClient(t *testing.T) {
	_, err := NewBroker(&Config{}, nil)
	assert.Error(t, err)
}

func TestBroker_Publish(t *testing.T) {
	_, client := setup(t)
	ctx := context.Background()

	b, err := NewBroker(&Config{Stream: "events"}, client)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "melody-map:connections", linkedEvent{Type: "connection.linked", UserID: "user-1"}))

	entries, err := client.XRange(ctx, "events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, "melody-map:connections", values["channel"])
	assert.Equal(t, "connection.linked", values["type"])
	assert.Equal(t, "user-1", values["key"])
	assert.NotEmpty(t, values["message_id"])

	var body linkedEvent
	require.NoError(t, json.Unmarshal([]byte(values["body"].(string)), &body))
	assert.Equal(t, "user-1", body.UserID)
}

func TestBroker_PublishTrimsStream(t *testing.T) {
	_, client := setup(t)
	ctx := context.Background()

	b, err := NewBroker(&Config{Stream: "events", MaxLen: 2}, client)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "c", "event"))
	}

	length, err := client.XLen(ctx, "events").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)
}

func TestBroker_HealthAndFailure(t *testing.T) {
	mr, client := setup(t)

	b, err := NewBroker(&Config{}, client)
	require.NoError(t, err)
	assert.NoError(t, b.Health())

	mr.Close()
	assert.Error(t, b.Health())
	assert.Error(t, b.Publish(context.Background(), "c", "event"))
	assert.NoError(t, b.Close())
}

func TestChannelBroker_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := appredis.NewClient(&appredis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "melody-map:connections")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	b := NewChannelBroker(client)
	assert.Equal(t, "redis_pubsub", b.Name())
	assert.NoError(t, b.Health())

	require.NoError(t, b.Publish(ctx, "melody-map:connections", linkedEvent{Type: "connection.linked", UserID: "u2"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"connection.linked","user_id":"u2"}`, msg.Payload)

	require.NoError(t, b.Close())
	assert.NoError(t, client.Health())
}
