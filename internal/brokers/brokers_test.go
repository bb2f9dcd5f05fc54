package brokers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	name      string
	err       error
	healthErr error

	mu        sync.Mutex
	published []string
	closed    bool
}

func (f *fakeBroker) Name() string { return f.name }

func (f *fakeBroker) Publish(ctx context.Context, channel string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, channel)
	return f.err
}

func (f *fakeBroker) Health() error { return f.healthErr }

func (f *fakeBroker) Close() error {
	f.closed = true
	return nil
}

type fakeConfig struct {
	kind string
	err  error
}

func (c *fakeConfig) Validate() error { return c.err }
func (c *fakeConfig) GetType() string { return c.kind }

type testEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

func (e testEvent) EventType() string   { return e.Type }
func (e testEvent) OrderingKey() string { return e.UserID }

func TestNewMessage(t *testing.T) {
	t.Run("typed payload", func(t *testing.T) {
		msg, err := NewMessage("events", testEvent{Type: "connection.linked", UserID: "u1"})
		require.NoError(t, err)

		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "events", msg.Channel)
		assert.Equal(t, "connection.linked", msg.Type)
		assert.Equal(t, "u1", msg.Key)
		assert.Equal(t, msg.ID, msg.Headers[HeaderMessageID])
		assert.Equal(t, "connection.linked", msg.Headers[HeaderType])

		var decoded testEvent
		require.NoError(t, json.Unmarshal(msg.Body, &decoded))
		assert.Equal(t, "u1", decoded.UserID)
	})

	t.Run("raw string", func(t *testing.T) {
		msg, err := NewMessage("events", "hello")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), msg.Body)
		assert.Empty(t, msg.Type)
		assert.NotContains(t, msg.Headers, HeaderType)
	})

	t.Run("unencodable payload", func(t *testing.T) {
		_, err := NewMessage("events", make(chan int))
		assert.Error(t, err)
	})
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	registry.Register("fake", func(config BrokerConfig) (Broker, error) {
		return &fakeBroker{name: "fake"}, nil
	})

	assert.True(t, registry.IsRegistered("fake"))
	assert.False(t, registry.IsRegistered("kafka"))
	assert.Equal(t, []string{"fake"}, registry.GetAvailableTypes())

	b, err := registry.Create(&fakeConfig{kind: "fake"})
	require.NoError(t, err)
	assert.Equal(t, "fake", b.Name())

	_, err = registry.Create(&fakeConfig{kind: "kafka"})
	assert.Error(t, err)

	_, err = registry.Create(&fakeConfig{kind: "fake", err: errors.New("bad config")})
	assert.EqualError(t, err, "bad config")
}

func TestFanout_Publish(t *testing.T) {
	ok := &fakeBroker{name: "ok"}
	failing := &fakeBroker{name: "failing", err: errors.New("broker down")}

	fanout := NewFanout(ok, failing)
	assert.Equal(t, 2, fanout.Len())
	assert.Equal(t, "fanout(ok,failing)", fanout.Name())

	err := fanout.Publish(context.Background(), "events", testEvent{Type: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	assert.Equal(t, []string{"events"}, ok.published)
	assert.Equal(t, []string{"events"}, failing.published)
}

func TestFanout_PublishAllSucceed(t *testing.T) {
	a := &fakeBroker{name: "a"}
	b := &fakeBroker{name: "b"}

	assert.NoError(t, NewFanout(a, b).Publish(context.Background(), "events", "payload"))
	assert.Len(t, a.published, 1)
	assert.Len(t, b.published, 1)
}

func TestFanout_HealthAndClose(t *testing.T) {
	healthy := &fakeBroker{name: "healthy"}
	sick := &fakeBroker{name: "sick", healthErr: errors.New("unreachable")}

	fanout := NewFanout(healthy, sick)
	err := fanout.Health()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")

	assert.NoError(t, NewFanout(healthy).Health())

	require.NoError(t, fanout.Close())
	assert.True(t, healthy.closed)
	assert.True(t, sick.closed)
}

func TestFanout_Empty(t *testing.T) {
	fanout := NewFanout()
	assert.NoError(t, fanout.Publish(context.Background(), "events", "x"))
	assert.NoError(t, fanout.Health())
	assert.NoError(t, fanout.Close())
}
