package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/relay"
)

type published struct {
	channel string
	body    []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	failures int
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return redis.NewIntResult(0, errors.New("connection reset"))
	}
	f.messages = append(f.messages, published{channel: channel, body: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (f *fakePublisher) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

func TestHandlePublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	r := relay.New(pub, "", nil)

	evt := identity.NewEvent(identity.EventUserCreated, "user-1", map[string]any{"email": "ada@example.com"})
	require.NoError(t, r.Handle(context.Background(), evt))

	msgs := pub.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, relay.DefaultChannel, msgs[0].channel)

	var got identity.Event
	require.NoError(t, json.Unmarshal(msgs[0].body, &got))
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, identity.EventUserCreated, got.Type)
	assert.Equal(t, "ada@example.com", got.Payload["email"])
}

func TestAttachRetriesThroughBus(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	bus := identity.NewAsyncEventBus(identity.WithEventBackoff(time.Millisecond), identity.WithEventMaxAttempts(5))

	detach := relay.New(pub, "custom", nil).Attach(bus)

	bus.Emit(context.Background(), identity.NewEvent(identity.EventUserDeleted, "user-1", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Wait(ctx))

	msgs := pub.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "custom", msgs[0].channel)

	detach()
	bus.Emit(context.Background(), identity.NewEvent(identity.EventUserDeleted, "user-2", nil))
	require.NoError(t, bus.Wait(ctx))
	assert.Len(t, pub.snapshot(), 1)
}
