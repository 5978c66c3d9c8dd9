// Package relay forwards identity events to a Redis channel so other
// processes can react to account changes.
package relay

import (
	"context"
	"encoding/json"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-identity"
)

const DefaultChannel = "identity.events"

// Publisher is the subset of the Redis client used by the relay.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Redis publishes every event it handles as JSON.
type Redis struct {
	client  Publisher
	channel string
	logger  identity.Logger
}

var _ identity.EventHandler = (*Redis)(nil)

func New(client Publisher, channel string, logger identity.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{
		client:  client,
		channel: channel,
		logger:  identity.ResolveLogger("relay", nil, logger),
	}
}

// Handle publishes evt. Errors are returned so the bus retries.
func (r *Redis) Handle(ctx context.Context, evt identity.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode event")
	}

	receivers, err := r.client.Publish(ctx, r.channel, body).Result()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to publish event").
			WithMetadata(map[string]any{"event_id": evt.ID, "channel": r.channel})
	}

	r.logger.Debug("event relayed", "event_id", evt.ID, "type", string(evt.Type), "receivers", receivers)
	return nil
}

// Attach subscribes the relay to the given event types and returns a
// function removing every subscription.
func (r *Redis) Attach(bus identity.EventBus, types ...identity.EventType) func() {
	if len(types) == 0 {
		types = []identity.EventType{
			identity.EventUserCreated,
			identity.EventUserDeleted,
			identity.EventUserRoleChanged,
		}
	}

	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, bus.Subscribe(t, r))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
