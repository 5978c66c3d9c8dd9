package identity

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/goliatone/go-identity/metrics"
)

// EventType enumerates the events emitted by the core.
type EventType string

const (
	EventUserCreated     EventType = "user.created"
	EventUserDeleted     EventType = "user.deleted"
	EventUserRoleChanged EventType = "user.role.changed"
)

// Event is a notification about a committed change.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	UserID     string         `json:"user_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// EventHandler consumes events. A returned error schedules a retry.
type EventHandler interface {
	Handle(ctx context.Context, evt Event) error
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(ctx context.Context, evt Event) error

// Handle implements EventHandler.
func (f EventHandlerFunc) Handle(ctx context.Context, evt Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, evt)
}

// EventBus delivers events to subscribers without blocking the emitter.
type EventBus interface {
	Emit(ctx context.Context, evt Event)
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())
}

// NewEvent stamps an event with an id and timestamp.
func NewEvent(eventType EventType, userID string, payload map[string]any) Event {
	now := time.Now().UTC()
	return Event{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:       eventType,
		UserID:     userID,
		Payload:    payload,
		OccurredAt: now,
	}
}

// AsyncEventBus runs each handler in its own goroutine and retries failed
// deliveries with exponential backoff up to MaxAttempts, giving
// at-least-once delivery to handlers that eventually succeed.
type AsyncEventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType]map[int]EventHandler
	nextID      int
	maxAttempts int
	backoff     time.Duration
	logger      Logger
	wg          sync.WaitGroup
}

type EventBusOption func(*AsyncEventBus)

func WithEventMaxAttempts(n int) EventBusOption {
	return func(b *AsyncEventBus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

func WithEventBackoff(d time.Duration) EventBusOption {
	return func(b *AsyncEventBus) {
		if d > 0 {
			b.backoff = d
		}
	}
}

func WithEventLogger(logger Logger) EventBusOption {
	return func(b *AsyncEventBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func NewAsyncEventBus(opts ...EventBusOption) *AsyncEventBus {
	b := &AsyncEventBus{
		handlers:    map[EventType]map[int]EventHandler{},
		maxAttempts: 5,
		backoff:     100 * time.Millisecond,
		logger:      ResolveLogger("events", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AsyncEventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = map[int]EventHandler{}
	}
	b.handlers[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

func (b *AsyncEventBus) Emit(ctx context.Context, evt Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers[evt.Type]))
	for _, h := range b.handlers[evt.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	deliveryCtx := context.WithoutCancel(ctx)
	for _, h := range handlers {
		b.wg.Add(1)
		go b.deliver(deliveryCtx, h, evt)
	}
}

func (b *AsyncEventBus) deliver(ctx context.Context, h EventHandler, evt Event) {
	defer b.wg.Done()

	wait := b.backoff
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		err := h.Handle(ctx, evt)
		if err == nil {
			metrics.ObserveEventDelivery(string(evt.Type), "success")
			return
		}

		if attempt == b.maxAttempts {
			metrics.ObserveEventDelivery(string(evt.Type), "failed")
			b.logger.Error("event delivery failed",
				"event", evt.Type,
				"event_id", evt.ID,
				"attempts", attempt,
				"error", err,
			)
			return
		}

		metrics.ObserveEventDelivery(string(evt.Type), "retry")
		b.logger.Warn("event delivery failed, retrying",
			"event", evt.Type,
			"event_id", evt.ID,
			"attempt", attempt,
			"error", err,
		)
		time.Sleep(wait)
		wait *= 2
	}
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (b *AsyncEventBus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type noopEventBus struct{}

func (noopEventBus) Emit(context.Context, Event) {}

func (noopEventBus) Subscribe(EventType, EventHandler) func() { return func() {} }
