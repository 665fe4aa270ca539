package messaging

import (
	"context"
	"log/slog"
	"sync"

	"vmforge/internal/shared/events"
)

// Bus relays stored events from the append path to in-process consumers
// (saga coordinator, projections). Topics are event types. Delivery is
// best-effort at-least-once; a slow subscriber drops rather than blocking
// the append path.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan events.StoredEvent
	logger      *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]chan events.StoredEvent),
		logger:      logger,
	}
}

// Publish implements eventstore.Publisher. The topic is the stored event's
// type.
func (b *Bus) Publish(ctx context.Context, stored events.StoredEvent) error {
	b.mu.RLock()
	subs := append([]chan events.StoredEvent(nil), b.subscribers[stored.EventType]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub <- stored:
		default:
			if b.logger != nil {
				b.logger.Warn("dropping event for slow subscriber",
					"event", "bus_publish_drop",
					"module", "internal/platform/messaging",
					"layer", "platform",
					"topic", stored.EventType,
					"aggregate_id", stored.AggregateID,
					"sequence", stored.Sequence,
				)
			}
		}
	}
	return nil
}

// Subscribe runs handler for every event of the given type until ctx is
// cancelled. Handler errors are logged, not propagated: the event log is the
// source of truth and the reconciliation sweep repairs missed reactions.
func (b *Bus) Subscribe(
	ctx context.Context,
	eventType string,
	consumerGroup string,
	handler func(context.Context, events.StoredEvent) error,
) {
	ch := make(chan events.StoredEvent, 128)

	b.mu.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.removeSubscriber(eventType, ch)
				return
			case stored := <-ch:
				if err := handler(ctx, stored); err != nil && b.logger != nil {
					b.logger.Error("consumer handler failed",
						"event", "bus_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", eventType,
						"consumer_group", consumerGroup,
						"aggregate_id", stored.AggregateID,
						"sequence", stored.Sequence,
						"error", err.Error(),
					)
				}
			}
		}
	}()
}

func (b *Bus) removeSubscriber(eventType string, target chan events.StoredEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.subscribers[eventType]
	if len(items) == 0 {
		return
	}
	filtered := make([]chan events.StoredEvent, 0, len(items))
	for _, item := range items {
		if item != target {
			filtered = append(filtered, item)
		}
	}
	b.subscribers[eventType] = filtered
}
