package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"vmforge/internal/shared/events"
)

// Store is the append-only per-aggregate event log with optimistic
// concurrency. Append writes the batch atomically and returns the new
// version, or *ConflictError when expectedVersion does not match the stored
// version. Load returns an empty slice for an unknown aggregate; callers
// interpret absence themselves.
type Store interface {
	Append(ctx context.Context, aggregateID string, batch []events.Event, expectedVersion int64) (int64, error)
	Load(ctx context.Context, aggregateID string) ([]events.StoredEvent, error)
	LoadFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]events.StoredEvent, error)
}

// ConflictError reports an optimistic-concurrency violation as the explicit
// expected/actual version pair, never inferred from stale in-memory state.
type ConflictError struct {
	AggregateID string
	Expected    int64
	Actual      int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected version %d, actual %d",
		e.AggregateID, e.Expected, e.Actual)
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// Publisher receives stored events after a successful append. Delivery is
// best-effort and at-least-once; a failing publisher never fails the append.
type Publisher interface {
	Publish(ctx context.Context, stored events.StoredEvent) error
}

// publishAll hands the appended batch to the publisher, logging instead of
// propagating any failure or panic.
func publishAll(ctx context.Context, logger *slog.Logger, publisher Publisher, batch []events.StoredEvent) {
	if publisher == nil {
		return
	}
	for _, stored := range batch {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil && logger != nil {
					logger.Error("event publication panicked",
						"event", "eventstore_publish_panic",
						"module", "internal/shared/eventstore",
						"layer", "platform",
						"aggregate_id", stored.AggregateID,
						"event_type", stored.EventType,
						"panic", fmt.Sprint(recovered),
					)
				}
			}()
			if err := publisher.Publish(ctx, stored); err != nil && logger != nil {
				logger.Error("event publication failed",
					"event", "eventstore_publish_failed",
					"module", "internal/shared/eventstore",
					"layer", "platform",
					"aggregate_id", stored.AggregateID,
					"event_type", stored.EventType,
					"sequence", stored.Sequence,
					"error", err.Error(),
				)
			}
		}()
	}
}

func encode(aggregateID string, baseVersion int64, batch []events.Event, marshal func(events.Event) ([]byte, error)) ([]events.StoredEvent, error) {
	stored := make([]events.StoredEvent, 0, len(batch))
	for i, ev := range batch {
		payload, err := marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", ev.EventType(), err)
		}
		stored = append(stored, events.StoredEvent{
			AggregateID: aggregateID,
			Sequence:    baseVersion + int64(i) + 1,
			EventType:   ev.EventType(),
			Payload:     payload,
			Metadata:    ev.EventMetadata(),
		})
	}
	return stored, nil
}
