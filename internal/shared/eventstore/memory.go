package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"vmforge/internal/shared/events"
)

// MemoryStore is the in-process event log used by tests and the in-memory
// wiring. Appends hold the lock; publication happens after the write outside
// the critical section.
type MemoryStore struct {
	mu        sync.Mutex
	streams   map[string][]events.StoredEvent
	publisher Publisher
	logger    *slog.Logger
}

func NewMemoryStore(publisher Publisher, logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		streams:   make(map[string][]events.StoredEvent),
		publisher: publisher,
		logger:    logger,
	}
}

func (s *MemoryStore) Append(ctx context.Context, aggregateID string, batch []events.Event, expectedVersion int64) (int64, error) {
	if len(batch) == 0 {
		return expectedVersion, nil
	}

	s.mu.Lock()
	current := int64(len(s.streams[aggregateID]))
	if current != expectedVersion {
		s.mu.Unlock()
		return 0, &ConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: current}
	}
	stored, err := encode(aggregateID, current, batch, func(ev events.Event) ([]byte, error) {
		return json.Marshal(ev)
	})
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.streams[aggregateID] = append(s.streams[aggregateID], stored...)
	version := int64(len(s.streams[aggregateID]))
	s.mu.Unlock()

	publishAll(ctx, s.logger, s.publisher, stored)
	return version, nil
}

func (s *MemoryStore) Load(ctx context.Context, aggregateID string) ([]events.StoredEvent, error) {
	return s.LoadFrom(ctx, aggregateID, 0)
}

func (s *MemoryStore) LoadFrom(_ context.Context, aggregateID string, fromVersion int64) ([]events.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.streams[aggregateID]
	out := make([]events.StoredEvent, 0, len(stream))
	for _, stored := range stream {
		if stored.Sequence > fromVersion {
			out = append(out, stored)
		}
	}
	return out, nil
}
