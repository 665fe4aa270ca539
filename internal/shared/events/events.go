package events

import "time"

// Metadata is the shared context attached to every domain event.
// Align fields with repository canonical event contract.
type Metadata struct {
	TenantID      string    `json:"tenant_id"`
	UserID        string    `json:"user_id"`
	CorrelationID string    `json:"correlation_id"`
	OccurredAtUTC time.Time `json:"occurred_at_utc"`
}

// Event is an immutable domain fact produced by an aggregate.
type Event interface {
	EventType() string
	EventMetadata() Metadata
}

// StoredEvent is the persisted envelope for one event of one aggregate
// stream. Sequence is 1-based and dense: the aggregate version after this
// event equals Sequence.
type StoredEvent struct {
	AggregateID string
	Sequence    int64
	EventType   string
	Payload     []byte
	Metadata    Metadata
}
