package memory

import (
	"context"
	"sync"
	"time"

	domainerrors "vmforge/contexts/provisioning/request-service/domain/errors"
	"vmforge/contexts/provisioning/request-service/ports"

	"github.com/google/uuid"
)

// Store implements the read-model and notification ports in memory. It backs
// the in-memory wiring and unit tests.
type Store struct {
	mu sync.RWMutex

	views         map[string]ports.RequestView
	timeline      []ports.TimelineEntry
	notifications []SentNotification
}

type SentNotification struct {
	Kind    string
	Payload ports.Notification
}

func NewStore() *Store {
	return &Store{
		views: make(map[string]ports.RequestView),
	}
}

func (s *Store) InsertRequest(_ context.Context, view ports.RequestView) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if view.RequestID == "" {
		return domainerrors.ErrInvalidInput
	}
	s.views[view.RequestID] = view
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, requestID, status, vmID string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	view, ok := s.views[requestID]
	if !ok {
		return domainerrors.ErrNotFound
	}
	view.Status = status
	if vmID != "" {
		view.VMID = vmID
	}
	view.UpdatedAt = updatedAt
	s.views[requestID] = view
	return nil
}

func (s *Store) GetView(requestID string) (ports.RequestView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view, ok := s.views[requestID]
	return view, ok
}

// ListProvisioning returns view rows stuck in PROVISIONING since before the
// cutoff. Used by the reconciliation sweep.
func (s *Store) ListProvisioning(_ context.Context, cutoff time.Time) ([]ports.RequestView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stuck []ports.RequestView
	for _, view := range s.views {
		if view.Status == "PROVISIONING" && view.UpdatedAt.Before(cutoff) {
			stuck = append(stuck, view)
		}
	}
	return stuck, nil
}

func (s *Store) AddTimelineEvent(_ context.Context, entry ports.TimelineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.timeline {
		if existing.EntryID == entry.EntryID {
			return nil
		}
	}
	s.timeline = append(s.timeline, entry)
	return nil
}

func (s *Store) TimelineFor(requestID string) []ports.TimelineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []ports.TimelineEntry
	for _, entry := range s.timeline {
		if entry.RequestID == requestID {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (s *Store) SendCreated(_ context.Context, n ports.Notification) error {
	return s.recordNotification("created", n)
}

func (s *Store) SendApproved(_ context.Context, n ports.Notification) error {
	return s.recordNotification("approved", n)
}

func (s *Store) SendRejected(_ context.Context, n ports.Notification) error {
	return s.recordNotification("rejected", n)
}

func (s *Store) Notifications() []SentNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]SentNotification(nil), s.notifications...)
}

func (s *Store) recordNotification(kind string, n ports.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, SentNotification{Kind: kind, Payload: n})
	return nil
}

// SystemClock implements ports.Clock on wall time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// UUIDGenerator implements ports.IDGenerator using RFC 4122 UUID v4 values.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}
