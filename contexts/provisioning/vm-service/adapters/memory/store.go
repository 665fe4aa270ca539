package memory

import (
	"context"
	"sync"
	"time"

	domainerrors "vmforge/contexts/provisioning/vm-service/domain/errors"
	"vmforge/contexts/provisioning/vm-service/ports"
)

// Store implements the saga's side-effect ports in memory: progress records,
// timeline entries and notifications. It backs the in-memory wiring and unit
// tests.
type Store struct {
	mu sync.RWMutex

	progress      map[string]ports.ProgressRecord
	timeline      []ports.TimelineEntry
	notifications []SentNotification
}

type SentNotification struct {
	Kind    string
	Ready   ports.VMReadyNotice
	Failure ports.FailureNotice
}

func NewStore() *Store {
	return &Store{
		progress: make(map[string]ports.ProgressRecord),
	}
}

func (s *Store) Put(_ context.Context, record ports.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.VMID == "" {
		return domainerrors.ErrInvalidInput
	}
	s.progress[record.VMID] = record
	return nil
}

func (s *Store) Delete(_ context.Context, vmID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.progress, vmID)
	return nil
}

func (s *Store) ProgressFor(vmID string) (ports.ProgressRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.progress[vmID]
	return record, ok
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

func (s *Store) SendVMReady(_ context.Context, n ports.VMReadyNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, SentNotification{Kind: "vm_ready", Ready: n})
	return nil
}

func (s *Store) SendProvisioningFailedUser(_ context.Context, n ports.FailureNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, SentNotification{Kind: "failed_user", Failure: n})
	return nil
}

func (s *Store) SendProvisioningFailedAdmin(_ context.Context, n ports.FailureNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, SentNotification{Kind: "failed_admin", Failure: n})
	return nil
}

func (s *Store) Notifications() []SentNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]SentNotification(nil), s.notifications...)
}

// ConfigSource is a fixed per-tenant hypervisor configuration map.
type ConfigSource struct {
	mu      sync.RWMutex
	configs map[string]ports.HypervisorConfig
}

func NewConfigSource() *ConfigSource {
	return &ConfigSource{configs: make(map[string]ports.HypervisorConfig)}
}

func (c *ConfigSource) Set(tenantID string, cfg ports.HypervisorConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.configs[tenantID] = cfg
}

func (c *ConfigSource) Resolve(_ context.Context, tenantID string) (ports.HypervisorConfig, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cfg, ok := c.configs[tenantID]
	return cfg, ok, nil
}

// ProjectDirectory maps project IDs to display names.
type ProjectDirectory struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewProjectDirectory() *ProjectDirectory {
	return &ProjectDirectory{names: make(map[string]string)}
}

func (p *ProjectDirectory) Set(projectID, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.names[projectID] = name
}

func (p *ProjectDirectory) ProjectName(_ context.Context, projectID string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	name, ok := p.names[projectID]
	if !ok {
		return "", domainerrors.ErrNotFound
	}
	return name, nil
}

// SystemClock implements ports.Clock on wall time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
