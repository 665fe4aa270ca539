package memory

import (
	"context"
	"sync"
	"time"

	hyperrors "vmforge/contexts/provisioning/hypervisor-gateway/domain/errors"
	"vmforge/contexts/provisioning/hypervisor-gateway/ports"
)

// ConfigStore keeps tenant hypervisor configurations in memory with the
// same optimistic-version semantics as the gorm adapter.
type ConfigStore struct {
	mu      sync.RWMutex
	configs map[string]ports.HypervisorConfiguration
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{configs: make(map[string]ports.HypervisorConfiguration)}
}

func (s *ConfigStore) Get(_ context.Context, tenantID string) (ports.HypervisorConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[tenantID]
	if !ok {
		return ports.HypervisorConfiguration{}, hyperrors.ErrConfigNotFound
	}
	return cfg, nil
}

func (s *ConfigStore) Put(_ context.Context, cfg ports.HypervisorConfiguration) (ports.HypervisorConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.configs[cfg.TenantID]; ok {
		return ports.HypervisorConfiguration{}, &hyperrors.VersionConflictError{
			TenantID: cfg.TenantID,
			Expected: 0,
			Actual:   existing.Version,
		}
	}
	cfg.Version = 1
	s.configs[cfg.TenantID] = cfg
	return cfg, nil
}

func (s *ConfigStore) Update(_ context.Context, cfg ports.HypervisorConfiguration, expectedVersion int64) (ports.HypervisorConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.configs[cfg.TenantID]
	if !ok {
		return ports.HypervisorConfiguration{}, hyperrors.ErrConfigNotFound
	}
	if existing.Version != expectedVersion {
		return ports.HypervisorConfiguration{}, &hyperrors.VersionConflictError{
			TenantID: cfg.TenantID,
			Expected: expectedVersion,
			Actual:   existing.Version,
		}
	}
	cfg.Version = existing.Version + 1
	s.configs[cfg.TenantID] = cfg
	return cfg, nil
}

// PassthroughSealer is a no-op sealer for tests and in-memory wiring.
type PassthroughSealer struct{}

func (PassthroughSealer) Seal(plaintext string) (string, error) { return plaintext, nil }
func (PassthroughSealer) Open(sealed string) (string, error)    { return sealed, nil }

// SystemClock implements ports.Clock on wall time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
