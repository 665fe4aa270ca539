package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	hyperrors "vmforge/contexts/provisioning/hypervisor-gateway/domain/errors"
	"vmforge/contexts/provisioning/hypervisor-gateway/ports"
)

// ConfigInput is one create-or-update of a tenant's hypervisor
// configuration. Password may stay empty on update to keep the stored
// credential.
type ConfigInput struct {
	URL          string
	Username     string
	Password     string
	Datacenter   string
	Cluster      string
	Datastore    string
	Network      string
	Template     string
	ResourcePool string
	FolderPath   string
}

var errConfigInput = errors.New("hypervisor configuration input is invalid")

// ConfigService manages tenant hypervisor configurations: credentials are
// sealed before they reach the store, and updates carry an expected version
// for optimistic locking.
type ConfigService struct {
	Store  ports.ConfigStore
	Sealer ports.Sealer
	Clock  ports.Clock
	Logger *slog.Logger
}

// Upsert creates the configuration when expectedVersion is zero and updates
// it otherwise. A stale expectedVersion surfaces as VersionConflictError.
func (s ConfigService) Upsert(ctx context.Context, tenantID string, input ConfigInput, expectedVersion int64) (ports.HypervisorConfiguration, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" || strings.TrimSpace(input.URL) == "" || strings.TrimSpace(input.Username) == "" {
		return ports.HypervisorConfiguration{}, errConfigInput
	}

	cfg := ports.HypervisorConfiguration{
		TenantID:     tenantID,
		URL:          strings.TrimSpace(input.URL),
		Username:     strings.TrimSpace(input.Username),
		Datacenter:   input.Datacenter,
		Cluster:      input.Cluster,
		Datastore:    input.Datastore,
		Network:      input.Network,
		Template:     input.Template,
		ResourcePool: input.ResourcePool,
		FolderPath:   input.FolderPath,
		UpdatedAt:    s.now(),
	}

	if expectedVersion == 0 {
		if input.Password == "" {
			return ports.HypervisorConfiguration{}, errConfigInput
		}
		sealed, err := s.Sealer.Seal(input.Password)
		if err != nil {
			return ports.HypervisorConfiguration{}, err
		}
		cfg.SealedPassword = sealed
		stored, err := s.Store.Put(ctx, cfg)
		if err != nil {
			return ports.HypervisorConfiguration{}, err
		}
		s.log(tenantID, "hypervisor_config_created", stored.Version)
		return stored, nil
	}

	current, err := s.Store.Get(ctx, tenantID)
	if err != nil {
		return ports.HypervisorConfiguration{}, err
	}
	if input.Password == "" {
		cfg.SealedPassword = current.SealedPassword
	} else {
		sealed, err := s.Sealer.Seal(input.Password)
		if err != nil {
			return ports.HypervisorConfiguration{}, err
		}
		cfg.SealedPassword = sealed
	}
	stored, err := s.Store.Update(ctx, cfg, expectedVersion)
	if err != nil {
		return ports.HypervisorConfiguration{}, err
	}
	s.log(tenantID, "hypervisor_config_updated", stored.Version)
	return stored, nil
}

// Get returns the configuration with the sealed credential blanked, for
// display surfaces.
func (s ConfigService) Get(ctx context.Context, tenantID string) (ports.HypervisorConfiguration, error) {
	cfg, err := s.Store.Get(ctx, strings.TrimSpace(tenantID))
	if err != nil {
		return ports.HypervisorConfiguration{}, err
	}
	cfg.SealedPassword = ""
	return cfg, nil
}

// IsConfigInput reports whether err is a configuration validation failure.
func IsConfigInput(err error) bool {
	return errors.Is(err, errConfigInput)
}

// IsVersionConflict reports whether err is a stale-version update.
func IsVersionConflict(err error) bool {
	var conflict *hyperrors.VersionConflictError
	return errors.As(err, &conflict)
}

func (s ConfigService) log(tenantID, event string, version int64) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("hypervisor configuration stored",
		"event", event,
		"module", "provisioning/hypervisor-gateway",
		"layer", "application",
		"tenant_id", tenantID,
		"version", version,
	)
}

func (s ConfigService) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
