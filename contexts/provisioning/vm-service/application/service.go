package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"vmforge/contexts/provisioning/vm-service/domain"
	domainerrors "vmforge/contexts/provisioning/vm-service/domain/errors"
	"vmforge/contexts/provisioning/vm-service/ports"
	"vmforge/internal/shared/events"
	"vmforge/internal/shared/eventstore"
)

// Service is the command-handler layer for the VM aggregate.
type Service struct {
	Store  eventstore.Store
	Clock  ports.Clock
	Logger *slog.Logger
}

// StartProvisioning creates the VM aggregate. Appending the first event
// publishes the provisioning-started fact the saga coordinator reacts to.
func (s Service) StartProvisioning(ctx context.Context, input ports.StartVMInput) error {
	if strings.TrimSpace(input.VMID) == "" || strings.TrimSpace(input.RequestID) == "" {
		return domainerrors.ErrInvalidInput
	}

	meta := events.Metadata{
		TenantID:      input.TenantID,
		CorrelationID: input.CorrelationID,
		OccurredAtUTC: s.now(),
	}
	vm := domain.NewVM(input.VMID, meta, input.RequestID, input.ProjectID, input.VMName, input.Size)
	if _, err := s.Store.Append(ctx, vm.ID, vm.PendingEvents(), 0); err != nil {
		return err
	}
	vm.ClearPending()

	resolveLogger(s.Logger).Info("vm aggregate created",
		"event", "vm_provisioning_started",
		"module", "provisioning/vm-service",
		"layer", "application",
		"vm_id", vm.ID,
		"request_id", vm.RequestID,
		"tenant_id", vm.TenantID,
	)
	return nil
}

// UpdateProgress appends a monitoring event for an observed hypervisor
// stage.
func (s Service) UpdateProgress(ctx context.Context, vmID string, stage domain.Stage, correlationID string) error {
	vm, loadedVersion, err := s.loadVM(ctx, vmID)
	if err != nil {
		return err
	}

	meta := events.Metadata{
		TenantID:      vm.TenantID,
		CorrelationID: correlationID,
		OccurredAtUTC: s.now(),
	}
	if err := vm.UpdateProgress(stage, meta); err != nil {
		return err
	}
	if _, err := s.Store.Append(ctx, vm.ID, vm.PendingEvents(), loadedVersion); err != nil {
		return err
	}
	vm.ClearPending()
	return nil
}

// MarkProvisioned records the terminal success outcome.
func (s Service) MarkProvisioned(ctx context.Context, vmID string, result ports.ProvisionResult, correlationID string) error {
	vm, loadedVersion, err := s.loadVM(ctx, vmID)
	if err != nil {
		return err
	}

	meta := events.Metadata{
		TenantID:      vm.TenantID,
		CorrelationID: correlationID,
		OccurredAtUTC: s.now(),
	}
	if err := vm.MarkProvisioned(result.HypervisorVMID, result.IPAddress, result.Hostname, result.Warning, meta); err != nil {
		return err
	}
	if _, err := s.Store.Append(ctx, vm.ID, vm.PendingEvents(), loadedVersion); err != nil {
		return err
	}
	vm.ClearPending()
	return nil
}

// MarkFailed records the terminal failure outcome with its retry count and
// classified error code.
func (s Service) MarkFailed(ctx context.Context, vmID, reason, errorCode string, retryCount int, correlationID string) error {
	vm, loadedVersion, err := s.loadVM(ctx, vmID)
	if err != nil {
		return err
	}

	meta := events.Metadata{
		TenantID:      vm.TenantID,
		CorrelationID: correlationID,
		OccurredAtUTC: s.now(),
	}
	if err := vm.MarkFailed(reason, errorCode, retryCount, meta.OccurredAtUTC, meta); err != nil {
		return err
	}
	if _, err := s.Store.Append(ctx, vm.ID, vm.PendingEvents(), loadedVersion); err != nil {
		return err
	}
	vm.ClearPending()
	return nil
}

// GetVM folds the current aggregate state from its stream.
func (s Service) GetVM(ctx context.Context, vmID string) (domain.VM, error) {
	vm, _, err := s.loadVM(ctx, vmID)
	if err != nil {
		return domain.VM{}, err
	}
	return *vm, nil
}

func (s Service) loadVM(ctx context.Context, vmID string) (*domain.VM, int64, error) {
	stored, err := s.Store.Load(ctx, strings.TrimSpace(vmID))
	if err != nil {
		return nil, 0, err
	}
	if len(stored) == 0 {
		return nil, 0, domainerrors.ErrNotFound
	}

	history := make([]events.Event, 0, len(stored))
	for _, se := range stored {
		ev, err := domain.DecodeEvent(se.EventType, se.Payload)
		if err != nil {
			return nil, 0, err
		}
		history = append(history, ev)
	}
	vm := domain.Reconstitute(history)
	return vm, vm.Version, nil
}

func (s Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
