package bootstrap

import (
	"context"
	"errors"
	"time"

	hyperrors "vmforge/contexts/provisioning/hypervisor-gateway/domain/errors"
	hyperports "vmforge/contexts/provisioning/hypervisor-gateway/ports"
	requestports "vmforge/contexts/provisioning/request-service/ports"
	vmapp "vmforge/contexts/provisioning/vm-service/application"
	vmdomain "vmforge/contexts/provisioning/vm-service/domain"
	vmports "vmforge/contexts/provisioning/vm-service/ports"
)

// The request and vm modules reference each other through ports. The
// bindings here close that loop at the composition root; module code never
// imports across context boundaries.

// provisioningStarter hands approved requests to the VM workflow. The
// service field is bound after both modules exist.
type provisioningStarter struct {
	vms vmapp.Service
}

func (p *provisioningStarter) StartProvisioning(ctx context.Context, start requestports.StartProvisioningInput) error {
	return p.vms.StartProvisioning(ctx, vmports.StartVMInput{
		VMID:      start.VMID,
		RequestID: start.RequestID,
		TenantID:  start.TenantID,
		ProjectID: start.ProjectID,
		VMName:    start.VMName,
		Size: vmdomain.Size{
			Name:     start.Size.Name,
			CPUs:     start.Size.CPUs,
			MemoryMB: start.Size.MemoryMB,
			DiskGB:   start.Size.DiskGB,
		},
		CorrelationID: start.CorrelationID,
	})
}

// hypervisorProvisioner adapts the resilient gateway surface to the saga's
// provisioning port, folding classified failures into a single error shape.
type hypervisorProvisioner struct {
	hypervisor hyperports.Hypervisor
}

func (p hypervisorProvisioner) CreateVM(ctx context.Context, spec vmports.ProvisionSpec, onProgress func(stage string)) (vmports.ProvisionResult, error) {
	result, err := p.hypervisor.CreateVM(ctx, hyperports.VMSpec{
		TenantID:      spec.TenantID,
		Name:          spec.Name,
		Template:      spec.Template,
		Datacenter:    spec.Datacenter,
		Cluster:       spec.Cluster,
		Datastore:     spec.Datastore,
		Network:       spec.Network,
		ResourcePool:  spec.ResourcePool,
		FolderPath:    spec.FolderPath,
		CPUs:          spec.CPUs,
		MemoryMB:      spec.MemoryMB,
		DiskGB:        spec.DiskGB,
		CorrelationID: spec.CorrelationID,
	}, onProgress)
	if err != nil {
		return vmports.ProvisionResult{}, provisionError(err)
	}
	return vmports.ProvisionResult{
		HypervisorVMID: result.VMID,
		IPAddress:      result.IPAddress,
		Hostname:       result.Hostname,
		Warning:        result.Warning,
	}, nil
}

func provisionError(err error) *vmports.ProvisionError {
	if errors.Is(err, hyperrors.ErrUnavailable) {
		return &vmports.ProvisionError{Code: "UNAVAILABLE", Attempts: 0, Message: err.Error(), Err: err}
	}
	var exhausted *hyperrors.ExhaustedError
	if errors.As(err, &exhausted) {
		return &vmports.ProvisionError{
			Code:     string(hyperrors.KindOf(exhausted.Last)),
			Attempts: exhausted.Attempts,
			Message:  err.Error(),
			Err:      err,
		}
	}
	var classified *hyperrors.Error
	if errors.As(err, &classified) {
		return &vmports.ProvisionError{
			Code:     string(classified.Kind),
			Attempts: 1,
			Message:  classified.Message,
			Err:      err,
		}
	}
	return &vmports.ProvisionError{Code: string(hyperrors.KindAPI), Attempts: 1, Message: err.Error(), Err: err}
}

// tenantConfigSource exposes the placement slice of a tenant hypervisor
// configuration to the saga. Credentials stay inside the gateway context.
type tenantConfigSource struct {
	store hyperports.ConfigStore
}

func (s tenantConfigSource) Resolve(ctx context.Context, tenantID string) (vmports.HypervisorConfig, bool, error) {
	record, err := s.store.Get(ctx, tenantID)
	if errors.Is(err, hyperrors.ErrConfigNotFound) {
		return vmports.HypervisorConfig{}, false, nil
	}
	if err != nil {
		return vmports.HypervisorConfig{}, false, err
	}
	return vmports.HypervisorConfig{
		URL:          record.URL,
		Datacenter:   record.Datacenter,
		Cluster:      record.Cluster,
		Datastore:    record.Datastore,
		Network:      record.Network,
		Template:     record.Template,
		ResourcePool: record.ResourcePool,
		FolderPath:   record.FolderPath,
	}, true, nil
}

// stuckRequestSource feeds the reconciliation sweep from the request read
// model.
type stuckRequestSource struct {
	views interface {
		ListProvisioning(ctx context.Context, cutoff time.Time) ([]requestports.RequestView, error)
	}
}

func (s stuckRequestSource) ListProvisioning(ctx context.Context, cutoff time.Time) ([]vmports.StuckRequest, error) {
	views, err := s.views.ListProvisioning(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	stuck := make([]vmports.StuckRequest, 0, len(views))
	for _, view := range views {
		stuck = append(stuck, vmports.StuckRequest{
			RequestID: view.RequestID,
			TenantID:  view.TenantID,
			VMID:      view.VMID,
			UpdatedAt: view.UpdatedAt,
		})
	}
	return stuck, nil
}
