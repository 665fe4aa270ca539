package domain

import (
	"time"

	"vmforge/internal/shared/events"
)

const (
	EventTypeVMProvisioningStarted = "vm.provisioning_started"
	EventTypeVMProgressUpdated     = "vm.progress_updated"
	EventTypeVMProvisioned         = "vm.provisioned"
	EventTypeVMProvisioningFailed  = "vm.provisioning_failed"
)

type VMProvisioningStarted struct {
	Meta      events.Metadata `json:"meta"`
	VMID      string          `json:"vm_id"`
	RequestID string          `json:"request_id"`
	TenantID  string          `json:"tenant_id"`
	ProjectID string          `json:"project_id"`
	VMName    string          `json:"vm_name"`
	Size      Size            `json:"size"`
}

func (e VMProvisioningStarted) EventType() string              { return EventTypeVMProvisioningStarted }
func (e VMProvisioningStarted) EventMetadata() events.Metadata { return e.Meta }

type VMProgressUpdated struct {
	Meta  events.Metadata `json:"meta"`
	VMID  string          `json:"vm_id"`
	Stage Stage           `json:"stage"`
}

func (e VMProgressUpdated) EventType() string              { return EventTypeVMProgressUpdated }
func (e VMProgressUpdated) EventMetadata() events.Metadata { return e.Meta }

type VMProvisioned struct {
	Meta           events.Metadata `json:"meta"`
	VMID           string          `json:"vm_id"`
	HypervisorVMID string          `json:"hypervisor_vm_id"`
	IPAddress      string          `json:"ip_address"`
	Hostname       string          `json:"hostname"`
	Warning        string          `json:"warning,omitempty"`
}

func (e VMProvisioned) EventType() string              { return EventTypeVMProvisioned }
func (e VMProvisioned) EventMetadata() events.Metadata { return e.Meta }

type VMProvisioningFailed struct {
	Meta       events.Metadata `json:"meta"`
	VMID       string          `json:"vm_id"`
	Reason     string          `json:"reason"`
	ErrorCode  string          `json:"error_code"`
	RetryCount int             `json:"retry_count"`
	FailedAt   time.Time       `json:"failed_at"`
}

func (e VMProvisioningFailed) EventType() string              { return EventTypeVMProvisioningFailed }
func (e VMProvisioningFailed) EventMetadata() events.Metadata { return e.Meta }
