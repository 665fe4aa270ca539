package domain

import "vmforge/internal/shared/events"

const (
	EventTypeRequestSubmitted    = "vm_request.submitted"
	EventTypeRequestApproved     = "vm_request.approved"
	EventTypeRequestRejected     = "vm_request.rejected"
	EventTypeRequestCancelled    = "vm_request.cancelled"
	EventTypeRequestProvisioning = "vm_request.provisioning"
	EventTypeRequestReady        = "vm_request.ready"
	EventTypeRequestFailed       = "vm_request.failed"
)

type RequestSubmitted struct {
	Meta        events.Metadata `json:"meta"`
	RequestID   string          `json:"request_id"`
	TenantID    string          `json:"tenant_id"`
	RequesterID string          `json:"requester_id"`
	ProjectID   string          `json:"project_id"`
	VMName      string          `json:"vm_name"`
	Size        Size            `json:"size"`
}

func (e RequestSubmitted) EventType() string              { return EventTypeRequestSubmitted }
func (e RequestSubmitted) EventMetadata() events.Metadata { return e.Meta }

type RequestApproved struct {
	Meta      events.Metadata `json:"meta"`
	RequestID string          `json:"request_id"`
	AdminID   string          `json:"admin_id"`
}

func (e RequestApproved) EventType() string              { return EventTypeRequestApproved }
func (e RequestApproved) EventMetadata() events.Metadata { return e.Meta }

type RequestRejected struct {
	Meta      events.Metadata `json:"meta"`
	RequestID string          `json:"request_id"`
	AdminID   string          `json:"admin_id"`
	Reason    string          `json:"reason"`
}

func (e RequestRejected) EventType() string              { return EventTypeRequestRejected }
func (e RequestRejected) EventMetadata() events.Metadata { return e.Meta }

type RequestCancelled struct {
	Meta      events.Metadata `json:"meta"`
	RequestID string          `json:"request_id"`
}

func (e RequestCancelled) EventType() string              { return EventTypeRequestCancelled }
func (e RequestCancelled) EventMetadata() events.Metadata { return e.Meta }

type RequestProvisioning struct {
	Meta      events.Metadata `json:"meta"`
	RequestID string          `json:"request_id"`
	VMID      string          `json:"vm_id"`
}

func (e RequestProvisioning) EventType() string              { return EventTypeRequestProvisioning }
func (e RequestProvisioning) EventMetadata() events.Metadata { return e.Meta }

type RequestReady struct {
	Meta           events.Metadata `json:"meta"`
	RequestID      string          `json:"request_id"`
	HypervisorVMID string          `json:"hypervisor_vm_id"`
	IPAddress      string          `json:"ip_address"`
	Hostname       string          `json:"hostname"`
	Warning        string          `json:"warning,omitempty"`
}

func (e RequestReady) EventType() string              { return EventTypeRequestReady }
func (e RequestReady) EventMetadata() events.Metadata { return e.Meta }

type RequestFailed struct {
	Meta      events.Metadata `json:"meta"`
	RequestID string          `json:"request_id"`
	Reason    string          `json:"reason"`
}

func (e RequestFailed) EventType() string              { return EventTypeRequestFailed }
func (e RequestFailed) EventMetadata() events.Metadata { return e.Meta }
