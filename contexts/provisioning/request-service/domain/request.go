package domain

import (
	"encoding/json"
	"fmt"

	domainerrors "vmforge/contexts/provisioning/request-service/domain/errors"
	"vmforge/internal/shared/events"
)

type Status string

const (
	StatusPending      Status = "PENDING"
	StatusApproved     Status = "APPROVED"
	StatusRejected     Status = "REJECTED"
	StatusCancelled    Status = "CANCELLED"
	StatusProvisioning Status = "PROVISIONING"
	StatusReady        Status = "READY"
	StatusFailed       Status = "FAILED"
)

const (
	MinRejectionReasonLength = 10
	MaxRejectionReasonLength = 500
)

// Size is the requested machine shape.
type Size struct {
	Name     string `json:"name"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
	DiskGB   int    `json:"disk_gb"`
}

// Request is the VM request aggregate: an approval state machine whose state
// is always the fold of its own event stream. It performs no I/O.
type Request struct {
	ID          string
	TenantID    string
	RequesterID string
	ProjectID   string
	VMName      string
	Size        Size
	Status      Status
	VMID        string

	Version int64
	pending []events.Event
}

// NewRequest starts a new aggregate in PENDING.
func NewRequest(id string, meta events.Metadata, requesterID, projectID, vmName string, size Size) *Request {
	request := &Request{}
	request.record(RequestSubmitted{
		Meta:        meta,
		RequestID:   id,
		TenantID:    meta.TenantID,
		RequesterID: requesterID,
		ProjectID:   projectID,
		VMName:      vmName,
		Size:        size,
	})
	return request
}

// Reconstitute folds history into a fresh aggregate. It is pure and
// idempotent: folding the same events twice yields identical state.
func Reconstitute(history []events.Event) *Request {
	request := &Request{}
	for _, ev := range history {
		request.apply(ev)
	}
	return request
}

// Approve transitions PENDING -> APPROVED. The separation-of-duties guard is
// checked before the state guard so a requester self-approving always sees
// Forbidden, independent of current status.
func (r *Request) Approve(adminID string, meta events.Metadata) error {
	if adminID == r.RequesterID {
		return domainerrors.ErrSelfDecision
	}
	if r.Status != StatusPending {
		return fmt.Errorf("%w: cannot approve request in status %s", domainerrors.ErrInvalidState, r.Status)
	}
	r.record(RequestApproved{Meta: meta, RequestID: r.ID, AdminID: adminID})
	return nil
}

// Reject transitions PENDING -> REJECTED with a mandatory reason.
func (r *Request) Reject(adminID, reason string, meta events.Metadata) error {
	if adminID == r.RequesterID {
		return domainerrors.ErrSelfDecision
	}
	if len(reason) < MinRejectionReasonLength || len(reason) > MaxRejectionReasonLength {
		return fmt.Errorf("%w: reason must be %d-%d characters, got %d",
			domainerrors.ErrInvalidReason, MinRejectionReasonLength, MaxRejectionReasonLength, len(reason))
	}
	if r.Status != StatusPending {
		return fmt.Errorf("%w: cannot reject request in status %s", domainerrors.ErrInvalidState, r.Status)
	}
	r.record(RequestRejected{Meta: meta, RequestID: r.ID, AdminID: adminID, Reason: reason})
	return nil
}

// Cancel transitions PENDING or APPROVED -> CANCELLED.
func (r *Request) Cancel(meta events.Metadata) error {
	if r.Status != StatusPending && r.Status != StatusApproved {
		return fmt.Errorf("%w: cannot cancel request in status %s", domainerrors.ErrInvalidState, r.Status)
	}
	r.record(RequestCancelled{Meta: meta, RequestID: r.ID})
	return nil
}

// MarkProvisioning transitions APPROVED -> PROVISIONING and binds the VM
// aggregate that will track the hypervisor workflow.
func (r *Request) MarkProvisioning(vmID string, meta events.Metadata) error {
	if r.Status != StatusApproved {
		return fmt.Errorf("%w: cannot start provisioning in status %s", domainerrors.ErrInvalidState, r.Status)
	}
	r.record(RequestProvisioning{Meta: meta, RequestID: r.ID, VMID: vmID})
	return nil
}

// MarkReady transitions PROVISIONING -> READY.
func (r *Request) MarkReady(hypervisorVMID, ipAddress, hostname, warning string, meta events.Metadata) error {
	if r.Status != StatusProvisioning {
		return fmt.Errorf("%w: cannot mark ready in status %s", domainerrors.ErrInvalidState, r.Status)
	}
	r.record(RequestReady{
		Meta:           meta,
		RequestID:      r.ID,
		HypervisorVMID: hypervisorVMID,
		IPAddress:      ipAddress,
		Hostname:       hostname,
		Warning:        warning,
	})
	return nil
}

// MarkFailed transitions PROVISIONING -> FAILED.
func (r *Request) MarkFailed(reason string, meta events.Metadata) error {
	if r.Status != StatusProvisioning {
		return fmt.Errorf("%w: cannot mark failed in status %s", domainerrors.ErrInvalidState, r.Status)
	}
	r.record(RequestFailed{Meta: meta, RequestID: r.ID, Reason: reason})
	return nil
}

// PendingEvents returns events recorded and not yet persisted.
func (r *Request) PendingEvents() []events.Event {
	return r.pending
}

// ClearPending is called only after a successful append.
func (r *Request) ClearPending() {
	r.pending = nil
}

func (r *Request) record(ev events.Event) {
	r.apply(ev)
	r.pending = append(r.pending, ev)
}

func (r *Request) apply(ev events.Event) {
	switch e := ev.(type) {
	case RequestSubmitted:
		r.ID = e.RequestID
		r.TenantID = e.TenantID
		r.RequesterID = e.RequesterID
		r.ProjectID = e.ProjectID
		r.VMName = e.VMName
		r.Size = e.Size
		r.Status = StatusPending
	case RequestApproved:
		r.Status = StatusApproved
	case RequestRejected:
		r.Status = StatusRejected
	case RequestCancelled:
		r.Status = StatusCancelled
	case RequestProvisioning:
		r.Status = StatusProvisioning
		r.VMID = e.VMID
	case RequestReady:
		r.Status = StatusReady
	case RequestFailed:
		r.Status = StatusFailed
	}
	r.Version++
}

// DecodeEvent rehydrates a stored request event into its typed form.
func DecodeEvent(eventType string, payload []byte) (events.Event, error) {
	switch eventType {
	case EventTypeRequestSubmitted:
		var e RequestSubmitted
		return e, json.Unmarshal(payload, &e)
	case EventTypeRequestApproved:
		var e RequestApproved
		return e, json.Unmarshal(payload, &e)
	case EventTypeRequestRejected:
		var e RequestRejected
		return e, json.Unmarshal(payload, &e)
	case EventTypeRequestCancelled:
		var e RequestCancelled
		return e, json.Unmarshal(payload, &e)
	case EventTypeRequestProvisioning:
		var e RequestProvisioning
		return e, json.Unmarshal(payload, &e)
	case EventTypeRequestReady:
		var e RequestReady
		return e, json.Unmarshal(payload, &e)
	case EventTypeRequestFailed:
		var e RequestFailed
		return e, json.Unmarshal(payload, &e)
	default:
		return nil, fmt.Errorf("unknown request event type %q", eventType)
	}
}
