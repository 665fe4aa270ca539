package ports

import (
	"context"
	"time"

	"vmforge/contexts/provisioning/request-service/domain"
)

type SubmitRequestInput struct {
	TenantID      string
	RequesterID   string
	ProjectID     string
	VMName        string
	Size          domain.Size
	CorrelationID string
}

type DecisionInput struct {
	RequestID     string
	AdminID       string
	Reason        string
	CorrelationID string
}

// RequestView is the denormalized read-model row kept best-effort alongside
// the event stream.
type RequestView struct {
	RequestID   string
	TenantID    string
	RequesterID string
	ProjectID   string
	VMName      string
	SizeName    string
	Status      string
	VMID        string
	UpdatedAt   time.Time
}

// ProjectionUpdater maintains the request read model. Failures are logged by
// callers, never propagated: the event stream stays the source of truth.
type ProjectionUpdater interface {
	InsertRequest(ctx context.Context, view RequestView) error
	UpdateStatus(ctx context.Context, requestID, status, vmID string, updatedAt time.Time) error
}

type TimelineEntry struct {
	EntryID    string
	TenantID   string
	RequestID  string
	Kind       string
	Message    string
	OccurredAt time.Time
}

type TimelineUpdater interface {
	AddTimelineEvent(ctx context.Context, entry TimelineEntry) error
}

type Notification struct {
	TenantID    string
	RequestID   string
	RecipientID string
	VMName      string
	Reason      string
}

// NotificationSender delivers user-facing notices. Consumed as a black box;
// failures are logged, not propagated.
type NotificationSender interface {
	SendCreated(ctx context.Context, n Notification) error
	SendApproved(ctx context.Context, n Notification) error
	SendRejected(ctx context.Context, n Notification) error
}

// ProvisioningStarter hands an approved request to the VM workflow. The
// implementation lives in the vm-service context and is bound at the
// composition root.
type ProvisioningStarter interface {
	StartProvisioning(ctx context.Context, start StartProvisioningInput) error
}

type StartProvisioningInput struct {
	VMID          string
	RequestID     string
	TenantID      string
	ProjectID     string
	VMName        string
	Size          domain.Size
	CorrelationID string
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
