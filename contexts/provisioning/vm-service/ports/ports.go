package ports

import (
	"context"
	"fmt"
	"time"

	"vmforge/contexts/provisioning/vm-service/domain"
)

// StartVMInput creates the VM aggregate for an approved request entering
// provisioning.
type StartVMInput struct {
	VMID          string
	RequestID     string
	TenantID      string
	ProjectID     string
	VMName        string
	Size          domain.Size
	CorrelationID string
}

// HypervisorConfig is the slice of the tenant hypervisor configuration the
// saga needs to build a provisioning spec. Credentials never cross this port.
type HypervisorConfig struct {
	URL          string
	Datacenter   string
	Cluster      string
	Datastore    string
	Network      string
	Template     string
	ResourcePool string
	FolderPath   string
}

// HypervisorConfigSource resolves the tenant's hypervisor configuration.
// The second return value is false when the tenant has none.
type HypervisorConfigSource interface {
	Resolve(ctx context.Context, tenantID string) (HypervisorConfig, bool, error)
}

// ProjectDirectory resolves project display names for VM-name derivation.
type ProjectDirectory interface {
	ProjectName(ctx context.Context, projectID string) (string, error)
}

type ProvisionSpec struct {
	TenantID      string
	Name          string
	Template      string
	Datacenter    string
	Cluster       string
	Datastore     string
	Network       string
	ResourcePool  string
	FolderPath    string
	CPUs          int
	MemoryMB      int
	DiskGB        int
	CorrelationID string
}

type ProvisionResult struct {
	HypervisorVMID string
	IPAddress      string
	Hostname       string
	Warning        string
}

/// Provisioner is the resilient provisioning orchestrator seen from the saga:
// retry, circuit breaking and error classification live behind it. Stage
// callbacks fire once per observed stage per attempt and are idempotent
// hints, not a monotonic guarantee.
type Provisioner interface {
	CreateVM(ctx context.Context, spec ProvisionSpec, onProgress func(stage string)) (ProvisionResult, error)
}

// ProvisionError is the classified failure the saga reports to users and
// admins. Code is a stable short token safe to show end users; Message may
// carry hypervisor detail and is only sent to admins.
type ProvisionError struct {
	Code     string
	Attempts int
	Message  string
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning failed (%s) after %d attempts: %s", e.Code, e.Attempts, e.Message)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// RequestCompleter mirrors the saga outcome onto the request aggregate. The
// implementation lives in the request-service context and is bound at the
// composition root.
type RequestCompleter interface {
	MarkReady(ctx context.Context, requestID, hypervisorVMID, ipAddress, hostname, warning, correlationID string) error
	MarkFailed(ctx context.Context, requestID, reason, correlationID string) error
}

// ProgressRecord is the transient per-VM progress row replaced on every
// stage tick and deleted when provisioning fails. EstimatedRemaining is a
// best-effort UI hint, not a contract.
type ProgressRecord struct {
	VMID               string
	RequestID          string
	TenantID           string
	Stages             map[string]time.Time
	EstimatedRemaining time.Duration
	UpdatedAt          time.Time
}

type ProgressStore interface {
	Put(ctx context.Context, record ProgressRecord) error
	Delete(ctx context.Context, vmID string) error
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

type VMReadyNotice struct {
	TenantID  string
	RequestID string
	VMName    string
	IPAddress string
	Hostname  string
	Warning   string
}

type FailureNotice struct {
	TenantID      string
	RequestID     string
	VMName        string
	ErrorCode     string
	Message       string
	RetryCount    int
	CorrelationID string
}

// NotificationSender delivers provisioning outcomes. User notices carry only
// the sanitized error code; the technical notice goes to a configured admin
// address.
type NotificationSender interface {
	SendVMReady(ctx context.Context, n VMReadyNotice) error
	SendProvisioningFailedUser(ctx context.Context, n FailureNotice) error
	SendProvisioningFailedAdmin(ctx context.Context, n FailureNotice) error
}

// StuckRequestSource lists requests stuck in PROVISIONING for the
// reconciliation sweep.
type StuckRequestSource interface {
	ListProvisioning(ctx context.Context, cutoff time.Time) ([]StuckRequest, error)
}

type StuckRequest struct {
	RequestID string
	TenantID  string
	VMID      string
	UpdatedAt time.Time
}

type Clock interface {
	Now() time.Time
}
