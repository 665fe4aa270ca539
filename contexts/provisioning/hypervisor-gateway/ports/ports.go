package ports

import (
	"context"
	"time"
)

// ConnectionParams carries the opened credential for one login. The sealed
// form never crosses this port.
type ConnectionParams struct {
	URL      string
	Username string
	Password string
}

// InventoryQuery names the objects a provisioning spec references. All
// lookups are by display name within the tenant's configured scope.
type InventoryQuery struct {
	Datacenter   string
	Cluster      string
	Datastore    string
	Network      string
	Template     string
	ResourcePool string
	FolderPath   string
}

// InventoryKind selects one placement object category for listing.
type InventoryKind string

const (
	InventoryDatacenters   InventoryKind = "datacenters"
	InventoryClusters      InventoryKind = "clusters"
	InventoryDatastores    InventoryKind = "datastores"
	InventoryNetworks      InventoryKind = "networks"
	InventoryResourcePools InventoryKind = "resource_pools"
)

// Inventory holds the resolved object identifiers.
type Inventory struct {
	DatacenterID   string
	ClusterID      string
	DatastoreID    string
	NetworkID      string
	TemplateID     string
	ResourcePoolID string
	FolderID       string
}

type CloneRequest struct {
	Name      string
	Inventory Inventory
	CPUs      int
	MemoryMB  int
	DiskGB    int
}

type TaskState string

const (
	TaskQueued    TaskState = "QUEUED"
	TaskRunning   TaskState = "RUNNING"
	TaskSucceeded TaskState = "SUCCEEDED"
	TaskFailed    TaskState = "FAILED"
)

type TaskStatus struct {
	State   TaskState
	Message string
}

type VMInfo struct {
	VMID      string
	Name      string
	Hostname  string
	IPAddress string
	PoweredOn bool
}

// Connection is one authenticated hypervisor session. Implementations
// return classified errors from the domain errors package.
type Connection interface {
	Ping(ctx context.Context) error
	FindInventory(ctx context.Context, query InventoryQuery) (Inventory, error)
	ListInventory(ctx context.Context, kind InventoryKind) ([]string, error)
	CloneTemplate(ctx context.Context, req CloneRequest) (taskID, vmID string, err error)
	TaskStatus(ctx context.Context, taskID string) (TaskStatus, error)
	PowerOn(ctx context.Context, vmID string) error
	GuestIP(ctx context.Context, vmID string) (string, error)
	VMInfo(ctx context.Context, vmID string) (VMInfo, error)
	Delete(ctx context.Context, vmID string) error
	Logout(ctx context.Context) error
}

// API opens authenticated sessions. The concrete binding to a hypervisor
// product stays behind this interface.
type API interface {
	Login(ctx context.Context, params ConnectionParams) (Connection, error)
}

// VMSpec is one provisioning order against a tenant's hypervisor.
type VMSpec struct {
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

// VMResult is the outcome of a successful provisioning run. IPAddress may be
// empty with a non-empty Warning when only guest-IP detection timed out.
type VMResult struct {
	VMID      string
	Hostname  string
	IPAddress string
	Warning   string
}

// Hypervisor is the tenant-scoped high-level port the rest of the system
// provisions through.
type Hypervisor interface {
	TestConnection(ctx context.Context, tenantID string) error
	ListInventory(ctx context.Context, tenantID string, kind InventoryKind) ([]string, error)
	CreateVM(ctx context.Context, spec VMSpec, onProgress func(stage string)) (VMResult, error)
	GetVM(ctx context.Context, tenantID, vmID string) (VMInfo, error)
	DeleteVM(ctx context.Context, tenantID, vmID string) error
}

// HypervisorConfiguration is the per-tenant connection and placement record.
// The credential is sealed at rest; Version supports optimistic locking on
// update.
type HypervisorConfiguration struct {
	TenantID       string
	URL            string
	Username       string
	SealedPassword string
	Datacenter     string
	Cluster        string
	Datastore      string
	Network        string
	Template       string
	ResourcePool   string
	FolderPath     string
	Version        int64
	UpdatedAt      time.Time
}

// ConfigStore persists tenant hypervisor configurations. Get returns
// ErrConfigNotFound for unknown tenants; Update returns VersionConflictError
// on a stale expected version.
type ConfigStore interface {
	Get(ctx context.Context, tenantID string) (HypervisorConfiguration, error)
	Put(ctx context.Context, cfg HypervisorConfiguration) (HypervisorConfiguration, error)
	Update(ctx context.Context, cfg HypervisorConfiguration, expectedVersion int64) (HypervisorConfiguration, error)
}

// Sealer protects credentials at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type Clock interface {
	Now() time.Time
}
