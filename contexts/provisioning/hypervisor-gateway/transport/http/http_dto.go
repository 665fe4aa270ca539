package http

// ErrorResponse is the uniform transport error shape.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HypervisorConfigRequest creates or updates a tenant's hypervisor
// configuration. ExpectedVersion zero means create; password may be omitted
// on update to keep the stored credential.
type HypervisorConfigRequest struct {
	URL             string `json:"url"`
	Username        string `json:"username"`
	Password        string `json:"password,omitempty"`
	Datacenter      string `json:"datacenter"`
	Cluster         string `json:"cluster"`
	Datastore       string `json:"datastore"`
	Network         string `json:"network"`
	Template        string `json:"template"`
	ResourcePool    string `json:"resource_pool,omitempty"`
	FolderPath      string `json:"folder_path,omitempty"`
	ExpectedVersion int64  `json:"expected_version"`
}

// HypervisorConfigDTO never carries credential material.
type HypervisorConfigDTO struct {
	TenantID     string `json:"tenant_id"`
	URL          string `json:"url"`
	Username     string `json:"username"`
	Datacenter   string `json:"datacenter"`
	Cluster      string `json:"cluster"`
	Datastore    string `json:"datastore"`
	Network      string `json:"network"`
	Template     string `json:"template"`
	ResourcePool string `json:"resource_pool,omitempty"`
	FolderPath   string `json:"folder_path,omitempty"`
	Version      int64  `json:"version"`
}

type HypervisorConfigResponse struct {
	Status string              `json:"status"`
	Data   HypervisorConfigDTO `json:"data"`
}

// InventoryDTO lists placement object names of one kind visible to the
// tenant's hypervisor session.
type InventoryDTO struct {
	Kind  string   `json:"kind"`
	Names []string `json:"names"`
}

type InventoryResponse struct {
	Status string       `json:"status"`
	Data   InventoryDTO `json:"data"`
}
