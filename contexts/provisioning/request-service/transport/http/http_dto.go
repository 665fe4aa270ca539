package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SizeDTO struct {
	Name     string `json:"name"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
	DiskGB   int    `json:"disk_gb"`
}

type SubmitRequestRequest struct {
	TenantID    string  `json:"tenant_id"`
	RequesterID string  `json:"requester_id"`
	ProjectID   string  `json:"project_id"`
	VMName      string  `json:"vm_name"`
	Size        SizeDTO `json:"size"`
}

type DecisionRequest struct {
	AdminID string `json:"admin_id"`
	Reason  string `json:"reason,omitempty"`
}

type CancelRequest struct {
	UserID string `json:"user_id"`
}

type ProvisionRequest struct {
	UserID string `json:"user_id"`
}

type RequestDTO struct {
	RequestID   string  `json:"request_id"`
	TenantID    string  `json:"tenant_id"`
	RequesterID string  `json:"requester_id"`
	ProjectID   string  `json:"project_id"`
	VMName      string  `json:"vm_name"`
	Size        SizeDTO `json:"size"`
	Status      string  `json:"status"`
	VMID        string  `json:"vm_id,omitempty"`
	Version     int64   `json:"version"`
}

type RequestResponse struct {
	Status string     `json:"status"`
	Data   RequestDTO `json:"data"`
}

type TimelineEntryDTO struct {
	EntryID    string `json:"entry_id"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	OccurredAt string `json:"occurred_at"`
}

type TimelineResponse struct {
	Status string             `json:"status"`
	Data   []TimelineEntryDTO `json:"data"`
}
