package domain

import (
	"encoding/json"
	"fmt"
	"time"

	domainerrors "vmforge/contexts/provisioning/vm-service/domain/errors"
	"vmforge/internal/shared/events"
)

type Stage string

const (
	StageCreated           Stage = "CREATED"
	StageCloning           Stage = "CLONING"
	StageConfiguring       Stage = "CONFIGURING"
	StagePoweringOn        Stage = "POWERING_ON"
	StageWaitingForNetwork Stage = "WAITING_FOR_NETWORK"
	StageReady             Stage = "READY"
	StageFailed            Stage = "FAILED"
)

var stageRank = map[Stage]int{
	StageCreated:           0,
	StageCloning:           1,
	StageConfiguring:       2,
	StagePoweringOn:        3,
	StageWaitingForNetwork: 4,
	StageReady:             5,
}

// KnownStage reports whether s names a provisioning stage.
func KnownStage(s Stage) bool {
	if s == StageFailed {
		return true
	}
	_, ok := stageRank[s]
	return ok
}

// Size is the machine shape carried over from the request.
type Size struct {
	Name     string `json:"name"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
	DiskGB   int    `json:"disk_gb"`
}

// VM is the provisioning aggregate: one per request once provisioning
// starts. Stages only move forward; READY and FAILED are terminal.
type VM struct {
	ID        string
	RequestID string
	TenantID  string
	ProjectID string
	VMName    string
	Size      Size
	Stage     Stage

	HypervisorVMID string
	IPAddress      string
	Hostname       string
	Warning        string
	FailureReason  string

	Version int64
	pending []events.Event
}

// NewVM starts the aggregate in CREATED. The first event doubles as the
// provisioning-started fact the saga coordinator reacts to.
func NewVM(id string, meta events.Metadata, requestID, projectID, vmName string, size Size) *VM {
	vm := &VM{}
	vm.record(VMProvisioningStarted{
		Meta:      meta,
		VMID:      id,
		RequestID: requestID,
		TenantID:  meta.TenantID,
		ProjectID: projectID,
		VMName:    vmName,
		Size:      size,
	})
	return vm
}

// Reconstitute folds history into a fresh aggregate; pure and idempotent.
func Reconstitute(history []events.Event) *VM {
	vm := &VM{}
	for _, ev := range history {
		vm.apply(ev)
	}
	return vm
}

func (v *VM) terminal() bool {
	return v.Stage == StageReady || v.Stage == StageFailed
}

// UpdateProgress appends a progress-only event. Repeating the current stage
// is an idempotent hint from a retried attempt and is accepted; regression
// and transitions out of a terminal stage are rejected.
func (v *VM) UpdateProgress(stage Stage, meta events.Metadata) error {
	if v.terminal() {
		return fmt.Errorf("%w: vm already in terminal stage %s", domainerrors.ErrInvalidStage, v.Stage)
	}
	rank, ok := stageRank[stage]
	if !ok || stage == StageReady {
		return fmt.Errorf("%w: %q is not a progress stage", domainerrors.ErrInvalidStage, stage)
	}
	if rank < stageRank[v.Stage] {
		return fmt.Errorf("%w: cannot regress from %s to %s", domainerrors.ErrInvalidStage, v.Stage, stage)
	}
	v.record(VMProgressUpdated{Meta: meta, VMID: v.ID, Stage: stage})
	return nil
}

// MarkProvisioned is the terminal success transition.
func (v *VM) MarkProvisioned(hypervisorVMID, ipAddress, hostname, warning string, meta events.Metadata) error {
	if v.terminal() {
		return fmt.Errorf("%w: vm already in terminal stage %s", domainerrors.ErrInvalidStage, v.Stage)
	}
	v.record(VMProvisioned{
		Meta:           meta,
		VMID:           v.ID,
		HypervisorVMID: hypervisorVMID,
		IPAddress:      ipAddress,
		Hostname:       hostname,
		Warning:        warning,
	})
	return nil
}

// MarkFailed is the terminal failure transition, reachable from any
// non-terminal stage.
func (v *VM) MarkFailed(reason, errorCode string, retryCount int, failedAt time.Time, meta events.Metadata) error {
	if v.terminal() {
		return fmt.Errorf("%w: vm already in terminal stage %s", domainerrors.ErrInvalidStage, v.Stage)
	}
	v.record(VMProvisioningFailed{
		Meta:       meta,
		VMID:       v.ID,
		Reason:     reason,
		ErrorCode:  errorCode,
		RetryCount: retryCount,
		FailedAt:   failedAt,
	})
	return nil
}

func (v *VM) PendingEvents() []events.Event {
	return v.pending
}

func (v *VM) ClearPending() {
	v.pending = nil
}

func (v *VM) record(ev events.Event) {
	v.apply(ev)
	v.pending = append(v.pending, ev)
}

func (v *VM) apply(ev events.Event) {
	switch e := ev.(type) {
	case VMProvisioningStarted:
		v.ID = e.VMID
		v.RequestID = e.RequestID
		v.TenantID = e.TenantID
		v.ProjectID = e.ProjectID
		v.VMName = e.VMName
		v.Size = e.Size
		v.Stage = StageCreated
	case VMProgressUpdated:
		v.Stage = e.Stage
	case VMProvisioned:
		v.Stage = StageReady
		v.HypervisorVMID = e.HypervisorVMID
		v.IPAddress = e.IPAddress
		v.Hostname = e.Hostname
		v.Warning = e.Warning
	case VMProvisioningFailed:
		v.Stage = StageFailed
		v.FailureReason = e.Reason
	}
	v.Version++
}

// DecodeEvent rehydrates a stored vm event into its typed form.
func DecodeEvent(eventType string, payload []byte) (events.Event, error) {
	switch eventType {
	case EventTypeVMProvisioningStarted:
		var e VMProvisioningStarted
		return e, json.Unmarshal(payload, &e)
	case EventTypeVMProgressUpdated:
		var e VMProgressUpdated
		return e, json.Unmarshal(payload, &e)
	case EventTypeVMProvisioned:
		var e VMProvisioned
		return e, json.Unmarshal(payload, &e)
	case EventTypeVMProvisioningFailed:
		var e VMProvisioningFailed
		return e, json.Unmarshal(payload, &e)
	default:
		return nil, fmt.Errorf("unknown vm event type %q", eventType)
	}
}
