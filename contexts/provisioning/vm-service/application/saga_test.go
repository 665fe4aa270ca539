package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"vmforge/contexts/provisioning/vm-service/adapters/memory"
	"vmforge/contexts/provisioning/vm-service/domain"
	"vmforge/contexts/provisioning/vm-service/ports"
	"vmforge/internal/shared/events"
	"vmforge/internal/shared/eventstore"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type scriptedProvisioner struct {
	stages []string
	result ports.ProvisionResult
	err    error
	calls  int
}

func (p *scriptedProvisioner) CreateVM(_ context.Context, _ ports.ProvisionSpec, onProgress func(stage string)) (ports.ProvisionResult, error) {
	p.calls++
	for _, stage := range p.stages {
		onProgress(stage)
	}
	if p.err != nil {
		return ports.ProvisionResult{}, p.err
	}
	return p.result, nil
}

type recordingCompleter struct {
	readyErr  error
	ready     []string
	failed    []string
	lastError string
}

func (c *recordingCompleter) MarkReady(_ context.Context, requestID, _, _, _, _, _ string) error {
	c.ready = append(c.ready, requestID)
	return c.readyErr
}

func (c *recordingCompleter) MarkFailed(_ context.Context, requestID, reason, _ string) error {
	c.failed = append(c.failed, requestID)
	c.lastError = reason
	return nil
}

type sagaHarness struct {
	saga      *Saga
	store     *memory.Store
	configs   *memory.ConfigSource
	completer *recordingCompleter
	machine   *scriptedProvisioner
	vms       Service
}

func newSagaHarness(t *testing.T, machine *scriptedProvisioner) *sagaHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	vms := Service{
		Store:  eventstore.NewMemoryStore(nil, logger),
		Clock:  clock,
		Logger: logger,
	}

	store := memory.NewStore()
	configs := memory.NewConfigSource()
	projects := memory.NewProjectDirectory()
	projects.Set("proj-1", "Webshop Platform")
	completer := &recordingCompleter{}

	return &sagaHarness{
		saga: &Saga{
			Configs:      configs,
			Projects:     projects,
			Machine:      machine,
			Progress:     store,
			Timeline:     store,
			Notifier:     store,
			Requests:     completer,
			VMs:          vms,
			AdminAddress: "ops@example.com",
			Clock:        clock,
			Logger:       logger,
		},
		store:     store,
		configs:   configs,
		completer: completer,
		machine:   machine,
		vms:       vms,
	}
}

func startedFact(h *sagaHarness, t *testing.T) domain.VMProvisioningStarted {
	t.Helper()

	input := ports.StartVMInput{
		VMID:          "vm-1",
		RequestID:     "req-1",
		TenantID:      "tenant-1",
		ProjectID:     "proj-1",
		VMName:        "db-primary",
		Size:          domain.Size{Name: "medium", CPUs: 4, MemoryMB: 8192, DiskGB: 100},
		CorrelationID: "corr-1",
	}
	if err := h.vms.StartProvisioning(context.Background(), input); err != nil {
		t.Fatalf("StartProvisioning: %v", err)
	}
	return domain.VMProvisioningStarted{
		Meta: events.Metadata{
			TenantID:      input.TenantID,
			CorrelationID: input.CorrelationID,
			OccurredAtUTC: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		VMID:      input.VMID,
		RequestID: input.RequestID,
		TenantID:  input.TenantID,
		ProjectID: input.ProjectID,
		VMName:    input.VMName,
		Size:      input.Size,
	}
}

func tenantConfig() ports.HypervisorConfig {
	return ports.HypervisorConfig{
		URL:        "https://vcenter.tenant-1.example",
		Datacenter: "dc-1",
		Cluster:    "cluster-a",
		Datastore:  "ds-ssd",
		Network:    "vlan-40",
		Template:   "ubuntu-22.04",
	}
}

func TestSagaSuccessRecordsOutcomeEvenWhenRequestUpdateFails(t *testing.T) {
	machine := &scriptedProvisioner{
		stages: []string{"CLONING", "CONFIGURING", "POWERING_ON", "WAITING_FOR_NETWORK"},
		result: ports.ProvisionResult{
			HypervisorVMID: "hv-42",
			IPAddress:      "10.0.4.17",
			Hostname:       "db-primary",
		},
	}
	h := newSagaHarness(t, machine)
	h.configs.Set("tenant-1", tenantConfig())
	h.completer.readyErr = errors.New("request store down")

	started := startedFact(h, t)
	if err := h.saga.Run(context.Background(), started); err != nil {
		t.Fatalf("Run: %v", err)
	}

	vm, err := h.vms.GetVM(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if vm.Stage != domain.StageReady {
		t.Fatalf("stage = %s, want READY", vm.Stage)
	}
	if vm.HypervisorVMID != "hv-42" || vm.IPAddress != "10.0.4.17" {
		t.Fatalf("result not folded into aggregate: %+v", vm)
	}
	// 1 started + 4 progress + 1 provisioned
	if vm.Version != 6 {
		t.Fatalf("version = %d, want 6", vm.Version)
	}

	if len(h.completer.ready) != 1 {
		t.Fatalf("MarkReady calls = %d, want 1", len(h.completer.ready))
	}
	if _, ok := h.store.ProgressFor("vm-1"); ok {
		t.Fatal("progress record should be deleted after completion")
	}

	entries := h.store.TimelineFor("req-1")
	if len(entries) != 1 || entries[0].Kind != "vm_ready" {
		t.Fatalf("timeline = %+v, want single vm_ready entry", entries)
	}

	notes := h.store.Notifications()
	if len(notes) != 1 || notes[0].Kind != "vm_ready" {
		t.Fatalf("notifications = %+v, want single vm_ready", notes)
	}
	if notes[0].Ready.IPAddress != "10.0.4.17" {
		t.Fatalf("ready notice ip = %q", notes[0].Ready.IPAddress)
	}
}

func TestSagaMissingConfigFailsWithoutCallingHypervisor(t *testing.T) {
	machine := &scriptedProvisioner{}
	h := newSagaHarness(t, machine)
	// no config registered for tenant-1

	started := startedFact(h, t)
	if err := h.saga.Run(context.Background(), started); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if machine.calls != 0 {
		t.Fatalf("hypervisor called %d times, want 0", machine.calls)
	}
	vm, err := h.vms.GetVM(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if vm.Stage != domain.StageFailed {
		t.Fatalf("stage = %s, want FAILED", vm.Stage)
	}
	if len(h.completer.failed) != 1 {
		t.Fatalf("MarkFailed calls = %d, want 1", len(h.completer.failed))
	}

	var user, admin *ports.FailureNotice
	for _, n := range h.store.Notifications() {
		failure := n.Failure
		switch n.Kind {
		case "failed_user":
			user = &failure
		case "failed_admin":
			admin = &failure
		}
	}
	if user == nil || admin == nil {
		t.Fatalf("expected user and admin failure notices, got %+v", h.store.Notifications())
	}
	if user.ErrorCode != "CONFIGURATION" {
		t.Fatalf("user error code = %q", user.ErrorCode)
	}
	if user.Message != "" {
		t.Fatalf("user notice leaked technical message %q", user.Message)
	}
	if admin.Message == "" {
		t.Fatal("admin notice missing technical message")
	}
}

func TestSagaClassifiedFailureSanitizedForUser(t *testing.T) {
	machine := &scriptedProvisioner{
		stages: []string{"CLONING"},
		err: &ports.ProvisionError{
			Code:     "TIMEOUT",
			Attempts: 5,
			Message:  "dial tcp 10.0.0.1:443: i/o timeout",
			Err:      errors.New("i/o timeout"),
		},
	}
	h := newSagaHarness(t, machine)
	h.configs.Set("tenant-1", tenantConfig())

	started := startedFact(h, t)
	if err := h.saga.Run(context.Background(), started); err != nil {
		t.Fatalf("Run: %v", err)
	}

	vm, err := h.vms.GetVM(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if vm.Stage != domain.StageFailed {
		t.Fatalf("stage = %s, want FAILED", vm.Stage)
	}
	if _, ok := h.store.ProgressFor("vm-1"); ok {
		t.Fatal("progress record should be deleted after failure")
	}

	for _, n := range h.store.Notifications() {
		switch n.Kind {
		case "failed_user":
			if n.Failure.ErrorCode != "TIMEOUT" || n.Failure.RetryCount != 5 {
				t.Fatalf("user notice = %+v", n.Failure)
			}
			if n.Failure.Message != "" {
				t.Fatalf("user notice leaked %q", n.Failure.Message)
			}
		case "failed_admin":
			if n.Failure.Message != "dial tcp 10.0.0.1:443: i/o timeout" {
				t.Fatalf("admin notice = %+v", n.Failure)
			}
		}
	}
	if h.completer.lastError == "" || h.completer.lastError != "provisioning failed with code TIMEOUT" {
		t.Fatalf("request failure reason = %q", h.completer.lastError)
	}
}

func TestSagaProgressRecordTracksStagesDuringRun(t *testing.T) {
	machine := &scriptedProvisioner{}
	h := newSagaHarness(t, machine)
	h.configs.Set("tenant-1", tenantConfig())
	// capture the record mid-run by failing after the stages fire
	machine.stages = []string{"CLONING", "CONFIGURING"}
	machine.err = &ports.ProvisionError{Code: "CONNECTION", Attempts: 5, Message: "connection refused"}

	var observed ports.ProgressRecord
	h.saga.Progress = progressSpy{store: h.store, observe: func(r ports.ProgressRecord) { observed = r }}

	started := startedFact(h, t)
	if err := h.saga.Run(context.Background(), started); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(observed.Stages) != 2 {
		t.Fatalf("stages seen = %v, want 2 entries", observed.Stages)
	}
	if observed.EstimatedRemaining <= 0 {
		t.Fatalf("estimated remaining = %v, want > 0", observed.EstimatedRemaining)
	}
}

type progressSpy struct {
	store   *memory.Store
	observe func(ports.ProgressRecord)
}

func (p progressSpy) Put(ctx context.Context, record ports.ProgressRecord) error {
	p.observe(record)
	return p.store.Put(ctx, record)
}

func (p progressSpy) Delete(ctx context.Context, vmID string) error {
	return p.store.Delete(ctx, vmID)
}

func TestSagaDuplicateRunDoesNotDuplicateTimeline(t *testing.T) {
	machine := &scriptedProvisioner{
		result: ports.ProvisionResult{HypervisorVMID: "hv-1", IPAddress: "10.0.0.5", Hostname: "db-primary"},
	}
	h := newSagaHarness(t, machine)
	h.configs.Set("tenant-1", tenantConfig())

	started := startedFact(h, t)
	if err := h.saga.Run(context.Background(), started); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	// redelivery of the same fact; terminal-stage guards reject the second
	// outcome event but the timeline upsert must stay stable
	if err := h.saga.Run(context.Background(), started); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	entries := h.store.TimelineFor("req-1")
	if len(entries) != 1 {
		t.Fatalf("timeline entries = %d, want 1", len(entries))
	}
}

func TestSagaVMNameCarriesProjectPrefix(t *testing.T) {
	machine := &scriptedProvisioner{
		result: ports.ProvisionResult{HypervisorVMID: "hv-1", IPAddress: "10.0.0.5"},
	}
	h := newSagaHarness(t, machine)
	h.configs.Set("tenant-1", tenantConfig())

	var specName string
	h.saga.Machine = provisionerFunc(func(ctx context.Context, spec ports.ProvisionSpec, onProgress func(string)) (ports.ProvisionResult, error) {
		specName = spec.Name
		return machine.CreateVM(ctx, spec, onProgress)
	})

	started := startedFact(h, t)
	if err := h.saga.Run(context.Background(), started); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if specName != "WEBS-db-primary" {
		t.Fatalf("derived name = %q, want WEBS-db-primary", specName)
	}
}

type provisionerFunc func(ctx context.Context, spec ports.ProvisionSpec, onProgress func(stage string)) (ports.ProvisionResult, error)

func (f provisionerFunc) CreateVM(ctx context.Context, spec ports.ProvisionSpec, onProgress func(stage string)) (ports.ProvisionResult, error) {
	return f(ctx, spec, onProgress)
}
