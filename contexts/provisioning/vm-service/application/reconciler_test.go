package application

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"vmforge/contexts/provisioning/vm-service/domain"
	"vmforge/contexts/provisioning/vm-service/ports"
	"vmforge/internal/shared/eventstore"
)

type fixedStuckSource struct{ stuck []ports.StuckRequest }

func (s fixedStuckSource) ListProvisioning(_ context.Context, _ time.Time) ([]ports.StuckRequest, error) {
	return s.stuck, nil
}

func newReconcilerHarness(t *testing.T, stuck []ports.StuckRequest) (*Reconciler, Service, *recordingCompleter) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	vms := Service{
		Store:  eventstore.NewMemoryStore(nil, logger),
		Clock:  clock,
		Logger: logger,
	}
	completer := &recordingCompleter{}
	rec := &Reconciler{
		Stuck:      fixedStuckSource{stuck: stuck},
		VMs:        vms,
		Requests:   completer,
		StuckAfter: 10 * time.Minute,
		Deadline:   time.Hour,
		Clock:      clock,
		Logger:     logger,
	}
	return rec, vms, completer
}

func startVM(t *testing.T, vms Service, vmID, requestID string) {
	t.Helper()

	err := vms.StartProvisioning(context.Background(), ports.StartVMInput{
		VMID:      vmID,
		RequestID: requestID,
		TenantID:  "tenant-1",
		ProjectID: "proj-1",
		VMName:    "db-primary",
		Size:      domain.Size{Name: "small", CPUs: 2, MemoryMB: 4096, DiskGB: 50},
	})
	if err != nil {
		t.Fatalf("StartProvisioning: %v", err)
	}
}

func TestReconcilerMirrorsReadyOutcomeOntoRequest(t *testing.T) {
	stuck := []ports.StuckRequest{{
		RequestID: "req-1",
		TenantID:  "tenant-1",
		VMID:      "vm-1",
		UpdatedAt: time.Date(2025, 3, 1, 11, 30, 0, 0, time.UTC),
	}}
	rec, vms, completer := newReconcilerHarness(t, stuck)
	startVM(t, vms, "vm-1", "req-1")

	result := ports.ProvisionResult{HypervisorVMID: "hv-9", IPAddress: "10.0.0.9", Hostname: "db-primary"}
	if err := vms.MarkProvisioned(context.Background(), "vm-1", result, "corr-1"); err != nil {
		t.Fatalf("MarkProvisioned: %v", err)
	}

	repaired, err := rec.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("repaired = %d, want 1", repaired)
	}
	if len(completer.ready) != 1 || completer.ready[0] != "req-1" {
		t.Fatalf("MarkReady calls = %v", completer.ready)
	}
	if len(completer.failed) != 0 {
		t.Fatalf("unexpected MarkFailed calls: %v", completer.failed)
	}
}

func TestReconcilerMirrorsFailedOutcomeOntoRequest(t *testing.T) {
	stuck := []ports.StuckRequest{{
		RequestID: "req-1",
		TenantID:  "tenant-1",
		VMID:      "vm-1",
		UpdatedAt: time.Date(2025, 3, 1, 11, 30, 0, 0, time.UTC),
	}}
	rec, vms, completer := newReconcilerHarness(t, stuck)
	startVM(t, vms, "vm-1", "req-1")

	if err := vms.MarkFailed(context.Background(), "vm-1", "clone task error", "PROVISIONING", 5, "corr-1"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	repaired, err := rec.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("repaired = %d, want 1", repaired)
	}
	if len(completer.failed) != 1 {
		t.Fatalf("MarkFailed calls = %v", completer.failed)
	}
}

func TestReconcilerLeavesInFlightRunsBeforeDeadline(t *testing.T) {
	stuck := []ports.StuckRequest{{
		RequestID: "req-1",
		TenantID:  "tenant-1",
		VMID:      "vm-1",
		UpdatedAt: time.Date(2025, 3, 1, 11, 30, 0, 0, time.UTC), // 30m old, deadline 1h
	}}
	rec, vms, completer := newReconcilerHarness(t, stuck)
	startVM(t, vms, "vm-1", "req-1")

	if err := vms.UpdateProgress(context.Background(), "vm-1", domain.StageCloning, "corr-1"); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	repaired, err := rec.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if repaired != 0 {
		t.Fatalf("repaired = %d, want 0", repaired)
	}
	if len(completer.ready)+len(completer.failed) != 0 {
		t.Fatal("in-flight run should be left alone before the deadline")
	}
}

func TestReconcilerFailsRunsPastHardDeadline(t *testing.T) {
	stuck := []ports.StuckRequest{{
		RequestID: "req-1",
		TenantID:  "tenant-1",
		VMID:      "vm-1",
		UpdatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), // 3h old
	}}
	rec, vms, completer := newReconcilerHarness(t, stuck)
	startVM(t, vms, "vm-1", "req-1")

	repaired, err := rec.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("repaired = %d, want 1", repaired)
	}
	if len(completer.failed) != 1 {
		t.Fatalf("MarkFailed calls = %v", completer.failed)
	}

	vm, err := vms.GetVM(context.Background(), "vm-1")
	if err != nil {
		t.Fatalf("GetVM: %v", err)
	}
	if vm.Stage != domain.StageFailed {
		t.Fatalf("vm stage = %s, want FAILED", vm.Stage)
	}
}
