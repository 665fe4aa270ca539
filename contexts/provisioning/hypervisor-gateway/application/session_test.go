package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"vmforge/contexts/provisioning/hypervisor-gateway/adapters/memory"
	hyperrors "vmforge/contexts/provisioning/hypervisor-gateway/domain/errors"
	"vmforge/contexts/provisioning/hypervisor-gateway/ports"
)

func instantSleep(_ context.Context, _ time.Duration) error { return nil }

func newSessionFixture(t *testing.T, settings SessionSettings) (*SessionManager, *memory.Simulator) {
	t.Helper()

	sim := memory.NewSimulator()
	configs := memory.NewConfigStore()
	_, err := configs.Put(context.Background(), ports.HypervisorConfiguration{
		TenantID:       "t1",
		URL:            "https://vcenter.example",
		Username:       "svc-provision",
		SealedPassword: "secret",
		Datacenter:     "dc-1",
		Cluster:        "cluster-a",
		Datastore:      "ds-ssd",
		Network:        "vlan-40",
		Template:       "ubuntu-22.04",
	})
	if err != nil {
		t.Fatalf("seeding config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewSessionManager(configs, memory.PassthroughSealer{}, sim, settings, nil, logger)
	m.SetSleep(instantSleep)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, sim
}

func testSpec() ports.VMSpec {
	return ports.VMSpec{
		TenantID:   "t1",
		Name:       "WEBS-db-primary",
		Template:   "ubuntu-22.04",
		Datacenter: "dc-1",
		Cluster:    "cluster-a",
		Datastore:  "ds-ssd",
		Network:    "vlan-40",
		CPUs:       4,
		MemoryMB:   8192,
		DiskGB:     100,
	}
}

func TestSessionIsCachedAcrossCalls(t *testing.T) {
	m, sim := newSessionFixture(t, SessionSettings{KeepaliveInterval: time.Hour})

	for i := 0; i < 3; i++ {
		if err := m.TestConnection(context.Background(), "t1"); err != nil {
			t.Fatalf("TestConnection %d: %v", i, err)
		}
	}
	if sim.Logins() != 1 {
		t.Fatalf("logins = %d, want 1 cached session", sim.Logins())
	}
}

func TestListInventoryReusesTenantSession(t *testing.T) {
	m, sim := newSessionFixture(t, SessionSettings{KeepaliveInterval: time.Hour})

	datacenters, err := m.ListInventory(context.Background(), "t1", ports.InventoryDatacenters)
	if err != nil {
		t.Fatalf("ListInventory datacenters: %v", err)
	}
	if len(datacenters) == 0 {
		t.Fatal("expected at least one datacenter name")
	}
	if _, err := m.ListInventory(context.Background(), "t1", ports.InventoryNetworks); err != nil {
		t.Fatalf("ListInventory networks: %v", err)
	}
	if sim.Logins() != 1 {
		t.Fatalf("logins = %d, want 1 cached session", sim.Logins())
	}
}

func TestKeepaliveFailureEvictsSession(t *testing.T) {
	m, sim := newSessionFixture(t, SessionSettings{KeepaliveInterval: 5 * time.Millisecond})

	if err := m.TestConnection(context.Background(), "t1"); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	sim.SetPingError(hyperrors.Connection("session dropped", nil))

	deadline := time.Now().Add(2 * time.Second)
	evicted := false
	for time.Now().Before(deadline) {
		sim.SetPingError(hyperrors.Connection("session dropped", nil))
		time.Sleep(10 * time.Millisecond)
		sim.SetPingError(nil)
		if err := m.TestConnection(context.Background(), "t1"); err == nil && sim.Logins() == 2 {
			evicted = true
			break
		}
	}
	if !evicted {
		t.Fatalf("session never evicted after ping failures, logins = %d", sim.Logins())
	}
}

func TestCreateVMReportsStagesInOrder(t *testing.T) {
	m, sim := newSessionFixture(t, SessionSettings{KeepaliveInterval: time.Hour})
	sim.TaskPolls = 2
	sim.IPPolls = 2

	var stages []string
	result, err := m.CreateVM(context.Background(), testSpec(), func(stage string) {
		stages = append(stages, stage)
	})
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}

	want := []string{StageCloning, StageConfiguring, StagePoweringOn, StageWaitingForNetwork}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage %d = %s, want %s", i, stages[i], want[i])
		}
	}
	if result.VMID == "" || result.IPAddress == "" {
		t.Fatalf("result = %+v, want vm id and address", result)
	}
	if result.Warning != "" {
		t.Fatalf("unexpected warning %q", result.Warning)
	}
	if result.Hostname != "WEBS-db-primary" {
		t.Fatalf("hostname = %q", result.Hostname)
	}
}

func TestCreateVMGuestIPTimeoutIsPartialSuccess(t *testing.T) {
	m, sim := newSessionFixture(t, SessionSettings{
		KeepaliveInterval: time.Hour,
		IPTimeout:         time.Nanosecond,
	})
	sim.IPPolls = -1 // address never appears

	result, err := m.CreateVM(context.Background(), testSpec(), nil)
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	if result.IPAddress != "" {
		t.Fatalf("ip = %q, want empty on detection timeout", result.IPAddress)
	}
	if result.Warning == "" {
		t.Fatal("partial success must carry a warning")
	}
	if result.VMID == "" {
		t.Fatal("partial success must still name the machine")
	}
}

func TestCreateVMCloneTaskFailureCleansUpPartialVM(t *testing.T) {
	m, sim := newSessionFixture(t, SessionSettings{KeepaliveInterval: time.Hour})
	sim.TaskFails = true

	_, err := m.CreateVM(context.Background(), testSpec(), nil)
	if hyperrors.KindOf(err) != hyperrors.KindProvisioning {
		t.Fatalf("err = %v, want provisioning kind", err)
	}
	if hyperrors.Retriable(err) {
		t.Fatal("clone task failure must be permanent")
	}
	if sim.VMCount() != 0 {
		t.Fatalf("partial vm left behind, count = %d", sim.VMCount())
	}
}

func TestCreateVMUnknownTenantFailsWithConfigNotFound(t *testing.T) {
	m, _ := newSessionFixture(t, SessionSettings{KeepaliveInterval: time.Hour})

	spec := testSpec()
	spec.TenantID = "nobody"
	_, err := m.CreateVM(context.Background(), spec, nil)
	if !errors.Is(err, hyperrors.ErrConfigNotFound) {
		t.Fatalf("err = %v, want ErrConfigNotFound", err)
	}
}

func TestCreateVMBadCredentialIsAuthenticationError(t *testing.T) {
	m, sim := newSessionFixture(t, SessionSettings{KeepaliveInterval: time.Hour})
	sim.Password = "other-secret"

	_, err := m.CreateVM(context.Background(), testSpec(), nil)
	if hyperrors.KindOf(err) != hyperrors.KindAuthentication {
		t.Fatalf("err = %v, want authentication kind", err)
	}
	if hyperrors.Retriable(err) {
		t.Fatal("authentication failures must be permanent")
	}
}

func TestDeleteVMRemovesMachine(t *testing.T) {
	m, sim := newSessionFixture(t, SessionSettings{KeepaliveInterval: time.Hour})

	result, err := m.CreateVM(context.Background(), testSpec(), nil)
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	if err := m.DeleteVM(context.Background(), "t1", result.VMID); err != nil {
		t.Fatalf("DeleteVM: %v", err)
	}
	if sim.VMCount() != 0 {
		t.Fatalf("vm count = %d, want 0", sim.VMCount())
	}
}
