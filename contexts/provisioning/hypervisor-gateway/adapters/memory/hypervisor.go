package memory

import (
	"context"
	"fmt"
	"sync"

	hyperrors "vmforge/contexts/provisioning/hypervisor-gateway/domain/errors"
	"vmforge/contexts/provisioning/hypervisor-gateway/ports"
)

// Simulator is a scriptable in-memory hypervisor behind ports.API. It backs
// the in-memory wiring and the gateway tests: failure counters make the
// first N calls of an operation fail, task and guest-IP polls resolve after
// a configurable number of ticks.
type Simulator struct {
	mu sync.Mutex

	// Password, when set, must match the login credential.
	Password string

	// Failure scripting. Each counter is consumed one failure at a time.
	LoginFailures int
	CloneFailures int
	PingErr       error

	// TaskPolls is how many RUNNING statuses a clone task reports before
	// SUCCEEDED. TaskFails makes the task end in FAILED instead.
	TaskPolls int
	TaskFails bool

	// IPPolls is how many empty guest-IP answers precede an address.
	// Negative means the address never appears.
	IPPolls int

	// KnownTemplates, when non-empty, restricts inventory resolution.
	KnownTemplates map[string]bool

	logins int
	vmSeq  int
	vms    map[string]*simVM
	tasks  map[string]*simTask
}

type simVM struct {
	info    ports.VMInfo
	ipPolls int
}

type simTask struct {
	polls  int
	failed bool
}

func NewSimulator() *Simulator {
	return &Simulator{
		vms:   make(map[string]*simVM),
		tasks: make(map[string]*simTask),
	}
}

// Logins reports how many successful logins have happened.
func (s *Simulator) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.logins
}

// SetPingError scripts the next keepalive outcome.
func (s *Simulator) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.PingErr = err
}

// VMCount reports how many machines currently exist.
func (s *Simulator) VMCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.vms)
}

func (s *Simulator) Login(_ context.Context, params ports.ConnectionParams) (ports.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.LoginFailures > 0 {
		s.LoginFailures--
		return nil, hyperrors.Connection("simulated login outage", nil)
	}
	if s.Password != "" && params.Password != s.Password {
		return nil, hyperrors.Authentication("bad credentials", nil)
	}
	s.logins++
	return &simConnection{sim: s}, nil
}

type simConnection struct {
	sim    *Simulator
	closed bool
}

func (c *simConnection) Ping(_ context.Context) error {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	if c.closed {
		return hyperrors.Connection("session closed", nil)
	}
	return c.sim.PingErr
}

func (c *simConnection) FindInventory(_ context.Context, query ports.InventoryQuery) (ports.Inventory, error) {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	if len(c.sim.KnownTemplates) > 0 && !c.sim.KnownTemplates[query.Template] {
		return ports.Inventory{}, hyperrors.NotFound(fmt.Sprintf("template %q not found", query.Template), nil)
	}
	return ports.Inventory{
		DatacenterID:   "dc:" + query.Datacenter,
		ClusterID:      "cluster:" + query.Cluster,
		DatastoreID:    "ds:" + query.Datastore,
		NetworkID:      "net:" + query.Network,
		TemplateID:     "tpl:" + query.Template,
		ResourcePoolID: "pool:" + query.ResourcePool,
		FolderID:       "folder:" + query.FolderPath,
	}, nil
}

func (c *simConnection) ListInventory(_ context.Context, kind ports.InventoryKind) ([]string, error) {
	switch kind {
	case ports.InventoryDatacenters:
		return []string{"east-1", "west-1"}, nil
	case ports.InventoryClusters:
		return []string{"general", "gpu"}, nil
	case ports.InventoryDatastores:
		return []string{"ssd-pool", "archive-pool"}, nil
	case ports.InventoryNetworks:
		return []string{"tenant-lan", "dmz"}, nil
	case ports.InventoryResourcePools:
		return []string{"default", "burst"}, nil
	}
	return nil, hyperrors.NotFound(fmt.Sprintf("unknown inventory kind %q", kind), nil)
}

func (c *simConnection) CloneTemplate(_ context.Context, req ports.CloneRequest) (string, string, error) {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	if c.sim.CloneFailures > 0 {
		c.sim.CloneFailures--
		return "", "", hyperrors.Connection("simulated clone dispatch failure", nil)
	}
	c.sim.vmSeq++
	vmID := fmt.Sprintf("sim-vm-%d", c.sim.vmSeq)
	taskID := fmt.Sprintf("sim-task-%d", c.sim.vmSeq)
	c.sim.vms[vmID] = &simVM{
		info: ports.VMInfo{
			VMID:     vmID,
			Name:     req.Name,
			Hostname: req.Name,
		},
		ipPolls: c.sim.IPPolls,
	}
	c.sim.tasks[taskID] = &simTask{polls: c.sim.TaskPolls, failed: c.sim.TaskFails}
	return taskID, vmID, nil
}

func (c *simConnection) TaskStatus(_ context.Context, taskID string) (ports.TaskStatus, error) {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	task, ok := c.sim.tasks[taskID]
	if !ok {
		return ports.TaskStatus{}, hyperrors.NotFound(fmt.Sprintf("task %q not found", taskID), nil)
	}
	if task.polls > 0 {
		task.polls--
		return ports.TaskStatus{State: ports.TaskRunning}, nil
	}
	if task.failed {
		return ports.TaskStatus{State: ports.TaskFailed, Message: "simulated clone error"}, nil
	}
	return ports.TaskStatus{State: ports.TaskSucceeded}, nil
}

func (c *simConnection) PowerOn(_ context.Context, vmID string) error {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	vm, ok := c.sim.vms[vmID]
	if !ok {
		return hyperrors.NotFound(fmt.Sprintf("vm %q not found", vmID), nil)
	}
	vm.info.PoweredOn = true
	return nil
}

func (c *simConnection) GuestIP(_ context.Context, vmID string) (string, error) {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	vm, ok := c.sim.vms[vmID]
	if !ok {
		return "", hyperrors.NotFound(fmt.Sprintf("vm %q not found", vmID), nil)
	}
	if vm.ipPolls < 0 {
		return "", nil
	}
	if vm.ipPolls > 0 {
		vm.ipPolls--
		return "", nil
	}
	vm.info.IPAddress = fmt.Sprintf("10.0.0.%d", 10+len(c.sim.vms))
	return vm.info.IPAddress, nil
}

func (c *simConnection) VMInfo(_ context.Context, vmID string) (ports.VMInfo, error) {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	vm, ok := c.sim.vms[vmID]
	if !ok {
		return ports.VMInfo{}, hyperrors.NotFound(fmt.Sprintf("vm %q not found", vmID), nil)
	}
	return vm.info, nil
}

func (c *simConnection) Delete(_ context.Context, vmID string) error {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	if _, ok := c.sim.vms[vmID]; !ok {
		return hyperrors.NotFound(fmt.Sprintf("vm %q not found", vmID), nil)
	}
	delete(c.sim.vms, vmID)
	return nil
}

func (c *simConnection) Logout(_ context.Context) error {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	c.closed = true
	return nil
}
