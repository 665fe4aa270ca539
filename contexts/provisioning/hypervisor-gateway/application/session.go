package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	hyperrors "vmforge/contexts/provisioning/hypervisor-gateway/domain/errors"
	"vmforge/contexts/provisioning/hypervisor-gateway/ports"
)

// Provisioning stage names reported through onProgress callbacks.
const (
	StageCloning           = "CLONING"
	StageConfiguring       = "CONFIGURING"
	StagePoweringOn        = "POWERING_ON"
	StageWaitingForNetwork = "WAITING_FOR_NETWORK"
)

// SessionSettings tune polling and keepalive. Zero values fall back to the
// defaults.
type SessionSettings struct {
	KeepaliveInterval time.Duration
	TaskPollInterval  time.Duration
	TaskTimeout       time.Duration
	IPPollInterval    time.Duration
	IPTimeout         time.Duration
}

func (s SessionSettings) withDefaults() SessionSettings {
	if s.KeepaliveInterval <= 0 {
		s.KeepaliveInterval = 60 * time.Second
	}
	if s.TaskPollInterval <= 0 {
		s.TaskPollInterval = 2 * time.Second
	}
	if s.TaskTimeout <= 0 {
		s.TaskTimeout = 10 * time.Minute
	}
	if s.IPPollInterval <= 0 {
		s.IPPollInterval = 5 * time.Second
	}
	if s.IPTimeout <= 0 {
		s.IPTimeout = 4 * time.Minute
	}
	return s
}

type session struct {
	tenantID string
	conn     ports.Connection
	cancel   context.CancelFunc
}

// SessionManager implements ports.Hypervisor atop the low-level API. It
// caches one authenticated session per tenant, keeps each alive with a
// background ping loop and evicts on ping failure so the next caller
// re-authenticates.
type SessionManager struct {
	configs  ports.ConfigStore
	sealer   ports.Sealer
	api      ports.API
	settings SessionSettings
	clock    ports.Clock
	logger   *slog.Logger

	// sleep paces the task and guest-IP polls; tests inject a stub.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	sessions map[string]*session
	root     context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

func NewSessionManager(configs ports.ConfigStore, sealer ports.Sealer, api ports.API, settings SessionSettings, clock ports.Clock, logger *slog.Logger) *SessionManager {
	root, stop := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		configs:  configs,
		sealer:   sealer,
		api:      api,
		settings: settings.withDefaults(),
		clock:    clock,
		logger:   logger,
		sleep:    ctxSleep,
		sessions: make(map[string]*session),
		root:     root,
		stop:     stop,
	}
}

// SetSleep replaces the polling pause. Test hook.
func (m *SessionManager) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	m.sleep = sleep
}

// Close tears down every cached session and its keepalive loop.
func (m *SessionManager) Close(ctx context.Context) {
	m.stop()

	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		if err := s.conn.Logout(ctx); err != nil {
			m.logger.Warn("session logout failed",
				"event", "hypervisor_logout_failed",
				"tenant_id", s.tenantID,
				"error", err,
			)
		}
	}
	m.wg.Wait()
}

// ensureSession returns the cached session for the tenant or authenticates
// a new one and starts its keepalive loop.
func (m *SessionManager) ensureSession(ctx context.Context, tenantID string) (*session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[tenantID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	cfg, err := m.configs.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, hyperrors.ErrConfigNotFound) {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		return nil, fmt.Errorf("loading hypervisor configuration for tenant %s: %w", tenantID, err)
	}
	password, err := m.sealer.Open(cfg.SealedPassword)
	if err != nil {
		return nil, hyperrors.Authentication("opening sealed credential", err)
	}
	conn, err := m.api.Login(ctx, ports.ConnectionParams{
		URL:      cfg.URL,
		Username: cfg.Username,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	keepaliveCtx, cancel := context.WithCancel(m.root)
	s := &session{tenantID: tenantID, conn: conn, cancel: cancel}

	m.mu.Lock()
	if existing, ok := m.sessions[tenantID]; ok {
		// lost the race; keep the existing session
		m.mu.Unlock()
		cancel()
		if err := conn.Logout(ctx); err != nil {
			m.logger.Warn("duplicate session logout failed",
				"event", "hypervisor_logout_failed",
				"tenant_id", tenantID,
				"error", err,
			)
		}
		return existing, nil
	}
	m.sessions[tenantID] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go m.keepalive(keepaliveCtx, s)

	m.logger.Info("hypervisor session established",
		"event", "hypervisor_session_created",
		"module", "provisioning/hypervisor-gateway",
		"layer", "application",
		"tenant_id", tenantID,
	)
	return s, nil
}

func (m *SessionManager) keepalive(ctx context.Context, s *session) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.settings.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.Ping(ctx); err != nil {
				m.logger.Warn("keepalive ping failed, evicting session",
					"event", "hypervisor_session_evicted",
					"tenant_id", s.tenantID,
					"error", err,
				)
				m.evict(s)
				return
			}
		}
	}
}

// evict drops the session from the cache if it is still the cached one and
// stops its keepalive loop.
func (m *SessionManager) evict(s *session) {
	m.mu.Lock()
	if current, ok := m.sessions[s.tenantID]; ok && current == s {
		delete(m.sessions, s.tenantID)
	}
	m.mu.Unlock()
	s.cancel()
}

func (m *SessionManager) TestConnection(ctx context.Context, tenantID string) error {
	s, err := m.ensureSession(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := s.conn.Ping(ctx); err != nil {
		m.evict(s)
		return err
	}
	return nil
}

// ListInventory names the placement objects of one kind visible to the
// tenant's session.
func (m *SessionManager) ListInventory(ctx context.Context, tenantID string, kind ports.InventoryKind) ([]string, error) {
	s, err := m.ensureSession(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	names, err := s.conn.ListInventory(ctx, kind)
	if err != nil {
		return nil, m.maybeEvict(s, err)
	}
	return names, nil
}

// CreateVM provisions one machine: resolve inventory by name, clone the
// template, wait for the clone task, power on, then poll for a guest IP. An
// IP-detection timeout alone is a partial success with a warning, never a
// failure.
func (m *SessionManager) CreateVM(ctx context.Context, spec ports.VMSpec, onProgress func(stage string)) (ports.VMResult, error) {
	s, err := m.ensureSession(ctx, spec.TenantID)
	if err != nil {
		return ports.VMResult{}, err
	}
	stage := func(name string) {
		if onProgress != nil {
			onProgress(name)
		}
	}

	stage(StageCloning)
	inventory, err := s.conn.FindInventory(ctx, ports.InventoryQuery{
		Datacenter:   spec.Datacenter,
		Cluster:      spec.Cluster,
		Datastore:    spec.Datastore,
		Network:      spec.Network,
		Template:     spec.Template,
		ResourcePool: spec.ResourcePool,
		FolderPath:   spec.FolderPath,
	})
	if err != nil {
		return ports.VMResult{}, m.maybeEvict(s, err)
	}

	taskID, vmID, err := s.conn.CloneTemplate(ctx, ports.CloneRequest{
		Name:      spec.Name,
		Inventory: inventory,
		CPUs:      spec.CPUs,
		MemoryMB:  spec.MemoryMB,
		DiskGB:    spec.DiskGB,
	})
	if err != nil {
		return ports.VMResult{}, m.maybeEvict(s, err)
	}

	stage(StageConfiguring)
	if err := m.awaitTask(ctx, s, taskID); err != nil {
		m.cleanupPartial(ctx, s, spec.TenantID, vmID)
		return ports.VMResult{}, err
	}

	stage(StagePoweringOn)
	if err := s.conn.PowerOn(ctx, vmID); err != nil {
		m.cleanupPartial(ctx, s, spec.TenantID, vmID)
		return ports.VMResult{}, m.maybeEvict(s, err)
	}

	stage(StageWaitingForNetwork)
	ip, warning, err := m.awaitGuestIP(ctx, s, vmID)
	if err != nil {
		return ports.VMResult{}, err
	}

	result := ports.VMResult{VMID: vmID, IPAddress: ip, Warning: warning}
	if info, err := s.conn.VMInfo(ctx, vmID); err == nil {
		result.Hostname = info.Hostname
	}
	return result, nil
}

func (m *SessionManager) GetVM(ctx context.Context, tenantID, vmID string) (ports.VMInfo, error) {
	s, err := m.ensureSession(ctx, tenantID)
	if err != nil {
		return ports.VMInfo{}, err
	}
	info, err := s.conn.VMInfo(ctx, vmID)
	if err != nil {
		return ports.VMInfo{}, m.maybeEvict(s, err)
	}
	return info, nil
}

// DeleteVM removes a VM, used as the compensating action for partially
// created machines.
func (m *SessionManager) DeleteVM(ctx context.Context, tenantID, vmID string) error {
	s, err := m.ensureSession(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := s.conn.Delete(ctx, vmID); err != nil {
		return m.maybeEvict(s, err)
	}
	return nil
}

// awaitTask polls the clone task until it reaches a terminal state or the
// task budget runs out.
func (m *SessionManager) awaitTask(ctx context.Context, s *session, taskID string) error {
	deadline := m.now().Add(m.settings.TaskTimeout)
	for {
		status, err := s.conn.TaskStatus(ctx, taskID)
		if err != nil {
			return m.maybeEvict(s, err)
		}
		switch status.State {
		case ports.TaskSucceeded:
			return nil
		case ports.TaskFailed:
			return hyperrors.Provisioning(fmt.Sprintf("clone task failed: %s", status.Message), nil)
		}
		if m.now().After(deadline) {
			return hyperrors.Timeout(fmt.Sprintf("clone task %s did not finish within %s", taskID, m.settings.TaskTimeout), nil)
		}
		if err := m.sleep(ctx, m.settings.TaskPollInterval); err != nil {
			return err
		}
	}
}

// awaitGuestIP polls the guest agent for an address. Running out of the IP
// budget is a partial success: empty address plus a warning.
func (m *SessionManager) awaitGuestIP(ctx context.Context, s *session, vmID string) (ip, warning string, err error) {
	deadline := m.now().Add(m.settings.IPTimeout)
	for {
		ip, err := s.conn.GuestIP(ctx, vmID)
		if err != nil {
			return "", "", m.maybeEvict(s, err)
		}
		if ip != "" {
			return ip, "", nil
		}
		if m.now().After(deadline) {
			return "", fmt.Sprintf("guest IP not detected within %s; the machine is running without a known address", m.settings.IPTimeout), nil
		}
		if err := m.sleep(ctx, m.settings.IPPollInterval); err != nil {
			return "", "", err
		}
	}
}

// cleanupPartial best-effort deletes a half-created VM so retries do not
// collide with its name.
func (m *SessionManager) cleanupPartial(ctx context.Context, s *session, tenantID, vmID string) {
	if vmID == "" {
		return
	}
	if err := s.conn.Delete(ctx, vmID); err != nil {
		m.logger.Warn("partial vm cleanup failed",
			"event", "hypervisor_cleanup_failed",
			"tenant_id", tenantID,
			"vm_id", vmID,
			"error", err,
		)
	}
}

// maybeEvict drops the cached session on authentication failures so the
// next call re-authenticates, and passes the error through.
func (m *SessionManager) maybeEvict(s *session, err error) error {
	if hyperrors.KindOf(err) == hyperrors.KindAuthentication {
		m.evict(s)
	}
	return err
}

func (m *SessionManager) now() time.Time {
	if m.clock != nil {
		return m.clock.Now()
	}
	return time.Now()
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
