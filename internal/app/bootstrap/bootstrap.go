package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	hypervisorgateway "vmforge/contexts/provisioning/hypervisor-gateway"
	gatewaymemory "vmforge/contexts/provisioning/hypervisor-gateway/adapters/memory"
	gatewaypostgres "vmforge/contexts/provisioning/hypervisor-gateway/adapters/postgres"
	gatewayapp "vmforge/contexts/provisioning/hypervisor-gateway/application"
	requestservice "vmforge/contexts/provisioning/request-service"
	requestnotify "vmforge/contexts/provisioning/request-service/adapters/notify"
	requestpostgres "vmforge/contexts/provisioning/request-service/adapters/postgres"
	vmservice "vmforge/contexts/provisioning/vm-service"
	vmmemory "vmforge/contexts/provisioning/vm-service/adapters/memory"
	vmnotify "vmforge/contexts/provisioning/vm-service/adapters/notify"
	vmpostgres "vmforge/contexts/provisioning/vm-service/adapters/postgres"
	vmapp "vmforge/contexts/provisioning/vm-service/application"
	vmdomain "vmforge/contexts/provisioning/vm-service/domain"
	"vmforge/internal/platform/config"
	"vmforge/internal/platform/crypto"
	"vmforge/internal/platform/db"
	"vmforge/internal/platform/httpserver"
	"vmforge/internal/platform/messaging"
	"vmforge/internal/shared/eventstore"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	bus      *messaging.Bus
	saga     *vmapp.Saga
	sessions *gatewayapp.SessionManager
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres   *db.Postgres
	reconciler *vmapp.Reconciler
	interval   time.Duration
	logger     *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	if strings.TrimSpace(cfg.CredentialPassphrase) == "" {
		return nil, errors.New("CREDENTIAL_PASSPHRASE is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	sealer, err := crypto.NewSealer(cfg.CredentialPassphrase)
	if err != nil {
		return nil, err
	}

	bus := messaging.NewBus(logger)
	store := eventstore.NewPostgresStore(pg.DB, bus, logger)
	if err := store.Migrate(); err != nil {
		return nil, err
	}

	requestRepo := requestpostgres.NewRepository(pg.DB, logger)
	if err := requestRepo.Migrate(); err != nil {
		return nil, err
	}
	vmRepo := vmpostgres.NewRepository(pg.DB, logger)
	if err := vmRepo.Migrate(); err != nil {
		return nil, err
	}
	gatewayRepo := gatewaypostgres.NewRepository(pg.DB, logger)
	if err := gatewayRepo.Migrate(); err != nil {
		return nil, err
	}

	gatewayModule := hypervisorgateway.NewModule(hypervisorgateway.Dependencies{
		ConfigStore: gatewayRepo,
		Sealer:      sealer,
		API:         gatewaymemory.NewSimulator(),
		Sessions:    gatewayapp.SessionSettings{KeepaliveInterval: cfg.KeepaliveInterval},
		Clock:       gatewaypostgres.SystemClock{},
		Logger:      logger,
	})

	starter := &provisioningStarter{}
	requestModule := requestservice.NewModule(requestservice.Dependencies{
		EventStore: store,
		Projection: requestRepo,
		Timeline:   requestRepo,
		Notifier:   requestnotify.LogSender{Logger: logger},
		Starter:    starter,
		Clock:      requestpostgres.SystemClock{},
		IDGen:      requestpostgres.UUIDGenerator{},
		Logger:     logger,
	})

	vmModule := vmservice.NewModule(vmservice.Dependencies{
		EventStore:   store,
		Configs:      tenantConfigSource{store: gatewayRepo},
		Projects:     vmmemory.NewProjectDirectory(),
		Machine:      hypervisorProvisioner{hypervisor: gatewayModule.Hypervisor},
		Progress:     vmRepo,
		Timeline:     vmRepo,
		Notifier:     vmnotify.LogSender{AdminAddress: cfg.AdminEmail, Logger: logger},
		Requests:     requestModule.Service,
		AdminAddress: cfg.AdminEmail,
		Clock:        vmpostgres.SystemClock{},
		Logger:       logger,
	})
	starter.vms = vmModule.Service

	server := httpserver.New(requestModule, gatewayModule, requestRepo.TimelineFor, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		bus:      bus,
		saga:     vmModule.Saga,
		sessions: gatewayModule.Sessions,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	store := eventstore.NewPostgresStore(pg.DB, messaging.NewBus(logger), logger)
	requestRepo := requestpostgres.NewRepository(pg.DB, logger)
	requests := requestservice.NewModule(requestservice.Dependencies{
		EventStore: store,
		Projection: requestRepo,
		Timeline:   requestRepo,
		Notifier:   requestnotify.LogSender{Logger: logger},
		Clock:      requestpostgres.SystemClock{},
		IDGen:      requestpostgres.UUIDGenerator{},
		Logger:     logger,
	})

	return &WorkerApp{
		postgres: pg,
		reconciler: &vmapp.Reconciler{
			Stuck: stuckRequestSource{views: requestRepo},
			VMs: vmapp.Service{
				Store:  store,
				Clock:  vmpostgres.SystemClock{},
				Logger: logger,
			},
			Requests:   requests.Service,
			StuckAfter: cfg.ReconcileStuckAge,
			Deadline:   cfg.ReconcileDeadline,
			Clock:      vmpostgres.SystemClock{},
			Logger:     logger,
		},
		interval: cfg.ReconcileInterval,
		logger:   logger,
	}, nil
}

func (a *APIApp) Run(ctx context.Context) error {
	a.bus.Subscribe(ctx, vmdomain.EventTypeVMProvisioningStarted, "vm-provisioning-saga", a.saga.HandleStored)

	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.sessions != nil {
		a.sessions.Close(context.Background())
	}
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"reconcile_interval", w.interval.String(),
	)

	for {
		if _, err := w.reconciler.RunOnce(ctx); err != nil {
			w.logger.Error("reconciliation sweep failed",
				"event", "reconcile_sweep_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
