package vmservice

import (
	"log/slog"
	"time"

	"vmforge/contexts/provisioning/vm-service/adapters/memory"
	"vmforge/contexts/provisioning/vm-service/application"
	"vmforge/contexts/provisioning/vm-service/ports"
	"vmforge/internal/shared/eventstore"
)

type Module struct {
	Service    application.Service
	Saga       *application.Saga
	Reconciler *application.Reconciler
	Store      *memory.Store
}

type Dependencies struct {
	EventStore eventstore.Store
	Configs    ports.HypervisorConfigSource
	Projects   ports.ProjectDirectory
	Machine    ports.Provisioner
	Progress   ports.ProgressStore
	Timeline   ports.TimelineUpdater
	Notifier   ports.NotificationSender
	Requests   ports.RequestCompleter
	Stuck      ports.StuckRequestSource

	AdminAddress string
	StuckAfter   time.Duration
	Deadline     time.Duration

	Clock  ports.Clock
	Logger *slog.Logger
}

func NewModule(deps Dependencies) Module {
	service := application.Service{
		Store:  deps.EventStore,
		Clock:  deps.Clock,
		Logger: deps.Logger,
	}
	saga := &application.Saga{
		Configs:      deps.Configs,
		Projects:     deps.Projects,
		Machine:      deps.Machine,
		Progress:     deps.Progress,
		Timeline:     deps.Timeline,
		Notifier:     deps.Notifier,
		Requests:     deps.Requests,
		VMs:          service,
		AdminAddress: deps.AdminAddress,
		Clock:        deps.Clock,
		Logger:       deps.Logger,
	}
	var reconciler *application.Reconciler
	if deps.Stuck != nil {
		reconciler = &application.Reconciler{
			Stuck:      deps.Stuck,
			VMs:        service,
			Requests:   deps.Requests,
			StuckAfter: deps.StuckAfter,
			Deadline:   deps.Deadline,
			Clock:      deps.Clock,
			Logger:     deps.Logger,
		}
	}
	return Module{Service: service, Saga: saga, Reconciler: reconciler}
}

func NewInMemoryModule(store eventstore.Store, machine ports.Provisioner, requests ports.RequestCompleter, configs *memory.ConfigSource, logger *slog.Logger) Module {
	sideEffects := memory.NewStore()
	module := NewModule(Dependencies{
		EventStore: store,
		Configs:    configs,
		Projects:   memory.NewProjectDirectory(),
		Machine:    machine,
		Progress:   sideEffects,
		Timeline:   sideEffects,
		Notifier:   sideEffects,
		Requests:   requests,
		Clock:      memory.SystemClock{},
		Logger:     logger,
	})
	module.Store = sideEffects
	return module
}
