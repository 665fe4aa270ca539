package requestservice

import (
	"log/slog"

	httpadapter "vmforge/contexts/provisioning/request-service/adapters/http"
	"vmforge/contexts/provisioning/request-service/adapters/memory"
	"vmforge/contexts/provisioning/request-service/application"
	"vmforge/contexts/provisioning/request-service/ports"
	"vmforge/internal/shared/eventstore"
)

type Module struct {
	Service application.Service
	Handler httpadapter.Handler
	Store   *memory.Store
}

type Dependencies struct {
	EventStore eventstore.Store
	Projection ports.ProjectionUpdater
	Timeline   ports.TimelineUpdater
	Notifier   ports.NotificationSender
	Starter    ports.ProvisioningStarter
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	Logger     *slog.Logger
}

func NewModule(deps Dependencies) Module {
	service := application.Service{
		Store:      deps.EventStore,
		Projection: deps.Projection,
		Timeline:   deps.Timeline,
		Notifier:   deps.Notifier,
		Starter:    deps.Starter,
		Clock:      deps.Clock,
		IDGen:      deps.IDGen,
		Logger:     deps.Logger,
	}
	return Module{
		Service: service,
		Handler: httpadapter.Handler{
			Service: service,
			Logger:  deps.Logger,
		},
	}
}

func NewInMemoryModule(store eventstore.Store, starter ports.ProvisioningStarter, logger *slog.Logger) Module {
	views := memory.NewStore()
	module := NewModule(Dependencies{
		EventStore: store,
		Projection: views,
		Timeline:   views,
		Notifier:   views,
		Starter:    starter,
		Clock:      memory.SystemClock{},
		IDGen:      memory.UUIDGenerator{},
		Logger:     logger,
	})
	module.Store = views
	return module
}
