package hypervisorgateway

import (
	"log/slog"
	"time"

	"vmforge/contexts/provisioning/hypervisor-gateway/adapters/memory"
	"vmforge/contexts/provisioning/hypervisor-gateway/application"
	"vmforge/contexts/provisioning/hypervisor-gateway/ports"
)

type Module struct {
	// Hypervisor is the resilient surface: session manager wrapped in the
	// retry and circuit-breaker orchestrator.
	Hypervisor ports.Hypervisor
	Sessions   *application.SessionManager
	Configs    application.ConfigService
	Breaker    *application.Breaker
}

type Dependencies struct {
	ConfigStore ports.ConfigStore
	Sealer      ports.Sealer
	API         ports.API

	Retry    application.RetryPolicy
	Breaker  application.BreakerSettings
	Sessions application.SessionSettings

	Clock  ports.Clock
	Logger *slog.Logger
}

func NewModule(deps Dependencies) Module {
	var now func() time.Time
	if deps.Clock != nil {
		now = deps.Clock.Now
	}

	sessions := application.NewSessionManager(deps.ConfigStore, deps.Sealer, deps.API, deps.Sessions, deps.Clock, deps.Logger)
	breaker := application.NewBreaker(deps.Breaker, now)
	orchestrator := &application.Orchestrator{
		Inner:   sessions,
		Policy:  deps.Retry,
		Breaker: breaker,
		Logger:  deps.Logger,
	}
	return Module{
		Hypervisor: orchestrator,
		Sessions:   sessions,
		Configs: application.ConfigService{
			Store:  deps.ConfigStore,
			Sealer: deps.Sealer,
			Clock:  deps.Clock,
			Logger: deps.Logger,
		},
		Breaker: breaker,
	}
}

func NewInMemoryModule(logger *slog.Logger) (Module, *memory.Simulator, *memory.ConfigStore) {
	simulator := memory.NewSimulator()
	configs := memory.NewConfigStore()
	module := NewModule(Dependencies{
		ConfigStore: configs,
		Sealer:      memory.PassthroughSealer{},
		API:         simulator,
		Clock:       memory.SystemClock{},
		Logger:      logger,
	})
	return module, simulator, configs
}
