package config

import (
	"os"
	"strings"
	"time"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	HTTPPort    string
	PostgresDSN string

	// CredentialPassphrase derives the key that seals hypervisor
	// credentials at rest. Required whenever Postgres is configured.
	CredentialPassphrase string

	// AdminEmail, when set, receives the technical provisioning-failure
	// notification in addition to the sanitized tenant notice.
	AdminEmail string

	// Reconciliation sweep tuning for the worker process.
	ReconcileInterval time.Duration
	ReconcileStuckAge time.Duration
	ReconcileDeadline time.Duration

	// Hypervisor session tuning.
	KeepaliveInterval time.Duration
}

func Load() (Config, error) {
	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "vmforge"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		ServiceName: service,
		HTTPPort:    port,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),

		CredentialPassphrase: os.Getenv("CREDENTIAL_PASSPHRASE"),
		AdminEmail:           os.Getenv("ADMIN_EMAIL"),

		ReconcileInterval: envDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileStuckAge: envDuration("RECONCILE_STUCK_AGE", 15*time.Minute),
		ReconcileDeadline: envDuration("RECONCILE_DEADLINE", 2*time.Hour),

		KeepaliveInterval: envDuration("HYPERVISOR_KEEPALIVE_INTERVAL", time.Minute),
	}, nil
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
