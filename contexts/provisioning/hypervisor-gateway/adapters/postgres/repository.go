package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	hyperrors "vmforge/contexts/provisioning/hypervisor-gateway/domain/errors"
	"vmforge/contexts/provisioning/hypervisor-gateway/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type configModel struct {
	TenantID       string `gorm:"primaryKey;size:64"`
	URL            string `gorm:"size:512"`
	Username       string `gorm:"size:128"`
	SealedPassword string `gorm:"size:1024"`
	Datacenter     string `gorm:"size:128"`
	Cluster        string `gorm:"size:128"`
	Datastore      string `gorm:"size:128"`
	Network        string `gorm:"size:128"`
	Template       string `gorm:"size:128"`
	ResourcePool   string `gorm:"size:128"`
	FolderPath     string `gorm:"size:256"`
	Version        int64
	UpdatedAt      time.Time
}

func (configModel) TableName() string { return "hypervisor_configurations" }

// Repository persists tenant hypervisor configurations with optimistic
// locking on Version.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&configModel{})
}

func (r *Repository) Get(ctx context.Context, tenantID string) (ports.HypervisorConfiguration, error) {
	var row configModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", strings.TrimSpace(tenantID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.HypervisorConfiguration{}, hyperrors.ErrConfigNotFound
		}
		return ports.HypervisorConfiguration{}, err
	}
	return toConfig(row), nil
}

func (r *Repository) Put(ctx context.Context, cfg ports.HypervisorConfiguration) (ports.HypervisorConfiguration, error) {
	row := toModel(cfg)
	row.Version = 1
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.Get(ctx, cfg.TenantID)
			actual := int64(0)
			if getErr == nil {
				actual = existing.Version
			}
			return ports.HypervisorConfiguration{}, &hyperrors.VersionConflictError{
				TenantID: cfg.TenantID,
				Expected: 0,
				Actual:   actual,
			}
		}
		return ports.HypervisorConfiguration{}, err
	}
	return toConfig(row), nil
}

// Update bumps Version only when the row still carries expectedVersion; a
// zero-row update means the caller lost the race.
func (r *Repository) Update(ctx context.Context, cfg ports.HypervisorConfiguration, expectedVersion int64) (ports.HypervisorConfiguration, error) {
	row := toModel(cfg)
	row.Version = expectedVersion + 1

	result := r.db.WithContext(ctx).
		Model(&configModel{}).
		Where("tenant_id = ? AND version = ?", cfg.TenantID, expectedVersion).
		Updates(map[string]any{
			"url":             row.URL,
			"username":        row.Username,
			"sealed_password": row.SealedPassword,
			"datacenter":      row.Datacenter,
			"cluster":         row.Cluster,
			"datastore":       row.Datastore,
			"network":         row.Network,
			"template":        row.Template,
			"resource_pool":   row.ResourcePool,
			"folder_path":     row.FolderPath,
			"version":         row.Version,
			"updated_at":      row.UpdatedAt,
		})
	if result.Error != nil {
		return ports.HypervisorConfiguration{}, result.Error
	}
	if result.RowsAffected == 0 {
		current, err := r.Get(ctx, cfg.TenantID)
		if err != nil {
			return ports.HypervisorConfiguration{}, err
		}
		return ports.HypervisorConfiguration{}, &hyperrors.VersionConflictError{
			TenantID: cfg.TenantID,
			Expected: expectedVersion,
			Actual:   current.Version,
		}
	}
	return toConfig(row), nil
}

func toModel(cfg ports.HypervisorConfiguration) configModel {
	return configModel{
		TenantID:       strings.TrimSpace(cfg.TenantID),
		URL:            cfg.URL,
		Username:       cfg.Username,
		SealedPassword: cfg.SealedPassword,
		Datacenter:     cfg.Datacenter,
		Cluster:        cfg.Cluster,
		Datastore:      cfg.Datastore,
		Network:        cfg.Network,
		Template:       cfg.Template,
		ResourcePool:   cfg.ResourcePool,
		FolderPath:     cfg.FolderPath,
		Version:        cfg.Version,
		UpdatedAt:      cfg.UpdatedAt.UTC(),
	}
}

func toConfig(row configModel) ports.HypervisorConfiguration {
	return ports.HypervisorConfiguration{
		TenantID:       row.TenantID,
		URL:            row.URL,
		Username:       row.Username,
		SealedPassword: row.SealedPassword,
		Datacenter:     row.Datacenter,
		Cluster:        row.Cluster,
		Datastore:      row.Datastore,
		Network:        row.Network,
		Template:       row.Template,
		ResourcePool:   row.ResourcePool,
		FolderPath:     row.FolderPath,
		Version:        row.Version,
		UpdatedAt:      row.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// SystemClock implements ports.Clock on wall time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
