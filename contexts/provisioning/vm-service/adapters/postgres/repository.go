package postgresadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	domainerrors "vmforge/contexts/provisioning/vm-service/domain/errors"
	"vmforge/contexts/provisioning/vm-service/ports"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type progressModel struct {
	VMID               string `gorm:"primaryKey;size:64"`
	RequestID          string `gorm:"size:64;index"`
	TenantID           string `gorm:"size:64;index"`
	Stages             []byte `gorm:"type:jsonb"`
	EstimatedRemaining int64
	UpdatedAt          time.Time
}

func (progressModel) TableName() string { return "provisioning_progress" }

type vmTimelineModel struct {
	EntryID    string `gorm:"primaryKey;size:128"`
	TenantID   string `gorm:"size:64;index"`
	RequestID  string `gorm:"size:64;index"`
	Kind       string `gorm:"size:64"`
	Message    string `gorm:"size:1024"`
	OccurredAt time.Time
}

func (vmTimelineModel) TableName() string { return "timeline_events" }

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

// Migrate creates the progress table. The timeline table is shared with the
// request context and migrated there.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&progressModel{})
}

// Put replaces the progress row wholesale; each stage tick carries the full
// stage map.
func (r *Repository) Put(ctx context.Context, record ports.ProgressRecord) error {
	if strings.TrimSpace(record.VMID) == "" {
		return domainerrors.ErrInvalidInput
	}
	stages, err := json.Marshal(record.Stages)
	if err != nil {
		return err
	}
	row := progressModel{
		VMID:               record.VMID,
		RequestID:          record.RequestID,
		TenantID:           record.TenantID,
		Stages:             stages,
		EstimatedRemaining: int64(record.EstimatedRemaining),
		UpdatedAt:          record.UpdatedAt.UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vm_id"}},
			UpdateAll: true,
		}).
		Create(&row).
		Error
}

func (r *Repository) Delete(ctx context.Context, vmID string) error {
	return r.db.WithContext(ctx).
		Where("vm_id = ?", strings.TrimSpace(vmID)).
		Delete(&progressModel{}).
		Error
}

func (r *Repository) ProgressFor(ctx context.Context, vmID string) (ports.ProgressRecord, bool, error) {
	var row progressModel
	err := r.db.WithContext(ctx).
		Where("vm_id = ?", strings.TrimSpace(vmID)).
		First(&row).
		Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return ports.ProgressRecord{}, false, nil
		}
		return ports.ProgressRecord{}, false, err
	}

	stages := map[string]time.Time{}
	if len(row.Stages) > 0 {
		if err := json.Unmarshal(row.Stages, &stages); err != nil {
			return ports.ProgressRecord{}, false, err
		}
	}
	return ports.ProgressRecord{
		VMID:               row.VMID,
		RequestID:          row.RequestID,
		TenantID:           row.TenantID,
		Stages:             stages,
		EstimatedRemaining: time.Duration(row.EstimatedRemaining),
		UpdatedAt:          row.UpdatedAt,
	}, true, nil
}

// AddTimelineEvent inserts idempotently: entries carry deterministic IDs so a
// replayed saga run does not duplicate history.
func (r *Repository) AddTimelineEvent(ctx context.Context, entry ports.TimelineEntry) error {
	row := vmTimelineModel{
		EntryID:    entry.EntryID,
		TenantID:   entry.TenantID,
		RequestID:  entry.RequestID,
		Kind:       entry.Kind,
		Message:    entry.Message,
		OccurredAt: entry.OccurredAt.UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).
		Error
}

// SystemClock implements ports.Clock on wall time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
