package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainerrors "vmforge/contexts/provisioning/request-service/domain/errors"
	"vmforge/contexts/provisioning/request-service/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type requestViewModel struct {
	RequestID   string `gorm:"primaryKey;size:64"`
	TenantID    string `gorm:"size:64;index"`
	RequesterID string `gorm:"size:64"`
	ProjectID   string `gorm:"size:64"`
	VMName      string `gorm:"size:128"`
	SizeName    string `gorm:"size:32"`
	Status      string `gorm:"size:32;index"`
	VMID        string `gorm:"size:64"`
	UpdatedAt   time.Time
}

func (requestViewModel) TableName() string { return "vm_request_views" }

type timelineModel struct {
	EntryID    string `gorm:"primaryKey;size:128"`
	TenantID   string `gorm:"size:64;index"`
	RequestID  string `gorm:"size:64;index"`
	Kind       string `gorm:"size:64"`
	Message    string `gorm:"size:1024"`
	OccurredAt time.Time
}

func (timelineModel) TableName() string { return "timeline_events" }

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

// Migrate creates the read-model tables owned by this context.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&requestViewModel{}, &timelineModel{})
}

func (r *Repository) InsertRequest(ctx context.Context, view ports.RequestView) error {
	if strings.TrimSpace(view.RequestID) == "" {
		return domainerrors.ErrInvalidInput
	}
	row := requestViewModel{
		RequestID:   view.RequestID,
		TenantID:    view.TenantID,
		RequesterID: view.RequesterID,
		ProjectID:   view.ProjectID,
		VMName:      view.VMName,
		SizeName:    view.SizeName,
		Status:      view.Status,
		VMID:        view.VMID,
		UpdatedAt:   view.UpdatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, requestID, status, vmID string, updatedAt time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": updatedAt.UTC(),
	}
	if vmID != "" {
		updates["vm_id"] = vmID
	}
	result := r.db.WithContext(ctx).
		Model(&requestViewModel{}).
		Where("request_id = ?", strings.TrimSpace(requestID)).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// ListProvisioning returns view rows stuck in PROVISIONING since before the
// cutoff, oldest first.
func (r *Repository) ListProvisioning(ctx context.Context, cutoff time.Time) ([]ports.RequestView, error) {
	var rows []requestViewModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", "PROVISIONING", cutoff.UTC()).
		Order("updated_at ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	views := make([]ports.RequestView, 0, len(rows))
	for _, row := range rows {
		views = append(views, ports.RequestView{
			RequestID:   row.RequestID,
			TenantID:    row.TenantID,
			RequesterID: row.RequesterID,
			ProjectID:   row.ProjectID,
			VMName:      row.VMName,
			SizeName:    row.SizeName,
			Status:      row.Status,
			VMID:        row.VMID,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return views, nil
}

// AddTimelineEvent inserts idempotently: entries carry deterministic IDs so a
// replayed saga run does not duplicate history.
func (r *Repository) AddTimelineEvent(ctx context.Context, entry ports.TimelineEntry) error {
	row := timelineModel{
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

func (r *Repository) TimelineFor(ctx context.Context, requestID string) ([]ports.TimelineEntry, error) {
	var rows []timelineModel
	err := r.db.WithContext(ctx).
		Where("request_id = ?", strings.TrimSpace(requestID)).
		Order("occurred_at ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	entries := make([]ports.TimelineEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, ports.TimelineEntry{
			EntryID:    row.EntryID,
			TenantID:   row.TenantID,
			RequestID:  row.RequestID,
			Kind:       row.Kind,
			Message:    row.Message,
			OccurredAt: row.OccurredAt,
		})
	}
	return entries, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// SystemClock implements ports.Clock on wall time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// UUIDGenerator implements ports.IDGenerator using RFC 4122 UUID v4 values.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}
