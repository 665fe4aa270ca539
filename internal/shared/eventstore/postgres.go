package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"vmforge/internal/shared/events"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type eventRow struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	AggregateID   string `gorm:"column:aggregate_id;size:64;uniqueIndex:idx_domain_events_stream,priority:1"`
	Sequence      int64  `gorm:"uniqueIndex:idx_domain_events_stream,priority:2"`
	EventType     string `gorm:"size:128;index"`
	Payload       []byte
	TenantID      string `gorm:"size:64;index"`
	UserID        string `gorm:"size:64"`
	CorrelationID string `gorm:"size:64"`
	OccurredAtUTC time.Time
}

func (eventRow) TableName() string { return "domain_events" }

// PostgresStore persists event streams in the domain_events table. The
// unique (aggregate_id, sequence) index is the concurrency backstop: two
// writers racing past the version check collapse into one winner at commit.
type PostgresStore struct {
	db        *gorm.DB
	publisher Publisher
	logger    *slog.Logger
}

func NewPostgresStore(db *gorm.DB, publisher Publisher, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, publisher: publisher, logger: logger}
}

// Migrate creates the domain_events table.
func (s *PostgresStore) Migrate() error {
	return s.db.AutoMigrate(&eventRow{})
}

func (s *PostgresStore) Append(ctx context.Context, aggregateID string, batch []events.Event, expectedVersion int64) (int64, error) {
	if len(batch) == 0 {
		return expectedVersion, nil
	}

	stored, err := encode(aggregateID, expectedVersion, batch, func(ev events.Event) ([]byte, error) {
		return json.Marshal(ev)
	})
	if err != nil {
		return 0, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		err := tx.Model(&eventRow{}).
			Where("aggregate_id = ?", aggregateID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&current).
			Error
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return &ConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: current}
		}

		rows := make([]eventRow, 0, len(stored))
		for _, se := range stored {
			rows = append(rows, eventRow{
				AggregateID:   se.AggregateID,
				Sequence:      se.Sequence,
				EventType:     se.EventType,
				Payload:       se.Payload,
				TenantID:      se.Metadata.TenantID,
				UserID:        se.Metadata.UserID,
				CorrelationID: se.Metadata.CorrelationID,
				OccurredAtUTC: se.Metadata.OccurredAtUTC.UTC(),
			})
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			actual, readErr := s.currentVersion(ctx, aggregateID)
			if readErr != nil {
				actual = -1
			}
			return 0, &ConflictError{AggregateID: aggregateID, Expected: expectedVersion, Actual: actual}
		}
		return 0, err
	}

	publishAll(ctx, s.logger, s.publisher, stored)
	return expectedVersion + int64(len(stored)), nil
}

func (s *PostgresStore) Load(ctx context.Context, aggregateID string) ([]events.StoredEvent, error) {
	return s.LoadFrom(ctx, aggregateID, 0)
}

func (s *PostgresStore) LoadFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]events.StoredEvent, error) {
	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND sequence > ?", aggregateID, fromVersion).
		Order("sequence ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	out := make([]events.StoredEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, events.StoredEvent{
			AggregateID: row.AggregateID,
			Sequence:    row.Sequence,
			EventType:   row.EventType,
			Payload:     row.Payload,
			Metadata: events.Metadata{
				TenantID:      row.TenantID,
				UserID:        row.UserID,
				CorrelationID: row.CorrelationID,
				OccurredAtUTC: row.OccurredAtUTC,
			},
		})
	}
	return out, nil
}

func (s *PostgresStore) currentVersion(ctx context.Context, aggregateID string) (int64, error) {
	var current int64
	err := s.db.WithContext(ctx).Model(&eventRow{}).
		Where("aggregate_id = ?", aggregateID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&current).
		Error
	return current, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
