package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"field-control-backend/internal/model"
)

// CommandStore is the persistence contract of the command queue. It offers insert,
// conditional update and reads. Nothing is ever deleted.
type CommandStore interface {
	InsertCommand(ctx context.Context, cmd *model.Command) error
	TransitionCommand(ctx context.Context, id uint64, from model.CommandStatus, upd CommandUpdate) (bool, error)
	FindCommand(ctx context.Context, id uint64) (*model.Command, error)
	FindOldestPending(ctx context.Context, deviceID string) (*model.Command, error)
	HasDispatched(ctx context.Context, deviceID string) (bool, error)
	ListCommandsByDevice(ctx context.Context, deviceID string, limit int) ([]model.Command, error)
}

// SnapshotStore keeps the latest reading per (device, sensor).
type SnapshotStore interface {
	UpsertSnapshots(ctx context.Context, snaps []model.TelemetrySnapshot) error
	LatestSnapshots(ctx context.Context, deviceID string) ([]model.TelemetrySnapshot, error)
}

// Store defines the interface for all database operations.
type Store interface {
	CommandStore
	SnapshotStore
	Ping(ctx context.Context) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) InsertCommand(ctx context.Context, cmd *model.Command) error {
	if err := s.db.WithContext(ctx).Create(cmd).Error; err != nil {
		return fmt.Errorf("failed to insert command for device %s: %w", cmd.DeviceID, err)
	}
	return nil
}

// TransitionCommand moves a command from one status to the next with a single
// conditional UPDATE. It reports false when the row was not in the expected status,
// and ErrConflict when the move would give a device a second dispatched command.
func (s *gormStore) TransitionCommand(ctx context.Context, id uint64, from model.CommandStatus, upd CommandUpdate) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Command{}).
		Where("id = ? AND status = ?", id, from).
		Updates(upd.columns())
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, ErrConflict
		}
		return false, fmt.Errorf("failed to transition command %d from %s: %w", id, from, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) FindCommand(ctx context.Context, id uint64) (*model.Command, error) {
	var cmd model.Command
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&cmd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load command %d: %w", id, err)
	}
	return &cmd, nil
}

// FindOldestPending returns nil without error when the device has no pending work.
func (s *gormStore) FindOldestPending(ctx context.Context, deviceID string) (*model.Command, error) {
	var cmds []model.Command
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND status = ?", deviceID, model.StatusPending).
		Order("created_at ASC").Order("id ASC").
		Limit(1).
		Find(&cmds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select pending command for device %s: %w", deviceID, err)
	}
	if len(cmds) == 0 {
		return nil, nil
	}
	return &cmds[0], nil
}

func (s *gormStore) HasDispatched(ctx context.Context, deviceID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.Command{}).
		Where("device_id = ? AND status = ?", deviceID, model.StatusDispatched).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count dispatched commands for device %s: %w", deviceID, err)
	}
	return count > 0, nil
}

// ListCommandsByDevice returns the device's commands, newest first.
func (s *gormStore) ListCommandsByDevice(ctx context.Context, deviceID string, limit int) ([]model.Command, error) {
	var cmds []model.Command
	q := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&cmds).Error; err != nil {
		return nil, fmt.Errorf("failed to list commands for device %s: %w", deviceID, err)
	}
	return cmds, nil
}

// UpsertSnapshots overwrites the hot row of every (device, sensor) in snaps.
func (s *gormStore) UpsertSnapshots(ctx context.Context, snaps []model.TelemetrySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "sensor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "value", "state", "unit", "meta", "observed_at"}),
		}).Create(&snaps).Error
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d snapshots: %w", len(snaps), err)
	}
	return nil
}

func (s *gormStore) LatestSnapshots(ctx context.Context, deviceID string) ([]model.TelemetrySnapshot, error) {
	var snaps []model.TelemetrySnapshot
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("sensor_id ASC").
		Find(&snaps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots for device %s: %w", deviceID, err)
	}
	return snaps, nil
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// CommandUpdate carries the columns written alongside a status transition.
type CommandUpdate struct {
	Status          model.CommandStatus
	ResponseMessage *string
	AckPayload      datatypes.JSON
}

func (u CommandUpdate) columns() map[string]any {
	cols := map[string]any{
		"status":     u.Status,
		"updated_at": time.Now().UTC(),
	}
	if u.ResponseMessage != nil {
		cols["response_message"] = *u.ResponseMessage
	}
	if len(u.AckPayload) > 0 {
		cols["ack_payload"] = u.AckPayload
	}
	return cols
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
