package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"field-control-backend/internal/db"
	"field-control-backend/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGormStore_TransitionCommand(t *testing.T) {
	msg := "ok"

	testCases := []struct {
		name             string
		update           CommandUpdate
		mockExpectations func(mock sqlmock.Sqlmock)
		expectedApplied  bool
		expectedErr      error
	}{
		{
			name:   "Row in expected status is moved",
			update: CommandUpdate{Status: model.StatusDispatched},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "commands" SET "status"=$1,"updated_at"=$2 WHERE id = $3 AND status = $4`)).
					WithArgs("dispatched", Any{}, 7, "pending").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			expectedApplied: true,
		},
		{
			name:   "Row already moved by someone else",
			update: CommandUpdate{Status: model.StatusDispatched},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "commands" SET`)).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			expectedApplied: false,
		},
		{
			name:   "Terminal update writes message and payload",
			update: CommandUpdate{Status: model.StatusDone, ResponseMessage: &msg, AckPayload: datatypes.JSON(`{"rssi":-60}`)},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "commands" SET "ack_payload"=$1,"response_message"=$2,"status"=$3,"updated_at"=$4 WHERE id = $5 AND status = $6`)).
					WithArgs(Any{}, "ok", "done", Any{}, 7, "dispatched").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			expectedApplied: true,
		},
		{
			name:   "Second dispatched command for a device is a conflict",
			update: CommandUpdate{Status: model.StatusDispatched},
			mockExpectations: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE "commands" SET`)).
					WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "idx_commands_one_dispatched"`))
				mock.ExpectRollback()
			},
			expectedErr: ErrConflict,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gormDB, mock := newTestDB(t)
			s := NewGormStore(gormDB)

			tc.mockExpectations(mock)

			from := model.StatusPending
			if tc.update.Status.Terminal() {
				from = model.StatusDispatched
			}
			applied, err := s.TransitionCommand(context.Background(), 7, from, tc.update)

			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.expectedApplied, applied)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_FindCommand_NotFound(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "commands" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.FindCommand(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_FindOldestPending_Empty(t *testing.T) {
	gormDB, mock := newTestDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "commands" WHERE device_id = $1 AND status = $2 ORDER BY created_at ASC,id ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "status"}))

	cmd, err := s.FindOldestPending(context.Background(), "dev-1")
	assert.NoError(t, err)
	assert.Nil(t, cmd)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_CommandsOnSQLite(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(db.NewTestSQLite(t))

	base := time.Now().UTC()
	cmds := []*model.Command{
		{DeviceID: "dev-1", Actuator: "pump", Action: model.ActionOn, Status: model.StatusPending, CreatedAt: base},
		{DeviceID: "dev-1", Actuator: "pump", Action: model.ActionOff, Status: model.StatusPending, CreatedAt: base.Add(time.Second)},
		{DeviceID: "dev-2", Actuator: "fan", Action: model.ActionOn, Status: model.StatusPending, CreatedAt: base},
	}
	for _, c := range cmds {
		require.NoError(t, s.InsertCommand(ctx, c))
	}

	oldest, err := s.FindOldestPending(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, cmds[0].ID, oldest.ID)

	applied, err := s.TransitionCommand(ctx, oldest.ID, model.StatusPending, CommandUpdate{Status: model.StatusDispatched})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.TransitionCommand(ctx, oldest.ID, model.StatusPending, CommandUpdate{Status: model.StatusDispatched})
	require.NoError(t, err)
	assert.False(t, applied, "a command leaves pending only once")

	_, err = s.TransitionCommand(ctx, cmds[1].ID, model.StatusPending, CommandUpdate{Status: model.StatusDispatched})
	assert.ErrorIs(t, err, ErrConflict)

	busy, err := s.HasDispatched(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, busy)

	busy, err = s.HasDispatched(ctx, "dev-2")
	require.NoError(t, err)
	assert.False(t, busy)

	list, err := s.ListCommandsByDevice(ctx, "dev-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, cmds[1].ID, list[0].ID, "newest first")
	assert.Equal(t, model.StatusDispatched, list[1].Status)

	_, err = s.FindCommand(ctx, 12345)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_UpsertSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(db.NewTestSQLite(t))

	now := time.Now().UTC()
	first := []model.TelemetrySnapshot{
		{DeviceID: "dev-1", SensorID: "float-1", Type: model.SensorOther, Value: 0, ObservedAt: now},
		{DeviceID: "dev-1", SensorID: "temp-1", Type: model.SensorTemperature, Value: 21.5, Unit: "C", ObservedAt: now},
	}
	require.NoError(t, s.UpsertSnapshots(ctx, first))

	second := []model.TelemetrySnapshot{
		{DeviceID: "dev-1", SensorID: "float-1", Type: model.SensorOther, Value: 1, ObservedAt: now.Add(time.Minute)},
	}
	require.NoError(t, s.UpsertSnapshots(ctx, second))
	require.NoError(t, s.UpsertSnapshots(ctx, second), "re-applying the same cycle is harmless")

	snaps, err := s.LatestSnapshots(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "float-1", snaps[0].SensorID)
	assert.Equal(t, 1.0, snaps[0].Value)
	assert.Equal(t, 21.5, snaps[1].Value)

	assert.NoError(t, s.UpsertSnapshots(ctx, nil))
	assert.NoError(t, s.Ping(ctx))
}

// Any is a helper for sqlmock to match any argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface
func (a Any) Match(v driver.Value) bool {
	return true
}
