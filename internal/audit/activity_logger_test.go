package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rewardsapp/withdrawals/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestActivityLogger_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewActivityLogger(db, zap.New(core))

	t.Run("system event", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO activity_logs").
			WithArgs(nil, ActionAutoPayoutSuccess, "wd-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		logger.Record(context.Background(), Event{
			Action:   ActionAutoPayoutSuccess,
			TargetID: "wd-1",
			Details:  models.Details{"payout_id": "abc123"},
		})

		assert.NoError(t, mock.ExpectationsWereMet())
		entries := logs.FilterMessage("activity").All()
		require.Len(t, entries, 1)
		assert.Equal(t, ActionAutoPayoutSuccess, entries[0].ContextMap()["action"])
	})

	t.Run("admin event", func(t *testing.T) {
		adminID := "admin-1"
		mock.ExpectExec("INSERT INTO activity_logs").
			WithArgs(adminID, ActionSettingsUpdated, "withdrawal_limits", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))

		logger.Record(context.Background(), Event{
			AdminID:  &adminID,
			Action:   ActionSettingsUpdated,
			TargetID: "withdrawal_limits",
		})

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure is swallowed", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO activity_logs").
			WillReturnError(errors.New("connection reset"))

		assert.NotPanics(t, func() {
			logger.Record(context.Background(), Event{Action: ActionAutoPayoutFailed, TargetID: "wd-2"})
		})

		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, 1, logs.FilterMessage("failed to persist activity log").Len())
	})
}
