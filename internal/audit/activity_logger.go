package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/rewardsapp/withdrawals/internal/models"
	"go.uber.org/zap"
)

// Actions written to activity_logs.
const (
	ActionAutoPayoutSuccess     = "AUTO_PAYOUT_SUCCESS"
	ActionAutoPayoutFailed      = "AUTO_PAYOUT_FAILED"
	ActionAutoPayoutError       = "AUTO_PAYOUT_ERROR"
	ActionWithdrawalRefunded    = "WITHDRAWAL_REFUNDED"
	ActionManualPayoutCompleted = "MANUAL_PAYOUT_COMPLETED"
	ActionWithdrawalRejected    = "WITHDRAWAL_REJECTED"
	ActionSettingsUpdated       = "SETTINGS_UPDATED"
	ActionPayoutIPNPrefix       = "PAYOUT_IPN_"
)

// Event is one activity_logs row. AdminID is nil for system actions.
type Event struct {
	AdminID  *string
	Action   string
	TargetID string
	Details  models.Details
}

// ActivityLogger appends audit events to activity_logs and mirrors them to
// the structured log. A failed insert is logged and swallowed: audit writes
// never fail the operation they describe.
type ActivityLogger struct {
	db  *sql.DB
	log *zap.Logger
}

func NewActivityLogger(db *sql.DB, log *zap.Logger) *ActivityLogger {
	return &ActivityLogger{db: db, log: log.Named("audit")}
}

func (a *ActivityLogger) Record(ctx context.Context, event Event) {
	fields := []zap.Field{
		zap.String("action", event.Action),
		zap.String("target_id", event.TargetID),
		zap.Any("details", event.Details),
	}
	if event.AdminID != nil {
		fields = append(fields, zap.String("admin_id", *event.AdminID))
	}
	a.log.Info("activity", fields...)

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO activity_logs (admin_id, action, target_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.AdminID, event.Action, event.TargetID, event.Details, time.Now().UTC())
	if err != nil {
		a.log.Error("failed to persist activity log", append(fields, zap.Error(err))...)
	}
}
