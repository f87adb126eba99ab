package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPostgresSettingsStore(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresSettingsStore(db)
	ctx := context.Background()

	t.Run("get existing key", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT value FROM admin_settings WHERE key = \\$1").
			WithArgs("withdrawal_limits").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"min":10,"max":1000}`)))

		value, err := store.Get(ctx, "withdrawal_limits")
		require.NoError(t, err)
		assert.JSONEq(t, `{"min":10,"max":1000}`, string(value))
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("missing key", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT value FROM admin_settings").
			WithArgs("auto_payout_threshold").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		_, err := store.Get(ctx, "auto_payout_threshold")
		assert.ErrorIs(t, err, ErrSettingNotFound)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("upsert", func(t *testing.T) {
		dbMock.ExpectExec("(?s)INSERT INTO admin_settings.+ON CONFLICT \\(key\\) DO UPDATE").
			WithArgs("auto_payout_threshold", `{"amount":20}`, "admin-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.Upsert(ctx, "auto_payout_threshold", json.RawMessage(`{"amount":20}`), "admin-1")
		assert.NoError(t, err)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}

func TestCachedSettingsStore(t *testing.T) {
	ctx := context.Background()
	ttl := 30 * time.Second

	t.Run("cache hit skips the inner store", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		inner := &memorySettings{err: errors.New("must not be called")}
		store := NewCachedSettingsStore(inner, rdb, ttl, zap.NewNop())

		redisMock.ExpectGet("admin_settings:withdrawal_limits").SetVal(`{"min":5}`)

		value, err := store.Get(ctx, "withdrawal_limits")
		require.NoError(t, err)
		assert.JSONEq(t, `{"min":5}`, string(value))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("miss reads through and fills the cache", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		inner := &memorySettings{values: map[string]string{"withdrawal_limits": `{"min":5}`}}
		store := NewCachedSettingsStore(inner, rdb, ttl, zap.NewNop())

		redisMock.ExpectGet("admin_settings:withdrawal_limits").RedisNil()
		redisMock.ExpectSet("admin_settings:withdrawal_limits", `{"min":5}`, ttl).SetVal("OK")

		value, err := store.Get(ctx, "withdrawal_limits")
		require.NoError(t, err)
		assert.JSONEq(t, `{"min":5}`, string(value))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("absent keys are cached as missing", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		store := NewCachedSettingsStore(&memorySettings{}, rdb, ttl, zap.NewNop())

		redisMock.ExpectGet("admin_settings:auto_payout_threshold").RedisNil()
		redisMock.ExpectSet("admin_settings:auto_payout_threshold", missingSetting, ttl).SetVal("OK")
		redisMock.ExpectGet("admin_settings:auto_payout_threshold").SetVal(missingSetting)

		_, err := store.Get(ctx, "auto_payout_threshold")
		assert.ErrorIs(t, err, ErrSettingNotFound)
		_, err = store.Get(ctx, "auto_payout_threshold")
		assert.ErrorIs(t, err, ErrSettingNotFound)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("redis failure falls back to the inner store", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		inner := &memorySettings{values: map[string]string{"withdrawal_limits": `{"min":7}`}}
		store := NewCachedSettingsStore(inner, rdb, ttl, zap.NewNop())

		redisMock.ExpectGet("admin_settings:withdrawal_limits").SetErr(errors.New("connection refused"))
		redisMock.ExpectSet("admin_settings:withdrawal_limits", `{"min":7}`, ttl).SetErr(errors.New("connection refused"))

		value, err := store.Get(ctx, "withdrawal_limits")
		require.NoError(t, err)
		assert.JSONEq(t, `{"min":7}`, string(value))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("upsert invalidates", func(t *testing.T) {
		rdb, redisMock := redismock.NewClientMock()
		inner := &memorySettings{}
		store := NewCachedSettingsStore(inner, rdb, ttl, zap.NewNop())

		redisMock.ExpectDel("admin_settings:withdrawal_limits").SetVal(1)

		err := store.Upsert(ctx, "withdrawal_limits", json.RawMessage(`{"min":10,"max":20}`), "admin-1")
		require.NoError(t, err)
		assert.Equal(t, `{"min":10,"max":20}`, inner.values["withdrawal_limits"])
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}
