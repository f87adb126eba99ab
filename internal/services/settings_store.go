package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SettingsStore reads and writes admin_settings values as raw JSON.
type SettingsStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Upsert(ctx context.Context, key string, value json.RawMessage, updatedBy string) error
}

// PostgresSettingsStore is the source of truth for admin settings.
type PostgresSettingsStore struct {
	db *sql.DB
}

func NewPostgresSettingsStore(db *sql.DB) *PostgresSettingsStore {
	return &PostgresSettingsStore{db: db}
}

func (s *PostgresSettingsStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM admin_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read setting %s: %w", key, err)
	}
	return json.RawMessage(value), nil
}

func (s *PostgresSettingsStore) Upsert(ctx context.Context, key string, value json.RawMessage, updatedBy string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_settings (key, value, updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		key, string(value), updatedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

const settingsCachePrefix = "admin_settings:"

// missingSetting marks a key known to be absent so misses are cached too.
const missingSetting = "\x00missing"

// CachedSettingsStore puts a redis read-through cache in front of another
// store. Writes go to the inner store and then drop the cached key. Redis
// failures fall back to the inner store.
type CachedSettingsStore struct {
	inner SettingsStore
	redis *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

func NewCachedSettingsStore(inner SettingsStore, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CachedSettingsStore {
	return &CachedSettingsStore{inner: inner, redis: rdb, ttl: ttl, log: log.Named("settings_cache")}
}

func (c *CachedSettingsStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	cacheKey := settingsCachePrefix + key

	cached, err := c.redis.Get(ctx, cacheKey).Result()
	switch {
	case err == nil && cached == missingSetting:
		return nil, ErrSettingNotFound
	case err == nil:
		return json.RawMessage(cached), nil
	case err != redis.Nil:
		c.log.Warn("settings cache read failed", zap.String("key", key), zap.Error(err))
	}

	value, err := c.inner.Get(ctx, key)
	switch {
	case errors.Is(err, ErrSettingNotFound):
		c.store(ctx, cacheKey, missingSetting)
		return nil, err
	case err != nil:
		return nil, err
	}

	c.store(ctx, cacheKey, string(value))
	return value, nil
}

func (c *CachedSettingsStore) Upsert(ctx context.Context, key string, value json.RawMessage, updatedBy string) error {
	if err := c.inner.Upsert(ctx, key, value, updatedBy); err != nil {
		return err
	}
	c.Invalidate(ctx, key)
	return nil
}

// Invalidate drops a cached key.
func (c *CachedSettingsStore) Invalidate(ctx context.Context, key string) {
	if err := c.redis.Del(ctx, settingsCachePrefix+key).Err(); err != nil {
		c.log.Warn("settings cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *CachedSettingsStore) store(ctx context.Context, cacheKey, value string) {
	if err := c.redis.Set(ctx, cacheKey, value, c.ttl).Err(); err != nil {
		c.log.Warn("settings cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
}
