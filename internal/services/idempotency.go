package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	idempotencyPrefix   = "withdrawal:idempotency:"
	idempotencyInFlight = "in_flight"
)

// StoredResponse is a finished response kept for replay.
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyStore remembers responses per caller and Idempotency-Key so a
// retried submission is answered without touching the ledger twice.
type IdempotencyStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{redis: rdb, ttl: ttl}
}

func idempotencyKey(userID, key string) string {
	sum := sha256.Sum256([]byte(key))
	return idempotencyPrefix + userID + ":" + hex.EncodeToString(sum[:])
}

// Begin claims the key. It returns a stored response to replay, or
// ErrIdempotencyBusy while another request holds the key, or (nil, nil)
// when the caller should process the request.
func (s *IdempotencyStore) Begin(ctx context.Context, userID, key string) (*StoredResponse, error) {
	redisKey := idempotencyKey(userID, key)

	claimed, err := s.redis.SetNX(ctx, redisKey, idempotencyInFlight, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		return nil, nil
	}

	value, err := s.redis.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	if value == idempotencyInFlight {
		return nil, ErrIdempotencyBusy
	}

	var stored StoredResponse
	if err := json.Unmarshal([]byte(value), &stored); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &stored, nil
}

// Complete stores the final response for replay.
func (s *IdempotencyStore) Complete(ctx context.Context, userID, key string, resp StoredResponse) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, idempotencyKey(userID, key), encoded, s.ttl).Err()
}

// Release drops the claim so the caller may retry, used when the request
// failed before any state changed.
func (s *IdempotencyStore) Release(ctx context.Context, userID, key string) error {
	return s.redis.Del(ctx, idempotencyKey(userID, key)).Err()
}
