package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the minimal client surface used by RedisStore.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	redis.Scripter
}

// releaseScript deletes the key only while it still holds a reservation.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and string.find(v, ARGV[1], 1, true) then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps records as JSON strings whose Redis TTL is the lease or
// the result TTL.
type RedisStore struct {
	client    RedisClient
	keyPrefix string
	nowFunc   func() time.Time
}

func NewRedisStore(client RedisClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "idem:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		nowFunc:   time.Now,
	}
}

func (s *RedisStore) CheckOrReserve(ctx context.Context, key Key, lease time.Duration) (Outcome, error) {
	rk := s.keyPrefix + key.String()
	for i := 0; i < 2; i++ {
		body, err := json.Marshal(newRecord(key, StatusInProgress, s.nowFunc(), lease))
		if err != nil {
			return Outcome{}, fmt.Errorf("encode record: %w", err)
		}
		ok, err := s.client.SetNX(ctx, rk, body, lease).Result()
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: setnx: %v", ErrUnavailable, err)
		}
		if ok {
			return Outcome{Decision: Reserved}, nil
		}

		raw, err := s.client.Get(ctx, rk).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
		}
		var rec IdempotencyRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return Outcome{}, fmt.Errorf("decode record %s: %w", rk, err)
		}
		return rec.outcome()
	}
	return Outcome{Decision: InFlight}, nil
}

func (s *RedisStore) Commit(ctx context.Context, key Key, result Result, ttl time.Duration) error {
	resBody, err := encodeResult(result)
	if err != nil {
		return err
	}
	rec := newRecord(key, StatusDone, s.nowFunc(), ttl)
	rec.ResultBody = resBody
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+key.String(), body, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key Key) error {
	marker := fmt.Sprintf(`"status":"%s"`, StatusInProgress)
	err := releaseScript.Run(ctx, s.client, []string{s.keyPrefix + key.String()}, marker).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: release: %v", ErrUnavailable, err)
	}
	return nil
}
