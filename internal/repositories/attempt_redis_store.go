package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/garage/internal/models"
	"github.com/go-redis/redis/v8"
)

// Hash layout per client: count, last (unix ms), blocked (unix ms, optional).
const (
	fieldCount   = "count"
	fieldLast    = "last"
	fieldBlocked = "blocked"
)

// upsertFailureScript resets the counter after the idle window, drops expired
// blocks and increments the count in one round trip.
var upsertFailureScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local idle = tonumber(ARGV[2])
local last = tonumber(redis.call('HGET', KEYS[1], 'last') or '0')
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local blocked = tonumber(redis.call('HGET', KEYS[1], 'blocked') or '0')
if last == 0 or now - last > idle then
  count = 0
end
if blocked ~= 0 and (count == 0 or blocked <= now) then
  redis.call('HDEL', KEYS[1], 'blocked')
  blocked = 0
end
count = count + 1
redis.call('HSET', KEYS[1], 'count', count, 'last', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {count, blocked}
`)

var setBlockedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'blocked', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// RedisAttemptStore shares AttemptRecords between instances.
type RedisAttemptStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient parses url and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	opts.PoolTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisAttemptStore keys records as prefix+clientID. Each write extends the
// key's expiry to ttl.
func NewRedisAttemptStore(client *redis.Client, prefix string, ttl time.Duration) *RedisAttemptStore {
	return &RedisAttemptStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisAttemptStore) key(clientID string) string {
	return s.prefix + clientID
}

func (s *RedisAttemptStore) Get(ctx context.Context, clientID string) (*models.AttemptRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(clientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", storeErr(err))
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseAttemptHash(clientID, fields)
}

func (s *RedisAttemptStore) UpsertFailure(ctx context.Context, clientID string, now time.Time, idleWindow time.Duration) (*models.AttemptRecord, error) {
	vals, err := upsertFailureScript.Run(ctx, s.client,
		[]string{s.key(clientID)},
		now.UnixMilli(), idleWindow.Milliseconds(), s.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis upsert failed: %w", storeErr(err))
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("redis upsert returned %d values", len(vals))
	}

	rec := &models.AttemptRecord{
		ClientID:      clientID,
		FailureCount:  int(vals[0]),
		LastAttemptAt: time.UnixMilli(now.UnixMilli()),
	}
	if vals[1] != 0 {
		blocked := time.UnixMilli(vals[1])
		rec.BlockedUntil = &blocked
	}
	return rec, nil
}

func (s *RedisAttemptStore) SetBlockedUntil(ctx context.Context, clientID string, until time.Time) error {
	ok, err := setBlockedScript.Run(ctx, s.client,
		[]string{s.key(clientID)},
		until.UnixMilli(), s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis set block failed: %w", storeErr(err))
	}
	if ok == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *RedisAttemptStore) ClearBlock(ctx context.Context, clientID string) error {
	if err := s.client.HDel(ctx, s.key(clientID), fieldBlocked).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", storeErr(err))
	}
	return nil
}

func (s *RedisAttemptStore) Delete(ctx context.Context, clientID string) error {
	if err := s.client.Del(ctx, s.key(clientID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", storeErr(err))
	}
	return nil
}

func (s *RedisAttemptStore) ClearExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	var cleared int64
	err := s.scan(ctx, func(key string) error {
		raw, err := s.client.HGet(ctx, key, fieldBlocked).Result()
		if err == redis.Nil {
			return nil
		} else if err != nil {
			return err
		}
		blocked, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || blocked <= now.UnixMilli() {
			n, err := s.client.HDel(ctx, key, fieldBlocked).Result()
			cleared += n
			return err
		}
		return nil
	})
	return cleared, err
}

func (s *RedisAttemptStore) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := s.scan(ctx, func(key string) error {
		raw, err := s.client.HGet(ctx, key, fieldLast).Result()
		if err == redis.Nil {
			return nil
		} else if err != nil {
			return err
		}
		last, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || last < before.UnixMilli() {
			n, err := s.client.Del(ctx, key).Result()
			deleted += n
			return err
		}
		return nil
	})
	return deleted, err
}

// Ping is used by the health endpoint.
func (s *RedisAttemptStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisAttemptStore) scan(ctx context.Context, fn func(key string) error) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return fmt.Errorf("redis sweep failed: %w", storeErr(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", storeErr(err))
	}
	return nil
}

func parseAttemptHash(clientID string, fields map[string]string) (*models.AttemptRecord, error) {
	count, err := strconv.Atoi(fields[fieldCount])
	if err != nil {
		return nil, fmt.Errorf("corrupt attempt record %q: %w", clientID, err)
	}
	last, err := strconv.ParseInt(fields[fieldLast], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt attempt record %q: %w", clientID, err)
	}

	rec := &models.AttemptRecord{
		ClientID:      clientID,
		FailureCount:  count,
		LastAttemptAt: time.UnixMilli(last),
	}
	if raw, ok := fields[fieldBlocked]; ok {
		blocked, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt attempt record %q: %w", clientID, err)
		}
		until := time.UnixMilli(blocked)
		rec.BlockedUntil = &until
	}
	return rec, nil
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}
