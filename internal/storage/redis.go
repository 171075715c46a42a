package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/user/site-crawler/internal/domain"
	"github.com/user/site-crawler/pkg/utils"
)

var (
	// ErrLeaseHeld is returned by Acquire when another holder owns the lease.
	ErrLeaseHeld = errors.New("lease held")
	// ErrLeaseLost is returned by Extend once the lease expired or changed hands.
	ErrLeaseLost = errors.New("lease lost")
)

const runStatusTTL = 7 * 24 * time.Hour

// releaseScript deletes the lease only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript resets the expiry only if the caller still owns the lease.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisStore keeps the cross-process run lease and the last run status.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Lease is an acquired run lease.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

// Extend pushes the expiry out to ttl from now.
func (l *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release drops the lease if it has not expired and been taken over.
func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// Acquire takes the lease for target (scheme://host) for at most ttl.
func (s *RedisStore) Acquire(ctx context.Context, target string, ttl time.Duration) (Lease, error) {
	key := leaseKey(target)
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return &redisLease{client: s.client, key: key, token: token}, nil
}

// SetRunStatus stores the latest status for its target.
func (s *RedisStore) SetRunStatus(ctx context.Context, status domain.RunStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, statusKey(status.Target), payload, runStatusTTL).Err()
}

// GetRunStatus returns the latest status for target or ErrNotFound.
func (s *RedisStore) GetRunStatus(ctx context.Context, target string) (*domain.RunStatus, error) {
	payload, err := s.client.Get(ctx, statusKey(target)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run status: %w", err)
	}
	var status domain.RunStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("decode run status: %w", err)
	}
	return &status, nil
}

func leaseKey(target string) string {
	return "crawl:lease:" + utils.HashURL(target)
}

func statusKey(target string) string {
	return "crawl:status:" + utils.HashURL(target)
}
