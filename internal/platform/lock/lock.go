// Package lock serialises care-plan placement per clinician so that two
// concurrent bookings cannot both pass the capacity checks against the same
// snapshot of the calendar.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another placement holds the key.
var ErrLockHeld = errors.New("lock is held by another request")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires exclusive, expiring leases on string keys.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// ClinicianKey names the lock guarding one clinician's calendar in a cohort.
func ClinicianKey(cohortID, clinicianID string) string {
	return fmt.Sprintf("clinician:%s:%s", cohortID, clinicianID)
}

const keyPrefix = "rehabsim:lock:"

// Deletes the key only if it still holds our token, so an expired lease
// cannot release a lock someone else has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX, shared by every replica.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLease{client: l.client, key: keyPrefix + key, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
	once   sync.Once
	err    error
}

func (r *redisLease) Release(ctx context.Context) error {
	r.once.Do(func() {
		if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.err = fmt.Errorf("release %s: %w", r.key, err)
		}
	})
	return r.err
}

// LocalLocker is the single-process fallback used when REDIS_URL is unset.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localEntry
	now  func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localEntry), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, ErrLockHeld
	}
	token := uuid.NewString()
	l.held[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{owner: l, key: key, token: token}, nil
}

type localLease struct {
	owner *LocalLocker
	key   string
	token string
}

func (r *localLease) Release(context.Context) error {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	if e, ok := r.owner.held[r.key]; ok && e.token == r.token {
		delete(r.owner.held, r.key)
	}
	return nil
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
