package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/samber/lo"
)

// Locker grants the sweep lease.
type Locker interface {
	// TryLock acquires the lease without waiting. It reports false when
	// another holder has it.
	TryLock(ctx context.Context) (bool, error)

	// Unlock releases a lease acquired by TryLock.
	Unlock(ctx context.Context) error
}

// Renewer is implemented by leases that expire. Sweep renews such a lease
// every RenewInterval while it runs and aborts when a renewal fails.
type Renewer interface {
	Renew(ctx context.Context) error
	RenewInterval() time.Duration
}

// ErrLeaseLost is returned when a held lease can no longer be renewed.
var ErrLeaseLost = errors.New("lifecycle: sweep lease lost")

// LocalLocker is an in-process lease.
type LocalLocker struct {
	mu sync.Mutex
}

// NewLocalLocker creates an in-process lease.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// TryLock implements Locker.
func (l *LocalLocker) TryLock(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

// Unlock implements Locker.
func (l *LocalLocker) Unlock(context.Context) error {
	l.mu.Unlock()
	return nil
}

// DefaultLeaseKey is the Redis key that guards sweeps.
const DefaultLeaseKey = "memstore:lifecycle:sweep"

// releaseScript deletes the key only while it still holds our token, so a
// holder whose lease expired cannot release a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the key's TTL only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a lease shared through Redis by every process pointed at
// the same server. The lease expires after TTL if its holder dies.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Key defaults to DefaultLeaseKey.
	Key string

	// TTL bounds how long a crashed holder blocks others (default: 10m).
	TTL time.Duration
}

// NewRedisLocker connects to Redis.
func NewRedisLocker(cfg RedisConfig) *RedisLocker {
	if cfg.Key == "" {
		cfg.Key = DefaultLeaseKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		key: cfg.Key,
		ttl: cfg.TTL,
	}
}

// TryLock implements Locker with SET NX PX.
func (l *RedisLocker) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token != "" {
		return false, nil
	}

	token := lo.RandomString(32, lo.AlphanumericCharset)
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Unlock implements Locker. Releasing an expired lease is not an error.
func (l *RedisLocker) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token == "" {
		return errors.New("lifecycle: unlock of unheld lease")
	}
	token := l.token
	l.token = ""

	return releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
}

// Renew implements Renewer. It returns ErrLeaseLost when the lease is not
// held or has passed to another holder.
func (l *RedisLocker) Renew(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.mu.Unlock()

	if token == "" {
		return ErrLeaseLost
	}
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// RenewInterval implements Renewer: a third of the TTL, so two renewals can
// fail transiently before the lease expires.
func (l *RedisLocker) RenewInterval() time.Duration {
	return l.ttl / 3
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
