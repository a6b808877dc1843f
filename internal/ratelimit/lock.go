package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLockHeld = errors.New("lock_held")

// Locker hands out short-lived exclusive leases. With a redis client the
// lease is shared by every node; without one it only excludes goroutines
// of this process.
type Locker struct {
	client *redis.Client
	script *redis.Script

	mu    sync.Mutex
	local map[string]localLease
	now   func() time.Time
}

type localLease struct {
	token     string
	expiresAt time.Time
}

func NewLocker(client *redis.Client) *Locker {
	l := &Locker{
		client: client,
		local:  make(map[string]localLease),
		now:    time.Now,
	}
	if client != nil {
		l.script = redis.NewScript(lockReleaseScript)
	}
	return l
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	if l.client == nil {
		return token, l.tryLocal(key, token, ttl), nil
	}

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	if l.client == nil {
		l.mu.Lock()
		if lease, ok := l.local[key]; ok && lease.token == token {
			delete(l.local, key)
		}
		l.mu.Unlock()
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// WithLock runs fn while holding key. It returns ErrLockHeld without
// running fn when another holder owns the lease.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Release(releaseCtx, key, token)
	}()
	return fn(ctx)
}

func (l *Locker) tryLocal(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if lease, ok := l.local[key]; ok && now.Before(lease.expiresAt) {
		return false
	}
	l.local[key] = localLease{token: token, expiresAt: now.Add(ttl)}
	return true
}
