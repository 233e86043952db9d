// Package lock provides a Redis-backed mutual-exclusion primitive used to
// serialize operations across multiple dataplatformd/dpctl processes: today
// that means config-backup snapshot creation (internal/configbackup), so
// two operators don't race to write the same snapshot directory.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLock is a single Redis SET-NX lock identified by a key, with a
// random value so only the holder that acquired it can release it.
type DistributedLock struct {
	redis    *redis.Client
	key      string
	value    string
	ttl      time.Duration
	logger   *slog.Logger
	acquired bool
}

// LockConfig configures a DistributedLock. Only TTL and ValuePrefix are
// read; MaxRetries, RetryInterval, AcquireTimeout and ReleaseTimeout have no
// effect (retries come from AcquireWithRetry's argument, the retry interval
// is a fixed 100ms step, and release uses a fixed 2s timeout).
type LockConfig struct {
	TTL            time.Duration `env:"LOCK_TTL" default:"30s"`
	MaxRetries     int           `env:"LOCK_MAX_RETRIES" default:"3"`
	RetryInterval  time.Duration `env:"LOCK_RETRY_INTERVAL" default:"100ms"`
	AcquireTimeout time.Duration `env:"LOCK_ACQUIRE_TIMEOUT" default:"5s"`
	ReleaseTimeout time.Duration `env:"LOCK_RELEASE_TIMEOUT" default:"2s"`
	ValuePrefix    string        `env:"LOCK_VALUE_PREFIX" default:"lock"`
}

func defaultLockConfig() *LockConfig {
	return &LockConfig{
		TTL:            30 * time.Second,
		MaxRetries:     3,
		RetryInterval:  100 * time.Millisecond,
		AcquireTimeout: 5 * time.Second,
		ReleaseTimeout: 2 * time.Second,
		ValuePrefix:    "lock",
	}
}

// NewDistributedLock builds a lock bound to key. config may be nil to use
// defaultLockConfig.
func NewDistributedLock(redis *redis.Client, key string, config *LockConfig, logger *slog.Logger) *DistributedLock {
	if config == nil {
		config = defaultLockConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DistributedLock{
		redis:  redis,
		key:    key,
		value:  generateLockValue(config.ValuePrefix),
		ttl:    config.TTL,
		logger: logger,
	}
}

func generateLockValue(prefix string) string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), time.Now().Unix())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(bytes))
}

// Acquire attempts to take the lock once.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	return l.AcquireWithRetry(ctx, 0)
}

// AcquireWithRetry attempts to take the lock, retrying with jittered backoff
// up to maxRetries times.
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, maxRetries int) (bool, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	l.logger.Debug("attempting to acquire lock", "key", l.key, "value", l.value, "ttl", l.ttl)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, l.ttl)
		defer cancel()

		result, err := l.redis.SetNX(acquireCtx, l.key, l.value, l.ttl).Result()
		if err != nil {
			l.logger.Error("failed to acquire lock", "key", l.key, "attempt", attempt+1, "error", err)
			if attempt == maxRetries {
				return false, fmt.Errorf("failed to acquire lock after %d attempts: %w", maxRetries+1, err)
			}
			time.Sleep(l.retryInterval(attempt))
			continue
		}

		if result {
			l.acquired = true
			l.logger.Info("lock acquired", "key", l.key, "value", l.value, "ttl", l.ttl)
			return true, nil
		}

		l.logger.Debug("lock already held by another process", "key", l.key, "attempt", attempt+1)
		if attempt == maxRetries {
			return false, nil
		}
		time.Sleep(l.retryInterval(attempt))
	}

	return false, nil
}

// Release gives up the lock, but only if this holder still owns it: the
// compare-and-delete runs as a Lua script so the check and delete are atomic.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		l.logger.Warn("attempting to release lock that was not acquired", "key", l.key)
		return nil
	}

	l.logger.Debug("releasing lock", "key", l.key, "value", l.value)

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	releaseCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.redis.Eval(releaseCtx, script, []string{l.key}, l.value).Result()
	if err != nil {
		l.logger.Error("failed to release lock", "key", l.key, "error", err)
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if result.(int64) == 1 {
		l.acquired = false
		l.logger.Info("lock released", "key", l.key)
		return nil
	}

	l.logger.Warn("lock was not released (possibly already expired or held by another process)", "key", l.key)
	return nil
}

// Extend pushes the lock's TTL out to newTTL, failing if another holder has
// since taken the key.
func (l *DistributedLock) Extend(ctx context.Context, newTTL time.Duration) error {
	if !l.acquired {
		return fmt.Errorf("cannot extend lock that was not acquired")
	}

	l.logger.Debug("extending lock", "key", l.key, "new_ttl", newTTL)

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	extendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.redis.Eval(extendCtx, script, []string{l.key}, l.value, int(newTTL.Seconds())).Result()
	if err != nil {
		l.logger.Error("failed to extend lock", "key", l.key, "error", err)
		return fmt.Errorf("failed to extend lock: %w", err)
	}

	if result.(int64) == 1 {
		l.ttl = newTTL
		l.logger.Info("lock extended", "key", l.key, "new_ttl", newTTL)
		return nil
	}

	return fmt.Errorf("failed to extend lock (possibly already expired or held by another process)")
}

// IsAcquired reports whether this holder currently owns the lock.
func (l *DistributedLock) IsAcquired() bool {
	return l.acquired
}

// GetKey returns the lock's Redis key.
func (l *DistributedLock) GetKey() string {
	return l.key
}

// GetValue returns this holder's unique lock value.
func (l *DistributedLock) GetValue() string {
	return l.value
}

// GetTTL returns the lock's current TTL.
func (l *DistributedLock) GetTTL() time.Duration {
	return l.ttl
}

func (l *DistributedLock) retryInterval(attempt int) time.Duration {
	baseInterval := 100 * time.Millisecond
	interval := time.Duration(attempt+1) * baseInterval

	jitter := time.Duration(float64(interval) * 0.25 * (2*float64(time.Now().UnixNano()%1000)/1000 - 1))
	return interval + jitter
}
