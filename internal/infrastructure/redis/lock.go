package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/dualwrite/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// Lua script for safe lock release (only owner can release)
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	// Lua script for lock extension
	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// ErrLockNotAcquired is returned when the lock stayed held by someone else for
// every retry. It matches domain ErrLockAcquisitionFailed.
var ErrLockNotAcquired = fmt.Errorf("redis lock: %w", domainErrors.ErrLockAcquisitionFailed)

// LockClient is the subset of the Redis client the lock needs.
type LockClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// DistributedLock represents a distributed lock using Redis
type DistributedLock struct {
	client   LockClient
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates a new distributed lock
func NewDistributedLock(client LockClient, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire attempts to acquire the lock once.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.acquired = success
	return success, nil
}

// AcquireWithRetry attempts to acquire the lock with retries. onBusy is called
// each time the lock is found held.
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, maxRetries int, retryDelay time.Duration, onBusy func()) error {
	for i := 0; i < maxRetries; i++ {
		acquired, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if onBusy != nil {
			onBusy()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	return fmt.Errorf("%w: %s after %d attempts", ErrLockNotAcquired, l.key, maxRetries)
}

// Extend extends the lock TTL
func (l *DistributedLock) Extend(ctx context.Context, additionalTTL time.Duration) error {
	if !l.acquired {
		return ErrLockNotAcquired
	}

	result, err := extendLockScript.Run(ctx, l.client, []string{l.key}, l.value, additionalTTL.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}

	val, ok := result.(int64)
	if !ok || val == 0 {
		return errors.New("lock not held or expired")
	}

	return nil
}

// Release releases the lock
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}

	result, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	l.acquired = false
	val, ok := result.(int64)
	if !ok || val == 0 {
		return errors.New("lock not held or already released")
	}

	return nil
}

// Locker serializes work on a resource across processes. Callers use it to
// keep two dual writes on the same key from interleaving.
type Locker struct {
	client     LockClient
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
	renewEvery time.Duration
	logger     zerolog.Logger

	// OnContention, if set, is called with the resource name whenever the lock
	// is found held.
	OnContention func(resource string)
}

// NewLocker creates a Locker whose locks expire after ttl unless renewed.
// While fn runs the lock is renewed every ttl/3.
func NewLocker(client LockClient, ttl time.Duration, logger zerolog.Logger) *Locker {
	return &Locker{
		client:     client,
		ttl:        ttl,
		retries:    20,
		retryDelay: 50 * time.Millisecond,
		renewEvery: ttl / 3,
		logger:     logger,
	}
}

// WithLock runs fn while holding the lock on resource and returns fn's error.
// A failed release is logged, not returned, since fn's work is already done.
// The release uses a context detached from ctx so a cancelled request still
// frees the lock.
func (l *Locker) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	lock := NewDistributedLock(l.client, resource, l.ttl)

	var onBusy func()
	if l.OnContention != nil {
		onBusy = func() { l.OnContention(resource) }
	}
	if err := lock.AcquireWithRetry(ctx, l.retries, l.retryDelay, onBusy); err != nil {
		return err
	}

	renewCtx, stopRenewing := context.WithCancel(context.WithoutCancel(ctx))
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		l.keepAlive(renewCtx, lock, resource)
	}()

	defer func() {
		stopRenewing()
		<-renewDone
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			l.logger.Warn().Err(err).Str("resource", resource).Msg("lock release failed")
		}
	}()

	return fn(ctx)
}

// keepAlive extends the lock until ctx is done or an extension fails.
func (l *Locker) keepAlive(ctx context.Context, lock *DistributedLock, resource string) {
	if l.renewEvery <= 0 {
		return
	}
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, l.ttl); err != nil {
				if ctx.Err() == nil {
					l.logger.Warn().Err(err).Str("resource", resource).Msg("lock lost while held")
				}
				return
			}
		}
	}
}
