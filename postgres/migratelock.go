package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Default settings for the distributed migration lock.
const (
	DefaultMigrationLockTTL        = 2 * time.Minute
	DefaultMigrationLockRetryDelay = 100 * time.Millisecond
	DefaultMigrationLockRetries    = 300
)

// MigrationLocker coordinates concurrent Migrator.Up/Steps calls across
// multiple process instances using a Redis-backed mutual-exclusion lock, so
// a fleet rollout doesn't run the same migration twice concurrently.
type MigrationLocker struct {
	client     redis.UniversalClient
	logger     *Logger
	keyPrefix  string
	defaultTTL time.Duration
	retryDelay time.Duration
	retries    int
}

// MigrationLockerOption configures a MigrationLocker.
type MigrationLockerOption func(*MigrationLocker)

// WithMigrationLockKeyPrefix sets the Redis key prefix used for lock keys.
func WithMigrationLockKeyPrefix(prefix string) MigrationLockerOption {
	return func(l *MigrationLocker) { l.keyPrefix = prefix }
}

// WithMigrationLockTTL sets the default lock TTL.
func WithMigrationLockTTL(ttl time.Duration) MigrationLockerOption {
	return func(l *MigrationLocker) { l.defaultTTL = ttl }
}

// WithMigrationLockRetryDelay sets the delay between acquisition attempts.
func WithMigrationLockRetryDelay(d time.Duration) MigrationLockerOption {
	return func(l *MigrationLocker) { l.retryDelay = d }
}

// WithMigrationLockRetries sets the number of acquisition attempts.
func WithMigrationLockRetries(n int) MigrationLockerOption {
	return func(l *MigrationLocker) { l.retries = n }
}

// WithMigrationLockerLogger sets the locker's logger.
func WithMigrationLockerLogger(logger *Logger) MigrationLockerOption {
	return func(l *MigrationLocker) { l.logger = logger }
}

// NewMigrationLocker builds a MigrationLocker over an existing redis client.
func NewMigrationLocker(client redis.UniversalClient, opts ...MigrationLockerOption) *MigrationLocker {
	l := &MigrationLocker{
		client:     client,
		keyPrefix:  "migration-lock",
		defaultTTL: DefaultMigrationLockTTL,
		retryDelay: DefaultMigrationLockRetryDelay,
		retries:    DefaultMigrationLockRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MigrationLock is a held distributed lock guarding one migration target.
type MigrationLock struct {
	locker *MigrationLocker
	key    string
	owner  string
}

func (l *MigrationLocker) lockKey(target string) string {
	return l.keyPrefix + ":" + target
}

// generateLockOwner returns a value unique enough to distinguish this
// process's hold on a lock from any other acquirer, so Release can tell
// whether it still owns the key before deleting it.
func generateLockOwner() string {
	return uuid.NewString()
}

// AcquireWithRetry blocks (retrying at the configured interval) until the
// lock for target is acquired, ctx is done, or the configured number of
// attempts has been used up.
func (l *MigrationLocker) AcquireWithRetry(ctx context.Context, target string) (*MigrationLock, error) {
	key := l.lockKey(target)
	owner := generateLockOwner()

	for attempt := 0; attempt < l.retries; attempt++ {
		ok, err := l.client.SetNX(ctx, key, owner, l.defaultTTL).Result()
		if err != nil {
			return nil, Wrap(CodeConfigurationError, "acquiring migration lock", err)
		}
		if ok {
			if l.logger != nil {
				l.logger.Debug("migration lock acquired", "key", key)
			}
			return &MigrationLock{locker: l, key: key, owner: owner}, nil
		}

		select {
		case <-ctx.Done():
			return nil, Wrap(CodeConfigurationError, "migration lock acquisition canceled", ctx.Err())
		case <-time.After(l.retryDelay):
		}
	}

	return nil, Newf(CodeConfigurationError, "could not acquire migration lock %q after %d attempts", key, l.retries)
}

// WithLock acquires the lock for target, runs fn, and releases the lock
// regardless of fn's outcome.
func (l *MigrationLocker) WithLock(ctx context.Context, target string, fn func(ctx context.Context) error) error {
	lock, err := l.AcquireWithRetry(ctx, target)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := lock.Release(ctx); releaseErr != nil && l.logger != nil {
			l.logger.Warn("failed to release migration lock", "key", lock.key, "error", releaseErr.Error())
		}
	}()
	return fn(ctx)
}

// releaseScript atomically deletes the lock key only if it is still owned by
// the caller, preventing a slow holder from deleting a lock someone else has
// since acquired after TTL expiry.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Release releases the lock if still owned by this holder.
func (lock *MigrationLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.locker.client, []string{lock.key}, lock.owner).Int64()
	if err != nil {
		return Wrap(CodeConfigurationError, "releasing migration lock", err)
	}
	if result == 0 {
		return Newf(CodeConfigurationError, "migration lock %q was not held by this owner at release time", lock.key)
	}
	return nil
}
