package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-cbt/internal/config"
)

// ErrLockHeld means another gateway instance holds the student's attempt.
var ErrLockHeld = errors.New("attempt lock held by another instance")

// Owner-checked scripts so an instance never extends or frees a lock it lost.
var (
	refreshLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// AttemptLockRepository keeps at most one live attempt session per
// (student, paper) across gateway instances.
type AttemptLockRepository struct {
	rdb   *redis.Client
	owner string
	ttl   time.Duration
}

// NewAttemptLockRepository creates a lock repository owned by instanceID.
func NewAttemptLockRepository(rdb *redis.Client, instanceID string, ttl time.Duration) *AttemptLockRepository {
	return &AttemptLockRepository{rdb: rdb, owner: instanceID, ttl: ttl}
}

// Acquire takes the lock, or renews it when this instance already holds it.
func (r *AttemptLockRepository) Acquire(ctx context.Context, paperID string, studentID int) error {
	key := config.CacheKey.AttemptLockKey(paperID, studentID)

	ok, err := r.rdb.SetNX(ctx, key, r.owner, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire attempt lock: %w", err)
	}
	if ok {
		return nil
	}

	renewed, err := r.Refresh(ctx, paperID, studentID)
	if err != nil {
		return err
	}
	if !renewed {
		return ErrLockHeld
	}
	return nil
}

// Refresh extends the lock's TTL. It reports false when the lock is no longer
// held by this instance.
func (r *AttemptLockRepository) Refresh(ctx context.Context, paperID string, studentID int) (bool, error) {
	key := config.CacheKey.AttemptLockKey(paperID, studentID)
	n, err := refreshLockScript.Run(ctx, r.rdb, []string{key}, r.owner, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("refresh attempt lock: %w", err)
	}
	return n == 1, nil
}

// Release frees the lock if this instance holds it.
func (r *AttemptLockRepository) Release(ctx context.Context, paperID string, studentID int) error {
	key := config.CacheKey.AttemptLockKey(paperID, studentID)
	if err := releaseLockScript.Run(ctx, r.rdb, []string{key}, r.owner).Err(); err != nil {
		return fmt.Errorf("release attempt lock: %w", err)
	}
	return nil
}

// Owner returns the instance currently holding the lock, or "" if free.
func (r *AttemptLockRepository) Owner(ctx context.Context, paperID string, studentID int) (string, error) {
	owner, err := r.rdb.Get(ctx, config.CacheKey.AttemptLockKey(paperID, studentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read attempt lock: %w", err)
	}
	return owner, nil
}
