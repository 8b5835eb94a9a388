package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ClaimLock is a per-student SETNX lock in front of the daily bonus transaction.
// It implements bonus.ClaimLock.
type ClaimLock struct {
	cache *Cache
}

// NewClaimLock creates a claim lock.
func NewClaimLock(cache *Cache) *ClaimLock {
	return &ClaimLock{cache: cache}
}

// Acquire takes the lock for ttl. The returned release only deletes the key
// while it still carries this call's token.
func (l *ClaimLock) Acquire(ctx context.Context, studentID string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		ttl = TTLClaimLock
	}

	key := LockKey("daily_bonus:" + studentID)
	token := uuid.NewString()

	ok, err := l.cache.SetNX(ctx, key, token, ttl)
	if err != nil {
		return func() {}, false, err
	}
	if !ok {
		return func() {}, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.cache.DeleteIfEquals(ctx, key, token)
	}
	return release, true, nil
}
