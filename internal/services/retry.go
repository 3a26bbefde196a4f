package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fitcoach/adherence/internal/repository"
)

type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

// do runs fn until it succeeds, fails with a non-transient error, or attempts run out.
// Exhausted retries are reported as ErrStorage.
func (policy retryPolicy) do(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= policy.attempts; attempt++ {
		err = fn()
		if err == nil || !repository.IsTransient(err) {
			return err
		}

		slog.Warn("transient storage error", "operation", operation, "attempt", attempt, "error", err)
		if attempt == policy.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrStorage, operation, ctx.Err())
		case <-time.After(policy.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrStorage, operation, policy.attempts, err)
}

// userLocks serializes record-then-evaluate per user within this process.
type userLocks struct {
	mutex sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	holders int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (locks *userLocks) lock(userID string) func() {
	locks.mutex.Lock()
	lock, ok := locks.locks[userID]
	if !ok {
		lock = &userLock{}
		locks.locks[userID] = lock
	}
	lock.holders++
	locks.mutex.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()

		locks.mutex.Lock()
		lock.holders--
		if lock.holders == 0 {
			delete(locks.locks, userID)
		}
		locks.mutex.Unlock()
	}
}
