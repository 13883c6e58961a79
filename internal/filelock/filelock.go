// Package filelock provides an exclusive cross-process lock tied to a
// target path.
//
// The lock is a sibling file (<path>.lock) created with O_EXCL, so exactly
// one process holds it at a time regardless of scheduling. Acquisition
// retries with exponential backoff and jitter; a lock held longer than the
// stale threshold is assumed abandoned by a dead process and broken, the
// same way a stale pid file is treated.
package filelock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Acquisition policy. Variables rather than constants so tests can shrink
// the schedule.
var (
	retryInitialInterval = 100 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
	retryMultiplier      = 2.0
	maxRetries           = uint64(10)
	staleAfter           = 30 * time.Second
)

// ErrTimeout is returned when the lock could not be acquired within the
// retry budget.
var ErrTimeout = errors.New("file lock acquisition timed out")

// errLockHeld is the retryable outcome of one attempt: another holder owns
// the lock.
var errLockHeld = errors.New("lock held")

// lockInfo is written into the lock file for diagnosis of stale locks.
type lockInfo struct {
	PID        int       `json:"pid"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// WithLock acquires the exclusive lock for path, runs fn, and releases the
// lock on every exit path including panics. The lock guarantees mutual
// exclusion across processes sharing the same filesystem.
func WithLock(path string, fn func() error) error {
	lockPath := path + ".lock"
	if err := acquire(lockPath); err != nil {
		return err
	}
	defer os.Remove(lockPath)
	return fn()
}

func acquire(lockPath string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.Multiplier = retryMultiplier
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		return tryAcquire(lockPath)
	}, backoff.WithMaxRetries(bo, maxRetries))
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return fmt.Errorf("%w: %s", ErrTimeout, lockPath)
		}
		return err
	}
	return nil
}

// tryAcquire attempts a single O_EXCL creation, breaking a stale lock
// first when one is present.
func tryAcquire(lockPath string) error {
	breakIfStale(lockPath)

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return errLockHeld
		}
		return backoff.Permanent(fmt.Errorf("create lock file: %w", err))
	}
	defer f.Close()

	info := lockInfo{
		PID:        os.Getpid(),
		Owner:      uuid.NewString(),
		AcquiredAt: time.Now().UTC(),
	}
	data, _ := json.Marshal(info)
	f.Write(data)
	return nil
}

// breakIfStale removes the lock file when its holder exceeded the stale
// threshold. Removal races between contenders are benign: at most one
// O_EXCL creation wins afterwards.
func breakIfStale(lockPath string) {
	st, err := os.Stat(lockPath)
	if err != nil {
		return
	}
	if time.Since(st.ModTime()) > staleAfter {
		os.Remove(lockPath)
	}
}
