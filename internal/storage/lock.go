package storage

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/varde/mnemo/internal/apperr"
)

const (
	lockRetryInterval = 10 * time.Millisecond
	lockAcquireLimit  = 5 * time.Second
	lockStaleAge      = 30 * time.Second
)

// fileLock is a cross-process mutex built on exclusive lock-file creation.
// Two overlapping invocations (e.g. two terminal sessions) serialize their
// store writes through it; within one process the store's callers already
// serialize via the coordinator.
type fileLock struct {
	path string
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

// acquire creates the lock file exclusively, retrying until the limit.
// A lock file older than lockStaleAge is treated as left behind by a dead
// process and broken.
func (l *fileLock) acquire() error {
	deadline := time.Now().Add(lockAcquireLimit)
	for {
		fd, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fd.WriteString(strconv.Itoa(os.Getpid()))
			return fd.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("storage: lock: %w", errors.Join(apperr.ErrStoreUnavailable, err))
		}
		if info, statErr := os.Stat(l.path); statErr == nil && time.Since(info.ModTime()) > lockStaleAge {
			_ = os.Remove(l.path)
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("storage: lock held too long: %w", apperr.ErrStoreUnavailable)
		}
		time.Sleep(lockRetryInterval)
	}
}

func (l *fileLock) release() {
	_ = os.Remove(l.path)
}
