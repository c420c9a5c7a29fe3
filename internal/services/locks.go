package services

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/trobanga/pacsbatch/internal/lib"
)

// LockFileName is the advisory lock held while a process journals into an output directory
const LockFileName = ".lock"

// OutputLock represents the lock on an output directory.
// Prevents two processes from appending to the same ledger.
type OutputLock struct {
	dir      string
	token    string
	lockFile *os.File
	lockPath string
	logger   *lib.Logger
}

// WithOutputLock executes a function while holding the output directory lock
// Returns error if lock cannot be acquired or if the function returns an error
func WithOutputLock(dir string, logger *lib.Logger, fn func() error) error {
	lock, err := AcquireOutputLock(dir, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error("Failed to release output lock", "error", err)
		}
	}()

	return fn()
}

// Token identifies this lock holder in the lock file
func (ol *OutputLock) Token() string { return ol.token }

// writeLockInfo writes debug information to the lock file
func (ol *OutputLock) writeLockInfo() error {
	ol.token = uuid.New().String()
	lockInfo := fmt.Sprintf("pid=%d\ntoken=%s\ntime=%s\n", os.Getpid(), ol.token, time.Now().Format(time.RFC3339))
	_ = ol.lockFile.Truncate(0)
	_, _ = ol.lockFile.Seek(0, 0)
	_, _ = ol.lockFile.WriteString(lockInfo)
	return ol.lockFile.Sync()
}
