//go:build unix

package services

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/trobanga/pacsbatch/internal/lib"
)

// AcquireOutputLock attempts to acquire an exclusive lock on an output directory (Unix implementation)
// The lock is released when the OutputLock is released or the process exits
func AcquireOutputLock(dir string, logger *lib.Logger) (*OutputLock, error) {
	lockPath := filepath.Join(dir, LockFileName)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	// flock() is advisory - cooperating processes must check the lock
	err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		_ = lockFile.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, lib.ErrOutputLocked(dir)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	lock := &OutputLock{
		dir:      dir,
		lockFile: lockFile,
		lockPath: lockPath,
		logger:   logger,
	}

	if err := lock.writeLockInfo(); err != nil {
		logger.Warn("Failed to write lock info", "dir", dir, "error", err)
	}

	logger.Debug("Acquired output lock", "dir", dir, "pid", os.Getpid())

	return lock, nil
}

// Release releases the output lock (Unix implementation)
func (ol *OutputLock) Release() error {
	if ol.lockFile == nil {
		return nil
	}

	if err := syscall.Flock(int(ol.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		ol.logger.Warn("Failed to release flock", "dir", ol.dir, "error", err)
	}

	if err := ol.lockFile.Close(); err != nil {
		ol.logger.Warn("Failed to close lock file", "dir", ol.dir, "error", err)
		return err
	}

	ol.logger.Debug("Released output lock", "dir", ol.dir, "pid", os.Getpid())
	ol.lockFile = nil

	return nil
}

// IsOutputLocked checks if an output directory is locked by any process (Unix implementation)
// This is a non-destructive check that doesn't keep the lock
func IsOutputLocked(dir string) bool {
	lockPath := filepath.Join(dir, LockFileName)

	lockFile, err := os.Open(lockPath)
	if err != nil {
		return false
	}
	defer func() {
		_ = lockFile.Close()
	}()

	err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		return err == syscall.EWOULDBLOCK
	}

	_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	return false
}
