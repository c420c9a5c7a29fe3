//go:build windows

package services

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"unsafe"

	"github.com/trobanga/pacsbatch/internal/lib"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = kernel32.NewProc("LockFileEx")
	procUnlockFileEx = kernel32.NewProc("UnlockFileEx")
)

const (
	LOCKFILE_FAIL_IMMEDIATELY = 0x00000001
	LOCKFILE_EXCLUSIVE_LOCK   = 0x00000002
	ERROR_LOCK_VIOLATION      = syscall.Errno(33) // File is locked by another process
)

func lockFileEx(f *os.File) error {
	overlapped := syscall.Overlapped{}
	r1, _, err := procLockFileEx.Call(
		uintptr(syscall.Handle(f.Fd())),
		uintptr(LOCKFILE_EXCLUSIVE_LOCK|LOCKFILE_FAIL_IMMEDIATELY),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		return err
	}
	return nil
}

func unlockFileEx(f *os.File) error {
	overlapped := syscall.Overlapped{}
	_, _, err := procUnlockFileEx.Call(
		uintptr(syscall.Handle(f.Fd())),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// AcquireOutputLock attempts to acquire an exclusive lock on an output directory (Windows implementation)
func AcquireOutputLock(dir string, logger *lib.Logger) (*OutputLock, error) {
	lockPath := filepath.Join(dir, LockFileName)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := lockFileEx(lockFile); err != nil {
		_ = lockFile.Close()
		if err == ERROR_LOCK_VIOLATION {
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

// Release releases the output lock (Windows implementation)
func (ol *OutputLock) Release() error {
	if ol.lockFile == nil {
		return nil
	}

	if err := unlockFileEx(ol.lockFile); err != nil {
		ol.logger.Warn("Failed to release lock", "dir", ol.dir, "error", err)
	}

	if err := ol.lockFile.Close(); err != nil {
		ol.logger.Warn("Failed to close lock file", "dir", ol.dir, "error", err)
		return err
	}

	ol.logger.Debug("Released output lock", "dir", ol.dir, "pid", os.Getpid())
	ol.lockFile = nil

	return nil
}

// IsOutputLocked checks if an output directory is locked by any process (Windows implementation)
func IsOutputLocked(dir string) bool {
	lockFile, err := os.Open(filepath.Join(dir, LockFileName))
	if err != nil {
		return false
	}
	defer func() {
		_ = lockFile.Close()
	}()

	if err := lockFileEx(lockFile); err != nil {
		return err == ERROR_LOCK_VIOLATION
	}

	_ = unlockFileEx(lockFile)
	return false
}
