package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockKeyMaxLen = 120
	lockRetryWait = 20 * time.Millisecond
	lockFileExt   = ".lck"
)

// BuildLockPath maps a lowercase dotted key such as "quota.users" to a lock
// file under lockRoot.
func BuildLockPath(lockRoot string, lockKey string) (string, error) {
	lockRoot, err := normalizePath(lockRoot)
	if err != nil {
		return "", err
	}
	lockKey, err = validateLockKey(lockKey)
	if err != nil {
		return "", err
	}
	return filepath.Join(lockRoot, lockKey+lockFileExt), nil
}

// WithLock runs fn while holding an exclusive advisory lock on lockPath.
// Waiting stops with ErrLockTimeout once ctx is done.
func WithLock(ctx context.Context, lockPath string, fn func() error) error {
	normalizedPath, err := normalizePath(lockPath)
	if err != nil {
		return err
	}
	if fn == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := EnsureDir(filepath.Dir(normalizedPath), defaultDirPerm); err != nil {
		return err
	}
	return withLockFile(ctx, normalizedPath, fn)
}

func validateLockKey(lockKey string) (string, error) {
	lockKey = strings.TrimSpace(lockKey)
	switch {
	case lockKey == "":
		return "", fmt.Errorf("%w: empty lock key", ErrInvalidPath)
	case len(lockKey) > lockKeyMaxLen:
		return "", fmt.Errorf("%w: lock key too long", ErrInvalidPath)
	case strings.ToLower(lockKey) != lockKey:
		return "", fmt.Errorf("%w: lock key must be lowercase", ErrInvalidPath)
	case strings.HasPrefix(lockKey, ".") || strings.HasSuffix(lockKey, "."):
		return "", fmt.Errorf("%w: lock key cannot start or end with dot", ErrInvalidPath)
	}
	for _, r := range lockKey {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return "", fmt.Errorf("%w: invalid lock key character %q", ErrInvalidPath, r)
	}
	return lockKey, nil
}

type lockOwner struct {
	LockPath   string `json:"lock_path"`
	PID        int    `json:"pid"`
	Hostname   string `json:"hostname,omitempty"`
	AcquiredAt string `json:"acquired_at"`
}

// writeLockOwner records who holds the lock; it only helps humans debugging a
// stuck deployment and never affects locking.
func writeLockOwner(file *os.File, lockPath string) {
	if file == nil {
		return
	}
	host, _ := os.Hostname()
	data, err := json.Marshal(lockOwner{
		LockPath:   lockPath,
		PID:        os.Getpid(),
		Hostname:   host,
		AcquiredAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	data = append(data, '\n')
	_ = file.Truncate(0)
	_, _ = file.Seek(0, 0)
	_, _ = file.Write(data)
}

func waitForLockRetry(ctx context.Context, lockPath string) error {
	timer := time.NewTimer(lockRetryWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrLockTimeout, lockPath, ctx.Err())
	case <-timer.C:
		return nil
	}
}
