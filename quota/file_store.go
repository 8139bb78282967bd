package quota

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GunzViruz/telegpt/internal/fsstore"
)

const (
	DefaultFileName = "users.json"
	fileLockKey     = "quota.users"
)

// FileStore keeps the user mapping in a single JSON document. Mutations are
// serialized in-process by a mutex and across processes by a flock on a
// sibling lock file.
type FileStore struct {
	path     string
	lockPath string
	logger   *slog.Logger

	mu sync.Mutex
}

func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty quota document path", fsstore.ErrInvalidPath)
	}
	path = filepath.Clean(path)
	lockPath, err := fsstore.BuildLockPath(filepath.Join(filepath.Dir(path), ".fslocks"), fileLockKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, lockPath: lockPath, logger: logger}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (Users, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return Users{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) Save(ctx context.Context, users Users) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsstore.WithLock(ctx, s.lockPath, func() error {
		return s.saveLocked(users)
	})
}

func (s *FileStore) Update(ctx context.Context, fn Mutator) error {
	if fn == nil {
		return fmt.Errorf("quota update: nil mutator")
	}
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsstore.WithLock(ctx, s.lockPath, func() error {
		users, err := s.loadLocked()
		if err != nil {
			s.logger.Warn("quota_store_read_recovered", "path", s.path, "error", err.Error())
			users = Users{}
		}
		changed, err := fn(users)
		if err != nil || !changed {
			return err
		}
		return s.saveLocked(users)
	})
}

func (s *FileStore) loadLocked() (Users, error) {
	var users Users
	ok, err := fsstore.ReadJSON(s.path, &users)
	if err != nil {
		return Users{}, fmt.Errorf("%w: %w", ErrStorageRead, err)
	}
	if !ok {
		return Users{}, nil
	}
	return users.normalize(), nil
}

func (s *FileStore) saveLocked(users Users) error {
	if err := fsstore.WriteJSONAtomic(s.path, users.normalize(), fsstore.FileOptions{}); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return nil
}
