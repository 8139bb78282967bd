package quota

import (
	"context"
	"errors"
)

var (
	// ErrStorageRead marks a document that is missing, unreadable or corrupt.
	// Callers recover by treating the store as empty.
	ErrStorageRead = errors.New("quota: storage read failed")
	// ErrStorageWrite marks a document that could not be persisted.
	ErrStorageWrite   = errors.New("quota: storage write failed")
	ErrInvalidUserID  = errors.New("quota: invalid user id")
	ErrNilStore       = errors.New("quota: nil store")
	ErrUnknownBackend = errors.New("quota: unknown store backend")
)

// Mutator edits the loaded document in place and reports whether anything
// changed; unchanged documents are not rewritten.
type Mutator func(users Users) (changed bool, err error)

// Store persists the whole user mapping as one document.
type Store interface {
	// Load reads the full document. A document that cannot be read is
	// reported with ErrStorageRead alongside an empty mapping.
	Load(ctx context.Context) (Users, error)
	// Save overwrites the full document.
	Save(ctx context.Context, users Users) error
	// Update runs load, fn and save as one exclusive step.
	Update(ctx context.Context, fn Mutator) error
}

func ensureNotCanceled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
