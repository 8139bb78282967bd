package quota

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
)

type userRow struct {
	UserID       string `gorm:"primaryKey;column:user_id;size:64"`
	Username     string `gorm:"column:username"`
	MessageCount int    `gorm:"column:message_count;not null;default:0"`
	LastDate     string `gorm:"column:last_date;size:10"`
	Context      string `gorm:"column:context"`
}

func (userRow) TableName() string {
	return "quota_users"
}

type messageRow struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"column:user_id;size:64;index:idx_quota_messages_user_seq,priority:1"`
	Seq       int       `gorm:"column:seq;index:idx_quota_messages_user_seq,priority:2"`
	Timestamp time.Time `gorm:"column:timestamp"`
	Message   string    `gorm:"column:message"`
}

func (messageRow) TableName() string {
	return "quota_messages"
}

// SQLModels lists the gorm models backing SQLStore, for AutoMigrate.
func SQLModels() []any {
	return []any{&userRow{}, &messageRow{}}
}

// SQLStore keeps the user mapping in two tables. It preserves the
// whole-document contract: Load reads every row and Save rewrites every row
// inside one transaction.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger

	mu sync.Mutex
}

func NewSQLStore(db *gorm.DB, logger *slog.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil gorm db", ErrNilStore)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, logger: logger}, nil
}

func (s *SQLStore) Load(ctx context.Context) (Users, error) {
	if err := ensureNotCanceled(ctx); err != nil {
		return Users{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadRows(s.db.WithContext(ctx))
}

func (s *SQLStore) Save(ctx context.Context, users Users) error {
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveRows(tx, users)
	})
}

func (s *SQLStore) Update(ctx context.Context, fn Mutator) error {
	if fn == nil {
		return fmt.Errorf("quota update: nil mutator")
	}
	if err := ensureNotCanceled(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users, err := loadRows(tx)
		if err != nil {
			s.logger.Warn("quota_store_read_recovered", "backend", "sql", "error", err.Error())
			users = Users{}
		}
		changed, err := fn(users)
		if err != nil || !changed {
			return err
		}
		return saveRows(tx, users)
	})
}

func loadRows(tx *gorm.DB) (Users, error) {
	var rows []userRow
	if err := tx.Order("user_id").Find(&rows).Error; err != nil {
		return Users{}, fmt.Errorf("%w: %w", ErrStorageRead, err)
	}
	var messages []messageRow
	if err := tx.Order("user_id").Order("seq").Find(&messages).Error; err != nil {
		return Users{}, fmt.Errorf("%w: %w", ErrStorageRead, err)
	}

	users := make(Users, len(rows))
	for _, row := range rows {
		users[UserID(row.UserID)] = &UserRecord{
			UserID:       UserID(row.UserID),
			Username:     row.Username,
			MessageCount: row.MessageCount,
			LastDate:     row.LastDate,
			Context:      row.Context,
			MessagesLog:  []LogEntry{},
		}
	}
	for _, msg := range messages {
		rec, ok := users[UserID(msg.UserID)]
		if !ok {
			continue
		}
		rec.MessagesLog = append(rec.MessagesLog, LogEntry{Timestamp: msg.Timestamp, Message: msg.Message})
	}
	return users.normalize(), nil
}

func saveRows(tx *gorm.DB, users Users) error {
	users = users.normalize()
	if err := tx.Exec("DELETE FROM quota_messages").Error; err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	if err := tx.Exec("DELETE FROM quota_users").Error; err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	ids := users.IDs()
	if len(ids) == 0 {
		return nil
	}
	rows := make([]userRow, 0, len(ids))
	var messages []messageRow
	for _, id := range ids {
		rec := users[id]
		rows = append(rows, userRow{
			UserID:       string(id),
			Username:     rec.Username,
			MessageCount: rec.MessageCount,
			LastDate:     rec.LastDate,
			Context:      rec.Context,
		})
		for i, entry := range rec.MessagesLog {
			messages = append(messages, messageRow{
				UserID:    string(id),
				Seq:       i,
				Timestamp: entry.Timestamp,
				Message:   entry.Message,
			})
		}
	}
	if err := tx.CreateInBatches(rows, 200).Error; err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	if len(messages) > 0 {
		if err := tx.CreateInBatches(messages, 200).Error; err != nil {
			return fmt.Errorf("%w: %w", ErrStorageWrite, err)
		}
	}
	return nil
}
