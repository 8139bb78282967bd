package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GunzViruz/telegpt/internal/runtimeclock"
)

type Options struct {
	Store      Store
	DailyLimit int
	// Location decides where a calendar day starts. Nil means host local.
	Location *time.Location
	Now      runtimeclock.Clock
	Logger   *slog.Logger
}

// Admission is the outcome of one reservation attempt.
type Admission struct {
	Admitted bool
	// Count is the number of messages reserved today after this attempt.
	Count int
	Limit int
}

func (a Admission) Remaining() int {
	if a.Count >= a.Limit {
		return 0
	}
	return a.Limit - a.Count
}

// Tracker enforces the per-user daily message limit on top of a Store. Every
// operation that mutates state is one Store.Update call, so concurrent
// callers never observe a partially applied read-modify-write.
type Tracker struct {
	store  Store
	limit  int
	loc    *time.Location
	now    runtimeclock.Clock
	logger *slog.Logger
}

func NewTracker(opts Options) (*Tracker, error) {
	if opts.Store == nil {
		return nil, ErrNilStore
	}
	limit := opts.DailyLimit
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  opts.Store,
		limit:  limit,
		loc:    loc,
		now:    opts.Now,
		logger: logger,
	}, nil
}

func (t *Tracker) DailyLimit() int {
	return t.limit
}

func (t *Tracker) Location() *time.Location {
	return t.loc
}

// Today is the current calendar day key in the tracker's timezone.
func (t *Tracker) Today() string {
	return runtimeclock.DayKey(t.now.Now(), t.loc)
}

// Load returns the whole document. Unreadable state is logged and reported
// as an empty mapping.
func (t *Tracker) Load(ctx context.Context) Users {
	users, err := t.store.Load(ctx)
	if err != nil {
		t.logger.Warn("quota_load_recovered", "error", err.Error())
		return Users{}
	}
	return users.normalize()
}

func (t *Tracker) Save(ctx context.Context, users Users) error {
	return t.store.Save(ctx, users)
}

// CheckAndReserve consumes one unit of today's quota for id when any is left.
func (t *Tracker) CheckAndReserve(ctx context.Context, id UserID) (bool, error) {
	adm, err := t.reserve(ctx, id, "", false)
	return adm.Admitted, err
}

// Admit refreshes the stored username and then attempts a reservation, in a
// single update.
func (t *Tracker) Admit(ctx context.Context, id UserID, username string) (Admission, error) {
	return t.reserve(ctx, id, username, true)
}

func (t *Tracker) reserve(ctx context.Context, id UserID, username string, touch bool) (Admission, error) {
	id, err := validUserID(id)
	if err != nil {
		return Admission{Limit: t.limit}, err
	}
	today := t.Today()
	adm := Admission{Limit: t.limit}
	err = t.store.Update(ctx, func(users Users) (bool, error) {
		rec, changed := upsert(users, id, today)
		if rolled := rec.rollover(today); rolled {
			changed = true
		}
		if touch && rec.setUsername(username) {
			changed = true
		}
		if rec.MessageCount < t.limit {
			rec.MessageCount++
			adm.Admitted = true
			changed = true
		}
		adm.Count = rec.MessageCount
		return changed, nil
	})
	if err != nil {
		return Admission{Limit: t.limit}, err
	}
	if !adm.Admitted {
		t.logger.Info("quota_rejected", "user_id", id.String(), "count", adm.Count, "limit", t.limit)
	}
	return adm, nil
}

// Touch refreshes the stored username without consuming quota.
func (t *Tracker) Touch(ctx context.Context, id UserID, username string) error {
	id, err := validUserID(id)
	if err != nil {
		return err
	}
	today := t.Today()
	return t.store.Update(ctx, func(users Users) (bool, error) {
		rec, changed := upsert(users, id, today)
		if rec.setUsername(username) {
			changed = true
		}
		return changed, nil
	})
}

// RecordExchange stores the reply as the user's context and appends the
// message to the log unless the same text was logged before.
func (t *Tracker) RecordExchange(ctx context.Context, id UserID, username, userMessage, assistantReply string) error {
	id, err := validUserID(id)
	if err != nil {
		return err
	}
	now := t.now.Now()
	today := runtimeclock.DayKey(now, t.loc)
	return t.store.Update(ctx, func(users Users) (bool, error) {
		rec, _ := upsert(users, id, today)
		rec.setUsername(username)
		rec.Context = assistantReply
		rec.appendMessage(now.UTC(), userMessage)
		return true, nil
	})
}

// Get returns a copy of the stored record for id. The lazy daily reset is
// reflected in the copy but not persisted.
func (t *Tracker) Get(ctx context.Context, id UserID) (UserRecord, bool) {
	id, err := validUserID(id)
	if err != nil {
		return UserRecord{}, false
	}
	users := t.Load(ctx)
	rec, ok := users[id]
	if !ok {
		return UserRecord{}, false
	}
	out := rec.clone()
	out.rollover(t.Today())
	return out, true
}

// Usage reports today's count for id without consuming quota.
func (t *Tracker) Usage(ctx context.Context, id UserID) Admission {
	rec, ok := t.Get(ctx, id)
	adm := Admission{Limit: t.limit}
	if ok {
		adm.Count = rec.MessageCount
	}
	adm.Admitted = adm.Count < t.limit
	return adm
}

// Reset clears today's counter for id. Unknown users are reported as such.
func (t *Tracker) Reset(ctx context.Context, id UserID) error {
	id, err := validUserID(id)
	if err != nil {
		return err
	}
	today := t.Today()
	found := false
	err = t.store.Update(ctx, func(users Users) (bool, error) {
		rec, ok := users[id]
		if !ok {
			return false, nil
		}
		found = true
		rec.MessageCount = 0
		rec.LastDate = today
		return true, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: unknown user %s", ErrInvalidUserID, id)
	}
	return nil
}

// IsStorageError reports whether err came from the persistence layer.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorageWrite) || errors.Is(err, ErrStorageRead)
}

func upsert(users Users, id UserID, today string) (*UserRecord, bool) {
	if rec, ok := users[id]; ok {
		return rec, false
	}
	rec := newUserRecord(id, today)
	users[id] = rec
	return rec, true
}

func validUserID(id UserID) (UserID, error) {
	id = id.normalized()
	if id == "" || strings.ContainsAny(string(id), "\r\n\t") {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, string(id))
	}
	return id, nil
}
