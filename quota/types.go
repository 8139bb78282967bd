package quota

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultDailyLimit = 49
	UnknownUsername   = "None"
)

// UserID is the platform identifier of a user, rendered as a string so the
// persisted document can use it as an object key.
type UserID string

func UserIDFromInt(id int64) UserID {
	return UserID(strconv.FormatInt(id, 10))
}

func (id UserID) String() string {
	return string(id)
}

func (id UserID) normalized() UserID {
	return UserID(strings.TrimSpace(string(id)))
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Message   string    `json:"message" yaml:"message"`
}

type UserRecord struct {
	UserID       UserID     `json:"userId" yaml:"user_id"`
	Username     string     `json:"username" yaml:"username"`
	MessageCount int        `json:"messageCount" yaml:"message_count"`
	LastDate     string     `json:"lastDate" yaml:"last_date"`
	Context      string     `json:"context" yaml:"context"`
	MessagesLog  []LogEntry `json:"messagesLog" yaml:"messages_log"`
}

// Users is the whole persisted document: one record per user id.
type Users map[UserID]*UserRecord

func newUserRecord(id UserID, today string) *UserRecord {
	return &UserRecord{
		UserID:      id,
		Username:    UnknownUsername,
		LastDate:    today,
		MessagesLog: []LogEntry{},
	}
}

// HasMessage reports whether text already appears anywhere in the log.
func (r *UserRecord) HasMessage(text string) bool {
	for _, entry := range r.MessagesLog {
		if entry.Message == text {
			return true
		}
	}
	return false
}

// appendMessage keeps the first occurrence of each message text.
func (r *UserRecord) appendMessage(at time.Time, text string) bool {
	if r.HasMessage(text) {
		return false
	}
	r.MessagesLog = append(r.MessagesLog, LogEntry{Timestamp: at, Message: text})
	return true
}

func (r *UserRecord) setUsername(username string) bool {
	username = strings.TrimSpace(username)
	if username == "" {
		if strings.TrimSpace(r.Username) == "" {
			r.Username = UnknownUsername
			return true
		}
		return false
	}
	if r.Username == username {
		return false
	}
	r.Username = username
	return true
}

// rollover applies the lazy daily reset.
func (r *UserRecord) rollover(today string) bool {
	if r.LastDate == today {
		return false
	}
	r.MessageCount = 0
	r.LastDate = today
	return true
}

func (r *UserRecord) clone() UserRecord {
	out := *r
	out.MessagesLog = append([]LogEntry(nil), r.MessagesLog...)
	if out.MessagesLog == nil {
		out.MessagesLog = []LogEntry{}
	}
	return out
}

// normalize repairs records decoded from hand-edited or older documents so
// the in-memory mapping always satisfies the record invariants.
func (u Users) normalize() Users {
	if u == nil {
		return Users{}
	}
	for id, rec := range u {
		if rec == nil {
			delete(u, id)
			continue
		}
		if rec.UserID == "" {
			rec.UserID = id
		}
		if strings.TrimSpace(rec.Username) == "" {
			rec.Username = UnknownUsername
		}
		if rec.MessageCount < 0 {
			rec.MessageCount = 0
		}
		if rec.MessagesLog == nil {
			rec.MessagesLog = []LogEntry{}
		}
	}
	return u
}

// IDs returns the user ids in ascending order.
func (u Users) IDs() []UserID {
	ids := make([]UserID, 0, len(u))
	for id := range u {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return lessUserID(ids[i], ids[j])
	})
	return ids
}

// lessUserID orders numeric ids numerically and everything else lexically.
func lessUserID(a, b UserID) bool {
	ai, aErr := strconv.ParseInt(string(a), 10, 64)
	bi, bErr := strconv.ParseInt(string(b), 10, 64)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	if (aErr == nil) != (bErr == nil) {
		return aErr == nil
	}
	return a < b
}
