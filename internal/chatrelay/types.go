package chatrelay

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/GunzViruz/telegpt/quota"
)

const (
	DefaultGreeting     = "Explore Your Knowledge\n\nGunarGPT - Made With ❤️"
	DefaultApology      = "Sorry, I couldn't answer your question at the moment."
	DefaultLimitReached = "You have reached your daily limit of {limit} messages. Please try again tomorrow."
	DefaultUsage        = "Today you have used {count} of {limit} messages. {remaining} left."
	DefaultSystemPrompt = "You are a helpful assistant."
)

// Outcome classifies how an event was answered.
type Outcome string

const (
	OutcomeGreeting     Outcome = "greeting"
	OutcomeUsage        Outcome = "usage"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeRejected     Outcome = "rejected"
	OutcomeAnswered     Outcome = "answered"
	OutcomeUnavailable  Outcome = "unavailable"
	OutcomeStorageError Outcome = "storage_error"
)

// Inbound is one text message delivered by a chat platform.
type Inbound struct {
	EventID  string
	ChatID   int64
	UserID   quota.UserID
	Username string
	Text     string
	SentAt   time.Time
}

// Reply is what gets sent back to the chat. Text is empty only for
// OutcomeIgnored.
type Reply struct {
	Text    string
	Outcome Outcome
}

// Replies holds the fixed texts. {limit}, {count} and {remaining} are
// substituted where they appear.
type Replies struct {
	Greeting     string
	Apology      string
	LimitReached string
	Usage        string
}

func DefaultReplies() Replies {
	return Replies{
		Greeting:     DefaultGreeting,
		Apology:      DefaultApology,
		LimitReached: DefaultLimitReached,
		Usage:        DefaultUsage,
	}
}

func (r Replies) withDefaults() Replies {
	d := DefaultReplies()
	if strings.TrimSpace(r.Greeting) == "" {
		r.Greeting = d.Greeting
	}
	if strings.TrimSpace(r.Apology) == "" {
		r.Apology = d.Apology
	}
	if strings.TrimSpace(r.LimitReached) == "" {
		r.LimitReached = d.LimitReached
	}
	if strings.TrimSpace(r.Usage) == "" {
		r.Usage = d.Usage
	}
	return r
}

func render(tmpl string, adm quota.Admission) string {
	return strings.NewReplacer(
		"{limit}", strconv.Itoa(adm.Limit),
		"{count}", strconv.Itoa(adm.Count),
		"{remaining}", strconv.Itoa(adm.Remaining()),
	).Replace(tmpl)
}

// Quota is the part of quota.Tracker the relay depends on.
type Quota interface {
	Admit(ctx context.Context, id quota.UserID, username string) (quota.Admission, error)
	Usage(ctx context.Context, id quota.UserID) quota.Admission
	Get(ctx context.Context, id quota.UserID) (quota.UserRecord, bool)
	RecordExchange(ctx context.Context, id quota.UserID, username, userMessage, assistantReply string) error
}

// Journal receives one record per handled event.
type Journal interface {
	Record(rec ActivityRecord) error
}

type ActivityRecord struct {
	EventID    string    `json:"event_id"`
	At         time.Time `json:"at"`
	ChatID     int64     `json:"chat_id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Admitted   bool      `json:"admitted"`
	Count      int       `json:"count,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}
