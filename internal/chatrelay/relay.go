package chatrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GunzViruz/telegpt/internal/metrics"
	"github.com/GunzViruz/telegpt/internal/outputfmt"
	"github.com/GunzViruz/telegpt/internal/retryutil"
	"github.com/GunzViruz/telegpt/internal/runtimeclock"
	"github.com/GunzViruz/telegpt/llm"
	"github.com/google/uuid"
)

const (
	defaultRequestTimeout = 60 * time.Second
	defaultRetryDelay     = time.Second
)

type Options struct {
	Quota          Quota
	Client         llm.Client
	Model          string
	SystemPrompt   string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	Replies        Replies
	Journal        Journal
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Now            runtimeclock.Clock
}

// Relay turns one inbound message into one reply: admission against the
// daily quota, a completion call seeded with the previous answer, then the
// exchange is recorded.
type Relay struct {
	quota          Quota
	client         llm.Client
	model          string
	systemPrompt   string
	requestTimeout time.Duration
	maxRetries     int
	retryDelay     time.Duration
	replies        Replies
	journal        Journal
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            runtimeclock.Clock
}

func New(opts Options) (*Relay, error) {
	if opts.Quota == nil {
		return nil, fmt.Errorf("chatrelay: quota is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("chatrelay: llm client is required")
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	systemPrompt := strings.TrimSpace(opts.SystemPrompt)
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		quota:          opts.Quota,
		client:         opts.Client,
		model:          strings.TrimSpace(opts.Model),
		systemPrompt:   systemPrompt,
		requestTimeout: timeout,
		maxRetries:     maxRetries,
		retryDelay:     retryDelay,
		replies:        opts.Replies.withDefaults(),
		journal:        opts.Journal,
		metrics:        opts.Metrics,
		logger:         logger,
		now:            opts.Now,
	}, nil
}

// Handle answers one event. The returned Reply is always safe to send; a
// non-nil error reports a storage failure that was already turned into the
// apology text.
func (r *Relay) Handle(ctx context.Context, in Inbound) (Reply, error) {
	start := r.now.Now()
	if strings.TrimSpace(in.EventID) == "" {
		in.EventID = uuid.NewString()
	}
	logger := r.logger.With("event_id", in.EventID, "chat_id", in.ChatID, "user_id", in.UserID.String())
	done := r.metrics.TrackInFlight()
	defer done()

	rec := ActivityRecord{
		EventID:  in.EventID,
		At:       start.UTC(),
		ChatID:   in.ChatID,
		UserID:   in.UserID.String(),
		Username: in.Username,
	}
	reply, err := r.handle(ctx, logger, in, &rec)
	rec.Outcome = reply.Outcome
	rec.DurationMs = r.now.Now().Sub(start).Milliseconds()
	if err != nil {
		rec.Error = outputfmt.ErrorText(err)
	}
	if r.journal != nil {
		if jerr := r.journal.Record(rec); jerr != nil {
			logger.Warn("activity_journal_write_failed", "error", jerr.Error())
		}
	}
	return reply, err
}

func (r *Relay) handle(ctx context.Context, logger *slog.Logger, in Inbound, rec *ActivityRecord) (Reply, error) {
	text := strings.TrimSpace(in.Text)
	switch command(text) {
	case "/start":
		logger.Debug("greeting_sent")
		return Reply{Text: r.replies.Greeting, Outcome: OutcomeGreeting}, nil
	case "/usage":
		adm := r.quota.Usage(ctx, in.UserID)
		return Reply{Text: render(r.replies.Usage, adm), Outcome: OutcomeUsage}, nil
	}
	if text == "" {
		return Reply{Outcome: OutcomeIgnored}, nil
	}

	adm, err := r.quota.Admit(ctx, in.UserID, in.Username)
	if err != nil {
		r.metrics.ObserveAdmission(metrics.AdmissionError)
		r.metrics.ObserveStoreError("reserve")
		logger.Error("quota_reserve_failed", "error", outputfmt.ErrorText(err))
		return Reply{Text: r.replies.Apology, Outcome: OutcomeStorageError}, fmt.Errorf("reserve quota: %w", err)
	}
	rec.Count = adm.Count
	if !adm.Admitted {
		r.metrics.ObserveAdmission(metrics.AdmissionRejected)
		return Reply{Text: render(r.replies.LimitReached, adm), Outcome: OutcomeRejected}, nil
	}
	rec.Admitted = true
	r.metrics.ObserveAdmission(metrics.AdmissionAdmitted)

	var prior string
	if stored, ok := r.quota.Get(ctx, in.UserID); ok {
		prior = stored.Context
	}
	answer, err := r.complete(ctx, logger, prior, in.Text)
	if err != nil {
		logger.Warn("completion_failed", "error", outputfmt.ErrorText(err), "count", adm.Count)
		return Reply{Text: r.replies.Apology, Outcome: OutcomeUnavailable}, nil
	}

	if err := r.quota.RecordExchange(ctx, in.UserID, in.Username, in.Text, answer); err != nil {
		r.metrics.ObserveStoreError("record")
		logger.Error("quota_record_failed", "error", outputfmt.ErrorText(err))
		return Reply{Text: answer, Outcome: OutcomeAnswered}, fmt.Errorf("record exchange: %w", err)
	}
	logger.Info("reply_ready", "count", adm.Count, "remaining", adm.Remaining())
	return Reply{Text: answer, Outcome: OutcomeAnswered}, nil
}

func (r *Relay) complete(ctx context.Context, logger *slog.Logger, prior, userMessage string) (string, error) {
	req := llm.Request{
		Model:    r.model,
		Messages: llm.BuildMessages(r.systemPrompt, prior, userMessage),
	}
	var answer string
	err := retryutil.Do(ctx, r.maxRetries, r.retryDelay, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
		defer cancel()
		start := time.Now()
		res, err := r.client.Chat(callCtx, req)
		r.metrics.ObserveCompletion(err, time.Since(start), res.Usage.InputTokens, res.Usage.OutputTokens)
		if err != nil {
			if attempt < r.maxRetries {
				logger.Debug("completion_attempt_failed", "attempt", attempt+1, "error", outputfmt.ErrorText(err))
			}
			if errors.Is(err, llm.ErrEmptyReply) {
				return fmt.Errorf("%w: %w", retryutil.ErrPermanent, err)
			}
			return err
		}
		if strings.TrimSpace(res.Text) == "" {
			return fmt.Errorf("%w: %w", retryutil.ErrPermanent, llm.ErrEmptyReply)
		}
		answer = res.Text
		return nil
	})
	return answer, err
}

// command returns the lowercased leading bot command of text, without any
// @botname suffix, or "" when text is not a command.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	head := strings.Fields(text)[0]
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head)
}
