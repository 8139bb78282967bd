package telegram

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GunzViruz/telegpt/internal/channelruntime/worker"
	"github.com/GunzViruz/telegpt/internal/chatrelay"
	"github.com/GunzViruz/telegpt/internal/metrics"
	"github.com/GunzViruz/telegpt/internal/outputfmt"
	"github.com/GunzViruz/telegpt/internal/retryutil"
	"github.com/GunzViruz/telegpt/internal/telegramutil"
	"github.com/GunzViruz/telegpt/quota"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
	chatQueueSize     = 16
	chatIdleTimeout   = 10 * time.Minute
	sendTimeout       = 30 * time.Second
	pollErrorBackoff  = time.Second
)

type telegramJob struct {
	MessageID int
	Trigger   string
	Inbound   chatrelay.Inbound
}

type runtime struct {
	bot        *tgbotapi.BotAPI
	opts       runtimeLoopOptions
	handler    Handler
	metrics    *metrics.Metrics
	logger     *slog.Logger
	httpClient *http.Client
	limiter    *rate.Limiter
	allowed    map[int64]bool

	workersCtx  context.Context
	sem         chan struct{}
	wg          sync.WaitGroup
	idleTimeout time.Duration

	mu      sync.Mutex
	workers map[int64]*chatQueue
}

// chatQueue is one chat's FIFO. pending counts senders that hold the queue
// but have not delivered their job yet.
type chatQueue struct {
	jobs    chan telegramJob
	pending int
}

func Run(ctx context.Context, d Dependencies, opts RunOptions) error {
	return runTelegramLoop(ctx, d, resolveRuntimeLoopOptionsFromRunOptions(opts))
}

func runTelegramLoop(ctx context.Context, d Dependencies, opts runtimeLoopOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opts, err := validateRuntimeLoopOptions(opts)
	if err != nil {
		return err
	}
	if d.Handler == nil {
		return fmt.Errorf("Handler dependency missing")
	}
	logger, err := loggerFromDeps(d)
	if err != nil {
		return err
	}

	httpClient := d.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.PollTimeout + 30*time.Second}
	}
	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, endpoint, httpClient)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	rt := newRuntime(gctx, bot, d, opts, logger, httpClient)
	logger.Info("telegram_start",
		"bot", bot.Self.UserName,
		"mode", opts.Mode,
		"listen", opts.Listen,
		"webhook_route", opts.WebhookPath,
		"max_concurrency", opts.MaxConcurrency,
		"allowed_chats", len(opts.AllowedChatIDs),
	)

	switch opts.Mode {
	case ModeWebhook:
		if err := rt.setWebhook(); err != nil {
			logger.Warn("telegram_set_webhook_error", "route", opts.WebhookPath, "error", outputfmt.ErrorText(err))
			retryutil.AsyncRetry(logger, "telegram_set_webhook", 0, 0, func(context.Context) error {
				return rt.setWebhook()
			})
		}
		if opts.ProbeWebhook {
			g.Go(func() error {
				rt.probeWebhook(gctx)
				return nil
			})
		}
	case ModePolling:
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn("telegram_delete_webhook_error", "error", outputfmt.ErrorText(err))
		}
		g.Go(func() error {
			return rt.poll(gctx)
		})
	}

	if opts.Listen != "" {
		srv := &http.Server{
			Addr:              opts.Listen,
			Handler:           rt.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("telegram_http_listen", "addr", opts.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("telegram http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return nil
		})
	}

	err = g.Wait()
	rt.wg.Wait()
	if err != nil {
		return err
	}
	logger.Info("telegram_stop", "reason", "context_canceled")
	return nil
}

func newRuntime(ctx context.Context, bot *tgbotapi.BotAPI, d Dependencies, opts runtimeLoopOptions, logger *slog.Logger, httpClient *http.Client) *runtime {
	allowed := make(map[int64]bool, len(opts.AllowedChatIDs))
	for _, id := range opts.AllowedChatIDs {
		allowed[id] = true
	}
	return &runtime{
		bot:        bot,
		opts:       opts,
		handler:    d.Handler,
		metrics:    d.Metrics,
		logger:     logger,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.SendRate), opts.SendBurst),
		allowed:    allowed,
		workersCtx:  ctx,
		sem:         make(chan struct{}, opts.MaxConcurrency),
		idleTimeout: chatIdleTimeout,
		workers:     make(map[int64]*chatQueue),
	}
}

func (rt *runtime) setWebhook() error {
	params := tgbotapi.Params{}
	params["url"] = rt.opts.WebhookURL
	params.AddNonEmpty("secret_token", rt.opts.WebhookSecret)
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return err
	}
	if _, err := rt.bot.MakeRequest("setWebhook", params); err != nil {
		return err
	}
	rt.logger.Info("telegram_webhook_registered", "route", rt.opts.WebhookPath)
	return nil
}

// probeWebhook fetches the public webhook URL once so operators can see in
// the logs whether it is reachable.
func (rt *runtime) probeWebhook(ctx context.Context) {
	timer := time.NewTimer(500 * time.Millisecond)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, rt.opts.WebhookURL, nil)
	if err != nil {
		rt.logger.Warn("telegram_webhook_probe_error", "error", outputfmt.ErrorText(err))
		return
	}
	resp, err := rt.httpClient.Do(req)
	if err != nil {
		rt.logger.Warn("telegram_webhook_probe_error", "error", outputfmt.ErrorText(err))
		return
	}
	_ = resp.Body.Close()
	rt.logger.Info("telegram_webhook_probe", "status", resp.StatusCode)
}

func (rt *runtime) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Method(http.MethodGet, "/metrics", rt.metrics.Handler())
	if rt.opts.Mode == ModeWebhook {
		r.Post(rt.opts.WebhookPath, rt.handleWebhook)
	}
	return r
}

func (rt *runtime) handleWebhook(w http.ResponseWriter, req *http.Request) {
	if secret := rt.opts.WebhookSecret; secret != "" {
		got := req.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			rt.logger.Warn("telegram_webhook_rejected", "remote", req.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}
	update, err := rt.bot.HandleUpdate(req)
	if err != nil {
		rt.logger.Warn("telegram_webhook_decode_error", "error", outputfmt.ErrorText(err))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	rt.metrics.ObserveUpdate(ModeWebhook)
	rt.dispatch(req.Context(), *update)
	w.WriteHeader(http.StatusOK)
}

func (rt *runtime) poll(ctx context.Context) error {
	offset := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		updates, err := rt.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			rt.logger.Warn("telegram_get_updates_error", "error", outputfmt.ErrorText(err))
			timer := time.NewTimer(pollErrorBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			rt.metrics.ObserveUpdate(ModePolling)
			rt.dispatch(ctx, u)
		}
	}
}

// getUpdates long-polls once. The library call is not context aware, so it
// runs aside and is abandoned when ctx ends.
func (rt *runtime) getUpdates(ctx context.Context, offset int) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = int(rt.opts.PollTimeout / time.Second)
	cfg.AllowedUpdates = []string{"message"}

	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		updates, err := rt.bot.GetUpdates(cfg)
		ch <- result{updates: updates, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.updates, res.err
	}
}

func (rt *runtime) dispatch(ctx context.Context, u tgbotapi.Update) {
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID
	if msg.From == nil || msg.From.IsBot {
		rt.logger.Debug("telegram_update_ignored", "chat_id", chatID, "reason", "bot_sender")
		return
	}
	if len(rt.allowed) > 0 && !rt.allowed[chatID] {
		rt.logger.Debug("telegram_update_ignored", "chat_id", chatID, "reason", "chat_not_allowed")
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		rt.logger.Debug("telegram_update_ignored", "chat_id", chatID, "reason", "no_text")
		return
	}
	trigger, ok := groupTriggered(msg, rt.opts.GroupTriggerMode, rt.bot.Self.UserName, rt.bot.Self.ID)
	if !ok {
		rt.logger.Debug("telegram_update_ignored", "chat_id", chatID, "reason", "not_addressed")
		return
	}
	if isGroupChat(msg.Chat) {
		text = stripBotMention(text, rt.bot.Self.UserName)
	}

	job := telegramJob{
		MessageID: msg.MessageID,
		Trigger:   trigger,
		Inbound: chatrelay.Inbound{
			EventID:  uuid.NewString(),
			ChatID:   chatID,
			UserID:   quota.UserIDFromInt(msg.From.ID),
			Username: strings.TrimSpace(msg.From.UserName),
			Text:     text,
			SentAt:   msg.Time(),
		},
	}
	rt.logger.Debug("telegram_update_received", "event_id", job.Inbound.EventID, "chat_id", chatID, "trigger", trigger, "text", text)
	if err := rt.enqueue(ctx, job); err != nil {
		rt.logger.Warn("telegram_enqueue_error", "event_id", job.Inbound.EventID, "chat_id", chatID, "error", outputfmt.ErrorText(err))
	}
}

// enqueue hands the job to the chat's FIFO worker, starting it on first use.
// A worker left idle for idleTimeout exits and is started again on the next
// message from its chat.
func (rt *runtime) enqueue(ctx context.Context, job telegramJob) error {
	chatID := job.Inbound.ChatID
	rt.mu.Lock()
	q, ok := rt.workers[chatID]
	if !ok {
		q = &chatQueue{jobs: make(chan telegramJob, chatQueueSize)}
		rt.workers[chatID] = q
		worker.Start(worker.StartOptions[telegramJob]{
			Ctx:    rt.workersCtx,
			Sem:    rt.sem,
			Jobs:   q.jobs,
			Handle: rt.handleJob,
			OnPanic: func(job telegramJob, r any) {
				rt.logger.Error("telegram_task_panic", "event_id", job.Inbound.EventID, "chat_id", job.Inbound.ChatID, "panic", fmt.Sprint(r))
			},
			Group:       &rt.wg,
			IdleTimeout: rt.idleTimeout,
			OnIdle:      func() bool { return rt.retireWorker(chatID, q) },
		})
	}
	q.pending++
	rt.mu.Unlock()

	err := worker.Enqueue(ctx, rt.workersCtx, q.jobs, job)
	rt.mu.Lock()
	q.pending--
	rt.mu.Unlock()
	return err
}

// retireWorker drops the chat's queue when nothing is queued or on its way.
func (rt *runtime) retireWorker(chatID int64, q *chatQueue) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if q.pending > 0 || len(q.jobs) > 0 {
		return false
	}
	if rt.workers[chatID] == q {
		delete(rt.workers, chatID)
	}
	rt.logger.Debug("telegram_worker_idle_exit", "chat_id", chatID)
	return true
}

func (rt *runtime) activeWorkers() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.workers)
}

func (rt *runtime) handleJob(workerCtx context.Context, job telegramJob) {
	in := job.Inbound
	logger := rt.logger.With("event_id", in.EventID, "chat_id", in.ChatID, "user_id", in.UserID.String())
	ctx, cancel := context.WithTimeout(workerCtx, rt.opts.TaskTimeout)
	defer cancel()

	if !strings.HasPrefix(in.Text, "/") {
		if _, err := rt.bot.Request(tgbotapi.NewChatAction(in.ChatID, tgbotapi.ChatTyping)); err != nil {
			logger.Debug("telegram_chat_action_error", "error", outputfmt.ErrorText(err))
		}
	}

	start := time.Now()
	reply, err := rt.handler.Handle(ctx, in)
	if err != nil {
		logger.Error("telegram_task_error", "outcome", string(reply.Outcome), "error", outputfmt.ErrorText(err))
	}
	if reply.Text == "" {
		return
	}

	sendCtx, sendCancel := context.WithTimeout(rt.workersCtx, sendTimeout)
	defer sendCancel()
	if err := rt.sendReply(sendCtx, in.ChatID, reply.Text); err != nil {
		rt.metrics.ObserveSendError()
		logger.Warn("telegram_send_error", "error", outputfmt.ErrorText(err))
		return
	}
	logger.Info("telegram_task_done", "outcome", string(reply.Outcome), "duration", time.Since(start).String())
}

// sendReply delivers text as one or more plain messages under the global
// send rate limit.
func (rt *runtime) sendReply(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range telegramutil.SplitText(text, telegramutil.MaxMessageRunes) {
		if err := rt.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := rt.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}
