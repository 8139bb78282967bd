package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GunzViruz/telegpt/internal/chatrelay"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const testToken = "123:abc"

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeBotAPI struct {
	mu          sync.Mutex
	pending     []string
	sent        []sentMessage
	webhook     map[string]string
	deleted     bool
	updateCalls int
}

func (f *fakeBotAPI) queueUpdates(raw string) {
	f.mu.Lock()
	f.pending = append(f.pending, raw)
	f.mu.Unlock()
}

func (f *fakeBotAPI) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	switch path.Base(r.URL.Path) {
	case "getMe":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":999,"is_bot":true,"first_name":"Gunar","username":"gunar_bot"}}`)
	case "deleteWebhook":
		f.mu.Lock()
		f.deleted = true
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	case "setWebhook":
		f.mu.Lock()
		f.webhook = map[string]string{}
		for k := range r.PostForm {
			f.webhook[k] = r.PostForm.Get(k)
		}
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	case "sendChatAction":
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	case "getUpdates":
		f.mu.Lock()
		f.updateCalls++
		var batch string
		if len(f.pending) > 0 {
			batch = f.pending[0]
			f.pending = f.pending[1:]
		}
		f.mu.Unlock()
		if batch == "" {
			time.Sleep(20 * time.Millisecond)
			batch = "[]"
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":`+batch+`}`)
	case "sendMessage":
		chatID, _ := strconv.ParseInt(r.PostForm.Get("chat_id"), 10, 64)
		f.mu.Lock()
		f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: r.PostForm.Get("text")})
		f.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":%d,"type":"private"}}}`, chatID)
	default:
		_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

type echoHandler struct {
	mu  sync.Mutex
	got []chatrelay.Inbound
}

func (h *echoHandler) Handle(_ context.Context, in chatrelay.Inbound) (chatrelay.Reply, error) {
	h.mu.Lock()
	h.got = append(h.got, in)
	h.mu.Unlock()
	if in.Text == "panic" {
		panic("handler exploded")
	}
	return chatrelay.Reply{Text: "echo: " + in.Text, Outcome: chatrelay.OutcomeAnswered}, nil
}

func (h *echoHandler) inbound() []chatrelay.Inbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]chatrelay.Inbound(nil), h.got...)
}

func testLogger() (*slog.Logger, error) {
	return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
}

func privateUpdate(updateID int, chatID, userID int64, username, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":1760518800,"chat":{"id":%d,"type":"private"},"from":{"id":%d,"is_bot":false,"first_name":"A","username":%q},"text":%q}}`,
		updateID, updateID, chatID, userID, username, text)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestRuntime(t *testing.T, ctx context.Context, api *fakeBotAPI, h Handler, opts runtimeLoopOptions) *runtime {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	bot, err := tgbotapi.NewBotAPIWithClient(testToken, srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("NewBotAPIWithClient() error = %v", err)
	}
	logger, _ := testLogger()
	opts, err = validateRuntimeLoopOptions(normalizeRuntimeLoopOptions(opts))
	if err != nil {
		t.Fatalf("validateRuntimeLoopOptions() error = %v", err)
	}
	return newRuntime(ctx, bot, Dependencies{Handler: h}, opts, logger, srv.Client())
}

func TestRunPollingRelaysMessages(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()
	api.queueUpdates("[" + privateUpdate(10, 100, 42, "alice", "hello") + "," + privateUpdate(11, 100, 42, "alice", "again") + "]")

	h := &echoHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Dependencies{Logger: testLogger, Handler: h, HTTPClient: srv.Client()}, RunOptions{
			BotToken:    testToken,
			APIEndpoint: srv.URL + "/bot%s/%s",
			Mode:        ModePolling,
			PollTimeout: time.Second,
		})
	}()

	waitFor(t, "two replies", func() bool { return len(api.sentMessages()) == 2 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run() did not stop after cancel")
	}

	sent := api.sentMessages()
	if sent[0].ChatID != 100 || sent[0].Text != "echo: hello" || sent[1].Text != "echo: again" {
		t.Fatalf("sent = %#v", sent)
	}
	got := h.inbound()
	if got[0].UserID != "42" || got[0].Username != "alice" || got[0].EventID == "" {
		t.Fatalf("inbound = %#v", got[0])
	}
	api.mu.Lock()
	deleted := api.deleted
	api.mu.Unlock()
	if !deleted {
		t.Fatalf("polling mode did not delete the webhook")
	}
}

func TestRunRequiresToken(t *testing.T) {
	err := Run(context.Background(), Dependencies{Logger: testLogger, Handler: &echoHandler{}}, RunOptions{})
	if err == nil || !strings.Contains(err.Error(), "telegram.bot_token") {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunWebhookModeRequiresURL(t *testing.T) {
	err := Run(context.Background(), Dependencies{Logger: testLogger, Handler: &echoHandler{}}, RunOptions{BotToken: testToken, Mode: ModeWebhook})
	if err == nil || !strings.Contains(err.Error(), "webhook_url") {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunWebhookRegistersURLAndSecret(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Dependencies{Logger: testLogger, Handler: &echoHandler{}, HTTPClient: srv.Client()}, RunOptions{
			BotToken:      testToken,
			APIEndpoint:   srv.URL + "/bot%s/%s",
			Mode:          ModeWebhook,
			WebhookURL:    "https://bot.example.com/telegram/webhook",
			WebhookSecret: "s3cret",
			Listen:        "127.0.0.1:0",
		})
	}()

	waitFor(t, "setWebhook", func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.webhook != nil
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.webhook["url"] != "https://bot.example.com/telegram/webhook" || api.webhook["secret_token"] != "s3cret" {
		t.Fatalf("setWebhook params = %#v", api.webhook)
	}
}

func TestWebhookRouteChecksSecret(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeBotAPI{}
	h := &echoHandler{}
	rt := newTestRuntime(t, ctx, api, h, runtimeLoopOptions{
		BotToken:      testToken,
		Mode:          ModeWebhook,
		WebhookURL:    "https://bot.example.com/telegram/webhook",
		WebhookSecret: "s3cret",
	})
	routes := rt.routes()
	body := privateUpdate(1, 7, 42, "alice", "hi")

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewBufferString(body)))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status without secret = %d, want 403", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewBufferString(body))
	req.Header.Set(secretTokenHeader, "s3cret")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with secret = %d, want 200", rec.Code)
	}
	waitFor(t, "webhook reply", func() bool { return len(api.sentMessages()) == 1 })
	if got := api.sentMessages()[0]; got.ChatID != 7 || got.Text != "echo: hi" {
		t.Fatalf("sent = %#v", got)
	}

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestDispatchFilters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeBotAPI{}
	h := &echoHandler{}
	rt := newTestRuntime(t, ctx, api, h, runtimeLoopOptions{
		BotToken:         testToken,
		AllowedChatIDs:   []int64{100, -500},
		GroupTriggerMode: GroupTriggerMention,
	})

	updates := []tgbotapi.Update{
		{UpdateID: 1, Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: 200, Type: "private"}, From: &tgbotapi.User{ID: 1}, Text: "not allowed"}},
		{UpdateID: 2, Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: 100, Type: "private"}, From: &tgbotapi.User{ID: 2, IsBot: true}, Text: "from bot"}},
		{UpdateID: 3, Message: &tgbotapi.Message{MessageID: 3, Chat: &tgbotapi.Chat{ID: 100, Type: "private"}, From: &tgbotapi.User{ID: 3}, Text: ""}},
		{UpdateID: 4, Message: &tgbotapi.Message{MessageID: 4, Chat: &tgbotapi.Chat{ID: -500, Type: "group"}, From: &tgbotapi.User{ID: 4}, Text: "chatter"}},
		{UpdateID: 5, Message: &tgbotapi.Message{MessageID: 5, Chat: &tgbotapi.Chat{ID: -500, Type: "group"}, From: &tgbotapi.User{ID: 5}, Text: "@gunar_bot what is go?"}},
		{UpdateID: 6, Message: &tgbotapi.Message{MessageID: 6, Chat: &tgbotapi.Chat{ID: 100, Type: "private"}, From: &tgbotapi.User{ID: 6}, Text: "direct"}},
	}
	for _, u := range updates {
		rt.dispatch(ctx, u)
	}
	waitFor(t, "two handled messages", func() bool { return len(api.sentMessages()) == 2 })
	time.Sleep(50 * time.Millisecond)

	got := h.inbound()
	if len(got) != 2 {
		t.Fatalf("handled = %#v, want 2", got)
	}
	texts := map[string]bool{}
	for _, in := range got {
		texts[in.Text] = true
	}
	if !texts["what is go?"] || !texts["direct"] {
		t.Fatalf("handled texts = %v", texts)
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeBotAPI{}
	h := &echoHandler{}
	rt := newTestRuntime(t, ctx, api, h, runtimeLoopOptions{BotToken: testToken})

	for i, text := range []string{"panic", "after"} {
		rt.dispatch(ctx, tgbotapi.Update{UpdateID: i, Message: &tgbotapi.Message{
			MessageID: i,
			Chat:      &tgbotapi.Chat{ID: 100, Type: "private"},
			From:      &tgbotapi.User{ID: 42},
			Text:      text,
		}})
	}
	waitFor(t, "reply after panic", func() bool { return len(api.sentMessages()) == 1 })
	if got := api.sentMessages()[0].Text; got != "echo: after" {
		t.Fatalf("sent = %q", got)
	}
}

func TestSendReplySplitsLongText(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeBotAPI{}
	rt := newTestRuntime(t, ctx, api, &echoHandler{}, runtimeLoopOptions{BotToken: testToken, SendRate: 1000, SendBurst: 10})

	long := strings.Repeat("a", 5000)
	if err := rt.sendReply(ctx, 100, long); err != nil {
		t.Fatalf("sendReply() error = %v", err)
	}
	sent := api.sentMessages()
	if len(sent) != 2 || len(sent[0].Text)+len(sent[1].Text) != 5000 {
		t.Fatalf("sent %d chunks", len(sent))
	}
}

// TestWebhookRegisteredURLReachesRoute registers the webhook and then posts an
// update to the path of the URL Telegram was given.
func TestWebhookRegisteredURLReachesRoute(t *testing.T) {
	cases := []struct {
		name      string
		url       string
		path      string
		wantURL   string
		wantRoute string
	}{
		{name: "bare host", url: "https://bot.example.com", wantURL: "https://bot.example.com/telegram/webhook", wantRoute: "/telegram/webhook"},
		{name: "bare host with path", url: "https://bot.example.com/", path: "/hook", wantURL: "https://bot.example.com/hook", wantRoute: "/hook"},
		{name: "token path", url: "https://bot.example.com/bot" + testToken, wantURL: "https://bot.example.com/bot" + testToken, wantRoute: "/bot" + testToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			api := &fakeBotAPI{}
			rt := newTestRuntime(t, ctx, api, &echoHandler{}, runtimeLoopOptions{
				BotToken:    testToken,
				Mode:        ModeWebhook,
				WebhookURL:  tc.url,
				WebhookPath: tc.path,
			})
			if err := rt.setWebhook(); err != nil {
				t.Fatalf("setWebhook() error = %v", err)
			}
			api.mu.Lock()
			registered := api.webhook["url"]
			api.mu.Unlock()
			if registered != tc.wantURL {
				t.Fatalf("registered url = %q, want %q", registered, tc.wantURL)
			}
			if rt.opts.WebhookPath != tc.wantRoute {
				t.Fatalf("route = %q, want %q", rt.opts.WebhookPath, tc.wantRoute)
			}

			u, err := url.Parse(registered)
			if err != nil {
				t.Fatalf("url.Parse() error = %v", err)
			}
			rec := httptest.NewRecorder()
			rt.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, u.Path, bytes.NewBufferString(privateUpdate(1, 7, 42, "alice", "hi"))))
			if rec.Code != http.StatusOK {
				t.Fatalf("POST %s = %d, want 200", u.Path, rec.Code)
			}
			waitFor(t, "webhook reply", func() bool { return len(api.sentMessages()) == 1 })
		})
	}
}

func TestRunWebhookRejectsMismatchedPath(t *testing.T) {
	err := Run(context.Background(), Dependencies{Logger: testLogger, Handler: &echoHandler{}}, RunOptions{
		BotToken:    testToken,
		Mode:        ModeWebhook,
		WebhookURL:  "https://bot.example.com/bot" + testToken,
		WebhookPath: "/telegram/webhook",
	})
	if err == nil || !strings.Contains(err.Error(), "webhook_path") {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Contains(err.Error(), testToken) {
		t.Fatalf("Run() error leaks the token: %v", err)
	}
}

func TestIdleChatWorkerExitsAndRestarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeBotAPI{}
	h := &echoHandler{}
	rt := newTestRuntime(t, ctx, api, h, runtimeLoopOptions{BotToken: testToken})
	rt.idleTimeout = 20 * time.Millisecond

	send := func(id int, text string) {
		rt.dispatch(ctx, tgbotapi.Update{UpdateID: id, Message: &tgbotapi.Message{
			MessageID: id,
			Chat:      &tgbotapi.Chat{ID: 100, Type: "private"},
			From:      &tgbotapi.User{ID: 42},
			Text:      text,
		}})
	}
	send(1, "first")
	waitFor(t, "first reply", func() bool { return len(api.sentMessages()) == 1 })
	waitFor(t, "idle worker exit", func() bool { return rt.activeWorkers() == 0 })

	send(2, "second")
	waitFor(t, "second reply", func() bool { return len(api.sentMessages()) == 2 })
	if got := api.sentMessages()[1].Text; got != "echo: second" {
		t.Fatalf("sent = %q", got)
	}
	waitFor(t, "idle worker exit", func() bool { return rt.activeWorkers() == 0 })

	cancel()
	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("workers still running after cancel")
	}
}
