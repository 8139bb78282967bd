package telegram

import (
	"testing"
	"time"
)

func TestResolveRuntimeLoopOptionsFromRunOptions(t *testing.T) {
	got := resolveRuntimeLoopOptionsFromRunOptions(RunOptions{
		BotToken:         " token ",
		Mode:             " Webhook ",
		WebhookURL:       " https://bot.example.com/telegram/webhook ",
		WebhookPath:      "hook",
		WebhookSecret:    " s3cret ",
		Listen:           "127.0.0.1:8080",
		PollTimeout:      45 * time.Second,
		AllowedChatIDs:   []int64{2, 1, 1, 0},
		GroupTriggerMode: "Mention",
		MaxConcurrency:   5,
		TaskTimeout:      time.Minute,
		SendRate:         10,
		SendBurst:        2,
	})
	if got.BotToken != "token" {
		t.Fatalf("bot token = %q, want token", got.BotToken)
	}
	if got.Mode != ModeWebhook {
		t.Fatalf("mode = %q, want webhook", got.Mode)
	}
	if got.WebhookPath != "/hook" {
		t.Fatalf("webhook path = %q, want /hook", got.WebhookPath)
	}
	if got.WebhookSecret != "s3cret" || got.WebhookURL != "https://bot.example.com/telegram/webhook" {
		t.Fatalf("webhook options not trimmed: %#v", got)
	}
	if len(got.AllowedChatIDs) != 2 || got.AllowedChatIDs[0] != 1 || got.AllowedChatIDs[1] != 2 {
		t.Fatalf("allowed chat ids = %#v, want [1 2]", got.AllowedChatIDs)
	}
	if got.GroupTriggerMode != GroupTriggerMention {
		t.Fatalf("group trigger mode = %q", got.GroupTriggerMode)
	}
	if got.MaxConcurrency != 5 || got.SendRate != 10 || got.SendBurst != 2 || got.Listen != "127.0.0.1:8080" {
		t.Fatalf("resolved options mismatch: %#v", got)
	}
}

func TestNormalizeRuntimeLoopOptionsDefaults(t *testing.T) {
	got := normalizeRuntimeLoopOptions(runtimeLoopOptions{})
	if got.Mode != ModePolling {
		t.Fatalf("mode = %q, want polling", got.Mode)
	}
	if got.PollTimeout != 30*time.Second {
		t.Fatalf("poll timeout = %v, want 30s", got.PollTimeout)
	}
	if got.MaxConcurrency != 3 {
		t.Fatalf("max concurrency = %d, want 3", got.MaxConcurrency)
	}
	if got.TaskTimeout != 2*time.Minute {
		t.Fatalf("task timeout = %v, want 2m", got.TaskTimeout)
	}
	if got.WebhookPath != "" {
		t.Fatalf("webhook path = %q, want empty until the URL is known", got.WebhookPath)
	}
	if got.Listen != "" {
		t.Fatalf("listen = %q, want empty in polling mode", got.Listen)
	}
	if got.SendRate != 25 || got.SendBurst != 5 {
		t.Fatalf("send rate = %v/%d, want 25/5", got.SendRate, got.SendBurst)
	}
	if got.GroupTriggerMode != GroupTriggerAll {
		t.Fatalf("group trigger mode = %q, want all", got.GroupTriggerMode)
	}
}

func TestNormalizeRuntimeLoopOptionsAutoPicksWebhook(t *testing.T) {
	got := normalizeRuntimeLoopOptions(runtimeLoopOptions{Mode: "auto", WebhookURL: "https://x.example/hook"})
	if got.Mode != ModeWebhook {
		t.Fatalf("mode = %q, want webhook", got.Mode)
	}
	if got.Listen != ":4000" {
		t.Fatalf("listen = %q, want :4000", got.Listen)
	}
}

func TestResolveWebhookTarget(t *testing.T) {
	cases := []struct {
		name      string
		url       string
		path      string
		wantURL   string
		wantRoute string
		wantErr   bool
	}{
		{name: "bare host default route", url: "https://bot.example.com", wantURL: "https://bot.example.com/telegram/webhook", wantRoute: "/telegram/webhook"},
		{name: "bare host configured route", url: "https://bot.example.com/", path: "/hook", wantURL: "https://bot.example.com/hook", wantRoute: "/hook"},
		{name: "url path becomes route", url: "https://bot.example.com/bot123:abc", wantURL: "https://bot.example.com/bot123:abc", wantRoute: "/bot123:abc"},
		{name: "matching route", url: "https://bot.example.com/hook", path: "/hook", wantURL: "https://bot.example.com/hook", wantRoute: "/hook"},
		{name: "query kept", url: "https://bot.example.com:8443/hook?k=v", wantURL: "https://bot.example.com:8443/hook?k=v", wantRoute: "/hook"},
		{name: "mismatched route", url: "https://bot.example.com/bot123:abc", path: "/telegram/webhook", wantErr: true},
		{name: "no scheme", url: "bot.example.com/hook", wantErr: true},
		{name: "unsupported scheme", url: "ftp://bot.example.com/hook", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotURL, gotRoute, err := resolveWebhookTarget(tc.url, tc.path)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("resolveWebhookTarget() = %q, %q, want error", gotURL, gotRoute)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveWebhookTarget() error = %v", err)
			}
			if gotURL != tc.wantURL || gotRoute != tc.wantRoute {
				t.Fatalf("resolveWebhookTarget() = %q, %q, want %q, %q", gotURL, gotRoute, tc.wantURL, tc.wantRoute)
			}
		})
	}
}

func TestValidateRuntimeLoopOptions(t *testing.T) {
	if _, err := validateRuntimeLoopOptions(runtimeLoopOptions{Mode: ModePolling}); err == nil {
		t.Fatalf("validateRuntimeLoopOptions() without token error = nil")
	}
	if _, err := validateRuntimeLoopOptions(runtimeLoopOptions{BotToken: "t", Mode: "carrier-pigeon"}); err == nil {
		t.Fatalf("validateRuntimeLoopOptions() with unknown mode error = nil")
	}
	got, err := validateRuntimeLoopOptions(runtimeLoopOptions{BotToken: "t", Mode: ModeWebhook, WebhookURL: "https://bot.example.com"})
	if err != nil {
		t.Fatalf("validateRuntimeLoopOptions() error = %v", err)
	}
	if got.WebhookURL != "https://bot.example.com/telegram/webhook" || got.WebhookPath != "/telegram/webhook" {
		t.Fatalf("webhook target = %q, %q", got.WebhookURL, got.WebhookPath)
	}
}
