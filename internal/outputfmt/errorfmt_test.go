package outputfmt

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeErrorTextMasksBotToken(t *testing.T) {
	in := `Post "https://api.telegram.org/bot123456:AAH-secret_part/sendMessage": dial tcp: i/o timeout`
	out := SanitizeErrorText(in)
	if strings.Contains(out, "api.telegram.org") {
		t.Fatalf("host should be removed, got %q", out)
	}
	if strings.Contains(out, "AAH-secret_part") || strings.Contains(out, "123456") {
		t.Fatalf("bot token should be redacted, got %q", out)
	}
	if !strings.Contains(out, `Post "/bot[redacted]/sendMessage"`) {
		t.Fatalf("method path should be kept, got %q", out)
	}
}

func TestSanitizeErrorTextRedactsSensitiveQuery(t *testing.T) {
	in := `request failed: https://llm.example.com/v1/chat/completions?api_key=sk-test&stream=false`
	out := SanitizeErrorText(in)
	if strings.Contains(out, "llm.example.com") || strings.Contains(out, "sk-test") {
		t.Fatalf("host and key should be removed, got %q", out)
	}
	if !strings.Contains(out, "/v1/chat/completions?api_key=%5Bredacted%5D&stream=false") {
		t.Fatalf("path and safe query should be kept, got %q", out)
	}
}

func TestErrorText(t *testing.T) {
	if got := ErrorText(nil); got != "" {
		t.Fatalf("ErrorText(nil) = %q, want empty", got)
	}
	if got := ErrorText(errors.New("  quota: storage write failed  ")); got != "quota: storage write failed" {
		t.Fatalf("ErrorText() = %q", got)
	}
}
