package outputfmt

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	absoluteURLInTextRE = regexp.MustCompile(`https?://[^\s"'<>]+`)
	// Bot API paths carry the token: /bot<id>:<secret>/<method>.
	botTokenPathRE = regexp.MustCompile(`/bot[0-9]+:[A-Za-z0-9_-]+`)
)

const redacted = "[redacted]"

// ErrorText renders err for logs and the activity journal with URL hosts
// removed and credentials redacted.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeErrorText(err.Error())
}

// SanitizeErrorText strips URL hosts from raw, masks Bot API tokens in
// paths and redacts credential-like query parameters.
func SanitizeErrorText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	out := absoluteURLInTextRE.ReplaceAllStringFunc(raw, sanitizeURLInText)
	return botTokenPathRE.ReplaceAllString(out, "/bot"+redacted)
}

func sanitizeURLInText(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if q := redactSensitiveQuery(u.Query()); q != "" {
		path += "?" + q
	}
	return path
}

func redactSensitiveQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	for k := range q {
		if isSensitiveQueryKey(k) {
			q.Set(k, redacted)
		}
	}
	return q.Encode()
}

func isSensitiveQueryKey(key string) bool {
	n := strings.ToLower(strings.TrimSpace(key))
	n = strings.NewReplacer("-", "", "_", "").Replace(n)
	if n == "" {
		return false
	}
	if n == "key" {
		return true
	}
	for _, marker := range []string{"apikey", "authorization", "token", "secret", "password"} {
		if strings.Contains(n, marker) {
			return true
		}
	}
	return false
}
