package telegram

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	ModeAuto    = "auto"
	ModePolling = "polling"
	ModeWebhook = "webhook"

	GroupTriggerAll     = "all"
	GroupTriggerMention = "mention"

	defaultWebhookPath = "/telegram/webhook"
)

type RunOptions struct {
	BotToken string
	// APIEndpoint is a printf pattern taking the token and the method name.
	// Empty means the public Bot API.
	APIEndpoint      string
	Mode             string
	WebhookURL       string
	WebhookPath      string
	WebhookSecret    string
	ProbeWebhook     bool
	Listen           string
	PollTimeout      time.Duration
	AllowedChatIDs   []int64
	GroupTriggerMode string
	MaxConcurrency   int
	TaskTimeout      time.Duration
	SendRate         float64
	SendBurst        int
}

type runtimeLoopOptions struct {
	BotToken         string
	APIEndpoint      string
	Mode             string
	WebhookURL       string
	WebhookPath      string
	WebhookSecret    string
	ProbeWebhook     bool
	Listen           string
	PollTimeout      time.Duration
	AllowedChatIDs   []int64
	GroupTriggerMode string
	MaxConcurrency   int
	TaskTimeout      time.Duration
	SendRate         float64
	SendBurst        int
}

func resolveRuntimeLoopOptionsFromRunOptions(opts RunOptions) runtimeLoopOptions {
	out := runtimeLoopOptions{
		BotToken:         opts.BotToken,
		APIEndpoint:      opts.APIEndpoint,
		Mode:             opts.Mode,
		WebhookURL:       opts.WebhookURL,
		WebhookPath:      opts.WebhookPath,
		WebhookSecret:    opts.WebhookSecret,
		ProbeWebhook:     opts.ProbeWebhook,
		Listen:           opts.Listen,
		PollTimeout:      opts.PollTimeout,
		AllowedChatIDs:   opts.AllowedChatIDs,
		GroupTriggerMode: opts.GroupTriggerMode,
		MaxConcurrency:   opts.MaxConcurrency,
		TaskTimeout:      opts.TaskTimeout,
		SendRate:         opts.SendRate,
		SendBurst:        opts.SendBurst,
	}
	return normalizeRuntimeLoopOptions(out)
}

func normalizeRuntimeLoopOptions(opts runtimeLoopOptions) runtimeLoopOptions {
	opts.BotToken = strings.TrimSpace(opts.BotToken)
	opts.APIEndpoint = strings.TrimSpace(opts.APIEndpoint)
	opts.WebhookURL = strings.TrimSpace(opts.WebhookURL)
	opts.WebhookSecret = strings.TrimSpace(opts.WebhookSecret)
	opts.Listen = strings.TrimSpace(opts.Listen)
	opts.AllowedChatIDs = normalizeAllowedChatIDs(opts.AllowedChatIDs)
	opts.GroupTriggerMode = strings.ToLower(strings.TrimSpace(opts.GroupTriggerMode))
	opts.Mode = strings.ToLower(strings.TrimSpace(opts.Mode))

	if opts.Mode == "" || opts.Mode == ModeAuto {
		opts.Mode = ModePolling
		if opts.WebhookURL != "" {
			opts.Mode = ModeWebhook
		}
	}
	opts.WebhookPath = strings.TrimSpace(opts.WebhookPath)
	if opts.WebhookPath != "" && !strings.HasPrefix(opts.WebhookPath, "/") {
		opts.WebhookPath = "/" + opts.WebhookPath
	}
	if opts.Mode == ModeWebhook && opts.Listen == "" {
		opts.Listen = ":4000"
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 3
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 2 * time.Minute
	}
	if opts.SendRate <= 0 {
		opts.SendRate = 25
	}
	if opts.SendBurst <= 0 {
		opts.SendBurst = 5
	}
	if opts.GroupTriggerMode == "" {
		opts.GroupTriggerMode = GroupTriggerAll
	}
	return opts
}

// validateRuntimeLoopOptions checks normalized options and, in webhook mode,
// settles the URL registered with Telegram and the local route so that both
// name the same path.
func validateRuntimeLoopOptions(opts runtimeLoopOptions) (runtimeLoopOptions, error) {
	if opts.BotToken == "" {
		return opts, fmt.Errorf("missing telegram.bot_token (set via --telegram-bot-token or TELEGPT_TELEGRAM_BOT_TOKEN)")
	}
	switch opts.Mode {
	case ModePolling:
		return opts, nil
	case ModeWebhook:
	default:
		return opts, fmt.Errorf("unknown telegram.mode: %s", opts.Mode)
	}
	if opts.WebhookURL == "" {
		return opts, fmt.Errorf("telegram webhook mode requires telegram.webhook_url")
	}
	registerURL, route, err := resolveWebhookTarget(opts.WebhookURL, opts.WebhookPath)
	if err != nil {
		return opts, err
	}
	opts.WebhookURL = registerURL
	opts.WebhookPath = route
	return opts, nil
}

// resolveWebhookTarget returns the URL to register and the route to serve.
// A URL without a path gets the route (or the default route) appended. A URL
// with a path supplies the route when none is configured. A configured route
// that differs from the URL path is rejected.
func resolveWebhookTarget(rawURL, route string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		// The URL may carry the bot token, so it stays out of the error.
		return "", "", fmt.Errorf("telegram.webhook_url must be an absolute http(s) URL")
	}
	urlPath := u.Path
	if urlPath == "/" {
		urlPath = ""
	}
	switch {
	case urlPath == "":
		if route == "" {
			route = defaultWebhookPath
		}
		u.Path = route
		u.RawPath = ""
		return u.String(), route, nil
	case route == "":
		return rawURL, urlPath, nil
	case route != urlPath:
		return "", "", fmt.Errorf("telegram.webhook_path %q does not match the path of telegram.webhook_url; Telegram would post to a route that is not served", route)
	}
	return rawURL, route, nil
}

func normalizeAllowedChatIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
