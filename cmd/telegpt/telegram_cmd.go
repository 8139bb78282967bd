package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GunzViruz/telegpt/internal/channelruntime/telegram"
	"github.com/GunzViruz/telegpt/internal/chatrelay"
	"github.com/GunzViruz/telegpt/internal/configutil"
	"github.com/GunzViruz/telegpt/internal/logutil"
	"github.com/GunzViruz/telegpt/internal/metrics"
	"github.com/GunzViruz/telegpt/internal/runtimeclock"
	"github.com/GunzViruz/telegpt/internal/statepaths"
	"github.com/GunzViruz/telegpt/providers/openai"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTelegramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}

			token := strings.TrimSpace(configutil.FlagOrViperString(cmd, "telegram-bot-token", "telegram.bot_token"))
			if token == "" {
				return fmt.Errorf("missing telegram.bot_token (set via --telegram-bot-token, %s_TELEGRAM_BOT_TOKEN or TELEGRAM_BOT_TOKEN)", envPrefix)
			}
			apiKey := strings.TrimSpace(configutil.FlagOrViperString(cmd, "llm-api-key", "llm.api_key"))
			if apiKey == "" {
				return fmt.Errorf("missing llm.api_key (set via --llm-api-key, %s_LLM_API_KEY or OPENAI_API_KEY)", envPrefix)
			}
			allowed, err := configutil.FlagOrViperInt64List(cmd, "telegram-allowed-chat-id", "telegram.allowed_chat_ids")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openQuotaStore(ctx, cmd, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					logger.Warn("quota_store_close_failed", "error", err.Error())
				}
			}()
			tracker, err := newTrackerFromFlags(cmd, store, logger)
			if err != nil {
				return err
			}

			var journal chatrelay.Journal
			if configutil.FlagOrViperBool(cmd, "journal", "journal.enabled") {
				fj, err := chatrelay.OpenFileJournal(statepaths.JournalPath(), viper.GetInt64("journal.rotate_max_bytes"))
				if err != nil {
					return err
				}
				defer func() { _ = fj.Close() }()
				logger.Info("activity_journal_enabled", "path", fj.Path())
				journal = fj
			}

			requestTimeout := configutil.FlagOrViperDuration(cmd, "llm-request-timeout", "llm.request_timeout")
			maxRetries := configutil.FlagOrViperInt(cmd, "llm-max-retries", "llm.max_retries")
			client := openai.New(openai.Options{
				BaseURL:     configutil.FlagOrViperString(cmd, "llm-endpoint", "llm.endpoint"),
				APIKey:      apiKey,
				Model:       configutil.FlagOrViperString(cmd, "llm-model", "llm.model"),
				Temperature: temperatureFromViper(),
				MaxTokens:   viper.GetInt("llm.max_tokens"),
			})
			m := metrics.New()
			relay, err := chatrelay.New(chatrelay.Options{
				Quota:          tracker,
				Client:         client,
				Model:          client.Model(),
				SystemPrompt:   viper.GetString("llm.system_prompt"),
				RequestTimeout: requestTimeout,
				MaxRetries:     maxRetries,
				RetryDelay:     viper.GetDuration("llm.retry_delay"),
				Replies:        repliesFromViper(),
				Journal:        journal,
				Metrics:        m,
				Logger:         logger,
			})
			if err != nil {
				return err
			}

			taskTimeout := configutil.FlagOrViperDuration(cmd, "telegram-task-timeout", "telegram.task_timeout")
			if minTask := completionBudget(requestTimeout, maxRetries, viper.GetDuration("llm.retry_delay")); taskTimeout > 0 && taskTimeout < minTask {
				logger.Warn("telegram_task_timeout_raised", "configured", taskTimeout.String(), "effective", minTask.String())
				taskTimeout = minTask
			}

			logger.Info("telegram_starting",
				"daily_limit", tracker.DailyLimit(),
				"timezone", runtimeclock.ZoneName(tracker.Location()),
				"model", client.Model(),
			)
			return telegram.Run(ctx, telegram.Dependencies{
				Logger:  func() (*slog.Logger, error) { return logger, nil },
				Handler: relay,
				Metrics: m,
			}, telegram.RunOptions{
				BotToken:         token,
				APIEndpoint:      strings.TrimSpace(viper.GetString("telegram.api_endpoint")),
				Mode:             configutil.FlagOrViperString(cmd, "telegram-mode", "telegram.mode"),
				WebhookURL:       configutil.FlagOrViperString(cmd, "telegram-webhook-url", "telegram.webhook_url"),
				WebhookPath:      configutil.FlagOrViperString(cmd, "telegram-webhook-path", "telegram.webhook_path"),
				WebhookSecret:    configutil.FlagOrViperString(cmd, "telegram-webhook-secret", "telegram.webhook_secret"),
				ProbeWebhook:     viper.GetBool("telegram.probe_webhook"),
				Listen:           resolveListen(cmd),
				PollTimeout:      configutil.FlagOrViperDuration(cmd, "telegram-poll-timeout", "telegram.poll_timeout"),
				AllowedChatIDs:   allowed,
				GroupTriggerMode: configutil.FlagOrViperString(cmd, "telegram-group-trigger-mode", "telegram.group_trigger_mode"),
				MaxConcurrency:   configutil.FlagOrViperInt(cmd, "telegram-max-concurrency", "telegram.max_concurrency"),
				TaskTimeout:      taskTimeout,
				SendRate:         configutil.FlagOrViperFloat64(cmd, "telegram-send-rate", "telegram.send_rate"),
				SendBurst:        viper.GetInt("telegram.send_burst"),
			})
		},
	}

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	cmd.Flags().String("telegram-mode", "auto", "Update source: auto|polling|webhook (auto uses webhook when a webhook URL is set).")
	cmd.Flags().String("telegram-webhook-url", "", "Public URL Telegram delivers updates to (webhook mode). A bare host gets the webhook path appended.")
	cmd.Flags().String("telegram-webhook-path", "", "Local route that receives webhook updates (default: the path of the webhook URL, else /telegram/webhook).")
	cmd.Flags().String("telegram-webhook-secret", "", "Secret token Telegram echoes in X-Telegram-Bot-Api-Secret-Token.")
	cmd.Flags().Duration("telegram-poll-timeout", 30*time.Second, "Long polling timeout for getUpdates.")
	cmd.Flags().StringArray("telegram-allowed-chat-id", nil, "Allowed chat id(s). If empty, allows all.")
	cmd.Flags().String("telegram-group-trigger-mode", "all", "Group trigger mode: all|mention.")
	cmd.Flags().Int("telegram-max-concurrency", 3, "Max number of chats processed concurrently.")
	cmd.Flags().Duration("telegram-task-timeout", 2*time.Minute, "Per-message handling timeout.")
	cmd.Flags().Float64("telegram-send-rate", 25, "Outgoing messages per second across all chats.")
	cmd.Flags().String("server-listen", "", "HTTP listen address for the webhook, /healthz and /metrics (webhook mode defaults to :4000).")
	cmd.Flags().String("llm-endpoint", "https://api.openai.com", "Base URL of an OpenAI-compatible API.")
	cmd.Flags().String("llm-api-key", "", "API key for the completion service.")
	cmd.Flags().String("llm-model", "gpt-3.5-turbo", "Chat completion model.")
	cmd.Flags().Duration("llm-request-timeout", 60*time.Second, "Timeout for one completion attempt.")
	cmd.Flags().Int("llm-max-retries", 0, "Extra completion attempts after a failure.")
	cmd.Flags().Bool("journal", false, "Append one JSON line per handled message to <state dir>/activity.jsonl.")

	return cmd
}

// completionBudget is the longest a relay call can spend on completion
// attempts, plus headroom for the quota updates around them.
func completionBudget(requestTimeout time.Duration, maxRetries int, retryDelay time.Duration) time.Duration {
	if maxRetries < 0 {
		maxRetries = 0
	}
	attempts := time.Duration(maxRetries + 1)
	return attempts*requestTimeout + time.Duration(maxRetries)*retryDelay + 10*time.Second
}

// resolveListen prefers server.listen and falls back to the PORT convention.
func resolveListen(cmd *cobra.Command) string {
	if listen := strings.TrimSpace(configutil.FlagOrViperString(cmd, "server-listen", "server.listen")); listen != "" {
		return listen
	}
	if port := strings.TrimSpace(viper.GetString("server.port")); port != "" {
		return ":" + strings.TrimPrefix(port, ":")
	}
	return ""
}

func repliesFromViper() chatrelay.Replies {
	return chatrelay.Replies{
		Greeting:     viper.GetString("replies.greeting"),
		Apology:      viper.GetString("replies.apology"),
		LimitReached: viper.GetString("replies.limit_reached"),
		Usage:        viper.GetString("replies.usage"),
	}
}

// temperatureFromViper returns nil unless llm.temperature is configured, so the
// completion API keeps its own default.
func temperatureFromViper() *float32 {
	if !viper.IsSet("llm.temperature") {
		return nil
	}
	v := float32(viper.GetFloat64("llm.temperature"))
	return &v
}
