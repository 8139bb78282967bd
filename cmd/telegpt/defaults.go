package main

import (
	"time"

	"github.com/GunzViruz/telegpt/internal/chatrelay"
	"github.com/GunzViruz/telegpt/internal/statepaths"
	"github.com/GunzViruz/telegpt/quota"
	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Global
	viper.SetDefault("file_state_dir", statepaths.DefaultStateDir)

	// Telegram
	viper.SetDefault("telegram.mode", "auto")
	viper.SetDefault("telegram.probe_webhook", true)
	viper.SetDefault("telegram.poll_timeout", 30*time.Second)
	viper.SetDefault("telegram.group_trigger_mode", "all")
	viper.SetDefault("telegram.max_concurrency", 3)
	viper.SetDefault("telegram.task_timeout", 2*time.Minute)
	viper.SetDefault("telegram.send_rate", 25.0)
	viper.SetDefault("telegram.send_burst", 5)

	// Completion service
	viper.SetDefault("llm.endpoint", "https://api.openai.com")
	viper.SetDefault("llm.model", "gpt-3.5-turbo")
	viper.SetDefault("llm.request_timeout", 60*time.Second)
	viper.SetDefault("llm.max_retries", 0)
	viper.SetDefault("llm.retry_delay", time.Second)
	viper.SetDefault("llm.system_prompt", chatrelay.DefaultSystemPrompt)
	viper.SetDefault("llm.max_tokens", 0)

	// Quota and its storage
	viper.SetDefault("quota.daily_limit", quota.DefaultDailyLimit)
	viper.SetDefault("quota.timezone", "local")
	viper.SetDefault("store.driver", "file")
	viper.SetDefault("store.sqlite.busy_timeout_ms", 5000)
	viper.SetDefault("store.sqlite.wal", true)

	// Activity journal
	viper.SetDefault("journal.enabled", false)
	viper.SetDefault("journal.rotate_max_bytes", int64(16*1024*1024))

	// Fixed replies
	viper.SetDefault("replies.greeting", chatrelay.DefaultGreeting)
	viper.SetDefault("replies.apology", chatrelay.DefaultApology)
	viper.SetDefault("replies.limit_reached", chatrelay.DefaultLimitReached)
	viper.SetDefault("replies.usage", chatrelay.DefaultUsage)

	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("trace", false)
}

// Names the original deployment used. They are read when the TELEGPT_*
// variable is absent.
var legacyEnvBindings = map[string]string{
	"telegram.bot_token":   "TELEGRAM_BOT_TOKEN",
	"telegram.webhook_url": "WEBHOOK_URL",
	"llm.api_key":          "OPENAI_API_KEY",
	"server.port":          "PORT",
}
