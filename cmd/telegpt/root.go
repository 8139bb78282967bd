package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "TELEGPT"
)

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "telegpt",
		Short:        "Telegram bot that answers with a chat completion model",
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("env-file", "", "Dotenv file to load before reading the environment (defaults to ./.env when present).")
	cmd.PersistentFlags().String("file-state-dir", "", "State directory for users.json, the journal and the sqlite store (defaults to ~/.telegpt).")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("env_file", cmd.PersistentFlags().Lookup("env-file"))
	_ = viper.BindPFlag("file_state_dir", cmd.PersistentFlags().Lookup("file-state-dir"))

	cmd.PersistentFlags().String("log-level", "", "Logging level: debug|info|warn|error (defaults to info; debug if --trace).")
	cmd.PersistentFlags().String("log-format", "text", "Logging format: text|json.")
	cmd.PersistentFlags().Bool("log-add-source", false, "Include source file:line in logs.")
	cmd.PersistentFlags().Bool("trace", false, "Print extra debug info to stderr.")
	_ = viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", cmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.add_source", cmd.PersistentFlags().Lookup("log-add-source"))
	_ = viper.BindPFlag("trace", cmd.PersistentFlags().Lookup("trace"))

	// Quota storage is shared by the bot and the usage commands.
	cmd.PersistentFlags().String("store-driver", "file", "Quota store backend: file|sqlite.")
	cmd.PersistentFlags().String("store-path", "", "Quota document path for the file store (defaults to <state dir>/users.json).")
	cmd.PersistentFlags().String("store-dsn", "", "SQLite DSN for the sqlite store (defaults to <state dir>/telegpt.sqlite).")
	cmd.PersistentFlags().Int("quota-daily-limit", 49, "Messages each user may send per calendar day.")
	cmd.PersistentFlags().String("quota-timezone", "local", "IANA timezone that decides where a day starts (local uses the host clock).")

	cmd.AddCommand(newTelegramCmd())
	cmd.AddCommand(newUsageCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func initConfig() {
	initViperDefaults()
	loadDotenv(strings.TrimSpace(viper.GetString("env_file")))

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	bindLegacyEnv()

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}

// loadDotenv fills the process environment from a dotenv file. Variables that
// are already set win. A missing default .env is not an error.
func loadDotenv(path string) {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
	}
}

func bindLegacyEnv() {
	keys := make([]string, 0, len(legacyEnvBindings))
	for key := range legacyEnvBindings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		_ = viper.BindEnv(key, prefixed, legacyEnvBindings[key])
	}
}
