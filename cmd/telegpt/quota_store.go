package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GunzViruz/telegpt/db"
	"github.com/GunzViruz/telegpt/internal/configutil"
	"github.com/GunzViruz/telegpt/internal/runtimeclock"
	"github.com/GunzViruz/telegpt/internal/statepaths"
	"github.com/GunzViruz/telegpt/quota"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	storeDriverFile   = "file"
	storeDriverSQLite = "sqlite"
)

// openQuotaStore builds the configured quota backend. The returned close
// function releases it and is never nil.
func openQuotaStore(ctx context.Context, cmd *cobra.Command, logger *slog.Logger) (quota.Store, func() error, error) {
	noop := func() error { return nil }
	driver := strings.ToLower(strings.TrimSpace(configutil.FlagOrViperString(cmd, "store-driver", "store.driver")))
	switch driver {
	case "", storeDriverFile:
		path := strings.TrimSpace(configutil.FlagOrViperString(cmd, "store-path", "store.path"))
		if path == "" {
			path = statepaths.QuotaFilePath()
		} else {
			path = statepaths.ExpandHomePath(path)
		}
		store, err := quota.NewFileStore(path, logger)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("quota_store_opened", "driver", storeDriverFile, "path", store.Path())
		return store, noop, nil
	case storeDriverSQLite:
		cfg := db.DefaultConfig()
		cfg.SQLite.BusyTimeoutMs = viper.GetInt("store.sqlite.busy_timeout_ms")
		cfg.SQLite.WAL = viper.GetBool("store.sqlite.wal")
		dsn, err := db.ResolveSQLiteDSN(configutil.FlagOrViperString(cmd, "store-dsn", "store.dsn"), statepaths.FileStateDir())
		if err != nil {
			return nil, noop, fmt.Errorf("resolve sqlite dsn: %w", err)
		}
		cfg.DSN = dsn
		gdb, err := db.Open(ctx, cfg, logger, quota.SQLModels()...)
		if err != nil {
			return nil, noop, err
		}
		store, err := quota.NewSQLStore(gdb, logger)
		if err != nil {
			_ = db.Close(gdb)
			return nil, noop, err
		}
		logger.Info("quota_store_opened", "driver", storeDriverSQLite, "dsn", dsn)
		return store, func() error { return db.Close(gdb) }, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q (want file or sqlite)", quota.ErrUnknownBackend, driver)
	}
}

func newTrackerFromFlags(cmd *cobra.Command, store quota.Store, logger *slog.Logger) (*quota.Tracker, error) {
	loc, err := runtimeclock.LoadLocation(configutil.FlagOrViperString(cmd, "quota-timezone", "quota.timezone"))
	if err != nil {
		return nil, err
	}
	return quota.NewTracker(quota.Options{
		Store:      store,
		DailyLimit: configutil.FlagOrViperInt(cmd, "quota-daily-limit", "quota.daily_limit"),
		Location:   loc,
		Logger:     logger,
	})
}
