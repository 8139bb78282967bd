package db

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultDirName  = ".telegpt"
	DefaultFileName = "telegpt.sqlite"
)

type SQLiteConfig struct {
	BusyTimeoutMs int
	WAL           bool
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Config struct {
	Driver      string
	DSN         string
	Pool        PoolConfig
	SQLite      SQLiteConfig
	AutoMigrate bool
}

func DefaultConfig() Config {
	return Config{
		Driver: "sqlite",
		DSN:    "",
		Pool: PoolConfig{
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: 0,
		},
		SQLite: SQLiteConfig{
			BusyTimeoutMs: 5000,
			WAL:           true,
		},
		AutoMigrate: true,
	}
}

// ResolveSQLiteDSN picks the database file when none is configured.
// Precedence: stateDir/telegpt.sqlite when stateDir is set, then an existing
// $HOME/.telegpt/telegpt.sqlite, then an existing ./telegpt.sqlite, and
// finally $HOME/.telegpt/telegpt.sqlite (created).
func ResolveSQLiteDSN(dsn, stateDir string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn != "" {
		return dsn, nil
	}
	if stateDir = strings.TrimSpace(stateDir); stateDir != "" {
		if err := os.MkdirAll(stateDir, 0o700); err != nil {
			return "", err
		}
		return filepath.Join(stateDir, DefaultFileName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	homeDir := filepath.Join(home, DefaultDirName)
	homeDB := filepath.Join(homeDir, DefaultFileName)
	localDB := filepath.Clean("./" + DefaultFileName)

	if _, err := os.Stat(homeDB); err == nil {
		return homeDB, nil
	}
	if _, err := os.Stat(localDB); err == nil {
		return localDB, nil
	}
	if err := os.MkdirAll(homeDir, 0o700); err != nil {
		return "", err
	}
	return homeDB, nil
}
