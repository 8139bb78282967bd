package statepaths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultStateDir = "~/.telegpt"
	QuotaFilename   = "users.json"
	JournalFilename = "activity.jsonl"
)

// FileStateDir is file_state_dir with ~ expanded.
func FileStateDir() string {
	dir := strings.TrimSpace(viper.GetString("file_state_dir"))
	if dir == "" {
		dir = DefaultStateDir
	}
	return filepath.Clean(ExpandHomePath(dir))
}

// QuotaFilePath is store.path when set, otherwise users.json in the state
// directory.
func QuotaFilePath() string {
	return resolveStateFile(viper.GetString("store.path"), QuotaFilename)
}

func JournalPath() string {
	return resolveStateFile(viper.GetString("journal.path"), JournalFilename)
}

func resolveStateFile(configured, name string) string {
	if p := strings.TrimSpace(configured); p != "" {
		return filepath.Clean(ExpandHomePath(p))
	}
	return filepath.Join(FileStateDir(), name)
}

// ExpandHomePath replaces a leading ~ with the user's home directory. Paths
// are returned unchanged when the home directory is unknown.
func ExpandHomePath(p string) string {
	p = strings.TrimSpace(p)
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	return filepath.Join(home, p[2:])
}
