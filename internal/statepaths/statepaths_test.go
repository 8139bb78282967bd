package statepaths

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func setViper(t *testing.T, key string, value any) {
	t.Helper()
	prev := viper.Get(key)
	viper.Set(key, value)
	t.Cleanup(func() { viper.Set(key, prev) })
}

func TestExpandHomePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cases := map[string]string{
		"~":            home,
		"~/.telegpt":   filepath.Join(home, ".telegpt"),
		"/var/telegpt": "/var/telegpt",
		"rel/dir":      "rel/dir",
		"~other/x":     "~other/x",
	}
	for in, want := range cases {
		if got := ExpandHomePath(in); got != want {
			t.Fatalf("ExpandHomePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStateFilesDefaultToStateDir(t *testing.T) {
	dir := t.TempDir()
	setViper(t, "file_state_dir", dir)
	setViper(t, "store.path", "")
	setViper(t, "journal.path", "")

	if got, want := QuotaFilePath(), filepath.Join(dir, QuotaFilename); got != want {
		t.Fatalf("QuotaFilePath() = %q, want %q", got, want)
	}
	if got, want := JournalPath(), filepath.Join(dir, JournalFilename); got != want {
		t.Fatalf("JournalPath() = %q, want %q", got, want)
	}
}

func TestQuotaFilePathHonorsStorePath(t *testing.T) {
	custom := filepath.Join(t.TempDir(), "quota", "users.json")
	setViper(t, "store.path", custom)
	if got := QuotaFilePath(); got != custom {
		t.Fatalf("QuotaFilePath() = %q, want %q", got, custom)
	}
}
