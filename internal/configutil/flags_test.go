package configutil

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newFlagCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("name", "flag-default", "")
	cmd.Flags().Int("limit", 49, "")
	cmd.Flags().Duration("timeout", time.Minute, "")
	cmd.Flags().StringArray("chat-id", nil, "")
	return cmd
}

func setViper(t *testing.T, key string, value any) {
	t.Helper()
	prev := viper.Get(key)
	viper.Set(key, value)
	t.Cleanup(func() { viper.Set(key, prev) })
}

func TestFlagOrViperPrecedence(t *testing.T) {
	cmd := newFlagCmd()
	if got := FlagOrViperString(cmd, "name", "test.unset_name"); got != "flag-default" {
		t.Fatalf("FlagOrViperString() = %q, want flag default", got)
	}

	setViper(t, "test.name", "from-config")
	setViper(t, "test.limit", 7)
	if got := FlagOrViperString(cmd, "name", "test.name"); got != "from-config" {
		t.Fatalf("FlagOrViperString() = %q, want config value", got)
	}
	if got := FlagOrViperInt(cmd, "limit", "test.limit"); got != 7 {
		t.Fatalf("FlagOrViperInt() = %d, want 7", got)
	}

	if err := cmd.Flags().Set("name", "from-flag"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := FlagOrViperString(cmd, "name", "test.name"); got != "from-flag" {
		t.Fatalf("FlagOrViperString() = %q, want flag value", got)
	}
	if got := FlagOrViperDuration(cmd, "timeout", "test.unset_timeout"); got != time.Minute {
		t.Fatalf("FlagOrViperDuration() = %v, want 1m", got)
	}
}

func TestFlagOrViperInt64List(t *testing.T) {
	cmd := newFlagCmd()
	setViper(t, "test.chat_ids", "100, -200,,300")
	got, err := FlagOrViperInt64List(cmd, "chat-id", "test.chat_ids")
	if err != nil {
		t.Fatalf("FlagOrViperInt64List() error = %v", err)
	}
	want := []int64{100, -200, 300}
	if len(got) != len(want) {
		t.Fatalf("FlagOrViperInt64List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FlagOrViperInt64List() = %v, want %v", got, want)
		}
	}

	if err := cmd.Flags().Set("chat-id", "abc"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := FlagOrViperInt64List(cmd, "chat-id", "test.chat_ids"); err == nil {
		t.Fatalf("FlagOrViperInt64List() error = nil, want parse error")
	}
}
