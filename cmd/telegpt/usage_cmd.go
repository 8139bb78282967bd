package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/GunzViruz/telegpt/internal/clifmt"
	"github.com/GunzViruz/telegpt/internal/logutil"
	"github.com/GunzViruz/telegpt/quota"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect and reset per-user daily quotas",
	}
	cmd.PersistentFlags().String("format", formatTable, "Output format: table|json|yaml.")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every known user with today's usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd, func(ctx context.Context, tracker *quota.Tracker) error {
				users := tracker.Load(ctx)
				today := tracker.Today()
				records := make([]quota.UserRecord, 0, len(users))
				for _, id := range users.IDs() {
					records = append(records, effectiveRecord(users[id], today))
				}
				return printRecords(cmd, tracker, records)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <user-id>",
		Short: "Show one user's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd, func(ctx context.Context, tracker *quota.Tracker) error {
				rec, ok := tracker.Get(ctx, quota.UserID(strings.TrimSpace(args[0])))
				if !ok {
					return fmt.Errorf("%w: unknown user %s", quota.ErrInvalidUserID, strings.TrimSpace(args[0]))
				}
				return printRecord(cmd, tracker, rec)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <user-id>",
		Short: "Clear today's counter for one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd, func(ctx context.Context, tracker *quota.Tracker) error {
				id := quota.UserID(strings.TrimSpace(args[0]))
				if err := tracker.Reset(ctx, id); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), clifmt.Success(fmt.Sprintf("reset %s: 0/%d used today", id, tracker.DailyLimit())))
				return nil
			})
		},
	})

	return cmd
}

func withTracker(cmd *cobra.Command, fn func(ctx context.Context, tracker *quota.Tracker) error) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeStore, err := openQuotaStore(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	tracker, err := newTrackerFromFlags(cmd, store, logger)
	if err != nil {
		return err
	}
	return fn(ctx, tracker)
}

// effectiveRecord shows a stale counter as zero, the way the next admission
// would see it.
func effectiveRecord(rec *quota.UserRecord, today string) quota.UserRecord {
	out := *rec
	if out.LastDate != today {
		out.MessageCount = 0
		out.LastDate = today
	}
	return out
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "", formatTable:
		return formatTable, nil
	case formatJSON, formatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("unknown --format %q (want table, json or yaml)", format)
	}
}

func printRecords(cmd *cobra.Command, tracker *quota.Tracker, records []quota.UserRecord) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch format {
	case formatJSON:
		return writeJSON(out, records)
	case formatYAML:
		return writeYAML(out, records)
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.UserID.String(),
			rec.Username,
			usedOf(rec.MessageCount, tracker.DailyLimit()),
			strconv.Itoa(len(rec.MessagesLog)),
		})
	}
	clifmt.PrintTable(out, clifmt.Table{
		Title:     "Users on " + tracker.Today(),
		Headers:   []string{"USER ID", "USERNAME", "TODAY", "LOGGED"},
		Rows:      rows,
		EmptyText: "No users yet.",
	})
	return nil
}

func printRecord(cmd *cobra.Command, tracker *quota.Tracker, rec quota.UserRecord) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch format {
	case formatJSON:
		return writeJSON(out, rec)
	case formatYAML:
		return writeYAML(out, rec)
	}
	rows := []clifmt.NameDetailRow{
		{Name: "user_id", Detail: rec.UserID.String()},
		{Name: "username", Detail: rec.Username},
		{Name: "today", Detail: usedOf(rec.MessageCount, tracker.DailyLimit())},
		{Name: "last_date", Detail: rec.LastDate},
		{Name: "context", Detail: rec.Context},
		{Name: "messages_logged", Detail: strconv.Itoa(len(rec.MessagesLog))},
	}
	if n := len(rec.MessagesLog); n > 0 {
		last := rec.MessagesLog[n-1]
		rows = append(rows, clifmt.NameDetailRow{Name: "last_logged_at", Detail: last.Timestamp.Format("2006-01-02 15:04:05 MST")})
	}
	clifmt.PrintNameDetailTable(out, clifmt.NameDetailTableOptions{
		Rows:         rows,
		NameHeader:   "FIELD",
		DetailHeader: "VALUE",
		EmptyDetail:  "-",
	})
	return nil
}

func usedOf(count, limit int) string {
	return fmt.Sprintf("%d/%d", count, limit)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
