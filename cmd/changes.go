package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stine-notifier/stine/pkg/core"
	"github.com/stine-notifier/stine/pkg/report"
	"github.com/stine-notifier/stine/pkg/storage"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Show recent changes found by detect (default 50)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		kindStr, _ := cmd.Flags().GetString("kind")
		runID, _ := cmd.Flags().GetString("run")
		sinceStr, _ := cmd.Flags().GetString("since")

		f := storage.ChangeFilter{RunID: runID, Limit: limit}
		if kindStr != "" {
			kind, err := kindArg(kindStr)
			if err != nil {
				return err
			}
			f.Kind = string(kind)
		}
		if sinceStr != "" {
			since, err := parseSince(sinceStr, time.Now())
			if err != nil {
				return err
			}
			f.Since = since
		}

		c, release, err := openCore(cmd, false)
		if err != nil {
			return err
		}
		defer release()
		if cmd.Flags().Changed("lang") {
			lang, err := languageFlag(cmd, c)
			if err != nil {
				return err
			}
			f.Language = string(lang)
		}

		rows, err := c.RecentChanges(cmd.Context(), f)
		if err != nil {
			return err
		}
		report.PrintChanges(os.Stdout, rows)
		return nil
	},
}

// parseSince accepts an RFC3339 timestamp or a duration back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("%w: --since wants an RFC3339 timestamp or a duration like 24h, got %q", core.ErrConfig, s)
	}
	return now.Add(-d), nil
}

func init() {
	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().Int("limit", 50, "Number of recent changes to show")
	changesCmd.Flags().String("kind", "", "Only show changes of this kind")
	changesCmd.Flags().String("lang", "", "Only show changes in this language")
	changesCmd.Flags().String("run", "", "Only show changes of this detection run")
	changesCmd.Flags().String("since", "", "Only show changes after this RFC3339 timestamp or duration ago (e.g. 24h)")
}
