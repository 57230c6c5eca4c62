package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stine-notifier/stine/internal/utils"
	"github.com/stine-notifier/stine/pkg/cache"
	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/report"
)

// getCmd implements: stine get <kind> <id>...
var getCmd = &cobra.Command{
	Use:   "get <kind> <id>...",
	Short: "Print entities, loading them at the requested completeness level if needed",
	Example: `  stine get exam_result 64-010 --level full
  stine get exam_result 64-010 64-020
  stine get period "General registration period" --lang en`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		level, err := levelFlag(cmd)
		if err != nil {
			return err
		}
		refresh, _ := cmd.Flags().GetBool("refresh")
		ids := args[1:]
		if refresh && len(ids) > 1 {
			return fmt.Errorf("--refresh takes a single id")
		}

		c, release, err := openCore(cmd, true)
		if err != nil {
			return err
		}
		defer release()
		lang, err := languageFlag(cmd, c)
		if err != nil {
			return err
		}

		if refresh {
			lk, err := c.RefreshEntity(cmd.Context(), kind, ids[0], lang, level)
			if err != nil {
				return err
			}
			printLookup(lk)
			return nil
		}
		if len(ids) == 1 {
			lk, err := c.GetEntity(cmd.Context(), kind, ids[0], lang, level)
			if err != nil {
				return err
			}
			printLookup(lk)
			return nil
		}

		lookups, err := c.GetEntities(cmd.Context(), kind, ids, lang, level)
		for _, lk := range lookups {
			if lk.Value.Key.ID == "" {
				continue
			}
			printLookup(lk)
			fmt.Println()
		}
		return err
	},
}

func printLookup(lk cache.Lookup) {
	if lk.Warning != nil {
		utils.Log.Warnf("Showing %s data from %s: %v", lk.Value.Level, lk.FetchedAt.Local().Format(report.TimeFormat), lk.Warning)
	}
	utils.Log.Debugf("%s served from %s", lk.Value.Key, lk.Source)
	report.PrintValue(os.Stdout, lk.Value)
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().String("level", entity.LevelSummary.String(), "Minimum completeness level: summary, detailed, full")
	getCmd.Flags().String("lang", "", "Language (default: configured language)")
	getCmd.Flags().Bool("refresh", false, "Drop the cached entry and fetch it again")
}
