package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/report"
)

// listCmd implements: stine list <kind>
var listCmd = &cobra.Command{
	Use:   "list <kind>",
	Short: "Fetch a whole collection from the portal and cache every entity",
	Example: `  stine list results
  stine list documents -o knf -d ";"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		level, err := levelFlag(cmd)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		delimiter, _ := cmd.Flags().GetString("delimiter")

		c, release, err := openCore(cmd, true)
		if err != nil {
			return err
		}
		defer release()
		lang, err := languageFlag(cmd, c)
		if err != nil {
			return err
		}

		values, err := c.ListEntities(cmd.Context(), kind, lang, level)
		if err != nil {
			return err
		}
		return report.PrintValues(os.Stdout, values, output, delimiter)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().String("level", entity.LevelSummary.String(), "Completeness level: summary, detailed, full")
	listCmd.Flags().String("lang", "", "Language (default: configured language)")
	listCmd.Flags().StringP("output", "o", "in", "Output flags. k kind, i id, l language, c level, n name, f all fields")
	listCmd.Flags().StringP("delimiter", "d", " ", "Delimiter character to use for output")
}
