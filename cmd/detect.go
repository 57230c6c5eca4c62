package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stine-notifier/stine/internal/utils"
	"github.com/stine-notifier/stine/pkg/changes"
	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/report"
)

var defaultDetectKinds = []entity.Kind{
	entity.KindExamResult, entity.KindDocument, entity.KindRegistrationPeriod,
	entity.KindSubmodule, entity.KindModule,
}

// detectCmd implements: stine detect [kind...]
//
//	--force-language  Discard a baseline recorded in another language
//	--dry-run         Report events without updating the baseline or the log
//	--reset           Delete the baselines instead of detecting
var detectCmd = &cobra.Command{
	Use:   "detect [kind...]",
	Short: "Compare collections against the last run and print what changed",
	Long: `Compare collections against the last run and print what changed.

Without arguments exam results, documents, registration periods and the
registration state of submodules and modules are checked.
The first run of a kind only records a baseline. Meant to run from cron.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds := defaultDetectKinds
		if len(args) > 0 {
			kinds = nil
			for _, a := range args {
				kind, err := kindArg(a)
				if err != nil {
					return err
				}
				kinds = append(kinds, kind)
			}
		}
		forceLanguage, _ := cmd.Flags().GetBool("force-language")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		reset, _ := cmd.Flags().GetBool("reset")

		c, release, err := openCore(cmd, true)
		if err != nil {
			return err
		}
		defer release()

		var errs []error
		for _, kind := range kinds {
			if reset {
				if err := c.ResetBaseline(kind); err != nil {
					errs = append(errs, err)
					continue
				}
				utils.Log.Infof("Deleted %s baseline", kind)
				continue
			}

			res, err := c.DetectChanges(cmd.Context(), kind, changes.Options{ForceLanguage: forceLanguage, DryRun: dryRun})
			if err != nil {
				utils.Log.Errorf("Detecting %s changes failed: %v", kind, err)
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
				continue
			}
			if res.Warning != nil {
				utils.Log.Warnf("%s: %v", kind, res.Warning)
			}
			switch {
			case res.BaselineReset:
				utils.Log.Infof("Started a new %s baseline in %q with %d entities", kind, res.Language, res.Entities)
			case res.FirstRun:
				utils.Log.Infof("Recorded the first %s baseline with %d entities", kind, res.Entities)
			default:
				utils.Log.Debugf("Run %s: %d %s entities, %d changes", res.RunID, res.Entities, kind, len(res.Events))
			}
			report.PrintEvents(os.Stdout, res.Events)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().Bool("force-language", false, "Discard a baseline recorded in another language and start over")
	detectCmd.Flags().Bool("dry-run", false, "Print changes without updating the baseline or the change log")
	detectCmd.Flags().Bool("reset", false, "Delete the baselines of the given kinds")
}
