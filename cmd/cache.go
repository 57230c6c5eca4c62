package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stine-notifier/stine/internal/utils"
	"github.com/stine-notifier/stine/pkg/core"
	"github.com/stine-notifier/stine/pkg/entity"
	"github.com/stine-notifier/stine/pkg/report"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the entity cache",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <kind> [id]",
	Short: "Drop one cached entity, or every entity of a kind",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
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

		if len(args) == 2 {
			return c.Invalidate(cmd.Context(), entity.NewKey(kind, args[1], lang))
		}
		n, err := c.InvalidateKind(cmd.Context(), kind, lang)
		if err != nil {
			return err
		}
		utils.Log.Infof("Dropped %d cached %s entities", n, kind)
		return nil
	},
}

// cacheListCmd prints what is cached for a kind without touching the portal.
var cacheListCmd = &cobra.Command{
	Use:   "list <kind>",
	Short: "List cached entities of a kind with their level and fetch time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args[0])
		if err != nil {
			return err
		}
		c, release, err := openCore(cmd, false)
		if err != nil {
			return err
		}
		defer release()
		lang, err := languageFlag(cmd, c)
		if err != nil {
			return err
		}

		entries, err := c.CachedEntries(cmd.Context(), kind, lang)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			utils.Log.Infof("No cached %s entities", kind)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tLEVEL\tFETCHED\t")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", e.Value.Key.ID, e.Value.Level, e.FetchedAt.Local().Format(report.TimeFormat))
		}
		return w.Flush()
	},
}

// cacheStatsCmd represents the stats command
var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints statistics about the cached entities and logged changes.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, release, err := openCore(cmd, false)
		if err != nil {
			return err
		}
		defer release()

		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if stats.Backend != core.BackendSQLite {
			fmt.Printf("%s backend: %d cached entities\n", stats.Backend, stats.Entries)
		}
		if len(stats.Kinds) == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "KIND\tLANG\tSUMMARY\tDETAILED\tFULL\tCHANGES\t")

		var totalSummary, totalDetailed, totalFull, totalChanges int
		for _, s := range stats.Kinds {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t\n", s.Kind, s.Language, s.Summary, s.Detailed, s.Full, s.Changes)
			totalSummary += s.Summary
			totalDetailed += s.Detailed
			totalFull += s.Full
			totalChanges += s.Changes
		}

		fmt.Fprintln(w, " \t \t \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t\t%d\t%d\t%d\t%d\t\n", totalSummary, totalDetailed, totalFull, totalChanges)

		w.Flush()
		return nil
	},
}

// cacheShellCmd represents the shell command
var cacheShellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the state database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, release, err := openCore(cmd, false)
		if err != nil {
			return err
		}
		dbPath := c.DBPath()
		// sqlite3 opens the file itself.
		release()

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the cache shell")
		}

		// Print schema first
		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		sh := exec.Command(sqlitePath, dbPath)
		sh.Stdin = os.Stdin
		sh.Stdout = os.Stdout
		sh.Stderr = os.Stderr

		return sh.Run()
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheShellCmd)
	cacheInvalidateCmd.Flags().String("lang", "", "Language (default: configured language)")
	cacheListCmd.Flags().String("lang", "", "Language (default: configured language)")
}
