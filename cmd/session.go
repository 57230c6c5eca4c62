package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stine-notifier/stine/pkg/report"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the stored portal session",
}

var sessionRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Log in again and store the new session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, release, err := openCore(cmd, true)
		if err != nil {
			return err
		}
		defer release()
		s, err := c.RefreshSession(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as %s at %s\n", s.Username, s.IssuedAt.Local().Format(report.TimeFormat))
		return nil
	},
}

var sessionCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Show the stored session without contacting the portal",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, release, err := openCore(cmd, false)
		if err != nil {
			return err
		}
		defer release()
		st, err := c.CheckSession(cmd.Context())
		if err != nil {
			return err
		}
		if st.Session == nil {
			fmt.Println("No session stored")
			return nil
		}
		state := "valid"
		if st.Expired {
			state = "expired"
		}
		fmt.Printf("Session of %s is %s (issued %s, last used %s)\n", st.Session.Username, state,
			st.Session.IssuedAt.Local().Format(report.TimeFormat), st.Session.LastUsed.Local().Format(report.TimeFormat))
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, release, err := openCore(cmd, true)
		if err != nil {
			return err
		}
		defer release()
		return c.ClearSession()
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionRefreshCmd)
	sessionCmd.AddCommand(sessionCheckCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}
