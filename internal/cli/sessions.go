package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show the connection journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := appInstance.Storage.GetSessions(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tDURATION\tSERVER\tTUN\tTRAFFIC\tREASON")
		fmt.Fprintln(w, "-------\t--------\t------\t---\t-------\t------")
		for _, s := range sessions {
			duration, reason := "running", s.Reason
			if s.EndedAt != nil {
				duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
			}
			if reason == "" {
				reason = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.StartedAt.Local().Format("2006-01-02 15:04:05"), duration,
				truncateName(s.Server, 40), onOff(s.TunEnabled), formatBytes(s.TotalBytes), reason)
		}
		w.Flush()
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntP("limit", "n", 20, "number of sessions")
	rootCmd.AddCommand(sessionsCmd)
}
