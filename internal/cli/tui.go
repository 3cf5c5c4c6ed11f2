package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"corpvpn/internal/core/types"
	"corpvpn/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive terminal UI",
	Long: `Launch the full-screen dashboard: connection state with live throughput,
subscription nodes with delay probes and the connection profile.

Logs go to the log file while the dashboard is open. Quitting disconnects.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := appInstance

		p := tui.NewProgram(tui.Deps{
			Supervisor:    a.Supervisor,
			Profiles:      a.Profiles,
			Subscriptions: a.Subscriptions,
			Selector:      a.Selector,
			Tester:        a.Tester,
			Storage:       a.Storage,
			Options:       a.Options,
		})

		a.OnStats(func(st types.Stats) { tui.SendStats(p, st) })
		defer a.OnStats(nil)

		if err := a.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start background workers: %w", err)
		}
		defer a.Stop()

		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}
