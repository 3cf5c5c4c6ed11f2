package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"corpvpn/internal/core/tun"
)

var tunCmd = &cobra.Command{
	Use:   "tun [on|off|toggle|status]",
	Short: "Show or change TUN mode",
	Long: `Show or change TUN mode. With TUN on, the core also opens a tunnel
interface so traffic that ignores the system proxy is routed too.

The flag is stored in state.json and applies from the next connect; a
core started by this process is reconnected.`,
	ValidArgs: []string{"on", "off", "toggle", "status"},
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sup := appInstance.Supervisor

		action := "status"
		if len(args) > 0 {
			action = args[0]
		}

		switch action {
		case "on", "off":
			if err := sup.SetTun(ctx, action == "on"); err != nil {
				return err
			}
		case "toggle":
			if _, err := sup.ToggleTun(ctx); err != nil {
				return err
			}
		}

		state, err := appInstance.Profiles.LoadState()
		if err != nil {
			return err
		}
		fmt.Printf("TUN mode: %s\n", onOff(state.TunEnabled))
		warnTunPrivileges(state.TunEnabled)
		if action != "status" {
			fmt.Println("Takes effect on the next connect.")
		}
		return nil
	},
}

// warnTunPrivileges prints why the core will fail to open the tunnel.
func warnTunPrivileges(enabled bool) {
	if !enabled {
		return
	}
	if err := tun.Check(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

func init() {
	rootCmd.AddCommand(tunCmd)
}
