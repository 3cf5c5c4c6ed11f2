package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"

	"corpvpn/internal/app"
	"corpvpn/internal/config/parser"
	"corpvpn/internal/core/types"
	"corpvpn/internal/storage"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect and stay in the foreground",
	Long: `Start the xray core for the current profile, point the system proxy at it
and keep it running until interrupted (Ctrl+C or SIGTERM).

When the profile names no server and subscriptions are configured, the
fastest subscription node is used.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := appInstance
		if cmd.Flags().Changed("tun") {
			tun, _ := cmd.Flags().GetBool("tun")
			if err := a.Supervisor.SetTun(ctx, tun); err != nil {
				return err
			}
		}
		if state, err := a.Profiles.LoadState(); err == nil {
			warnTunPrivileges(state.TunEnabled)
		}

		quiet, _ := cmd.Flags().GetBool("quiet")
		if !quiet {
			a.OnStats(func(st types.Stats) {
				fmt.Printf("\r  %-14s total %-12s", formatRate(st.Kbps), formatBytes(st.TotalBytes))
			})
		}

		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("failed to start background workers: %w", err)
		}

		fmt.Println("Connecting...")
		if _, err := a.Supervisor.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		printConnected(a, a.Supervisor.Status(ctx))

		<-ctx.Done()

		a.OnStats(nil)
		fmt.Println()
		fmt.Println("Disconnecting...")
		a.Stop()
		a.Supervisor.Disconnect(context.Background())
		fmt.Println("Disconnected.")
		return nil
	},
}

func printConnected(a *app.App, st *types.Status) {
	fmt.Println("Connected.")
	fmt.Println()
	fmt.Printf("  Server:  %s\n", st.Server)
	fmt.Printf("  PID:     %d\n", st.PID)
	fmt.Printf("  SOCKS5:  %s\n", a.Options.SOCKSAddr())
	fmt.Printf("  HTTP:    %s (system proxy)\n", a.Options.ProxyAddr())
	fmt.Printf("  TUN:     %s\n", onOff(st.TunEnabled))
	if node, delay := a.Selector.Current(); node != nil {
		fmt.Printf("  Node:    %s (%d ms)\n", node.Name, delay)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to disconnect.")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := appInstance

		fmt.Println("Connection Status")
		fmt.Println("═════════════════")
		fmt.Println()

		if a.Binary.Exists() {
			fmt.Printf("Core:       %s\n", a.Binary.Path)
		} else {
			fmt.Printf("Core:       ✗ xray not found\n")
		}
		fmt.Printf("Profile:    %s\n", describeProfile(ctx, a))

		state, err := a.Profiles.LoadState()
		if err != nil {
			return err
		}
		fmt.Printf("TUN:        %s\n", onOff(state.TunEnabled))
		if state.AutostartDone {
			fmt.Printf("Autostart:  registered\n")
		} else {
			fmt.Printf("Autostart:  pending first connect\n")
		}

		if uri, _ := a.Storage.GetSetting(ctx, storage.SettingSelectedNode); uri != "" {
			fmt.Printf("Last node:  %s\n", parser.Label(uri))
		}

		sessions, err := a.Storage.GetSessions(ctx, 1)
		if err != nil {
			return err
		}
		fmt.Println()
		if len(sessions) == 0 {
			fmt.Println("Status:     ○ Never connected")
			return nil
		}

		s := sessions[0]
		if s.EndedAt == nil {
			alive, _ := process.PidExistsWithContext(ctx, int32(s.PID))
			if alive {
				fmt.Printf("Status:     ● Connected (pid %d)\n", s.PID)
				fmt.Printf("Server:     %s\n", s.Server)
				fmt.Printf("Uptime:     %s\n", time.Since(s.StartedAt).Round(time.Second))
				return nil
			}
			fmt.Println("Status:     ○ Disconnected (stale session)")
			fmt.Printf("Last start: %s\n", formatTime(s.StartedAt))
			return nil
		}

		fmt.Println("Status:     ○ Disconnected")
		fmt.Printf("Last seen:  %s via %s (%s, %s)\n",
			formatTime(*s.EndedAt), s.Server, formatBytes(s.TotalBytes), s.Reason)
		return nil
	},
}

// describeProfile summarizes where the next connect will go.
func describeProfile(ctx context.Context, a *app.App) string {
	p, err := a.Profiles.Profile(ctx)
	if err != nil {
		return fmt.Sprintf("unreadable (%v)", err)
	}
	if _, ok := p.OutboundObject(); ok {
		return "custom outbound"
	}
	if p.VLESSURI != "" {
		ob, err := parser.Compile(p.VLESSURI)
		if err != nil {
			return fmt.Sprintf("invalid URI (%v)", err)
		}
		host, port := ob.Server()
		return fmt.Sprintf("%s (%s:%d, %s/%s)", parser.Label(p.VLESSURI), host, port,
			ob.StreamSettings.Network, ob.StreamSettings.Security)
	}
	if a.Subscriptions.Configured() {
		return "fastest subscription node"
	}
	return "not set (edit " + a.Profiles.ProfilePath() + ")"
}

func init() {
	connectCmd.Flags().Bool("tun", false, "enable or disable TUN mode before connecting")
	connectCmd.Flags().BoolP("quiet", "q", false, "do not print live throughput")

	// Add to root
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(statusCmd)
}
