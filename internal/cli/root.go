package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"corpvpn/internal/app"
)

var (
	appInstance *app.App
	version     = "dev"
)

// skipApp marks commands that run without the application context.
const skipApp = "skip-app"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "corpvpn",
	Short: "CorpVPN - xray control plane for the corporate VLESS tunnel",
	Long: `CorpVPN - xray control plane for the corporate VLESS tunnel

  Runs a local xray core for your VLESS profile, points the system proxy
  at it and keeps it alive.

  Quick start:
    corpvpn compile "vless://..."     check a connection URI
    corpvpn connect                   connect in the foreground
    corpvpn tui                       open the dashboard
    corpvpn tun on                    route all traffic through the tunnel

  Files:
    ~/.config/corpvpn/profile.json    connection profile
    ~/.config/corpvpn/state.json      tun and autostart flags
    ~/.config/corpvpn/corpvpn.yaml    optional settings`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipApp] != "" {
			return nil
		}
		return initApp(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Cleanup
		if appInstance != nil {
			err := appInstance.Close()
			appInstance = nil
			return err
		}
		return nil
	},
}

func initApp(cmd *cobra.Command) error {
	if appInstance != nil {
		return nil
	}
	settingsPath, _ := cmd.Flags().GetString("settings")
	logLevel, _ := cmd.Flags().GetString("log-level")

	var err error
	appInstance, err = app.New(app.Options{
		SettingsPath: settingsPath,
		LogLevel:     logLevel,
		LogToFile:    cmd.Name() == "tui",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return nil
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().String("settings", "", "settings file (default ~/.config/corpvpn/corpvpn.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("CorpVPN %s\n", version)

		bin := appInstance.Binary
		if !bin.Exists() {
			fmt.Println("xray:   not found")
			return nil
		}
		v, err := bin.Version(cmd.Context())
		if err != nil {
			fmt.Printf("xray:   %s (version unknown: %v)\n", bin.Path, err)
			return nil
		}
		fmt.Printf("xray:   %s (%s)\n", v, bin.Path)
		return nil
	},
}
