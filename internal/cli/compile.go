package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"corpvpn/internal/config/parser"
	"corpvpn/internal/core/xray"
)

var compileCmd = &cobra.Command{
	Use:   "compile <vless-uri>",
	Short: "Compile a VLESS URI into an xray outbound",
	Long: `Compile a vless:// URI into the xray outbound it describes and print it
as JSON. Useful to check a URI before saving it to the profile.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipApp: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ob, err := parser.Compile(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(ob)
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the core configuration for the current profile",
	Long: `Build the complete xray configuration the next connect would write and
print it. Nothing is written or started.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := appInstance

		state, err := a.Profiles.LoadState()
		if err != nil {
			return err
		}
		tun := state.TunEnabled
		if cmd.Flags().Changed("tun") {
			tun, _ = cmd.Flags().GetBool("tun")
		}

		profile, err := a.Selector.Profile(ctx)
		if err != nil {
			return err
		}
		cfg, err := xray.Synthesize(profile, tun, a.Options)
		if err != nil {
			return err
		}
		data, err := xray.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	renderCmd.Flags().Bool("tun", false, "render with TUN mode on or off (default: saved flag)")

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(renderCmd)
}
