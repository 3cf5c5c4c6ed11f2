package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for corpvpn.

To load completions:

Bash:
  $ source <(corpvpn completion bash)
  # To load completions for each session, execute once:
  # Linux:
  $ corpvpn completion bash > /etc/bash_completion.d/corpvpn
  # macOS:
  $ corpvpn completion bash > $(brew --prefix)/etc/bash_completion.d/corpvpn

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  # To load completions for each session, execute once:
  $ corpvpn completion zsh > "${fpath[1]}/_corpvpn"
  # You will need to start a new shell for this setup to take effect.

Fish:
  $ corpvpn completion fish | source
  # To load completions for each session, execute once:
  $ corpvpn completion fish > ~/.config/fish/completions/corpvpn.fish

PowerShell:
  PS> corpvpn completion powershell | Out-String | Invoke-Expression
  # To load completions for every new session, run:
  PS> corpvpn completion powershell > corpvpn.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	Annotations:           map[string]string{skipApp: "true"},
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
