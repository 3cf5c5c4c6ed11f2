package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"corpvpn/internal/subscription"
)

var subCmd = &cobra.Command{
	Use:     "sub",
	Aliases: []string{"subscription"},
	Short:   "Manage subscriptions",
	Long: `Refresh and inspect the subscription node cache.

Sources are set in corpvpn.yaml under subscriptions.urls and/or
subscriptions.encrypted_list.`,
}

var subUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh nodes from every subscription source",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m := appInstance.Subscriptions
		if !m.Configured() {
			return fmt.Errorf("no subscription sources configured in %s", appInstance.Config.SettingsPath)
		}

		fmt.Println("Updating subscriptions...")
		result, err := m.Update(ctx)
		if result != nil {
			fmt.Println()
			for _, sr := range result.Sources {
				fmt.Printf("Source: %s\n", sr.URL)
				if sr.Err != nil {
					fmt.Printf("  ✗ %v\n\n", sr.Err)
					continue
				}
				fmt.Printf("  Nodes:     %d\n", sr.Nodes)
				fmt.Printf("  Skipped:   %d\n", sr.Skipped)
				fmt.Printf("  Removed:   %d\n", sr.Removed)
				fmt.Println()
			}
		}
		if err != nil {
			return fmt.Errorf("failed to update subscriptions: %w", err)
		}

		fmt.Printf("✓ %d nodes cached from %d sources (%d failed)\n",
			result.Nodes, len(result.Sources), result.Failed)
		return nil
	},
}

var subListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached nodes with their last measured delay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		m := appInstance.Subscriptions

		nodes, err := m.Nodes(ctx)
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("No cached nodes. Run 'corpvpn sub update'.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tADDRESS\tDELAY\tTESTED")
		fmt.Fprintln(w, "--\t----\t-------\t-----\t------")
		for _, n := range nodes {
			delay, tested := "N/A", "never"
			if lt, err := appInstance.Storage.GetLatestLatency(ctx, n.ID); err == nil && lt != nil {
				tested = formatTime(lt.TestedAt)
				delay = "FAIL"
				if lt.Success && lt.LatencyMS != nil {
					delay = fmt.Sprintf("%d ms", *lt.LatencyMS)
				}
			}
			fmt.Fprintf(w, "%d\t%s\t%s:%d\t%s\t%s\n",
				n.ID, truncateName(n.Name, 35), n.Address, n.Port, delay, tested)
		}
		w.Flush()

		if last, err := m.LastRefresh(ctx); err == nil && !last.IsZero() {
			fmt.Printf("\n%d nodes, refreshed %s\n", len(nodes), formatTime(last))
		}
		return nil
	},
}

var subEncryptCmd = &cobra.Command{
	Use:   "encrypt <urls-file>",
	Short: "Encrypt a list of subscription URLs",
	Long: `Encrypt a plain text file of subscription URLs, one per line, into the
format read by subscriptions.encrypted_list.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := appInstance.Settings
		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			key = s.Subscriptions.Key
		}
		if key == "" {
			return fmt.Errorf("no key: pass --key or set subscriptions.key")
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = s.Subscriptions.EncryptedList
		}
		if out == "" {
			return fmt.Errorf("no output path: pass --out or set subscriptions.encrypted_list")
		}

		plain, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		data, err := subscription.EncryptList(strings.Split(string(plain), "\n"), key)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, data, 0600); err != nil {
			return err
		}

		urls, err := subscription.DecryptList(data, key)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Wrote %s (%d URLs)\n", out, len(urls))
		return nil
	},
}

func init() {
	subEncryptCmd.Flags().StringP("key", "k", "", "passphrase (default: subscriptions.key)")
	subEncryptCmd.Flags().StringP("out", "o", "", "output file (default: subscriptions.encrypted_list)")

	// Add subcommands
	subCmd.AddCommand(subUpdateCmd)
	subCmd.AddCommand(subListCmd)
	subCmd.AddCommand(subEncryptCmd)

	// Add to root
	rootCmd.AddCommand(subCmd)
}
