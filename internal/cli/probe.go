package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"corpvpn/internal/config/parser"
	"corpvpn/internal/latency"
	"corpvpn/internal/storage/models"
)

var probeCmd = &cobra.Command{
	Use:   "probe [vless-uri]",
	Short: "Measure node delay",
	Long: `Measure the delay of every cached subscription node, or of a single
vless:// URI.

The tcp strategy times a TCP connect to the server. The http strategy
starts a throwaway core and fetches a generate_204 page through it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s := appInstance.Settings

		strategyName, _ := cmd.Flags().GetString("strategy")
		workers, _ := cmd.Flags().GetInt64("workers")
		timeoutMS, _ := cmd.Flags().GetInt64("timeout")
		if strategyName == "" {
			strategyName = s.Probe.Strategy
		}
		if !cmd.Flags().Changed("workers") {
			workers = int64(s.Probe.Workers)
		}
		if !cmd.Flags().Changed("timeout") {
			timeoutMS = int64(s.Probe.ConnectTimeoutMS)
		}

		strategy, err := latency.NewStrategy(strategyName, appInstance.Binary, appInstance.Config.RuntimeDir)
		if err != nil {
			return err
		}
		tester := latency.NewTester(appInstance.Storage, latency.TesterConfig{
			Workers:  workers,
			Timeout:  time.Duration(timeoutMS) * time.Millisecond,
			Strategy: strategy,
		}, appInstance.Log)

		if len(args) == 1 {
			return runSingleProbe(ctx, tester, args[0])
		}
		return runBatchProbe(ctx, tester)
	},
}

var probeHistoryCmd = &cobra.Command{
	Use:               "history <node-id>",
	Short:             "Show delay history of a cached node",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeNodeIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid node id: %s", args[0])
		}
		node, err := appInstance.Storage.GetNode(ctx, id)
		if err != nil {
			return fmt.Errorf("node not found: %s", args[0])
		}

		history, err := appInstance.Storage.GetLatencyHistory(ctx, node.ID, limit)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Printf("No delay history for %s\n", node.Name)
			return nil
		}

		fmt.Printf("Delay History: %s (%s:%d)\n", node.Name, node.Address, node.Port)
		fmt.Println(strings.Repeat("═", 50))
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSTRATEGY\tDELAY\tSTATUS")
		fmt.Fprintln(w, "----\t--------\t-----\t------")

		for _, entry := range history {
			latStr := "N/A"
			statusStr := "FAIL"
			if entry.Success && entry.LatencyMS != nil {
				latStr = fmt.Sprintf("%d ms", *entry.LatencyMS)
				statusStr = "OK"
			}
			timeStr := entry.TestedAt.Local().Format("2006-01-02 15:04:05")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				timeStr, entry.TestStrategy, latStr, statusStr)
		}
		w.Flush()

		return nil
	},
}

func runSingleProbe(ctx context.Context, tester *latency.Tester, uri string) error {
	ob, err := parser.Compile(uri)
	if err != nil {
		return err
	}
	host, port := ob.Server()
	node := &models.Node{Name: parser.Label(uri), Address: host, Port: port, Network: ob.StreamSettings.Network, URI: uri}

	fmt.Printf("Probing %s (%s:%d)... ", node.Name, node.Address, node.Port)

	result := tester.TestSingle(ctx, node)

	if result.Latency.Success {
		fmt.Printf("%d ms\n", *result.Latency.LatencyMS)
	} else {
		fmt.Printf("FAILED (%s)\n", result.Latency.ErrorMessage)
	}

	return nil
}

func runBatchProbe(ctx context.Context, tester *latency.Tester) error {
	nodes, err := appInstance.Subscriptions.Nodes(ctx)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Println("No cached nodes. Run 'corpvpn sub update' or pass a vless:// URI.")
		return nil
	}

	fmt.Printf("Probing %d nodes...\n\n", len(nodes))

	progress := func(result *latency.TestResult, current, total int) {
		if result.Latency.Success {
			fmt.Printf("  [%d/%d] %-40s %d ms\n", current, total,
				truncateName(result.Node.Name, 40), *result.Latency.LatencyMS)
		} else {
			fmt.Printf("  [%d/%d] %-40s FAILED\n", current, total,
				truncateName(result.Node.Name, 40))
		}
	}

	batch := tester.TestBatch(ctx, nodes, progress)

	// Print sorted results table
	fmt.Printf("\n\nResults (sorted by delay):\n")
	fmt.Println(strings.Repeat("─", 75))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tNAME\tADDRESS\tDELAY\tSTATUS")
	fmt.Fprintln(w, "-\t--\t----\t-------\t-----\t------")

	for i, result := range batch.Results {
		latStr := "N/A"
		statusStr := "FAIL"
		if result.Latency.Success {
			latStr = fmt.Sprintf("%d ms", *result.Latency.LatencyMS)
			statusStr = "OK"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s:%d\t%s\t%s\n",
			i+1, result.Node.ID, truncateName(result.Node.Name, 35),
			result.Node.Address, result.Node.Port,
			latStr, statusStr)
	}
	w.Flush()

	fmt.Printf("\nSummary: %d tested, %d succeeded, %d failed (%.1fs)\n",
		batch.Tested, batch.Succeeded, batch.Failed, batch.Duration.Seconds())

	return nil
}

func init() {
	probeCmd.Flags().StringP("strategy", "s", "", "probe strategy (tcp, http; default from settings)")
	probeCmd.Flags().Int64P("workers", "w", 16, "number of concurrent probes")
	probeCmd.Flags().Int64P("timeout", "t", 1800, "per-probe timeout in milliseconds")

	// Probe flag completions
	probeCmd.RegisterFlagCompletionFunc("strategy", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"tcp", "http"}, cobra.ShellCompDirectiveNoFileComp
	})

	probeHistoryCmd.Flags().IntP("limit", "n", 20, "number of history entries")

	probeCmd.AddCommand(probeHistoryCmd)
	rootCmd.AddCommand(probeCmd)
}
