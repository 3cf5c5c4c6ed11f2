package cli

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"corpvpn/internal/app"
	"corpvpn/internal/storage"
)

// ensureApp lazily initializes appInstance for shell completion.
// Cobra may invoke ValidArgsFunction without running PersistentPreRunE.
func ensureApp() error {
	if appInstance != nil {
		return nil
	}
	var err error
	appInstance, err = app.New(app.Options{LogLevel: "error"})
	return err
}

// completeNodeIDs completes cached node ids, described by node name.
func completeNodeIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	ctx := context.Background()
	nodes, err := appInstance.Storage.GetAllNodes(ctx, storage.NodeFilter{})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, n := range nodes {
		id := strconv.FormatInt(n.ID, 10)
		if strings.HasPrefix(id, toComplete) {
			completions = append(completions, id+"\t"+n.Name)
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}
