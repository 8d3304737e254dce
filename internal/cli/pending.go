package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cmdgate/internal/approval"
)

var pendingAll bool

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.Flags().BoolVar(&pendingAll, "all", false, "Include approved and denied requests")
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending elevation requests",
	Long:  "Shows identities that were denied for insufficient level, with the level they needed.",
	RunE:  runPending,
}

func openApprovals() (*approval.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := approval.NewStore(cfg.ApprovalsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open approval store: %w", err)
	}
	return store, nil
}

func runPending(cmd *cobra.Command, args []string) error {
	store, err := openApprovals()
	if err != nil {
		return err
	}

	status := approval.StatusPending
	if pendingAll {
		status = ""
	}
	list, err := store.List(status)
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}

	w := output(cmd)
	if len(list) == 0 {
		fmt.Fprintln(w, "No pending approvals.")
		return nil
	}

	fmt.Fprintf(w, "%-25s %-10s %-28s %-28s %-7s %-7s %s\n", "KEY", "STATUS", "IDENTITY", "METHOD", "LEVEL", "DENIALS", "LAST SEEN")
	for _, e := range list {
		fmt.Fprintf(w, "%-25s %-10s %-28s %-28s %-7s %-7d %s\n",
			e.Key,
			e.Status,
			truncate(e.Identity, 28),
			truncate(e.Method, 28),
			fmt.Sprintf("%d->%d", e.CurrentLevel, e.RequestedLevel),
			e.Denials,
			e.LastSeenAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}
