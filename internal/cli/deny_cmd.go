package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var denyBy string

func init() {
	rootCmd.AddCommand(denyCmd)
	denyCmd.Flags().StringVar(&denyBy, "by", "cli", "Recorded as resolved_by")
}

var denyCmd = &cobra.Command{
	Use:   "deny <key>",
	Short: "Deny an elevation request",
	Long:  "Denies a pending elevation request. The identity keeps its level; a later denial reopens the request.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runDeny(cmd *cobra.Command, args []string) error {
	store, err := openApprovals()
	if err != nil {
		return err
	}

	e, err := store.Deny(args[0], denyBy)
	if err != nil {
		return err
	}
	fmt.Fprintf(output(cmd), "Denied %q (%s)\n", e.Key, e.Identity)
	return nil
}
