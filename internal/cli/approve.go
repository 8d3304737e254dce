package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cmdgate/internal/approval"
	"github.com/ppiankov/cmdgate/internal/model"
)

var (
	approveLevel string
	approveBy    string
)

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().StringVar(&approveLevel, "level", "", "Level to grant. Default: the requested level")
	approveCmd.Flags().StringVar(&approveBy, "by", "cli", "Recorded as granted_by")
}

var approveCmd = &cobra.Command{
	Use:   "approve <key>",
	Short: "Approve an elevation request and grant the level",
	Long:  "Approves a pending elevation request and sets the identity's permission level.\nThe grant is audited like any other level change.",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	var level model.Level
	if approveLevel != "" {
		var err error
		level, err = model.ParseLevel(approveLevel)
		if err != nil {
			return err
		}
	}

	srv, err := openServer()
	if err != nil {
		return err
	}
	defer srv.Close()

	e, err := approval.Grant(context.Background(), srv.Approvals(), srv.Engine(), args[0], level, approveBy)
	if err != nil {
		return err
	}
	fmt.Fprintf(output(cmd), "Approved %q: %s now level %d (%s)\n", e.Key, e.Identity, e.GrantedLevel, e.GrantedLevel)
	return nil
}
