package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cmdgate/internal/breakglass"
)

var (
	stepUpReason   string
	stepUpMethod   string
	stepUpDuration time.Duration
)

func init() {
	rootCmd.AddCommand(stepUpCmd)
	stepUpCmd.AddCommand(stepUpGrantCmd)
	stepUpCmd.AddCommand(stepUpListCmd)
	stepUpCmd.AddCommand(stepUpRevokeCmd)
	stepUpGrantCmd.Flags().StringVar(&stepUpReason, "reason", "", "Mandatory reason (required)")
	stepUpGrantCmd.Flags().StringVar(&stepUpMethod, "method", "", "Restrict the token to one method. Default: any root-level method")
	stepUpGrantCmd.Flags().DurationVar(&stepUpDuration, "duration", breakglass.DefaultDuration, "Token validity period (max 1h)")
}

var stepUpCmd = &cobra.Command{
	Use:   "stepup",
	Short: "Manage single-use step-up tokens",
	Long: "Step-up tokens let an identity pass the extra verification required\n" +
		"for one root-level command, as an alternative to a TOTP code.",
}

var stepUpGrantCmd = &cobra.Command{
	Use:   "grant <identity>",
	Short: "Issue a step-up token",
	Args:  cobra.ExactArgs(1),
	RunE:  runStepUpGrant,
}

var stepUpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all step-up tokens",
	RunE:  runStepUpList,
}

var stepUpRevokeCmd = &cobra.Command{
	Use:   "revoke <token-id>",
	Short: "Revoke a step-up token",
	Args:  cobra.ExactArgs(1),
	RunE:  runStepUpRevoke,
}

func openBreakglass() (*breakglass.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := breakglass.NewStore(cfg.BreakglassDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open step-up store: %w", err)
	}
	return store, nil
}

func runStepUpGrant(cmd *cobra.Command, args []string) error {
	if stepUpReason == "" {
		return fmt.Errorf("--reason is required")
	}
	store, err := openBreakglass()
	if err != nil {
		return err
	}

	token, err := store.Create(args[0], stepUpMethod, stepUpReason, stepUpDuration)
	if err != nil {
		return err
	}

	w := output(cmd)
	fmt.Fprintf(w, "Step-up token issued: %s\n", token.ID)
	fmt.Fprintf(w, "Identity: %s\n", token.Identity)
	if token.Method != "" {
		fmt.Fprintf(w, "Method:   %s\n", token.Method)
	}
	fmt.Fprintf(w, "Reason:   %s\n", token.Reason)
	fmt.Fprintf(w, "Expires:  %s\n", token.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The token covers ONE root-level command, then expires.")
	return nil
}

func runStepUpList(cmd *cobra.Command, args []string) error {
	store, err := openBreakglass()
	if err != nil {
		return err
	}

	tokens, err := store.List()
	if err != nil {
		return err
	}

	w := output(cmd)
	if len(tokens) == 0 {
		fmt.Fprintln(w, "No step-up tokens.")
		return nil
	}

	now := time.Now()
	fmt.Fprintf(w, "%-20s %-24s %-10s %-30s %-25s\n", "ID", "IDENTITY", "STATUS", "REASON", "EXPIRES")
	for _, t := range tokens {
		status := "active"
		if t.UsedAt != nil {
			status = "used"
		} else if t.RevokedAt != nil {
			status = "revoked"
		} else if !t.IsActive(now) {
			status = "expired"
		}

		fmt.Fprintf(w, "%-20s %-24s %-10s %-30s %-25s\n",
			t.ID, truncate(t.Identity, 24), status, truncate(t.Reason, 30), t.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runStepUpRevoke(cmd *cobra.Command, args []string) error {
	store, err := openBreakglass()
	if err != nil {
		return err
	}
	if err := store.Revoke(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(output(cmd), "Revoked token %s\n", args[0])
	return nil
}
