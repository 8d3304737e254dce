package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cmdgate/internal/model"
)

var (
	permDuration time.Duration
	permDevice   string
	permNotes    string
	permBy       string
)

func init() {
	rootCmd.AddCommand(permCmd)
	permCmd.AddCommand(permGrantCmd)
	permCmd.AddCommand(permShowCmd)
	permCmd.AddCommand(permListCmd)
	permGrantCmd.Flags().DurationVar(&permDuration, "duration", 0, "Grant lifetime (e.g. 1h). Default: permanent")
	permGrantCmd.Flags().StringVar(&permDevice, "device", "", "Device name stored with the grant")
	permGrantCmd.Flags().StringVar(&permNotes, "notes", "", "Free-form note stored with the grant")
	permGrantCmd.Flags().StringVar(&permBy, "by", "cli", "Recorded as granted_by")
}

var permCmd = &cobra.Command{
	Use:   "perm",
	Short: "Manage identity permission levels",
}

var permGrantCmd = &cobra.Command{
	Use:   "grant <identity> <level>",
	Short: "Set an identity's permission level",
	Long: "Sets the level (1-4 or public/normal/admin/root) for an identity.\n" +
		"The change is audited. A running gateway picks it up when its\n" +
		"permission cache entry expires.",
	Args: cobra.ExactArgs(2),
	RunE: runPermGrant,
}

var permShowCmd = &cobra.Command{
	Use:   "show <identity>",
	Short: "Show the stored permission of an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runPermShow,
}

var permListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored grants",
	RunE:  runPermList,
}

func runPermGrant(cmd *cobra.Command, args []string) error {
	level, err := model.ParseLevel(args[1])
	if err != nil {
		return err
	}
	if permDuration < 0 {
		return fmt.Errorf("--duration must be positive")
	}

	srv, err := openServer()
	if err != nil {
		return err
	}
	defer srv.Close()

	meta := model.PermissionMeta{
		DeviceName: permDevice,
		GrantedBy:  permBy,
		Notes:      permNotes,
	}
	if permDuration > 0 {
		exp := srv.Engine().Now().Add(permDuration).UTC()
		meta.ExpiresAt = &exp
	}
	if err := srv.Engine().SetPermission(context.Background(), args[0], level, meta); err != nil {
		return err
	}

	w := output(cmd)
	fmt.Fprintf(w, "Granted %s level %d (%s)\n", args[0], level, level)
	if meta.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires: %s\n", meta.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runPermShow(cmd *cobra.Command, args []string) error {
	srv, err := openServer()
	if err != nil {
		return err
	}
	defer srv.Close()

	p, err := srv.Engine().Permission(context.Background(), args[0])
	if err != nil {
		return err
	}
	now := srv.Engine().Now()
	w := output(cmd)
	fmt.Fprintf(w, "Identity:  %s\n", p.Identity)
	fmt.Fprintf(w, "Level:     %d (%s)\n", p.Level, p.Level)
	fmt.Fprintf(w, "Effective: %d\n", p.EffectiveLevel(now))
	if p.DeviceName != "" {
		fmt.Fprintf(w, "Device:    %s\n", p.DeviceName)
	}
	if p.GrantedBy != "" {
		fmt.Fprintf(w, "Granted:   %s by %s\n", p.GrantedAt.Format(time.RFC3339), p.GrantedBy)
	}
	if p.ExpiresAt != nil {
		state := ""
		if p.Expired(now) {
			state = " (expired)"
		}
		fmt.Fprintf(w, "Expires:   %s%s\n", p.ExpiresAt.Format(time.RFC3339), state)
	}
	if p.Notes != "" {
		fmt.Fprintf(w, "Notes:     %s\n", p.Notes)
	}
	return nil
}

func runPermList(cmd *cobra.Command, args []string) error {
	srv, err := openServer()
	if err != nil {
		return err
	}
	defer srv.Close()

	perms, err := srv.Engine().Permissions(context.Background())
	if err != nil {
		return err
	}
	printPermissions(output(cmd), perms, srv.Engine().Now())
	return nil
}

func printPermissions(w io.Writer, perms []model.Permission, now time.Time) {
	if len(perms) == 0 {
		fmt.Fprintln(w, "No stored grants.")
		return
	}
	fmt.Fprintf(w, "%-30s %-6s %-9s %-20s %s\n", "IDENTITY", "LEVEL", "EFFECTIVE", "DEVICE", "EXPIRES")
	for _, p := range perms {
		expires := "-"
		if p.ExpiresAt != nil {
			expires = p.ExpiresAt.Format(time.RFC3339)
			if p.Expired(now) {
				expires += " (expired)"
			}
		}
		fmt.Fprintf(w, "%-30s %-6d %-9d %-20s %s\n",
			truncate(p.Identity, 30), p.Level, p.EffectiveLevel(now), truncate(p.DeviceName, 20), expires)
	}
}
