package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cmdgate/internal/audit"
	"github.com/ppiankov/cmdgate/internal/store"
)

var (
	tailLines     int
	auditIdentity string
	auditMethod   string
	auditDenied   bool
	auditLimit    int
	auditSince    time.Duration
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditListCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditListCmd.Flags().StringVar(&auditIdentity, "identity", "", "Only entries for this identity")
	auditListCmd.Flags().StringVar(&auditMethod, "method", "", "Only entries for this method")
	auditListCmd.Flags().BoolVar(&auditDenied, "denied", false, "Only denials")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", store.DefaultAuditLimit, "Maximum number of entries")
	auditListCmd.Flags().DurationVar(&auditSince, "since", 0, "Only entries newer than this (e.g. 1h)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail operations",
	Long:  "Commands for verifying the hash-chained audit log and querying recorded decisions.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long: "Walks the JSONL audit log and validates that every entry's prev_hash\n" +
		"matches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.\n" +
		"Defaults to the audit_log from the config.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded decisions from the database",
	Long:  "Queries the permission audit table, newest first.",
	RunE:  runAuditList,
}

func auditLogPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.AuditLog == "" {
		return "", fmt.Errorf("no audit log path given and audit_log is not configured")
	}
	return cfg.AuditLog, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := auditLogPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(output(cmd), "OK: %d entries verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditLogPath(args)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	return tailEntries(output(cmd), f, tailLines)
}

func tailEntries(w io.Writer, r io.Reader, n int) error {
	// Read all lines, keep last N
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	start := len(lines) - n
	if start < 0 {
		start = 0
	}

	for _, line := range lines[start:] {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Fprintln(w, line)
			continue
		}
		out, _ := json.MarshalIndent(entry, "", "  ")
		fmt.Fprintln(w, string(out))
	}
	return nil
}

func runAuditList(cmd *cobra.Command, args []string) error {
	srv, err := openServer()
	if err != nil {
		return err
	}
	defer srv.Close()

	f := store.AuditFilter{
		Identity: auditIdentity,
		Method:   auditMethod,
		Limit:    auditLimit,
	}
	if auditDenied {
		granted := false
		f.Granted = &granted
	}
	if auditSince > 0 {
		f.Since = srv.Engine().Now().Add(-auditSince)
	}
	entries, err := srv.Engine().Audit(context.Background(), f)
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}

	w := output(cmd)
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries.")
		return nil
	}
	fmt.Fprintf(w, "%-24s %-30s %-28s %-5s %-7s %s\n", "TIME", "IDENTITY", "METHOD", "LEVEL", "RESULT", "REASON")
	for _, e := range entries {
		result := "allow"
		if !e.Granted {
			result = "deny"
		}
		fmt.Fprintf(w, "%-24s %-30s %-28s %-5d %-7s %s\n",
			e.Timestamp.UTC().Format(audit.TimestampFormat),
			truncate(e.Identity, 30),
			truncate(e.Method, 28),
			e.RequiredLevel,
			result,
			e.Reason,
		)
	}
	return nil
}
