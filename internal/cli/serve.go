package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cmdgate/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: "Runs the WebSocket gateway, the gRPC health endpoint and the Prometheus\n" +
		"metrics endpoint. The levels file and keyring are hot-reloaded.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nShutting down gateway...")
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(os.Stderr, "cmdgate %s listening on %s\n", version, cfg.Listen)
	fmt.Fprintf(os.Stderr, "Health:  %s (gRPC)\n", cfg.AdminListen)
	fmt.Fprintf(os.Stderr, "Metrics: %s/metrics\n", cfg.MetricsListen)
	fmt.Fprintf(os.Stderr, "Levels:  %s (hot-reload enabled, hash %s)\n", cfg.Levels, srv.RulesHash())
	fmt.Fprintln(os.Stderr)

	return srv.Serve(ctx)
}
