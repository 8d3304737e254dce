package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cmdgate/internal/config"
	"github.com/ppiankov/cmdgate/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cmdgate",
	Short: "Authorization gateway for remote device commands",
	Long: "Verifies signed commands from paired devices, checks them against\n" +
		"per-identity permission levels and routes allowed commands to handlers.\n" +
		"Every decision is audited.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.cmdgate/config.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openServer builds every gateway component from the config without
// listening, for commands that work on the store directly.
func openServer() (*server.Server, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	srv, err := server.New(cfg, version)
	if err != nil {
		return nil, fmt.Errorf("failed to open gateway state: %w", err)
	}
	return srv, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// output returns the command's writer, stdout when run outside cobra.
func output(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}
