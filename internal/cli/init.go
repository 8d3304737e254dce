package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/cmdgate/internal/config"
	"github.com/ppiankov/cmdgate/internal/policy"
	"github.com/ppiankov/cmdgate/internal/systemd"
)

var (
	initDir     string
	initForce   bool
	initSystemd bool
)

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", "", "Config directory (default ~/.cmdgate)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	initCmd.Flags().BoolVar(&initSystemd, "systemd", false, "Also write a cmdgate.service unit into the config directory")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default config and levels file",
	Long: `Creates the config directory with an annotated config.yaml and the
default levels.yaml. Existing files are kept unless --force is given.
With --systemd a cmdgate.service unit is written next to them, ready to
copy into /etc/systemd/system.

Next steps:
  cmdgate keygen ~/.cmdgate/phone.key --identity phone-1
  cmdgate keys add phone-1 <public-key>
  cmdgate serve`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := initDir
	if dir == "" {
		dir = config.Dir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	files := []struct {
		name    string
		content string
	}{
		{"config.yaml", config.Template},
		{"levels.yaml", policy.DefaultLevelsYAML()},
	}
	if initSystemd {
		binary, err := os.Executable()
		if err != nil {
			binary = "/usr/local/bin/cmdgate"
		}
		files = append(files, struct {
			name    string
			content string
		}{systemd.UnitName, systemd.GatewayUnit(binary, filepath.Join(dir, "config.yaml"), dir)})
	}

	var created []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content)
		if err != nil {
			return err
		}
		if wrote {
			created = append(created, path)
		}
	}

	w := output(cmd)
	if len(created) == 0 {
		fmt.Fprintf(w, "Config already present in %s (use --force to overwrite)\n", dir)
		return nil
	}
	for _, p := range created {
		fmt.Fprintf(w, "Created %s\n", p)
	}
	return nil
}

// writeIfMissing writes content to path unless the file exists and
// --force is not set. Returns true when the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
