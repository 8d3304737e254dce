package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/cmdgate/internal/model"
)

// LevelsConfig is the on-disk form of the command→level table.
type LevelsConfig struct {
	Default model.Level            `yaml:"default"`
	Levels  map[string]model.Level `yaml:"levels"`
}

// DefaultLevelsConfig returns the built-in command levels.
func DefaultLevelsConfig() *LevelsConfig {
	return &LevelsConfig{
		Default: model.DefaultCommandLevel,
		Levels: map[string]model.Level{
			"system.ping":   model.LevelPublic,
			"system.status": model.LevelPublic,
			"system.info":   model.LevelPublic,

			"ai.*":           model.LevelNormal,
			"file.read":      model.LevelNormal,
			"file.list":      model.LevelNormal,
			"clipboard.*":    model.LevelNormal,
			"notification.*": model.LevelNormal,
			"channel.*.send": model.LevelNormal,

			"device.getPermission": model.LevelNormal,

			"file.write":      model.LevelAdmin,
			"file.delete":     model.LevelAdmin,
			"command.execute": model.LevelAdmin,
			"device.list":     model.LevelAdmin,

			"system.shutdown":          model.LevelRoot,
			"system.rotateCredentials": model.LevelRoot,
			"device.setPermission":     model.LevelRoot,
		},
	}
}

// DefaultPath returns ~/.cmdgate/levels.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cmdgate", "levels.yaml")
}

// LoadRulesWithHash loads the levels file and compiles it into Rules.
// The hash is computed over the raw YAML bytes on disk.
// Missing file returns the built-in rules and the hash of empty input.
func LoadRulesWithHash(path string) (*Rules, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to read levels config: %w", err)
		}
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified entries
	cfg := DefaultLevelsConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse levels config: %w", err)
		}
	}

	rules, err := Compile(cfg)
	if err != nil {
		return nil, "", err
	}
	return rules, hash, nil
}

// validateMethodPattern rejects empty segments and characters that break matching.
func validateMethodPattern(p string) error {
	if p == "" {
		return fmt.Errorf("empty method pattern")
	}
	if strings.ContainsAny(p, "/ \t") {
		return fmt.Errorf("method pattern %q contains invalid characters", p)
	}
	for _, seg := range strings.Split(p, ".") {
		if seg == "" {
			return fmt.Errorf("method pattern %q has an empty segment", p)
		}
	}
	return nil
}

// DefaultLevelsYAML returns a commented YAML string for init-config.
func DefaultLevelsYAML() string {
	return `# cmdgate command levels
# Generated by: cmdgate init-config
#
# Levels: 1 public, 2 normal, 3 admin, 4 root.
#
# Resolution order (first hit wins):
#   1. exact method            file.write
#   2. glob pattern            channel.*.send   (* = one segment, trailing * = rest)
#   3. namespace wildcard      clipboard.*
#   4. default below
default: 2

levels:
  system.status: 1
  system.info: 1
  ai.*: 2
  file.read: 2
  clipboard.*: 2
  notification.*: 2
  channel.*.send: 2
  file.write: 3
  file.delete: 3
  command.execute: 3
  system.shutdown: 4
  system.rotateCredentials: 4
  device.setPermission: 4
`
}
