package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/cmdgate/internal/model"
)

func compileLevels(t *testing.T, levels map[string]model.Level) *Rules {
	t.Helper()
	r, err := Compile(&LevelsConfig{Levels: levels})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return r
}

func TestResolveGlobPattern(t *testing.T) {
	r := compileLevels(t, map[string]model.Level{"channel.*.send": 2})
	level, match := r.Resolve("channel.telegram.send")
	if level != 2 || match != MatchPattern {
		t.Errorf("expected level 2 via pattern, got %d via %s", level, match)
	}
}

func TestResolvePrecedence(t *testing.T) {
	r := compileLevels(t, map[string]model.Level{
		"channel.telegram.send": 4,
		"channel.*.send":        3,
		"channel.*":             1,
	})

	tests := []struct {
		method string
		level  model.Level
		match  Match
	}{
		{"channel.telegram.send", 4, MatchExact},
		{"channel.slack.send", 3, MatchPattern},
		{"channel.slack.read", 1, MatchNamespace},
		{"channel.list", 1, MatchNamespace},
		{"other.thing", model.DefaultCommandLevel, MatchDefault},
	}
	for _, tt := range tests {
		level, match := r.Resolve(tt.method)
		if level != tt.level || match != tt.match {
			t.Errorf("Resolve(%q) = %d/%s, want %d/%s", tt.method, level, match, tt.level, tt.match)
		}
	}
}

func TestResolvePatternSegmentCount(t *testing.T) {
	r := compileLevels(t, map[string]model.Level{"channel.*.send": 3})
	if _, match := r.Resolve("channel.a.b.send"); match != MatchDefault {
		t.Errorf("expected inner * to match a single segment, got %s", match)
	}
	if _, match := r.Resolve("channel.send"); match != MatchDefault {
		t.Errorf("expected short method not to match, got %s", match)
	}
}

func TestResolveTrailingWildcardPattern(t *testing.T) {
	r := compileLevels(t, map[string]model.Level{"file.admin.*": 4})
	if level, _ := r.Resolve("file.admin.keys.rotate"); level != 4 {
		t.Errorf("expected trailing * to match the rest, got %d", level)
	}
	if _, match := r.Resolve("file.admin"); match != MatchDefault {
		t.Errorf("expected trailing * to require a segment, got %s", match)
	}
}

func TestResolveSpecificPatternWins(t *testing.T) {
	r := compileLevels(t, map[string]model.Level{
		"*.*.send":       2,
		"channel.*.send": 3,
	})
	for i := 0; i < 20; i++ {
		if level := r.Level("channel.x.send"); level != 3 {
			t.Fatalf("expected more literal pattern to win, got %d", level)
		}
	}
}

func TestResolveEmbeddedWildcardSegment(t *testing.T) {
	r := compileLevels(t, map[string]model.Level{"file.read*.now": 3})
	if level := r.Level("file.readAll.now"); level != 3 {
		t.Errorf("expected embedded wildcard to match, got %d", level)
	}
}

func TestStarOverridesDefault(t *testing.T) {
	r := compileLevels(t, map[string]model.Level{"*": 3})
	if r.Default() != 3 {
		t.Errorf("expected default 3, got %d", r.Default())
	}
}

func TestCompileRejectsInvalid(t *testing.T) {
	bad := []map[string]model.Level{
		{"file.write": 5},
		{"file..write": 2},
		{"file/write": 2},
		{"": 2},
	}
	for _, levels := range bad {
		if _, err := Compile(&LevelsConfig{Levels: levels}); err == nil {
			t.Errorf("expected error for %v", levels)
		}
	}
}

func TestDefaultRules(t *testing.T) {
	r := DefaultRules()
	tests := map[string]model.Level{
		"system.status":         model.LevelPublic,
		"ai.chat":               model.LevelNormal,
		"clipboard.get":         model.LevelNormal,
		"channel.telegram.send": model.LevelNormal,
		"file.write":            model.LevelAdmin,
		"command.execute":       model.LevelAdmin,
		"system.shutdown":       model.LevelRoot,
		"device.setPermission":  model.LevelRoot,
		"unknown.method":        model.LevelNormal,
	}
	for method, want := range tests {
		if got := r.Level(method); got != want {
			t.Errorf("Level(%q) = %d, want %d", method, got, want)
		}
	}
}

func TestLoadRulesMissingFileReturnsDefaults(t *testing.T) {
	r, hash, err := LoadRulesWithHash(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadRulesWithHash: %v", err)
	}
	if r.Level("system.shutdown") != model.LevelRoot {
		t.Error("expected built-in rules")
	}
	// sha256 of empty input
	if hash != "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("unexpected hash %s", hash)
	}
}

func TestLoadRulesMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levels.yaml")
	content := `
default: 3
levels:
  ai.chat: 1
  mobile.*: 2
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	r, hash, err := LoadRulesWithHash(path)
	if err != nil {
		t.Fatalf("LoadRulesWithHash: %v", err)
	}
	if !strings.HasPrefix(hash, "sha256:") {
		t.Errorf("unexpected hash %s", hash)
	}
	if r.Level("ai.chat") != 1 {
		t.Error("expected file entry to override")
	}
	if r.Level("ai.summarize") != 2 {
		t.Error("expected built-in namespace entry to survive")
	}
	if r.Level("mobile.vibrate") != 2 {
		t.Error("expected new namespace entry")
	}
	if r.Level("never.seen") != 3 {
		t.Error("expected default from file")
	}
}

func TestLoadRulesInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levels.yaml")
	os.WriteFile(path, []byte("levels: [unclosed"), 0644)
	if _, _, err := LoadRulesWithHash(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDefaultLevelsYAMLParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levels.yaml")
	os.WriteFile(path, []byte(DefaultLevelsYAML()), 0644)
	r, _, err := LoadRulesWithHash(path)
	if err != nil {
		t.Fatalf("LoadRulesWithHash: %v", err)
	}
	if r.Level("channel.telegram.send") != model.LevelNormal {
		t.Error("expected channel.*.send from generated YAML")
	}
}

func TestTierHelpers(t *testing.T) {
	if IsHighRisk(model.LevelNormal) || !IsHighRisk(model.LevelAdmin) {
		t.Error("expected high risk from admin upwards")
	}
	if RequiresStepUp(model.LevelAdmin) || !RequiresStepUp(model.LevelRoot) {
		t.Error("expected step-up only for root")
	}
}
