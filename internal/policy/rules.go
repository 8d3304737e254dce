package policy

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ppiankov/cmdgate/internal/model"
)

// Match records which table resolved a method.
type Match string

const (
	MatchExact     Match = "exact"
	MatchPattern   Match = "pattern"
	MatchNamespace Match = "namespace"
	MatchDefault   Match = "default"
)

type patternRule struct {
	pattern  string
	level    model.Level
	segments []string
	literals int
}

// Rules is an ordered command→level table.
// Precedence is explicit: exact, then glob patterns, then namespace
// wildcards, then the default. Rules is immutable after Compile.
type Rules struct {
	exact      map[string]model.Level
	patterns   []patternRule
	namespaces map[string]model.Level
	def        model.Level
}

// Compile splits a LevelsConfig into the three rule tables.
func Compile(cfg *LevelsConfig) (*Rules, error) {
	r := &Rules{
		exact:      make(map[string]model.Level),
		namespaces: make(map[string]model.Level),
		def:        cfg.Default,
	}
	if r.def == 0 {
		r.def = model.DefaultCommandLevel
	}
	if !r.def.Valid() {
		return nil, fmt.Errorf("default level %d out of range 1-4", int(r.def))
	}

	for p, level := range cfg.Levels {
		if !level.Valid() {
			return nil, fmt.Errorf("level %d for %q out of range 1-4", int(level), p)
		}
		if p == "*" {
			r.def = level
			continue
		}
		if err := validateMethodPattern(p); err != nil {
			return nil, err
		}

		segments := strings.Split(p, ".")
		switch {
		case !strings.Contains(p, "*"):
			r.exact[p] = level
		case len(segments) == 2 && segments[1] == "*" && !strings.Contains(segments[0], "*"):
			r.namespaces[segments[0]] = level
		default:
			literals := 0
			for _, s := range segments {
				if !strings.Contains(s, "*") {
					literals++
				}
			}
			r.patterns = append(r.patterns, patternRule{
				pattern:  p,
				level:    level,
				segments: segments,
				literals: literals,
			})
		}
	}

	// More literal segments first, then longer patterns, then lexical.
	sort.Slice(r.patterns, func(i, j int) bool {
		a, b := r.patterns[i], r.patterns[j]
		if a.literals != b.literals {
			return a.literals > b.literals
		}
		if len(a.segments) != len(b.segments) {
			return len(a.segments) > len(b.segments)
		}
		return a.pattern < b.pattern
	})

	return r, nil
}

// MustCompile is Compile for built-in tables. Panics on error.
func MustCompile(cfg *LevelsConfig) *Rules {
	r, err := Compile(cfg)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultRules returns the compiled built-in table.
func DefaultRules() *Rules {
	return MustCompile(DefaultLevelsConfig())
}

// Resolve returns the required level for method and the table that matched.
func (r *Rules) Resolve(method string) (model.Level, Match) {
	if level, ok := r.exact[method]; ok {
		return level, MatchExact
	}

	segments := strings.Split(method, ".")
	for _, p := range r.patterns {
		if matchSegments(p.segments, segments) {
			return p.level, MatchPattern
		}
	}

	if ns, _, ok := strings.Cut(method, "."); ok {
		if level, ok := r.namespaces[ns]; ok {
			return level, MatchNamespace
		}
	}

	return r.def, MatchDefault
}

// Level is Resolve without the match kind.
func (r *Rules) Level(method string) model.Level {
	level, _ := r.Resolve(method)
	return level
}

// Default returns the fallback level.
func (r *Rules) Default() model.Level {
	return r.def
}

// Len returns the number of rules across all tables.
func (r *Rules) Len() int {
	return len(r.exact) + len(r.patterns) + len(r.namespaces)
}

// matchSegments matches a dot-split pattern against a dot-split method.
// A "*" segment matches exactly one segment, except a trailing "*" which
// matches one or more. Segments may embed "*" ("get*") via path.Match.
func matchSegments(pattern, method []string) bool {
	for i, p := range pattern {
		if i >= len(method) {
			return false
		}
		if p == "*" && i == len(pattern)-1 {
			return true
		}
		ok, err := path.Match(p, method[i])
		if err != nil || !ok {
			return false
		}
	}
	return len(pattern) == len(method)
}
