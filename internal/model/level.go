package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the permission tier of an identity or a command.
// Higher level = more sensitive.
type Level int

const (
	LevelPublic Level = 1 // read-only, status
	LevelNormal Level = 2 // chat, file read, clipboard, notifications
	LevelAdmin  Level = 3 // file write/delete, command execution
	LevelRoot   Level = 4 // shutdown, credential rotation
)

// DefaultCommandLevel applies to methods no rule matches.
const DefaultCommandLevel = LevelNormal

// DefaultIdentityLevel applies to identities without a stored grant.
const DefaultIdentityLevel = LevelPublic

// Valid reports whether l is one of the four tiers.
func (l Level) Valid() bool {
	return l >= LevelPublic && l <= LevelRoot
}

// String returns a human-readable label for the level.
func (l Level) String() string {
	switch l {
	case LevelPublic:
		return "public"
	case LevelNormal:
		return "normal"
	case LevelAdmin:
		return "admin"
	case LevelRoot:
		return "root"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// ParseLevel accepts a number ("3") or a label ("admin").
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		l := Level(n)
		if !l.Valid() {
			return 0, fmt.Errorf("level %d out of range 1-4", n)
		}
		return l, nil
	}
	for l := LevelPublic; l <= LevelRoot; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}
