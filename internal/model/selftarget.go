package model

import "strings"

// IsSelfGrant returns true if a permission change targets the caller itself.
// Identities cannot change their own level over the wire; an operator must.
func IsSelfGrant(caller, target string) bool {
	if caller == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(caller), strings.TrimSpace(target))
}
