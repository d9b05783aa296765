// Package rolecheck provides small, pure predicates over a UserInfo's
// Roles and Permissions slices, including primary-role resolution
// against a caller-supplied priority map.
package rolecheck

import (
	"strings"

	"github.com/hivewarden-like/idpguard/internal/types"
)

// roleSuffix returns the portion of a normalized role string
// (internal/claims produces "realm:<name>"/"<client>:<name>") after
// its last colon, so priority and admin checks match on the role name
// regardless of which scope it was granted in. Roles without a colon
// are returned unchanged.
func roleSuffix(role string) string {
	if i := strings.LastIndexByte(role, ':'); i >= 0 {
		return role[i+1:]
	}
	return role
}

// HasRole reports whether user carries role exactly.
func HasRole(user *types.UserInfo, role string) bool {
	if user == nil {
		return false
	}
	for _, r := range user.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether user carries at least one of roles.
func HasAnyRole(user *types.UserInfo, roles ...string) bool {
	for _, role := range roles {
		if HasRole(user, role) {
			return true
		}
	}
	return false
}

// HasPermission reports whether user carries permission exactly.
func HasPermission(user *types.UserInfo, permission string) bool {
	if user == nil {
		return false
	}
	for _, p := range user.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether user carries every one of permissions.
// An empty permissions list is vacuously satisfied.
func HasAllPermissions(user *types.UserInfo, permissions ...string) bool {
	for _, p := range permissions {
		if !HasPermission(user, p) {
			return false
		}
	}
	return true
}

// DefaultPriority is the baseline role ranking used when a caller
// doesn't supply its own priority map.
var DefaultPriority = map[string]int{
	"admin":  3,
	"user":   2,
	"viewer": 1,
}

// PrimaryRole returns the highest-priority role in user.Roles according
// to priority. Roles absent from priority are still eligible — they
// rank below any role with an explicit priority, and ties among them
// fall back to the first one encountered in user.Roles. Returns "" if
// user is nil or carries no roles.
func PrimaryRole(user *types.UserInfo, priority map[string]int) string {
	if user == nil || len(user.Roles) == 0 {
		return ""
	}
	if priority == nil {
		priority = DefaultPriority
	}

	best := user.Roles[0]
	bestRank, bestKnown := priority[roleSuffix(best)]
	for _, r := range user.Roles[1:] {
		rank, known := priority[roleSuffix(r)]
		switch {
		case known && !bestKnown:
			best, bestRank, bestKnown = r, rank, true
		case known && bestKnown && rank > bestRank:
			best, bestRank = r, rank
		}
	}
	return best
}

// IsAdmin reports whether user carries a role whose suffix (the part
// after the last ":") is "admin" — a fast-path check independent of
// the full priority resolution.
func IsAdmin(user *types.UserInfo) bool {
	if user == nil {
		return false
	}
	for _, r := range user.Roles {
		if roleSuffix(r) == "admin" {
			return true
		}
	}
	return false
}
