// Package claims contains pure functions mapping raw IdP JWT / userinfo
// / introspection claim maps to normalized UserInfo records, kept
// separate from the transport and validation logic that produces them.
package claims

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/hivewarden-like/idpguard/internal/types"
)

// RealmAccess mirrors Keycloak's realm_access.roles claim shape.
type RealmAccess struct {
	Roles []string `json:"roles"`
}

// Authorization mirrors Keycloak's authorization.permissions claim shape.
type Authorization struct {
	Permissions []Permission `json:"permissions"`
}

// Permission is one entry of authorization.permissions.
type Permission struct {
	RSName string   `json:"rsname"`
	Scopes []string `json:"scopes"`
}

// Claims is the subset of raw JWT/userinfo/introspection claims this
// package extracts UserInfo from. Unknown fields are ignored; the OIDC
// client decodes the full claim set and passes this view in.
type Claims struct {
	Subject           string                     `json:"sub"`
	PreferredUsername string                     `json:"preferred_username"`
	Email             string                     `json:"email"`
	Name              string                     `json:"name"`
	Scope             string                     `json:"scope"`
	RealmAccess       RealmAccess                `json:"realm_access"`
	ResourceAccess    map[string]RealmAccess     `json:"resource_access"`
	Authorization     Authorization              `json:"authorization"`
}

// Extract maps claims to a normalized UserInfo following these
// claims-extraction rules:
//   - realm_access.roles[*]            -> "realm:"+name
//   - resource_access[client].roles[*] -> client+":"+name
//   - permissions: authorization.permissions[*].scopes, scope tokens
//     containing ":", and derived permissions from "*admin*" roles.
// Output arrays are deduplicated and sorted; empty strings are dropped.
func Extract(c Claims) *types.UserInfo {
	roles := extractRoles(c)
	perms := extractPermissions(c, roles)

	return &types.UserInfo{
		ID:          c.Subject,
		Username:    c.PreferredUsername,
		Email:       c.Email,
		Name:        c.Name,
		Roles:       normalize(roles),
		Permissions: normalize(perms),
	}
}

func extractRoles(c Claims) []string {
	var roles []string
	for _, r := range c.RealmAccess.Roles {
		roles = append(roles, "realm:"+r)
	}
	// Map iteration order is nondeterministic; sort client names so
	// output ordering (before the final normalize sort) is reproducible
	// for callers that inspect intermediate state in tests.
	clients := make([]string, 0, len(c.ResourceAccess))
	for client := range c.ResourceAccess {
		clients = append(clients, client)
	}
	sort.Strings(clients)
	for _, client := range clients {
		for _, r := range c.ResourceAccess[client].Roles {
			roles = append(roles, client+":"+r)
		}
	}
	return roles
}

func extractPermissions(c Claims, roles []string) []string {
	var perms []string

	for _, p := range c.Authorization.Permissions {
		for _, s := range p.Scopes {
			if p.RSName != "" {
				perms = append(perms, p.RSName+":"+s)
			} else {
				perms = append(perms, s)
			}
		}
	}

	for _, tok := range strings.Fields(c.Scope) {
		if strings.Contains(tok, ":") {
			perms = append(perms, tok)
		}
	}

	perms = append(perms, derivedAdminPermissions(roles)...)

	return perms
}

// derivedAdminPermissions implements the "*admin*" rule: a role named
// with "admin" anywhere implies {access, read, write, delete} scoped to
// the role's prefix (the part before the last ':').
func derivedAdminPermissions(roles []string) []string {
	var derived []string
	for _, r := range roles {
		name := r
		if idx := strings.LastIndex(r, ":"); idx >= 0 {
			name = r[idx+1:]
		}
		if !strings.Contains(strings.ToLower(name), "admin") {
			continue
		}
		prefix := r
		if idx := strings.LastIndex(r, ":"); idx >= 0 {
			prefix = r[:idx]
		}
		for _, action := range []string{"access", "read", "write", "delete"} {
			derived = append(derived, prefix+":"+action)
		}
	}
	return derived
}

// normalize dedups, sorts, and removes empty strings — the invariant
// required of UserInfo.Roles and UserInfo.Permissions.
func normalize(in []string) []string {
	filtered := lo.Filter(in, func(s string, _ int) bool { return s != "" })
	unique := lo.Uniq(filtered)
	sort.Strings(unique)
	return unique
}
