package claims

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivewarden-like/idpguard/internal/types"
)

func TestExtract_RolesNamespacedAndSorted(t *testing.T) {
	c := Claims{
		Subject:           "user-1",
		PreferredUsername: "jdoe",
		RealmAccess:       RealmAccess{Roles: []string{"viewer", "admin"}},
		ResourceAccess: map[string]RealmAccess{
			"billing": {Roles: []string{"reader"}},
			"account": {Roles: []string{"owner"}},
		},
	}

	info := Extract(c)
	require.NotNil(t, info)
	assert.Equal(t, "user-1", info.ID)
	assert.Equal(t, []string{
		"account:owner",
		"billing:reader",
		"realm:admin",
		"realm:viewer",
	}, info.Roles)
}

func TestExtract_AdminRoleDerivesPermissions(t *testing.T) {
	c := Claims{
		Subject:     "user-2",
		RealmAccess: RealmAccess{Roles: []string{"super-admin"}},
	}

	info := Extract(c)
	assert.Contains(t, info.Permissions, "realm:access")
	assert.Contains(t, info.Permissions, "realm:read")
	assert.Contains(t, info.Permissions, "realm:write")
	assert.Contains(t, info.Permissions, "realm:delete")
}

func TestExtract_PermissionsFromAuthorizationAndScope(t *testing.T) {
	c := Claims{
		Subject: "user-3",
		Scope:   "openid profile billing:read",
		Authorization: Authorization{
			Permissions: []Permission{
				{RSName: "invoices", Scopes: []string{"read", "write"}},
			},
		},
	}

	info := Extract(c)
	assert.Equal(t, []string{"billing:read", "invoices:read", "invoices:write"}, info.Permissions)
}

func TestExtract_EmptyClaimsProducesEmptySlices(t *testing.T) {
	info := Extract(Claims{Subject: "user-4"})
	assert.Empty(t, info.Roles)
	assert.Empty(t, info.Permissions)
}

func TestExtract_DedupesDuplicateRoles(t *testing.T) {
	c := Claims{
		Subject:     "user-5",
		RealmAccess: RealmAccess{Roles: []string{"viewer", "viewer"}},
	}
	info := Extract(c)
	assert.Equal(t, []string{"realm:viewer"}, info.Roles)
}

// TestExtract_FullUserInfoStructuralMatch compares the whole UserInfo
// produced from a realistic claim set against an exact expected value,
// so any unintended field drift (not just the fields covered above)
// shows up in a single diff.
func TestExtract_FullUserInfoStructuralMatch(t *testing.T) {
	c := Claims{
		Subject:           "user-6",
		PreferredUsername: "asmith",
		Email:             "asmith@example.com",
		Name:              "Alex Smith",
		Scope:             "openid profile billing:read",
		RealmAccess:       RealmAccess{Roles: []string{"viewer"}},
		ResourceAccess: map[string]RealmAccess{
			"billing": {Roles: []string{"reader"}},
		},
	}

	want := &types.UserInfo{
		ID:          "user-6",
		Username:    "asmith",
		Email:       "asmith@example.com",
		Name:        "Alex Smith",
		Roles:       []string{"billing:reader", "realm:viewer"},
		Permissions: []string{"billing:read"},
	}

	got := Extract(c)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}
