package rolecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hivewarden-like/idpguard/internal/types"
)

func TestHasRole(t *testing.T) {
	u := &types.UserInfo{Roles: []string{"realm:admin", "realm:viewer"}}
	assert.True(t, HasRole(u, "realm:admin"))
	assert.False(t, HasRole(u, "realm:user"))
	assert.False(t, HasRole(nil, "realm:admin"))
}

func TestHasAnyRole(t *testing.T) {
	u := &types.UserInfo{Roles: []string{"realm:viewer"}}
	assert.True(t, HasAnyRole(u, "realm:admin", "realm:viewer"))
	assert.False(t, HasAnyRole(u, "realm:admin"))
}

func TestHasAllPermissions(t *testing.T) {
	u := &types.UserInfo{Permissions: []string{"billing:read", "billing:write"}}
	assert.True(t, HasAllPermissions(u, "billing:read"))
	assert.True(t, HasAllPermissions(u))
	assert.False(t, HasAllPermissions(u, "billing:read", "billing:delete"))
}

func TestPrimaryRole(t *testing.T) {
	u := &types.UserInfo{Roles: []string{"realm:viewer", "realm:admin", "realm:user"}}
	assert.Equal(t, "realm:admin", PrimaryRole(u, nil))

	u2 := &types.UserInfo{Roles: []string{"realm:viewer"}}
	assert.Equal(t, "realm:viewer", PrimaryRole(u2, nil))

	u3 := &types.UserInfo{Roles: []string{"billing-service:custom-role"}}
	assert.Equal(t, "billing-service:custom-role", PrimaryRole(u3, nil))

	assert.Equal(t, "", PrimaryRole(nil, nil))
	assert.Equal(t, "", PrimaryRole(&types.UserInfo{}, nil))
}

func TestIsAdmin(t *testing.T) {
	assert.True(t, IsAdmin(&types.UserInfo{Roles: []string{"realm:admin"}}))
	assert.False(t, IsAdmin(&types.UserInfo{Roles: []string{"realm:user"}}))
	assert.True(t, IsAdmin(&types.UserInfo{Roles: []string{"billing-service:admin"}}))
}
