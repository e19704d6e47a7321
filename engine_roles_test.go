package authcore

import (
	"context"
	"testing"

	"github.com/MrEthical07/authcore/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roleFixture struct {
	*testEngine
	admin string
	bob   string
}

func newRoleFixture(t *testing.T) roleFixture {
	t.Helper()
	te := newTestEngine(t, func(c *Config) {
		c.Account.SendVerificationOnRegister = false
	})
	admin := te.register(t, "root@example.com", alicePassword)
	te.makeAdmin(t, admin.Principal.ID)
	bob := te.register(t, "bob@example.com", alicePassword)
	return roleFixture{testEngine: te, admin: admin.Principal.ID, bob: bob.Principal.ID}
}

func TestRoleAdminRequiresAdminCaller(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()

	_, err := f.CreateRole(ctx, f.bob, RoleInput{Name: "editor"})
	requireKind(t, err, KindAccessDenied)
	_, err = f.CreateRole(ctx, "", RoleInput{Name: "editor"})
	requireKind(t, err, KindAccessDenied)
	_, err = f.CreateRole(ctx, "ghost", RoleInput{Name: "editor"})
	requireKind(t, err, KindAccessDenied)

	requireKind(t, f.AssignRole(ctx, f.bob, f.admin, "user"), KindAccessDenied)

	// a disabled admin is no admin
	second := f.register(t, "second@example.com", alicePassword)
	f.makeAdmin(t, second.Principal.ID)
	require.NoError(t, f.SetAccountActive(ctx, f.admin, second.Principal.ID, false))
	_, err = f.CreateRole(ctx, second.Principal.ID, RoleInput{Name: "editor"})
	requireKind(t, err, KindAccessDenied)

	assert.Equal(t, uint64(5), f.MetricsSnapshot().Counters[MetricAccessDenied])
}

func TestRoleAdminRejectsSelfModification(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()

	err := f.RemoveRole(ctx, f.admin, f.admin, "admin")
	requireKind(t, err, KindAccessDenied)
	assert.ErrorContains(t, err, "self-modification")

	requireKind(t, f.AssignRole(ctx, f.admin, f.admin, "user"), KindAccessDenied)
	requireKind(t, f.SetAccountActive(ctx, f.admin, f.admin, false), KindAccessDenied)
}

func TestRoleLifecycle(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()

	role, err := f.CreateRole(ctx, f.admin, RoleInput{
		Name:        " editor ",
		Permissions: []string{"posts:write", "posts:read", "posts:write"},
	})
	require.NoError(t, err)
	assert.Equal(t, "editor", role.Name)
	assert.Equal(t, []string{"posts:read", "posts:write"}, role.Permissions)

	_, err = f.CreateRole(ctx, f.admin, RoleInput{Name: "editor"})
	requireKind(t, err, KindRoleNameInUse)
	_, err = f.CreateRole(ctx, f.admin, RoleInput{Name: "  "})
	requireKind(t, err, KindInvalidInput)

	require.NoError(t, f.AssignRole(ctx, f.admin, f.bob, "editor"))
	require.NoError(t, f.AssignRole(ctx, f.admin, f.bob, "editor"))
	requireKind(t, f.AssignRole(ctx, f.admin, f.bob, "publisher"), KindRoleNotFound)
	requireKind(t, f.AssignRole(ctx, f.admin, "ghost", "editor"), KindUserNotFound)

	bob, err := f.store.GetPrincipalByID(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "editor"}, bob.Roles)

	perms, err := f.EffectivePermissions(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts:read", "posts:write"}, perms)

	newPerms := []string{"posts:read"}
	_, err = f.UpdateRole(ctx, f.admin, role.ID, RoleUpdate{Permissions: &newPerms})
	require.NoError(t, err)
	perms, err = f.EffectivePermissions(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts:read"}, perms)

	// renaming leaves bob holding a name that grants nothing
	renamed := "writer"
	_, err = f.UpdateRole(ctx, f.admin, role.ID, RoleUpdate{Name: &renamed})
	require.NoError(t, err)
	perms, err = f.EffectivePermissions(ctx, f.bob)
	require.NoError(t, err)
	assert.Empty(t, perms)

	require.NoError(t, f.DeleteRole(ctx, f.admin, role.ID))
	requireKind(t, f.DeleteRole(ctx, f.admin, role.ID), KindRoleNotFound)
	_, err = f.UpdateRole(ctx, f.admin, role.ID, RoleUpdate{Name: &renamed})
	requireKind(t, err, KindRoleNotFound)

	require.NoError(t, f.RemoveRole(ctx, f.admin, f.bob, "editor"))
	require.NoError(t, f.RemoveRole(ctx, f.admin, f.bob, "editor"))
	bob, err = f.store.GetPrincipalByID(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, bob.Roles)
}

func TestBuiltInRoles(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()

	// built-in names are assignable without a stored record
	require.NoError(t, f.AssignRole(ctx, f.admin, f.bob, "admin"))
	pair := f.login(t, "bob@example.com", alicePassword)
	_, err := f.Authorize(ctx, pair.AccessToken, rbac.RequireAll("admin", "user"))
	require.NoError(t, err)

	adminRole, err := f.CreateRole(ctx, f.admin, RoleInput{Name: "admin", Permissions: []string{"*"}})
	require.NoError(t, err)

	other := "superuser"
	_, err = f.UpdateRole(ctx, f.admin, adminRole.ID, RoleUpdate{Name: &other})
	requireKind(t, err, KindInvalidInput)
	requireKind(t, f.DeleteRole(ctx, f.admin, adminRole.ID), KindInvalidInput)

	perms := []string{"*", "audit:read"}
	_, err = f.UpdateRole(ctx, f.admin, adminRole.ID, RoleUpdate{Permissions: &perms})
	require.NoError(t, err)
}

func TestRoleChangesApplyToExistingTokens(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	pair := f.login(t, "bob@example.com", alicePassword)

	_, err := f.CreateRole(ctx, f.admin, RoleInput{Name: "mod"})
	require.NoError(t, err)

	req := rbac.RequireAny("admin", "mod")
	_, err = f.Authorize(ctx, pair.AccessToken, req)
	requireKind(t, err, KindAccessDenied)

	require.NoError(t, f.AssignRole(ctx, f.admin, f.bob, "mod"))
	_, err = f.Authorize(ctx, pair.AccessToken, req)
	require.NoError(t, err)
}

func TestSetAccountActive(t *testing.T) {
	f := newRoleFixture(t)
	ctx := context.Background()
	pair := f.login(t, "bob@example.com", alicePassword)

	require.NoError(t, f.SetAccountActive(ctx, f.admin, f.bob, false))
	assert.Equal(t, 0, f.store.RefreshTokenCount(f.bob))

	_, err := f.Login(ctx, "bob@example.com", alicePassword)
	requireKind(t, err, KindAccountInactive)
	_, err = f.Refresh(ctx, pair.RefreshToken)
	requireKind(t, err, KindInvalidToken)

	require.NoError(t, f.SetAccountActive(ctx, f.admin, f.bob, true))
	f.login(t, "bob@example.com", alicePassword)

	requireKind(t, f.SetAccountActive(ctx, f.admin, "ghost", false), KindUserNotFound)
}
