package identity

import (
	"context"
	"testing"

	"github.com/newtownenergy/gridctl/authz"
	"github.com/newtownenergy/gridctl/errs"
	"github.com/newtownenergy/gridctl/storage"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func TestBootstrapIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Bootstrap(ctx, "Newtown Energy", "superadmin@example.com", "hashed")
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := svc.Bootstrap(ctx, "Newtown Energy", "superadmin@example.com", "hashed")
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.AdminUser.ID, second.AdminUser.ID)
	require.Equal(t, first.PlatformCompany.ID, second.PlatformCompany.ID)

	roles, err := svc.EffectiveRoles(ctx, second.AdminUser.ID)
	require.NoError(t, err)
	require.Contains(t, roles, authz.RoleNewtownAdmin)
}

func TestAssignRoleEnforcesPlatformTenancy(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	boot, err := svc.Bootstrap(ctx, "Newtown Energy", "superadmin@example.com", "hashed")
	require.NoError(t, err)
	admin := authz.NewActor(boot.AdminUser.ID, boot.PlatformCompany.ID, []string{authz.RoleNewtownAdmin})

	regular, err := store.CreateCompany(ctx, "Regular Corp")
	require.NoError(t, err)
	u, err := store.CreateUser(ctx, &storage.User{Email: "u@regular.com", CompanyID: regular.ID})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, admin, u.ID, authz.RoleStaff, boot.PlatformCompany.ID))

	err = svc.AssignRole(ctx, admin, u.ID, authz.RoleNewtownStaff, boot.PlatformCompany.ID)
	require.Error(t, err)
	require.Equal(t, errs.Forbidden, errs.KindOf(err))
	require.Contains(t, err.Error(), "Newtown Energy")
}

func TestRemoveRoleLastRoleInvariant(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	boot, err := svc.Bootstrap(ctx, "Newtown Energy", "superadmin@example.com", "hashed")
	require.NoError(t, err)
	admin := authz.NewActor(boot.AdminUser.ID, boot.PlatformCompany.ID, []string{authz.RoleNewtownAdmin})

	co, err := store.CreateCompany(ctx, "Solo Co")
	require.NoError(t, err)
	u, err := store.CreateUser(ctx, &storage.User{Email: "solo@co.com", CompanyID: co.ID})
	require.NoError(t, err)
	require.NoError(t, svc.AssignRole(ctx, admin, u.ID, authz.RoleStaff, boot.PlatformCompany.ID))

	err = svc.RemoveRole(ctx, admin, u.ID, authz.RoleStaff, boot.PlatformCompany.ID)
	require.Error(t, err)
	require.Equal(t, errs.BadRequest, errs.KindOf(err))

	require.NoError(t, svc.AssignRole(ctx, admin, u.ID, authz.RoleAdmin, boot.PlatformCompany.ID))
	require.NoError(t, svc.RemoveRole(ctx, admin, u.ID, authz.RoleStaff, boot.PlatformCompany.ID))
}

func TestListUsersScoping(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	boot, err := svc.Bootstrap(ctx, "Newtown Energy", "superadmin@example.com", "hashed")
	require.NoError(t, err)

	co, err := store.CreateCompany(ctx, "Tenant Co")
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, &storage.User{Email: "one@tenant.com", CompanyID: co.ID})
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, &storage.User{Email: "two@tenant.com", CompanyID: co.ID})
	require.NoError(t, err)

	companyAdmin := authz.NewActor(999, co.ID, []string{authz.RoleAdmin})
	list, err := svc.ListUsers(ctx, companyAdmin)
	require.NoError(t, err)
	require.Len(t, list, 2)

	platform := authz.NewActor(boot.AdminUser.ID, boot.PlatformCompany.ID, []string{authz.RoleNewtownAdmin})
	all, err := svc.ListUsers(ctx, platform)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 3)

	staffer := authz.NewActor(1000, co.ID, []string{authz.RoleStaff})
	_, err = svc.ListUsers(ctx, staffer)
	require.Error(t, err)
}
