package catalog

import (
	"context"
	"testing"

	"github.com/newtownenergy/gridctl/authz"
	"github.com/newtownenergy/gridctl/storage"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, storage.Store, *storage.Company) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	co, err := store.CreateCompany(context.Background(), "Acme Corp")
	require.NoError(t, err)
	return New(store), store, co
}

func TestDeviceDefaultsNameToType(t *testing.T) {
	svc, store, co := setup(t)
	ctx := context.Background()
	actor := authz.NewActor(1, co.ID, []string{authz.RoleAdmin})

	site, err := svc.CreateSite(ctx, actor, &storage.Site{Name: "Plant A", CompanyID: co.ID})
	require.NoError(t, err)

	d, err := svc.CreateDevice(ctx, actor, site, &storage.Device{Type: "inverter"})
	require.NoError(t, err)
	require.Equal(t, "inverter", d.Name)

	_, err = store.GetDevice(ctx, d.ID)
	require.NoError(t, err)
}

func TestDeviceCompanyMustMatchSite(t *testing.T) {
	svc, store, co := setup(t)
	ctx := context.Background()
	actor := authz.NewActor(1, co.ID, []string{authz.RoleAdmin})
	other, err := store.CreateCompany(ctx, "Other Corp")
	require.NoError(t, err)

	site, err := svc.CreateSite(ctx, actor, &storage.Site{Name: "Plant A", CompanyID: co.ID})
	require.NoError(t, err)

	_, err = svc.CreateDevice(ctx, actor, site, &storage.Device{Type: "meter", CompanyID: other.ID})
	require.Error(t, err)
}

func TestSiteReadCrossTenantDenied(t *testing.T) {
	svc, store, co := setup(t)
	ctx := context.Background()
	admin := authz.NewActor(1, co.ID, []string{authz.RoleAdmin})

	site, err := svc.CreateSite(ctx, admin, &storage.Site{Name: "Plant A", CompanyID: co.ID})
	require.NoError(t, err)

	other, err := store.CreateCompany(ctx, "Other Corp")
	require.NoError(t, err)
	outsider := authz.NewActor(2, other.ID, []string{authz.RoleStaff})

	_, err = svc.GetSite(ctx, outsider, site.ID)
	require.Error(t, err)

	platform := authz.NewActor(3, 999, []string{authz.RoleNewtownAdmin})
	_, err = svc.GetSite(ctx, platform, site.ID)
	require.NoError(t, err)
}
