//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPostgresStore_Integration exercises the same invariants as the
// SQLite suite against a real PostgreSQL container, in particular the
// PL/pgSQL trigger equivalents of the SQLite triggers.
func TestPostgresStore_Integration(t *testing.T) {
	withPostgresStore(t, func(t *testing.T, store *sqlStore) {
		ctx := context.Background()

		t.Run("CompanyUniqueness", func(t *testing.T) {
			_, err := store.CreateCompany(ctx, "Integration Co")
			require.NoError(t, err)
			_, err = store.CreateCompany(ctx, "integration co")
			require.Error(t, err)
		})

		t.Run("PlatformRoleTenancyTrigger", func(t *testing.T) {
			operator, err := store.CreateCompany(ctx, "Newtown Energy PG")
			require.NoError(t, err)
			regular, err := store.CreateCompany(ctx, "Regular Corp PG")
			require.NoError(t, err)
			require.NoError(t, store.SetPlatformOperator(ctx, operator.ID))

			role, err := store.CreateRole(ctx, "newtown-admin", "")
			require.NoError(t, err)

			outsider, err := store.CreateUser(ctx, &User{Email: "out@pg.com", CompanyID: regular.ID})
			require.NoError(t, err)
			require.Error(t, store.AssignUserRole(ctx, outsider.ID, role.ID))

			insider, err := store.CreateUser(ctx, &User{Email: "in@pg.com", CompanyID: operator.ID})
			require.NoError(t, err)
			require.NoError(t, store.AssignUserRole(ctx, insider.ID, role.ID))
		})

		t.Run("LastRoleGuardTrigger", func(t *testing.T) {
			co, err := store.CreateCompany(ctx, "Solo Co PG")
			require.NoError(t, err)
			role, err := store.CreateRole(ctx, "staff-pg", "")
			require.NoError(t, err)
			u, err := store.CreateUser(ctx, &User{Email: "solo@pg.com", CompanyID: co.ID})
			require.NoError(t, err)

			require.NoError(t, store.AssignUserRole(ctx, u.ID, role.ID))
			require.Error(t, store.RemoveUserRole(ctx, u.ID, role.ID))
		})
	})
}
