package authz

import (
	"testing"

	"github.com/newtownenergy/gridctl/errs"
	"github.com/stretchr/testify/require"
)

const platformCompanyID = int64(1)

func TestAuthorizeRoleAssignmentPlatformRoleTenancy(t *testing.T) {
	actor := NewActor(1, platformCompanyID, []string{RoleNewtownAdmin})

	err := AuthorizeRoleAssignment(actor, AssignRole, RoleNewtownStaff, 2, 99, platformCompanyID, 1)
	require.Error(t, err)
	require.Equal(t, errs.Forbidden, errs.KindOf(err))
	require.Contains(t, err.Error(), "Newtown Energy")

	err = AuthorizeRoleAssignment(actor, AssignRole, RoleNewtownStaff, 2, platformCompanyID, platformCompanyID, 1)
	require.NoError(t, err)
}

func TestAuthorizeRoleAssignmentStaffCannotTouchAdmin(t *testing.T) {
	actor := NewActor(1, platformCompanyID, []string{RoleNewtownStaff})

	err := AuthorizeRoleAssignment(actor, AssignRole, RoleNewtownAdmin, 2, platformCompanyID, platformCompanyID, 1)
	require.Error(t, err)

	err = AuthorizeRoleAssignment(actor, AssignRole, RoleAdmin, 2, 50, platformCompanyID, 1)
	require.NoError(t, err)
}

func TestAuthorizeRoleAssignmentCompanyAdminScope(t *testing.T) {
	actor := NewActor(1, 50, []string{RoleAdmin})

	err := AuthorizeRoleAssignment(actor, AssignRole, RoleStaff, 2, 50, platformCompanyID, 1)
	require.NoError(t, err)

	err = AuthorizeRoleAssignment(actor, AssignRole, RoleStaff, 2, 51, platformCompanyID, 1)
	require.Error(t, err)

	err = AuthorizeRoleAssignment(actor, AssignRole, RoleNewtownStaff, 2, 50, platformCompanyID, 1)
	require.Error(t, err, "company admin can never grant a platform role even in their own company")
}

func TestAuthorizeRoleAssignmentLastRoleRemoval(t *testing.T) {
	actor := NewActor(1, platformCompanyID, []string{RoleNewtownAdmin})

	err := AuthorizeRoleAssignment(actor, RemoveRole, RoleStaff, 2, 50, platformCompanyID, 0)
	require.Error(t, err)
	require.Equal(t, errs.BadRequest, errs.KindOf(err))

	err = AuthorizeRoleAssignment(actor, RemoveRole, RoleStaff, 2, 50, platformCompanyID, 1)
	require.NoError(t, err)
}

func TestAuthorizeUserList(t *testing.T) {
	platform := NewActor(1, platformCompanyID, []string{RoleNewtownAdmin})
	ok, scope := AuthorizeUserList(platform)
	require.True(t, ok)
	require.Nil(t, scope)

	companyAdmin := NewActor(2, 50, []string{RoleAdmin})
	ok, scope = AuthorizeUserList(companyAdmin)
	require.True(t, ok)
	require.NotNil(t, scope)
	require.Equal(t, int64(50), *scope)

	staffer := NewActor(3, 50, []string{RoleStaff})
	ok, _ = AuthorizeUserList(staffer)
	require.False(t, ok)
}

func TestAuthorizeUserSelfOrWrite(t *testing.T) {
	self := NewActor(7, 50, []string{RoleStaff})

	require.NoError(t, AuthorizeUserSelfOrWrite(self, 7, 999), "a user may always view or update their own profile")
	require.Error(t, AuthorizeUserSelfOrWrite(self, 8, 50), "a staffer cannot manage another user in their own company")

	companyAdmin := NewActor(9, 50, []string{RoleAdmin})
	require.NoError(t, AuthorizeUserSelfOrWrite(companyAdmin, 8, 50))
}
