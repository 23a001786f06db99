// Package authz implements the pure, stateless authorization policy
// engine: a function from (actor, operation, target) to allow/deny,
// adapted from the teacher component's subject/action/resource model.
package authz

import (
	"github.com/newtownenergy/gridctl/errs"
)

// Built-in role names, forming the lattice newtown-admin > newtown-staff
// > admin > staff. The two newtown-* roles are reserved to the platform
// operator company.
const (
	RoleNewtownAdmin = "newtown-admin"
	RoleNewtownStaff = "newtown-staff"
	RoleAdmin        = "admin"
	RoleStaff        = "staff"
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	UserID    int64
	CompanyID int64
	Roles     map[string]bool
}

// NewActor builds an Actor from a user id, company id, and role name list.
func NewActor(userID, companyID int64, roleNames []string) Actor {
	roles := make(map[string]bool, len(roleNames))
	for _, r := range roleNames {
		roles[r] = true
	}
	return Actor{UserID: userID, CompanyID: companyID, Roles: roles}
}

func (a Actor) has(role string) bool { return a.Roles[role] }

// IsPlatformAdmin reports whether the actor holds the newtown-admin role.
func (a Actor) IsPlatformAdmin() bool { return a.has(RoleNewtownAdmin) }

// IsPlatformStaff reports whether the actor holds the newtown-staff role.
func (a Actor) IsPlatformStaff() bool { return a.has(RoleNewtownStaff) }

// IsPlatform reports whether the actor holds any platform-wide role.
func (a Actor) IsPlatform() bool { return a.IsPlatformAdmin() || a.IsPlatformStaff() }

// IsCompanyAdmin reports whether the actor is an "admin" of company c.
func (a Actor) IsCompanyAdmin(companyID int64) bool {
	return a.has(RoleAdmin) && a.CompanyID == companyID
}

// AuthorizeRoleWrite gates creating, updating, or deleting a role
// definition: platform-admin only.
func AuthorizeRoleWrite(actor Actor) error {
	if !actor.IsPlatformAdmin() {
		return errs.New(errs.Forbidden, "only newtown-admin may manage role definitions")
	}
	return nil
}

// AuthorizeCompanyWrite gates creating or deleting a company:
// platform-admin only.
func AuthorizeCompanyWrite(actor Actor) error {
	if !actor.IsPlatformAdmin() {
		return errs.New(errs.Forbidden, "only newtown-admin may manage companies")
	}
	return nil
}

// AuthorizeUserWrite gates creating a user in company C, or updating or
// deleting an existing user whose company is C.
func AuthorizeUserWrite(actor Actor, targetCompanyID int64) error {
	if actor.IsPlatform() || actor.IsCompanyAdmin(targetCompanyID) {
		return nil
	}
	return errs.New(errs.Forbidden, "not permitted to manage users in this company")
}

// AuthorizeUserSelfOrWrite additionally allows a non-admin actor to
// update or view their own profile.
func AuthorizeUserSelfOrWrite(actor Actor, targetUserID, targetCompanyID int64) error {
	if actor.UserID == targetUserID {
		return nil
	}
	return AuthorizeUserWrite(actor, targetCompanyID)
}

// AuthorizeUserList reports whether the actor may list users, and the
// company the result set must be scoped to. ok=false means deny; when
// ok=true and scopeToCompanyID is nil, the actor sees every company.
func AuthorizeUserList(actor Actor) (ok bool, scopeToCompanyID *int64) {
	if actor.IsPlatform() {
		return true, nil
	}
	if actor.has(RoleAdmin) {
		id := actor.CompanyID
		return true, &id
	}
	return false, nil
}

// AuthorizeCompanyList always allows: the operation is intentionally not
// tenancy-filtered.
func AuthorizeCompanyList(actor Actor) error { return nil }

// AuthorizeRoleRead always allows any authenticated actor.
func AuthorizeRoleRead(actor Actor) error { return nil }

// RoleAssignmentOp distinguishes assigning a role from removing one.
type RoleAssignmentOp int

const (
	AssignRole RoleAssignmentOp = iota
	RemoveRole
)

// AuthorizeRoleAssignment implements the five role-assignment sub-rules.
// targetRemainingRoles is the number of roles the target user would hold
// after the operation completes; it is only consulted on removal.
func AuthorizeRoleAssignment(
	actor Actor,
	op RoleAssignmentOp,
	roleName string,
	targetUserID, targetCompanyID, platformCompanyID int64,
	targetRemainingRoles int,
) error {
	isPlatformRole := roleName == RoleNewtownAdmin || roleName == RoleNewtownStaff

	// Sub-rule 1: platform roles may only land on platform-operator users.
	if isPlatformRole && targetCompanyID != platformCompanyID {
		return errs.New(errs.Forbidden, "Role '"+roleName+"' is restricted to Newtown Energy company")
	}

	switch {
	case actor.IsPlatformAdmin():
		// Sub-rule 2: newtown-admin may assign or remove any role.
	case actor.IsPlatformStaff():
		// Sub-rule 3: newtown-staff may not touch newtown-admin.
		if roleName == RoleNewtownAdmin {
			return errs.New(errs.Forbidden, "newtown-staff may not assign or remove newtown-admin")
		}
	case actor.has(RoleAdmin):
		// Sub-rule 4: company admin, same company, never a platform role.
		if isPlatformRole {
			return errs.New(errs.Forbidden, "Role '"+roleName+"' is restricted to Newtown Energy company")
		}
		if actor.CompanyID != targetCompanyID {
			return errs.New(errs.Forbidden, "admin may only manage roles within their own company")
		}
	default:
		return errs.New(errs.Forbidden, "insufficient privileges to manage role assignments")
	}

	// Sub-rule 5: removal must leave at least one role.
	if op == RemoveRole && targetRemainingRoles < 1 {
		return errs.New(errs.BadRequest, "user must retain at least one role")
	}

	_ = targetUserID
	return nil
}

// AuthorizeSiteWrite gates create/update/delete of a site, or of a
// device whose site belongs to company C.
func AuthorizeSiteWrite(actor Actor, companyID int64) error {
	if actor.IsPlatform() || actor.IsCompanyAdmin(companyID) {
		return nil
	}
	return errs.New(errs.Forbidden, "not permitted to manage sites or devices for this company")
}

// AuthorizeSiteRead gates viewing a site or device belonging to company C.
func AuthorizeSiteRead(actor Actor, companyID int64) error {
	if actor.IsPlatform() || actor.CompanyID == companyID {
		return nil
	}
	return errs.New(errs.Forbidden, "not permitted to view this company's sites")
}

// AuthorizeSchedulingWrite gates create/update/delete of schedule
// scripts, library items, application rules, and scheduler overrides.
// siteCompanyID is the company owning the site the resource belongs to.
func AuthorizeSchedulingWrite(actor Actor, siteCompanyID int64) error {
	if actor.IsPlatform() {
		return nil
	}
	if !actor.has(RoleAdmin) {
		return errs.New(errs.Forbidden, "only admin or platform roles may manage scheduling resources")
	}
	if actor.CompanyID != siteCompanyID {
		return errs.New(errs.Forbidden, "cannot manage scheduling resources outside your own company")
	}
	return nil
}

// AuthorizeSchedulingRead gates validate-script, execute-scheduler, and
// read-site-state: any authenticated actor with read access to the site.
func AuthorizeSchedulingRead(actor Actor, siteCompanyID int64) error {
	return AuthorizeSiteRead(actor, siteCompanyID)
}
