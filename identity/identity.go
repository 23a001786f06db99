// Package identity implements the tenancy model: companies, users,
// roles, and role assignments, plus process-startup bootstrap of the
// platform operator company and its admin roles and account.
package identity

import (
	"context"
	"strings"

	"github.com/newtownenergy/gridctl/activity"
	"github.com/newtownenergy/gridctl/authz"
	"github.com/newtownenergy/gridctl/errs"
	"github.com/newtownenergy/gridctl/storage"
)

// builtinRoles are created once at bootstrap if not already present.
var builtinRoles = []struct {
	Name        string
	Description string
}{
	{authz.RoleNewtownAdmin, "Platform-wide administrator"},
	{authz.RoleNewtownStaff, "Platform-wide staff"},
	{authz.RoleAdmin, "Company administrator"},
	{authz.RoleStaff, "Company staff"},
}

// Service implements the identity and tenancy operations.
type Service struct {
	store    storage.Store
	activity *activity.Recorder
}

// New builds an identity Service backed by store.
func New(store storage.Store) *Service {
	return &Service{store: store, activity: activity.New(store)}
}

// BootstrapResult names the platform operator company and admin account
// established (or confirmed already present) by Bootstrap.
type BootstrapResult struct {
	PlatformCompany *storage.Company
	AdminUser       *storage.User
	Created         bool
}

// Bootstrap ensures the platform-operator company exists, the four
// built-in roles exist, and one platform-admin user exists. It is safe
// to call on every process startup. passwordHash is a caller-supplied,
// already-hashed credential used only if the admin account does not
// yet exist.
func (s *Service) Bootstrap(ctx context.Context, platformCompanyName, adminEmail, passwordHash string) (*BootstrapResult, error) {
	company, err := s.store.GetCompanyByName(ctx, platformCompanyName)
	if err != nil {
		company, err = s.store.CreateCompany(ctx, platformCompanyName)
		if err != nil {
			return nil, errs.Internalf(err, "create platform operator company")
		}
		if err := s.activity.RecordCreate(ctx, "companies", company.ID, nil); err != nil {
			return nil, err
		}
	}

	if sqliteStore, ok := s.store.(interface {
		SetPlatformOperator(ctx context.Context, companyID int64) error
	}); ok {
		if err := sqliteStore.SetPlatformOperator(ctx, company.ID); err != nil {
			return nil, errs.Internalf(err, "record platform operator")
		}
	}

	roleByName := make(map[string]*storage.Role, len(builtinRoles))
	for _, br := range builtinRoles {
		role, err := s.store.GetRoleByName(ctx, br.Name)
		if err != nil {
			role, err = s.store.CreateRole(ctx, br.Name, br.Description)
			if err != nil {
				return nil, errs.Internalf(err, "create built-in role %s", br.Name)
			}
		}
		roleByName[br.Name] = role
	}

	adminUser, err := s.store.GetUserByEmail(ctx, adminEmail)
	created := false
	if err != nil {
		adminUser, err = s.store.CreateUser(ctx, &storage.User{
			Email:        adminEmail,
			PasswordHash: passwordHash,
			CompanyID:    company.ID,
		})
		if err != nil {
			return nil, errs.Internalf(err, "create platform admin user")
		}
		if err := s.activity.RecordCreate(ctx, "users", adminUser.ID, nil); err != nil {
			return nil, err
		}
		if err := s.store.AssignUserRole(ctx, adminUser.ID, roleByName[authz.RoleNewtownAdmin].ID); err != nil {
			return nil, errs.Internalf(err, "assign newtown-admin to bootstrap user")
		}
		created = true
	}

	return &BootstrapResult{PlatformCompany: company, AdminUser: adminUser, Created: created}, nil
}

// PlatformCompanyID resolves the platform operator's company id, for
// threading explicitly into authz calls rather than as a global.
func (s *Service) PlatformCompanyID(ctx context.Context, platformCompanyName string) (int64, error) {
	c, err := s.store.GetCompanyByName(ctx, platformCompanyName)
	if err != nil {
		return 0, errs.Wrap(errs.NotFound, err, "platform operator company not found")
	}
	return c.ID, nil
}

// CreateCompany creates a company. Only a platform admin may call this.
func (s *Service) CreateCompany(ctx context.Context, actor authz.Actor, name string) (*storage.Company, error) {
	if err := authz.AuthorizeCompanyWrite(actor); err != nil {
		return nil, err
	}
	c, err := s.store.CreateCompany(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.Conflict, err, "company name already in use")
	}
	if err := s.activity.RecordCreate(ctx, "companies", c.ID, &actor.UserID); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCompany deletes a company and, by foreign-key cascade, every
// site/device/template/script/override/rule it owns.
func (s *Service) DeleteCompany(ctx context.Context, actor authz.Actor, id int64) error {
	if err := authz.AuthorizeCompanyWrite(actor); err != nil {
		return err
	}
	if err := s.store.DeleteCompany(ctx, id); err != nil {
		return errs.Internalf(err, "delete company")
	}
	return s.activity.RecordDelete(ctx, "companies", id, &actor.UserID)
}

// ListCompanies returns every company; per the authorization matrix
// this endpoint is not tenancy-filtered.
func (s *Service) ListCompanies(ctx context.Context, actor authz.Actor) ([]*storage.Company, error) {
	if err := authz.AuthorizeCompanyList(actor); err != nil {
		return nil, err
	}
	list, err := s.store.ListCompanies(ctx)
	if err != nil {
		return nil, errs.Internalf(err, "list companies")
	}
	return list, nil
}

// ListRoles returns every role definition; any authenticated actor may call this.
func (s *Service) ListRoles(ctx context.Context, actor authz.Actor) ([]*storage.Role, error) {
	if err := authz.AuthorizeRoleRead(actor); err != nil {
		return nil, err
	}
	list, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, errs.Internalf(err, "list roles")
	}
	return list, nil
}

// CreateUser creates a user in companyID. A newly created user must be
// assigned at least one role before it is useful, but the invariant
// |roles| >= 1 is only enforced on removal, not on bare creation, so
// callers typically follow with AssignRole.
func (s *Service) CreateUser(ctx context.Context, actor authz.Actor, u *storage.User) (*storage.User, error) {
	if err := authz.AuthorizeUserWrite(actor, u.CompanyID); err != nil {
		return nil, err
	}
	created, err := s.store.CreateUser(ctx, u)
	if err != nil {
		return nil, errs.Wrap(errs.Conflict, err, "email already in use")
	}
	if err := s.activity.RecordCreate(ctx, "users", created.ID, &actor.UserID); err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateUser updates a user's profile fields. A user may always update
// their own profile; otherwise the usual platform/company-admin rule applies.
func (s *Service) UpdateUser(ctx context.Context, actor authz.Actor, u *storage.User) error {
	if err := authz.AuthorizeUserSelfOrWrite(actor, u.ID, u.CompanyID); err != nil {
		return err
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return errs.Internalf(err, "update user")
	}
	return s.activity.RecordUpdate(ctx, "users", u.ID, &actor.UserID)
}

// DeleteUser deletes a user.
func (s *Service) DeleteUser(ctx context.Context, actor authz.Actor, targetUserID, targetCompanyID int64) error {
	if err := authz.AuthorizeUserWrite(actor, targetCompanyID); err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, targetUserID); err != nil {
		return errs.Internalf(err, "delete user")
	}
	return s.activity.RecordDelete(ctx, "users", targetUserID, &actor.UserID)
}

// ListUsers lists users visible to actor, scoped per the authorization matrix.
func (s *Service) ListUsers(ctx context.Context, actor authz.Actor) ([]*storage.User, error) {
	ok, scope := authz.AuthorizeUserList(actor)
	if !ok {
		return nil, errs.New(errs.Forbidden, "not permitted to list users")
	}
	if scope == nil {
		list, err := s.store.ListUsers(ctx)
		if err != nil {
			return nil, errs.Internalf(err, "list users")
		}
		return list, nil
	}
	list, err := s.store.ListUsersByCompany(ctx, *scope)
	if err != nil {
		return nil, errs.Internalf(err, "list users by company")
	}
	return list, nil
}

// EffectiveRoles returns the role names currently held by userID.
func (s *Service) EffectiveRoles(ctx context.Context, userID int64) ([]string, error) {
	roles, err := s.store.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, errs.Internalf(err, "list user roles")
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	return names, nil
}

// AssignRole assigns roleName to targetUserID, enforcing the
// role-assignment sub-rules. platformCompanyID must be resolved once at
// bootstrap and threaded in explicitly.
func (s *Service) AssignRole(ctx context.Context, actor authz.Actor, targetUserID int64, roleName string, platformCompanyID int64) error {
	target, err := s.store.GetUser(ctx, targetUserID)
	if err != nil {
		return errs.Wrap(errs.NotFound, err, "user not found")
	}
	role, err := s.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return errs.Wrap(errs.NotFound, err, "role not found")
	}

	if err := authz.AuthorizeRoleAssignment(actor, authz.AssignRole, roleName, target.ID, target.CompanyID, platformCompanyID, 0); err != nil {
		return err
	}

	if err := s.store.AssignUserRole(ctx, targetUserID, role.ID); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "reserved") {
			return errs.New(errs.Forbidden, "Role '"+roleName+"' is restricted to Newtown Energy company")
		}
		return errs.Internalf(err, "assign role")
	}
	return nil
}

// RemoveRole removes roleName from targetUserID, enforcing the
// role-assignment sub-rules including the last-role invariant.
func (s *Service) RemoveRole(ctx context.Context, actor authz.Actor, targetUserID int64, roleName string, platformCompanyID int64) error {
	target, err := s.store.GetUser(ctx, targetUserID)
	if err != nil {
		return errs.Wrap(errs.NotFound, err, "user not found")
	}
	role, err := s.store.GetRoleByName(ctx, roleName)
	if err != nil {
		return errs.Wrap(errs.NotFound, err, "role not found")
	}

	count, err := s.store.CountUserRoles(ctx, targetUserID)
	if err != nil {
		return errs.Internalf(err, "count user roles")
	}

	if err := authz.AuthorizeRoleAssignment(actor, authz.RemoveRole, roleName, target.ID, target.CompanyID, platformCompanyID, count-1); err != nil {
		return err
	}

	if err := s.store.RemoveUserRole(ctx, targetUserID, role.ID); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "at least one role") {
			return errs.New(errs.BadRequest, "user must retain at least one role")
		}
		return errs.Internalf(err, "remove role")
	}
	return nil
}
