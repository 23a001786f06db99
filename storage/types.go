// Package storage implements the persisted state of the control plane:
// companies, users, roles, sites, devices, schedule templates, application
// rules, scheduler scripts, overrides, and the append-only activity log,
// over either SQLite or PostgreSQL through a shared Dialect abstraction.
package storage

import (
	"context"
	"time"
)

// Company is a tenant. Exactly one company, identified at bootstrap, is
// the platform operator.
type Company struct {
	ID   int64
	Name string
}

// Role is one of the four built-in roles forming the platform/company
// admin/staff lattice.
type Role struct {
	ID          int64
	Name        string
	Description string
}

// User belongs to exactly one company and must hold at least one role
// at all times.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CompanyID    int64
	TOTPSecret   string
}

// Site is a physical location owned by a company.
type Site struct {
	ID        int64
	Name      string
	Address   string
	Latitude  *float64
	Longitude *float64
	CompanyID int64
}

// Device is a piece of equipment installed at a site.
type Device struct {
	ID          int64
	Name        string
	Type        string
	Model       string
	Description string
	Serial      string
	IPAddress   string
	InstallDate *time.Time
	CompanyID   int64
	SiteID      int64
}

// ScheduleLibraryItem is a named, reusable schedule template owned by a
// site. The reserved name "Default" is auto-created on first access.
type ScheduleLibraryItem struct {
	ID       int64
	SiteID   int64
	Name     string
	Commands string
}

// RuleType enumerates the three kinds of application rule.
type RuleType string

const (
	RuleDefault     RuleType = "default"
	RuleDayOfWeek   RuleType = "day_of_week"
	RuleSpecificDate RuleType = "specific_date"
)

// Specificity returns the precedence score for the rule kind: 2 for a
// specific date, 1 for a day of week, 0 for the site default.
func (t RuleType) Specificity() int {
	switch t {
	case RuleSpecificDate:
		return 2
	case RuleDayOfWeek:
		return 1
	default:
		return 0
	}
}

// ApplicationRule binds a template to a set of dates, weekdays, or the
// site default.
type ApplicationRule struct {
	ID             int64
	TemplateID     int64
	RuleType       RuleType
	DaysOfWeek     []int    // 0=Sunday..6=Saturday
	SpecificDates  []string // "YYYY-MM-DD"
	OverrideReason string
	CreatedAt      time.Time
}

// SchedulerScript is a sandboxed program that returns a site state given
// datetime and site context. Content is capped at 10 KiB.
type SchedulerScript struct {
	ID            int64
	SiteID        int64
	Name          string
	ScriptContent string
	Language      string
	IsActive      bool
	Version       int
}

// SiteState is the commanded mode of a site's energy assets.
type SiteState string

const (
	StateCharge    SiteState = "charge"
	StateDischarge SiteState = "discharge"
	StateIdle      SiteState = "idle"
)

// SchedulerOverride is a time-bounded manual directive that forces a
// site state ahead of any script.
type SchedulerOverride struct {
	ID              int64
	SiteID          int64
	State           SiteState
	StartTime       time.Time
	EndTime         time.Time
	Reason          string
	IsActive        bool
	CreatedByUserID int64
}

// ActivityAction enumerates the three kinds of entity-activity event.
type ActivityAction string

const (
	ActivityCreate ActivityAction = "create"
	ActivityUpdate ActivityAction = "update"
	ActivityDelete ActivityAction = "delete"
)

// EntityActivity is an append-only record from which created_at/updated_at
// are derived by aggregation. It is weakly referenced: it survives the
// deletion of the entity it describes.
type EntityActivity struct {
	ID          int64
	EntityTable string
	EntityID    int64
	Action      ActivityAction
	UserID      *int64
	At          time.Time
}

// Store is the full persistence surface consumed by the domain packages.
// A single implementation backs either SQLite or PostgreSQL.
type Store interface {
	Dialect() Dialect
	Close() error

	// Companies
	CreateCompany(ctx context.Context, name string) (*Company, error)
	GetCompany(ctx context.Context, id int64) (*Company, error)
	GetCompanyByName(ctx context.Context, name string) (*Company, error)
	ListCompanies(ctx context.Context) ([]*Company, error)
	DeleteCompany(ctx context.Context, id int64) error

	// Roles
	CreateRole(ctx context.Context, name, description string) (*Role, error)
	GetRole(ctx context.Context, id int64) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]*Role, error)
	UpdateRole(ctx context.Context, id int64, description string) error
	DeleteRole(ctx context.Context, id int64) error

	// Users
	CreateUser(ctx context.Context, u *User) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsersByCompany(ctx context.Context, companyID int64) ([]*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id int64) error

	// Roles held by a user
	AssignUserRole(ctx context.Context, userID, roleID int64) error
	RemoveUserRole(ctx context.Context, userID, roleID int64) error
	ListUserRoles(ctx context.Context, userID int64) ([]*Role, error)
	CountUserRoles(ctx context.Context, userID int64) (int, error)

	// Sites
	CreateSite(ctx context.Context, s *Site) (*Site, error)
	GetSite(ctx context.Context, id int64) (*Site, error)
	ListSitesByCompany(ctx context.Context, companyID int64) ([]*Site, error)
	UpdateSite(ctx context.Context, s *Site) error
	DeleteSite(ctx context.Context, id int64) error

	// Devices
	CreateDevice(ctx context.Context, d *Device) (*Device, error)
	GetDevice(ctx context.Context, id int64) (*Device, error)
	ListDevicesBySite(ctx context.Context, siteID int64) ([]*Device, error)
	UpdateDevice(ctx context.Context, d *Device) error
	DeleteDevice(ctx context.Context, id int64) error

	// Schedule library
	CreateLibraryItem(ctx context.Context, item *ScheduleLibraryItem) (*ScheduleLibraryItem, error)
	GetLibraryItem(ctx context.Context, id int64) (*ScheduleLibraryItem, error)
	GetLibraryItemByName(ctx context.Context, siteID int64, name string) (*ScheduleLibraryItem, error)
	ListLibraryItemsBySite(ctx context.Context, siteID int64) ([]*ScheduleLibraryItem, error)
	UpdateLibraryItem(ctx context.Context, item *ScheduleLibraryItem) error
	DeleteLibraryItem(ctx context.Context, id int64) error

	// Application rules
	CreateApplicationRule(ctx context.Context, r *ApplicationRule) (*ApplicationRule, error)
	GetApplicationRule(ctx context.Context, id int64) (*ApplicationRule, error)
	ListApplicationRulesByTemplate(ctx context.Context, templateID int64) ([]*ApplicationRule, error)
	ListApplicationRulesBySite(ctx context.Context, siteID int64) ([]*ApplicationRule, error)
	DeleteDefaultRulesForSite(ctx context.Context, siteID int64) error
	DeleteApplicationRule(ctx context.Context, id int64) error

	// Scheduler scripts
	CreateScript(ctx context.Context, s *SchedulerScript) (*SchedulerScript, error)
	GetScript(ctx context.Context, id int64) (*SchedulerScript, error)
	GetScriptByName(ctx context.Context, siteID int64, name string) (*SchedulerScript, error)
	ListScriptsBySite(ctx context.Context, siteID int64) ([]*SchedulerScript, error)
	GetActiveScriptForSite(ctx context.Context, siteID int64) (*SchedulerScript, error)
	UpdateScript(ctx context.Context, s *SchedulerScript) error
	DeleteScript(ctx context.Context, id int64) error

	// Scheduler overrides
	CreateOverride(ctx context.Context, o *SchedulerOverride) (*SchedulerOverride, error)
	GetOverride(ctx context.Context, id int64) (*SchedulerOverride, error)
	ListOverridesBySite(ctx context.Context, siteID int64) ([]*SchedulerOverride, error)
	ListOverlappingOverrides(ctx context.Context, siteID int64, start, end time.Time) ([]*SchedulerOverride, error)
	GetActiveOverrideAt(ctx context.Context, siteID int64, at time.Time) (*SchedulerOverride, error)
	DeleteOverride(ctx context.Context, id int64) error

	// Activity log
	RecordActivity(ctx context.Context, a *EntityActivity) error
	EntityTimestamps(ctx context.Context, table string, entityID int64) (createdAt, updatedAt *time.Time, err error)
}
