package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCompany(t *testing.T, s *sqlStore, name string) *Company {
	t.Helper()
	c, err := s.CreateCompany(context.Background(), name)
	require.NoError(t, err)
	return c
}

func TestCompanyUniquenessCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateCompany(ctx, "Newtown Energy")
	require.NoError(t, err)

	_, err = s.CreateCompany(ctx, "newtown energy")
	require.Error(t, err)
}

func TestSiteUniquenessWithinCompany(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s, "Acme Corp")

	_, err := s.CreateSite(ctx, &Site{Name: "Plant A", CompanyID: c.ID})
	require.NoError(t, err)
	_, err = s.CreateSite(ctx, &Site{Name: "plant a", CompanyID: c.ID})
	require.Error(t, err)

	c2 := seedCompany(t, s, "Other Corp")
	_, err = s.CreateSite(ctx, &Site{Name: "Plant A", CompanyID: c2.ID})
	require.NoError(t, err, "same name in a different company is allowed")
}

func TestCompanyDeleteCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s, "Cascade Co")
	site, err := s.CreateSite(ctx, &Site{Name: "Site A", CompanyID: c.ID})
	require.NoError(t, err)
	_, err = s.CreateDevice(ctx, &Device{Name: "Inverter 1", Type: "inverter", CompanyID: c.ID, SiteID: site.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteCompany(ctx, c.ID))

	_, err = s.GetSite(ctx, site.ID)
	require.Error(t, err)
	devices, err := s.ListDevicesBySite(ctx, site.ID)
	require.NoError(t, err)
	require.Empty(t, devices)
}

func TestLastRoleGuardTrigger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s, "Solo Co")
	staff, err := s.CreateRole(ctx, "staff", "")
	require.NoError(t, err)
	admin, err := s.CreateRole(ctx, "admin", "")
	require.NoError(t, err)
	u, err := s.CreateUser(ctx, &User{Email: "a@b.com", CompanyID: c.ID})
	require.NoError(t, err)

	require.NoError(t, s.AssignUserRole(ctx, u.ID, staff.ID))
	require.Error(t, s.RemoveUserRole(ctx, u.ID, staff.ID), "removing the only role must fail")

	require.NoError(t, s.AssignUserRole(ctx, u.ID, admin.ID))
	require.NoError(t, s.RemoveUserRole(ctx, u.ID, staff.ID))

	n, err := s.CountUserRoles(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestPlatformRoleTenancyTrigger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	operator := seedCompany(t, s, "Newtown Energy")
	regular := seedCompany(t, s, "Regular Corp")
	require.NoError(t, s.SetPlatformOperator(ctx, operator.ID))

	staffRole, err := s.CreateRole(ctx, "newtown-staff", "")
	require.NoError(t, err)

	outsideUser, err := s.CreateUser(ctx, &User{Email: "x@regular.com", CompanyID: regular.ID})
	require.NoError(t, err)
	require.Error(t, s.AssignUserRole(ctx, outsideUser.ID, staffRole.ID))

	insideUser, err := s.CreateUser(ctx, &User{Email: "y@newtown.com", CompanyID: operator.ID})
	require.NoError(t, err)
	require.NoError(t, s.AssignUserRole(ctx, insideUser.ID, staffRole.ID))
}

func TestDefaultRuleUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s, "Rule Co")
	site, err := s.CreateSite(ctx, &Site{Name: "Site A", CompanyID: c.ID})
	require.NoError(t, err)

	t1, err := s.CreateLibraryItem(ctx, &ScheduleLibraryItem{SiteID: site.ID, Name: "T1"})
	require.NoError(t, err)
	t2, err := s.CreateLibraryItem(ctx, &ScheduleLibraryItem{SiteID: site.ID, Name: "T2"})
	require.NoError(t, err)

	_, err = s.CreateApplicationRule(ctx, &ApplicationRule{TemplateID: t1.ID, RuleType: RuleDefault})
	require.NoError(t, err)
	_, err = s.CreateApplicationRule(ctx, &ApplicationRule{TemplateID: t2.ID, RuleType: RuleDefault})
	require.NoError(t, err)

	r1, err := s.ListApplicationRulesByTemplate(ctx, t1.ID)
	require.NoError(t, err)
	require.Empty(t, r1)

	r2, err := s.ListApplicationRulesByTemplate(ctx, t2.ID)
	require.NoError(t, err)
	require.Len(t, r2, 1)
}

func TestOverlappingOverrideQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s, "Override Co")
	site, err := s.CreateSite(ctx, &Site{Name: "Site A", CompanyID: c.ID})
	require.NoError(t, err)
	u, err := s.CreateUser(ctx, &User{Email: "op@co.com", CompanyID: c.ID})
	require.NoError(t, err)

	start := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	_, err = s.CreateOverride(ctx, &SchedulerOverride{
		SiteID: site.ID, State: StateDischarge, StartTime: start, EndTime: end, IsActive: true, CreatedByUserID: u.ID,
	})
	require.NoError(t, err)

	overlaps, err := s.ListOverlappingOverrides(ctx, site.ID, end, end.Add(2*time.Hour))
	require.NoError(t, err)
	require.Empty(t, overlaps, "closed-open boundary: [a,b) and [b,c) must not overlap")

	overlaps, err = s.ListOverlappingOverrides(ctx, site.ID, start.Add(30*time.Minute), end.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, overlaps, 1)
}

func TestActiveScriptSelection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s, "Script Co")
	site, err := s.CreateSite(ctx, &Site{Name: "Site A", CompanyID: c.ID})
	require.NoError(t, err)

	_, err = s.CreateScript(ctx, &SchedulerScript{SiteID: site.ID, Name: "v1", IsActive: true, Version: 1, Language: "lua"})
	require.NoError(t, err)
	newest, err := s.CreateScript(ctx, &SchedulerScript{SiteID: site.ID, Name: "v2", IsActive: true, Version: 3, Language: "lua"})
	require.NoError(t, err)
	_, err = s.CreateScript(ctx, &SchedulerScript{SiteID: site.ID, Name: "v3", IsActive: true, Version: 3, Language: "lua"})
	require.NoError(t, err)

	active, err := s.GetActiveScriptForSite(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, 3, active.Version)
	require.True(t, active.ID >= newest.ID)
}

func TestGetActiveScriptForSiteNoneActiveReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCompany(t, s, "No Script Co")
	site, err := s.CreateSite(ctx, &Site{Name: "Site A", CompanyID: c.ID})
	require.NoError(t, err)

	active, err := s.GetActiveScriptForSite(ctx, site.ID)
	require.NoError(t, err, "no active script must normalize to (nil, nil), not sql.ErrNoRows")
	require.Nil(t, active)
}

func TestEntityActivityTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordActivity(ctx, &EntityActivity{EntityTable: "sites", EntityID: 1, Action: ActivityCreate}))
	require.NoError(t, s.RecordActivity(ctx, &EntityActivity{EntityTable: "sites", EntityID: 1, Action: ActivityUpdate}))

	created, updated, err := s.EntityTimestamps(ctx, "sites", 1)
	require.NoError(t, err)
	require.NotNil(t, created)
	require.NotNil(t, updated)
	require.False(t, updated.Before(*created))
}
