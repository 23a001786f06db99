package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/newtownenergy/gridctl/authz"
	"github.com/newtownenergy/gridctl/storage"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, storage.Store, *storage.Company, *storage.Site, authz.Actor) {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	co, err := store.CreateCompany(context.Background(), "Acme Corp")
	require.NoError(t, err)
	site, err := store.CreateSite(context.Background(), &storage.Site{Name: "Site A", CompanyID: co.ID})
	require.NoError(t, err)
	actor := authz.NewActor(1, co.ID, []string{authz.RoleAdmin})
	return New(store), store, co, site, actor
}

func TestCalendarSpecificity(t *testing.T) {
	svc, _, co, site, actor := setup(t)
	ctx := context.Background()

	templateA, err := svc.CreateLibraryItem(ctx, actor, co.ID, &storage.ScheduleLibraryItem{SiteID: site.ID, Name: "A"})
	require.NoError(t, err)
	templateB, err := svc.CreateLibraryItem(ctx, actor, co.ID, &storage.ScheduleLibraryItem{SiteID: site.ID, Name: "B"})
	require.NoError(t, err)

	ruleA, err := svc.CreateApplicationRule(ctx, actor, co.ID, &storage.ApplicationRule{
		TemplateID: templateA.ID, RuleType: storage.RuleDayOfWeek, DaysOfWeek: []int{1},
	})
	require.NoError(t, err)
	_, err = svc.CreateApplicationRule(ctx, actor, co.ID, &storage.ApplicationRule{
		TemplateID: templateB.ID, RuleType: storage.RuleSpecificDate, SpecificDates: []string{"2025-01-13"},
	})
	require.NoError(t, err)

	monday13, err := time.Parse("2006-01-02", "2025-01-13")
	require.NoError(t, err)
	m, err := svc.Effective(ctx, actor, co.ID, site.ID, monday13)
	require.NoError(t, err)
	require.Equal(t, templateB.ID, m.LibraryItem.ID)
	require.Equal(t, 2, m.Specificity)

	monday20, err := time.Parse("2006-01-02", "2025-01-20")
	require.NoError(t, err)
	m, err = svc.Effective(ctx, actor, co.ID, site.ID, monday20)
	require.NoError(t, err)
	require.Equal(t, templateA.ID, m.LibraryItem.ID)
	require.Equal(t, ruleA.ID, m.Rule.ID)
}

func TestDefaultRuleUniquenessAcrossTemplates(t *testing.T) {
	svc, _, co, site, actor := setup(t)
	ctx := context.Background()

	t1, err := svc.CreateLibraryItem(ctx, actor, co.ID, &storage.ScheduleLibraryItem{SiteID: site.ID, Name: "T1"})
	require.NoError(t, err)
	t2, err := svc.CreateLibraryItem(ctx, actor, co.ID, &storage.ScheduleLibraryItem{SiteID: site.ID, Name: "T2"})
	require.NoError(t, err)

	_, err = svc.CreateApplicationRule(ctx, actor, co.ID, &storage.ApplicationRule{TemplateID: t1.ID, RuleType: storage.RuleDefault})
	require.NoError(t, err)
	_, err = svc.CreateApplicationRule(ctx, actor, co.ID, &storage.ApplicationRule{TemplateID: t2.ID, RuleType: storage.RuleDefault})
	require.NoError(t, err)

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m, err := svc.Effective(ctx, actor, co.ID, site.ID, day)
	require.NoError(t, err)
	require.Equal(t, t2.ID, m.LibraryItem.ID)
}

func TestNoMatchIsNotFound(t *testing.T) {
	svc, _, co, site, actor := setup(t)
	ctx := context.Background()

	templ, err := svc.CreateLibraryItem(ctx, actor, co.ID, &storage.ScheduleLibraryItem{SiteID: site.ID, Name: "Weekday"})
	require.NoError(t, err)
	_, err = svc.CreateApplicationRule(ctx, actor, co.ID, &storage.ApplicationRule{
		TemplateID: templ.ID, RuleType: storage.RuleDayOfWeek, DaysOfWeek: []int{1},
	})
	require.NoError(t, err)

	sunday := time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)
	_, err = svc.Effective(ctx, actor, co.ID, site.ID, sunday)
	require.Error(t, err)
}

func TestInvalidMonthRejected(t *testing.T) {
	svc, _, co, site, actor := setup(t)
	ctx := context.Background()
	_, err := svc.Calendar(ctx, actor, co.ID, site.ID, 2025, 13)
	require.Error(t, err)
}

func TestAllMatchesDeduplicatesByTemplate(t *testing.T) {
	svc, _, co, site, actor := setup(t)
	ctx := context.Background()

	templ, err := svc.CreateLibraryItem(ctx, actor, co.ID, &storage.ScheduleLibraryItem{SiteID: site.ID, Name: "Shared"})
	require.NoError(t, err)
	_, err = svc.CreateApplicationRule(ctx, actor, co.ID, &storage.ApplicationRule{
		TemplateID: templ.ID, RuleType: storage.RuleDayOfWeek, DaysOfWeek: []int{1},
	})
	require.NoError(t, err)
	_, err = svc.CreateApplicationRule(ctx, actor, co.ID, &storage.ApplicationRule{
		TemplateID: templ.ID, RuleType: storage.RuleSpecificDate, SpecificDates: []string{"2025-01-13"},
	})
	require.NoError(t, err)

	monday13, _ := time.Parse("2006-01-02", "2025-01-13")
	result, err := svc.AllMatches(ctx, actor, co.ID, site.ID, monday13)
	require.NoError(t, err)
	require.Equal(t, templ.ID, result.Winning.LibraryItem.ID)
	require.Equal(t, 2, result.Winning.Specificity)
	require.Empty(t, result.Others, "same template via two rules collapses to its highest-priority rule")
}
