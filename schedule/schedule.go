// Package schedule implements the schedule template library and the
// precedence-ordered application-rule resolver that selects, for any
// (site, date), exactly one schedule template.
package schedule

import (
	"context"
	"sort"
	"time"

	"github.com/newtownenergy/gridctl/activity"
	"github.com/newtownenergy/gridctl/authz"
	"github.com/newtownenergy/gridctl/errs"
	"github.com/newtownenergy/gridctl/storage"
)

// DefaultTemplateName is auto-created per site on first access.
const DefaultTemplateName = "Default"

const dateLayout = "2006-01-02"

// Service implements schedule-library and application-rule operations.
type Service struct {
	store    storage.Store
	activity *activity.Recorder
}

// New builds a schedule Service backed by store.
func New(store storage.Store) *Service {
	return &Service{store: store, activity: activity.New(store)}
}

// Match pairs a winning template with the rule and specificity score
// that selected it.
type Match struct {
	LibraryItem *storage.ScheduleLibraryItem
	Specificity int
	Rule        *storage.ApplicationRule
}

// AllMatchesResult is the winning match plus every lower-priority match
// on the same date, deduplicated by template.
type AllMatchesResult struct {
	Winning *Match
	Others  []*Match
}

// EnsureDefaultTemplate guarantees a "Default" template exists for
// siteID, creating an empty one if absent.
func (s *Service) EnsureDefaultTemplate(ctx context.Context, siteID int64) (*storage.ScheduleLibraryItem, error) {
	item, err := s.store.GetLibraryItemByName(ctx, siteID, DefaultTemplateName)
	if err == nil {
		return item, nil
	}
	created, err := s.store.CreateLibraryItem(ctx, &storage.ScheduleLibraryItem{
		SiteID: siteID, Name: DefaultTemplateName, Commands: "",
	})
	if err != nil {
		return nil, errs.Internalf(err, "auto-create default template")
	}
	return created, nil
}

// CreateLibraryItem creates a schedule template for a site.
func (s *Service) CreateLibraryItem(ctx context.Context, actor authz.Actor, siteCompanyID int64, item *storage.ScheduleLibraryItem) (*storage.ScheduleLibraryItem, error) {
	if err := authz.AuthorizeSchedulingWrite(actor, siteCompanyID); err != nil {
		return nil, err
	}
	created, err := s.store.CreateLibraryItem(ctx, item)
	if err != nil {
		return nil, errs.Wrap(errs.Conflict, err, "template name already in use for this site")
	}
	if err := s.activity.RecordCreate(ctx, "schedule_library_items", created.ID, &actor.UserID); err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteLibraryItem deletes a schedule template, cascading to its rules.
func (s *Service) DeleteLibraryItem(ctx context.Context, actor authz.Actor, siteCompanyID, id int64) error {
	if err := authz.AuthorizeSchedulingWrite(actor, siteCompanyID); err != nil {
		return err
	}
	if err := s.store.DeleteLibraryItem(ctx, id); err != nil {
		return errs.Internalf(err, "delete template")
	}
	return s.activity.RecordDelete(ctx, "schedule_library_items", id, &actor.UserID)
}

// CreateApplicationRule creates a rule binding a template to dates,
// weekdays, or the site default. Creating a default rule deletes every
// prior default rule for the same site inside the same transaction.
func (s *Service) CreateApplicationRule(ctx context.Context, actor authz.Actor, siteCompanyID int64, r *storage.ApplicationRule) (*storage.ApplicationRule, error) {
	if err := authz.AuthorizeSchedulingWrite(actor, siteCompanyID); err != nil {
		return nil, err
	}
	if err := validateRule(r); err != nil {
		return nil, err
	}
	created, err := s.store.CreateApplicationRule(ctx, r)
	if err != nil {
		return nil, errs.Internalf(err, "create application rule")
	}
	if err := s.activity.RecordCreate(ctx, "application_rules", created.ID, &actor.UserID); err != nil {
		return nil, err
	}
	return created, nil
}

func validateRule(r *storage.ApplicationRule) error {
	switch r.RuleType {
	case storage.RuleDefault:
		if len(r.DaysOfWeek) != 0 || len(r.SpecificDates) != 0 {
			return errs.New(errs.BadRequest, "default rule must not carry days_of_week or specific_dates")
		}
	case storage.RuleDayOfWeek:
		if len(r.DaysOfWeek) == 0 {
			return errs.New(errs.BadRequest, "day_of_week rule requires a non-empty days_of_week set")
		}
		for _, d := range r.DaysOfWeek {
			if d < 0 || d > 6 {
				return errs.New(errs.BadRequest, "days_of_week values must be 0..6")
			}
		}
	case storage.RuleSpecificDate:
		if len(r.SpecificDates) == 0 {
			return errs.New(errs.BadRequest, "specific_date rule requires a non-empty specific_dates set")
		}
		for _, d := range r.SpecificDates {
			if _, err := time.Parse(dateLayout, d); err != nil {
				return errs.New(errs.BadRequest, "specific_dates must be formatted YYYY-MM-DD")
			}
		}
	default:
		return errs.Newf(errs.BadRequest, "unknown rule_type %q", r.RuleType)
	}
	return nil
}

// DeleteApplicationRule deletes a rule.
func (s *Service) DeleteApplicationRule(ctx context.Context, actor authz.Actor, siteCompanyID, id int64) error {
	if err := authz.AuthorizeSchedulingWrite(actor, siteCompanyID); err != nil {
		return err
	}
	if err := s.store.DeleteApplicationRule(ctx, id); err != nil {
		return errs.Internalf(err, "delete application rule")
	}
	return s.activity.RecordDelete(ctx, "application_rules", id, &actor.UserID)
}

func matches(r *storage.ApplicationRule, date time.Time) bool {
	switch r.RuleType {
	case storage.RuleDefault:
		return true
	case storage.RuleDayOfWeek:
		weekday := int(date.Weekday()) // time.Sunday == 0, matching the spec's 0=Sunday
		for _, d := range r.DaysOfWeek {
			if d == weekday {
				return true
			}
		}
		return false
	case storage.RuleSpecificDate:
		formatted := date.Format(dateLayout)
		for _, d := range r.SpecificDates {
			if d == formatted {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// orderedMatches returns every rule matching date, ordered by
// (specificity DESC, created_at DESC).
func orderedMatches(rules []*storage.ApplicationRule, items map[int64]*storage.ScheduleLibraryItem, date time.Time) []*Match {
	var out []*Match
	for _, r := range rules {
		if !matches(r, date) {
			continue
		}
		item, ok := items[r.TemplateID]
		if !ok {
			continue
		}
		out = append(out, &Match{LibraryItem: item, Specificity: r.RuleType.Specificity(), Rule: r})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Specificity != out[j].Specificity {
			return out[i].Specificity > out[j].Specificity
		}
		return out[i].Rule.CreatedAt.After(out[j].Rule.CreatedAt)
	})
	return out
}

// loadSiteRulesAndTemplates fetches every template and rule for site, and
// auto-creates the Default template if none exists yet.
func (s *Service) loadSiteRulesAndTemplates(ctx context.Context, siteID int64) ([]*storage.ApplicationRule, map[int64]*storage.ScheduleLibraryItem, error) {
	if _, err := s.EnsureDefaultTemplate(ctx, siteID); err != nil {
		return nil, nil, err
	}
	items, err := s.store.ListLibraryItemsBySite(ctx, siteID)
	if err != nil {
		return nil, nil, errs.Internalf(err, "list templates")
	}
	itemsByID := make(map[int64]*storage.ScheduleLibraryItem, len(items))
	for _, it := range items {
		itemsByID[it.ID] = it
	}
	rules, err := s.store.ListApplicationRulesBySite(ctx, siteID)
	if err != nil {
		return nil, nil, errs.Internalf(err, "list application rules")
	}
	return rules, itemsByID, nil
}

// Effective resolves the single winning template for (site, date).
func (s *Service) Effective(ctx context.Context, actor authz.Actor, siteCompanyID, siteID int64, date time.Time) (*Match, error) {
	if err := authz.AuthorizeSchedulingRead(actor, siteCompanyID); err != nil {
		return nil, err
	}
	rules, items, err := s.loadSiteRulesAndTemplates(ctx, siteID)
	if err != nil {
		return nil, err
	}
	ordered := orderedMatches(rules, items, date)
	if len(ordered) == 0 {
		return nil, errs.New(errs.NotFound, "no application rule matches this date")
	}
	return ordered[0], nil
}

// AllMatches resolves the winning template plus every other matching
// rule, deduplicated by template id, keeping only each template's
// highest-priority rule.
func (s *Service) AllMatches(ctx context.Context, actor authz.Actor, siteCompanyID, siteID int64, date time.Time) (*AllMatchesResult, error) {
	if err := authz.AuthorizeSchedulingRead(actor, siteCompanyID); err != nil {
		return nil, err
	}
	rules, items, err := s.loadSiteRulesAndTemplates(ctx, siteID)
	if err != nil {
		return nil, err
	}
	ordered := orderedMatches(rules, items, date)
	if len(ordered) == 0 {
		return nil, errs.New(errs.NotFound, "no application rule matches this date")
	}

	seen := make(map[int64]bool, len(ordered))
	var deduped []*Match
	for _, m := range ordered {
		if seen[m.LibraryItem.ID] {
			continue
		}
		seen[m.LibraryItem.ID] = true
		deduped = append(deduped, m)
	}
	return &AllMatchesResult{Winning: deduped[0], Others: deduped[1:]}, nil
}

// Calendar returns the winning match for every day of (year, month).
func (s *Service) Calendar(ctx context.Context, actor authz.Actor, siteCompanyID, siteID int64, year, month int) (map[string]*Match, error) {
	if err := authz.AuthorizeSchedulingRead(actor, siteCompanyID); err != nil {
		return nil, err
	}
	if month < 1 || month > 12 {
		return nil, errs.New(errs.BadRequest, "month must be between 1 and 12")
	}
	rules, items, err := s.loadSiteRulesAndTemplates(ctx, siteID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Match)
	for _, day := range daysInMonth(year, month) {
		ordered := orderedMatches(rules, items, day)
		if len(ordered) == 0 {
			return nil, errs.Newf(errs.NotFound, "no application rule matches %s", day.Format(dateLayout))
		}
		out[day.Format(dateLayout)] = ordered[0]
	}
	return out, nil
}

// CalendarWithMatches is Calendar's counterpart returning every match
// (winner plus others) for each day.
func (s *Service) CalendarWithMatches(ctx context.Context, actor authz.Actor, siteCompanyID, siteID int64, year, month int) (map[string]*AllMatchesResult, error) {
	if err := authz.AuthorizeSchedulingRead(actor, siteCompanyID); err != nil {
		return nil, err
	}
	if month < 1 || month > 12 {
		return nil, errs.New(errs.BadRequest, "month must be between 1 and 12")
	}
	rules, items, err := s.loadSiteRulesAndTemplates(ctx, siteID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*AllMatchesResult)
	for _, day := range daysInMonth(year, month) {
		ordered := orderedMatches(rules, items, day)
		if len(ordered) == 0 {
			return nil, errs.Newf(errs.NotFound, "no application rule matches %s", day.Format(dateLayout))
		}
		seen := make(map[int64]bool, len(ordered))
		var deduped []*Match
		for _, m := range ordered {
			if seen[m.LibraryItem.ID] {
				continue
			}
			seen[m.LibraryItem.ID] = true
			deduped = append(deduped, m)
		}
		out[day.Format(dateLayout)] = &AllMatchesResult{Winning: deduped[0], Others: deduped[1:]}
	}
	return out, nil
}

func daysInMonth(year, month int) []time.Time {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)
	var days []time.Time
	for d := first; d.Before(next); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
