// Package scheduler implements the scheduler engine: the override/script
// /default cascade that resolves a site's operating state at any instant,
// the sandboxed script executor, and override/script lifecycle operations.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/newtownenergy/gridctl/activity"
	"github.com/newtownenergy/gridctl/authz"
	"github.com/newtownenergy/gridctl/errs"
	"github.com/newtownenergy/gridctl/logger"
	"github.com/newtownenergy/gridctl/storage"
)

// Log is the package-level structured logger, injected by the caller.
var Log *logger.Logger

// SetLogger wires the shared logger into the scheduler package.
func SetLogger(l *logger.Logger) {
	Log = l
}

// DefaultScript is the canonical fallback script offered for operator
// convenience. It is never implicitly installed.
const DefaultScript = `-- Default scheduler script
-- Discharge: 4pm-8pm, Charge: 8pm-1pm, Idle: otherwise

if datetime.hour >= 16 and datetime.hour < 20 then
    return 'discharge'
elseif datetime.hour >= 20 or datetime.hour < 13 then
    return 'charge'
else
    return 'idle'
end
`

// StateSourceKind tags which tier of the cascade produced a resolved state.
type StateSourceKind int

const (
	SourceOverride StateSourceKind = iota
	SourceScript
	SourceDefault
)

// StateSource names the tier and, where applicable, the id of the
// override or script that produced the resolved state.
type StateSource struct {
	Kind StateSourceKind
	ID   int64
}

// ResolveResult is the outcome of resolving a site's state at an instant.
type ResolveResult struct {
	State           storage.SiteState
	Source          StateSource
	ExecutionTimeMs int64
	Err             error
}

// Service implements the scheduler engine.
type Service struct {
	store    storage.Store
	activity *activity.Recorder
}

// New builds a scheduler Service backed by store.
func New(store storage.Store) *Service {
	return &Service{store: store, activity: activity.New(store)}
}

// Resolve computes the operating state of a site at instant t via the
// three-tier override/script/default cascade.
func (s *Service) Resolve(ctx context.Context, actor authz.Actor, siteCompanyID int64, site *storage.Site, t time.Time) (*ResolveResult, error) {
	if err := authz.AuthorizeSchedulingRead(actor, siteCompanyID); err != nil {
		return nil, err
	}

	override, err := s.store.GetActiveOverrideAt(ctx, site.ID, t)
	if err != nil {
		return nil, errs.Internalf(err, "load active override")
	}
	if override != nil {
		return &ResolveResult{State: override.State, Source: StateSource{Kind: SourceOverride, ID: override.ID}}, nil
	}

	script, err := s.store.GetActiveScriptForSite(ctx, site.ID)
	if err != nil {
		return nil, errs.Internalf(err, "load active script")
	}
	if script != nil {
		script, err = s.reselectByVersion(ctx, site.ID, script)
		if err != nil {
			return nil, err
		}
		sd := SiteData{ID: site.ID, Name: site.Name, CompanyID: site.CompanyID, Latitude: site.Latitude, Longitude: site.Longitude}
		result := execute(script.ScriptContent, t, sd)
		if result.Err != nil && Log != nil {
			traceID := uuid.NewString()
			key := fmt.Sprintf("script_error:%d", site.ID)
			Log.WarnRateLimited(key, time.Minute, "scheduler script execution failed", "trace_id", traceID, "site_id", site.ID, "script_id", script.ID, "error", result.Err)
		}
		return &ResolveResult{
			State:           result.State,
			Source:          StateSource{Kind: SourceScript, ID: script.ID},
			ExecutionTimeMs: result.ExecutionTimeMs,
			Err:             result.Err,
		}, nil
	}

	return &ResolveResult{State: storage.StateIdle, Source: StateSource{Kind: SourceDefault}}, nil
}

// reselectByVersion re-ranks every active script for siteID against
// candidate (the row the storage layer's `version DESC, id DESC` query
// already picked) using semantic-version precedence where a script's name
// carries a parseable semver tag. This lets an operator who tags script
// names with real version strings (e.g. "winter-profile-v2.1.0") have that
// precedence honored even when the plain numeric Version column disagrees.
func (s *Service) reselectByVersion(ctx context.Context, siteID int64, candidate *storage.SchedulerScript) (*storage.SchedulerScript, error) {
	scripts, err := s.store.ListScriptsBySite(ctx, siteID)
	if err != nil {
		return nil, errs.Internalf(err, "list scripts for version comparison")
	}
	best := candidate
	for _, sc := range scripts {
		if !sc.IsActive {
			continue
		}
		if CompareScriptVersions(sc.Name, sc.Version, best.Name, best.Version) > 0 {
			best = sc
		}
	}
	return best, nil
}

// ValidateScript runs the script's validate operation (syntax check plus
// a single trial execution against now/site).
func (s *Service) ValidateScript(script *storage.SchedulerScript, site *storage.Site) *ValidationResult {
	sd := SiteData{ID: site.ID, Name: site.Name, CompanyID: site.CompanyID, Latitude: site.Latitude, Longitude: site.Longitude}
	return Validate(script, sd)
}

// CreateScript creates a scheduler script, enforcing the size cap and
// language restriction ahead of the database's per-site name uniqueness.
func (s *Service) CreateScript(ctx context.Context, actor authz.Actor, siteCompanyID int64, sc *storage.SchedulerScript) (*storage.SchedulerScript, error) {
	if err := authz.AuthorizeSchedulingWrite(actor, siteCompanyID); err != nil {
		return nil, err
	}
	if err := validateScriptShape(sc); err != nil {
		return nil, err
	}
	created, err := s.store.CreateScript(ctx, sc)
	if err != nil {
		return nil, errs.Wrap(errs.Conflict, err, "script name already in use for this site")
	}
	if err := s.activity.RecordCreate(ctx, "scheduler_scripts", created.ID, &actor.UserID); err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateScript updates a scheduler script.
func (s *Service) UpdateScript(ctx context.Context, actor authz.Actor, siteCompanyID int64, sc *storage.SchedulerScript) error {
	if err := authz.AuthorizeSchedulingWrite(actor, siteCompanyID); err != nil {
		return err
	}
	if err := validateScriptShape(sc); err != nil {
		return err
	}
	if err := s.store.UpdateScript(ctx, sc); err != nil {
		return errs.Internalf(err, "update script")
	}
	return s.activity.RecordUpdate(ctx, "scheduler_scripts", sc.ID, &actor.UserID)
}

func validateScriptShape(sc *storage.SchedulerScript) error {
	if sc.Language != "lua" {
		return errs.Newf(errs.BadRequest, "unsupported script language: %s", sc.Language)
	}
	if len(sc.ScriptContent) > MaxScriptSize {
		return errs.Newf(errs.BadRequest, "script exceeds maximum size of %d bytes", MaxScriptSize)
	}
	return nil
}

// DeleteScript deletes a scheduler script.
func (s *Service) DeleteScript(ctx context.Context, actor authz.Actor, siteCompanyID, id int64) error {
	if err := authz.AuthorizeSchedulingWrite(actor, siteCompanyID); err != nil {
		return err
	}
	if err := s.store.DeleteScript(ctx, id); err != nil {
		return errs.Internalf(err, "delete script")
	}
	return s.activity.RecordDelete(ctx, "scheduler_scripts", id, &actor.UserID)
}

// CreateOverride creates a time-bounded manual override, rejecting
// invalid bounds and any overlap with an existing active override on
// the same site.
func (s *Service) CreateOverride(ctx context.Context, actor authz.Actor, siteCompanyID int64, o *storage.SchedulerOverride) (*storage.SchedulerOverride, error) {
	if err := authz.AuthorizeSchedulingWrite(actor, siteCompanyID); err != nil {
		return nil, err
	}
	if o.State != storage.StateCharge && o.State != storage.StateDischarge && o.State != storage.StateIdle {
		return nil, errs.Newf(errs.BadRequest, "invalid state %q", o.State)
	}
	if !o.EndTime.After(o.StartTime) {
		return nil, errs.New(errs.BadRequest, "end_time must be after start_time")
	}

	overlapping, err := s.store.ListOverlappingOverrides(ctx, o.SiteID, o.StartTime, o.EndTime)
	if err != nil {
		return nil, errs.Internalf(err, "check for overlapping overrides")
	}
	if len(overlapping) > 0 {
		return nil, errs.Newf(errs.Conflict, "override conflicts with %d existing override(s)", len(overlapping))
	}

	o.IsActive = true
	created, err := s.store.CreateOverride(ctx, o)
	if err != nil {
		return nil, errs.Internalf(err, "create override")
	}
	if err := s.activity.RecordCreate(ctx, "scheduler_overrides", created.ID, &actor.UserID); err != nil {
		return nil, err
	}
	return created, nil
}

// ListOverrides lists every override for a site.
func (s *Service) ListOverrides(ctx context.Context, actor authz.Actor, siteCompanyID, siteID int64) ([]*storage.SchedulerOverride, error) {
	if err := authz.AuthorizeSchedulingRead(actor, siteCompanyID); err != nil {
		return nil, err
	}
	list, err := s.store.ListOverridesBySite(ctx, siteID)
	if err != nil {
		return nil, errs.Internalf(err, "list overrides")
	}
	return list, nil
}

// DeleteOverride hard-deletes an override.
func (s *Service) DeleteOverride(ctx context.Context, actor authz.Actor, siteCompanyID, id int64) error {
	if err := authz.AuthorizeSchedulingWrite(actor, siteCompanyID); err != nil {
		return err
	}
	if err := s.store.DeleteOverride(ctx, id); err != nil {
		return errs.Internalf(err, "delete override")
	}
	return s.activity.RecordDelete(ctx, "scheduler_overrides", id, &actor.UserID)
}
