// Package catalog implements the site and device catalog: sites belong
// to companies, devices belong to sites, with uniqueness enforced within
// the parent scope and company/site consistency checked on create.
package catalog

import (
	"context"
	"strings"

	"github.com/newtownenergy/gridctl/activity"
	"github.com/newtownenergy/gridctl/authz"
	"github.com/newtownenergy/gridctl/errs"
	"github.com/newtownenergy/gridctl/storage"
)

// Service implements site and device catalog operations.
type Service struct {
	store    storage.Store
	activity *activity.Recorder
}

// New builds a catalog Service backed by store.
func New(store storage.Store) *Service {
	return &Service{store: store, activity: activity.New(store)}
}

// CreateSite creates a site under site.CompanyID.
func (s *Service) CreateSite(ctx context.Context, actor authz.Actor, site *storage.Site) (*storage.Site, error) {
	if err := authz.AuthorizeSiteWrite(actor, site.CompanyID); err != nil {
		return nil, err
	}
	created, err := s.store.CreateSite(ctx, site)
	if err != nil {
		return nil, errs.Wrap(errs.Conflict, err, "site name already in use for this company")
	}
	if err := s.activity.RecordCreate(ctx, "sites", created.ID, &actor.UserID); err != nil {
		return nil, err
	}
	return created, nil
}

// GetSite returns a site, gated by read-tenancy.
func (s *Service) GetSite(ctx context.Context, actor authz.Actor, id int64) (*storage.Site, error) {
	site, err := s.store.GetSite(ctx, id)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "site not found")
	}
	if err := authz.AuthorizeSiteRead(actor, site.CompanyID); err != nil {
		return nil, err
	}
	return site, nil
}

// ListSitesByCompany lists a company's sites, gated by read-tenancy.
func (s *Service) ListSitesByCompany(ctx context.Context, actor authz.Actor, companyID int64) ([]*storage.Site, error) {
	if err := authz.AuthorizeSiteRead(actor, companyID); err != nil {
		return nil, err
	}
	list, err := s.store.ListSitesByCompany(ctx, companyID)
	if err != nil {
		return nil, errs.Internalf(err, "list sites")
	}
	return list, nil
}

// UpdateSite updates a site's fields.
func (s *Service) UpdateSite(ctx context.Context, actor authz.Actor, site *storage.Site) error {
	if err := authz.AuthorizeSiteWrite(actor, site.CompanyID); err != nil {
		return err
	}
	if err := s.store.UpdateSite(ctx, site); err != nil {
		return errs.Internalf(err, "update site")
	}
	return s.activity.RecordUpdate(ctx, "sites", site.ID, &actor.UserID)
}

// DeleteSite deletes a site, cascading to its devices, templates,
// scripts, overrides, and rules.
func (s *Service) DeleteSite(ctx context.Context, actor authz.Actor, id, companyID int64) error {
	if err := authz.AuthorizeSiteWrite(actor, companyID); err != nil {
		return err
	}
	if err := s.store.DeleteSite(ctx, id); err != nil {
		return errs.Internalf(err, "delete site")
	}
	return s.activity.RecordDelete(ctx, "sites", id, &actor.UserID)
}

// CreateDevice creates a device under site. If d.Name is empty it
// defaults to d.Type. site.CompanyID must match d.CompanyID.
func (s *Service) CreateDevice(ctx context.Context, actor authz.Actor, site *storage.Site, d *storage.Device) (*storage.Device, error) {
	if err := authz.AuthorizeSiteWrite(actor, site.CompanyID); err != nil {
		return nil, err
	}
	if d.CompanyID == 0 {
		d.CompanyID = site.CompanyID
	}
	if d.CompanyID != site.CompanyID {
		return nil, errs.New(errs.BadRequest, "device company must match its site's company")
	}
	if strings.TrimSpace(d.Name) == "" {
		d.Name = d.Type
	}
	d.SiteID = site.ID

	created, err := s.store.CreateDevice(ctx, d)
	if err != nil {
		return nil, errs.Wrap(errs.Conflict, err, "device name already in use for this site")
	}
	if err := s.activity.RecordCreate(ctx, "devices", created.ID, &actor.UserID); err != nil {
		return nil, err
	}
	return created, nil
}

// GetDevice returns a device, gated by read-tenancy on its site's company.
func (s *Service) GetDevice(ctx context.Context, actor authz.Actor, id int64) (*storage.Device, error) {
	d, err := s.store.GetDevice(ctx, id)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "device not found")
	}
	if err := authz.AuthorizeSiteRead(actor, d.CompanyID); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDevicesBySite lists a site's devices, gated by read-tenancy.
func (s *Service) ListDevicesBySite(ctx context.Context, actor authz.Actor, site *storage.Site) ([]*storage.Device, error) {
	if err := authz.AuthorizeSiteRead(actor, site.CompanyID); err != nil {
		return nil, err
	}
	list, err := s.store.ListDevicesBySite(ctx, site.ID)
	if err != nil {
		return nil, errs.Internalf(err, "list devices")
	}
	return list, nil
}

// UpdateDevice updates a device's fields.
func (s *Service) UpdateDevice(ctx context.Context, actor authz.Actor, d *storage.Device) error {
	if err := authz.AuthorizeSiteWrite(actor, d.CompanyID); err != nil {
		return err
	}
	if err := s.store.UpdateDevice(ctx, d); err != nil {
		return errs.Internalf(err, "update device")
	}
	return s.activity.RecordUpdate(ctx, "devices", d.ID, &actor.UserID)
}

// DeleteDevice deletes a device.
func (s *Service) DeleteDevice(ctx context.Context, actor authz.Actor, id, companyID int64) error {
	if err := authz.AuthorizeSiteWrite(actor, companyID); err != nil {
		return err
	}
	if err := s.store.DeleteDevice(ctx, id); err != nil {
		return errs.Internalf(err, "delete device")
	}
	return s.activity.RecordDelete(ctx, "devices", id, &actor.UserID)
}
