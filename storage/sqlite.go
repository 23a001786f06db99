package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/newtownenergy/gridctl/logger"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

// Log is the package-level structured logger, injected by the caller.
var Log *logger.Logger

// SetLogger wires the shared logger into the storage package.
func SetLogger(l *logger.Logger) {
	Log = l
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed Store at dbPath.
// Use ":memory:" for an ephemeral in-process database.
func NewSQLiteStore(dbPath string) (*sqlStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	connStr := dbPath + "?_pragma=foreign_keys(1)"
	if dbPath != ":memory:" {
		connStr = dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	s := &sqlStore{BaseStore: NewBaseStore(db, &SQLiteDialect{})}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	if Log != nil {
		Log.Info("opened sqlite database", "path", dbPath)
	}
	return s, nil
}

// sqlStore implements Store against a single *sql.DB using dialect-neutral
// SQL generated from BaseStore, plus dialect-specific schema DDL and
// triggers for the two backends this package supports.
type sqlStore struct {
	*BaseStore
}

func (s *sqlStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS companies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_name_ci ON companies (LOWER(name))`,

		`CREATE TABLE IF NOT EXISTS roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
			totp_secret TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_ci ON users (LOWER(email))`,

		`CREATE TABLE IF NOT EXISTS user_roles (
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
			PRIMARY KEY (user_id, role_id)
		)`,

		`CREATE TABLE IF NOT EXISTS sites (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			latitude REAL,
			longitude REAL,
			company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sites_company_name_ci ON sites (company_id, LOWER(name))`,

		`CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			serial TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			install_date DATETIME,
			company_id INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
			site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_devices_site_name_ci ON devices (site_id, LOWER(name))`,

		`CREATE TABLE IF NOT EXISTS schedule_library_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			commands TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_library_site_name_ci ON schedule_library_items (site_id, LOWER(name))`,

		`CREATE TABLE IF NOT EXISTS application_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			template_id INTEGER NOT NULL REFERENCES schedule_library_items(id) ON DELETE CASCADE,
			rule_type TEXT NOT NULL,
			days_of_week TEXT,
			specific_dates TEXT,
			override_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS scheduler_scripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			script_content TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'lua',
			is_active INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_scripts_site_name_ci ON scheduler_scripts (site_id, LOWER(name))`,

		`CREATE TABLE IF NOT EXISTS scheduler_overrides (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			site_id INTEGER NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
			state TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_by_user_id INTEGER NOT NULL REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_overrides_site_active ON scheduler_overrides (site_id, is_active)`,

		`CREATE TABLE IF NOT EXISTS entity_activity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_table TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			user_id INTEGER,
			at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_entity ON entity_activity (entity_table, entity_id)`,

		// Platform-role tenancy: newtown-admin/newtown-staff may only be
		// assigned to users of the platform operator company. The operator
		// is the company whose name matches, case-insensitively, the one
		// fixed at bootstrap; rather than hardcode a name here, the trigger
		// relies on a dedicated marker table populated once at bootstrap.
		`CREATE TABLE IF NOT EXISTS platform_operator (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			company_id INTEGER NOT NULL REFERENCES companies(id)
		)`,

		`CREATE TRIGGER IF NOT EXISTS trg_platform_role_tenancy
		BEFORE INSERT ON user_roles
		WHEN (SELECT name FROM roles WHERE id = NEW.role_id) IN ('newtown-admin', 'newtown-staff')
			AND (SELECT company_id FROM users WHERE id = NEW.user_id) <>
				(SELECT company_id FROM platform_operator WHERE id = 1)
		BEGIN
			SELECT RAISE(ABORT, 'platform role reserved to platform operator company');
		END`,

		`CREATE TRIGGER IF NOT EXISTS trg_last_role_guard
		BEFORE DELETE ON user_roles
		WHEN (SELECT COUNT(*) FROM user_roles WHERE user_id = OLD.user_id) <= 1
			AND EXISTS (SELECT 1 FROM users WHERE id = OLD.user_id)
		BEGIN
			SELECT RAISE(ABORT, 'user must retain at least one role');
		END`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w (stmt: %s)", err, stmt)
		}
	}
	return nil
}

// SetPlatformOperator records the platform operator company id, used by
// the tenancy trigger. Safe to call repeatedly; the row is a singleton.
func (s *sqlStore) SetPlatformOperator(ctx context.Context, companyID int64) error {
	_, err := s.execContext(ctx,
		`INSERT INTO platform_operator (id, company_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET company_id = excluded.company_id`,
		companyID)
	return err
}

// --- Companies ---

func (s *sqlStore) CreateCompany(ctx context.Context, name string) (*Company, error) {
	id, err := s.insertReturningID(ctx, `INSERT INTO companies (name) VALUES (?)`, name)
	if err != nil {
		return nil, err
	}
	return &Company{ID: id, Name: name}, nil
}

func (s *sqlStore) GetCompany(ctx context.Context, id int64) (*Company, error) {
	row := s.queryRowContext(ctx, `SELECT id, name FROM companies WHERE id = ?`, id)
	c := &Company{}
	if err := row.Scan(&c.ID, &c.Name); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *sqlStore) GetCompanyByName(ctx context.Context, name string) (*Company, error) {
	row := s.queryRowContext(ctx, `SELECT id, name FROM companies WHERE LOWER(name) = LOWER(?)`, name)
	c := &Company{}
	if err := row.Scan(&c.ID, &c.Name); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *sqlStore) ListCompanies(ctx context.Context) ([]*Company, error) {
	rows, err := s.queryContext(ctx, `SELECT id, name FROM companies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Company
	for rows.Next() {
		c := &Company{}
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteCompany(ctx context.Context, id int64) error {
	_, err := s.execContext(ctx, `DELETE FROM companies WHERE id = ?`, id)
	return err
}

// --- Roles ---

func (s *sqlStore) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	id, err := s.insertReturningID(ctx, `INSERT INTO roles (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		return nil, err
	}
	return &Role{ID: id, Name: name, Description: description}, nil
}

func (s *sqlStore) GetRole(ctx context.Context, id int64) (*Role, error) {
	row := s.queryRowContext(ctx, `SELECT id, name, description FROM roles WHERE id = ?`, id)
	r := &Role{}
	if err := row.Scan(&r.ID, &r.Name, &r.Description); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *sqlStore) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	row := s.queryRowContext(ctx, `SELECT id, name, description FROM roles WHERE name = ?`, name)
	r := &Role{}
	if err := row.Scan(&r.ID, &r.Name, &r.Description); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *sqlStore) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := s.queryContext(ctx, `SELECT id, name, description FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Role
	for rows.Next() {
		r := &Role{}
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateRole(ctx context.Context, id int64, description string) error {
	_, err := s.execContext(ctx, `UPDATE roles SET description = ? WHERE id = ?`, description, id)
	return err
}

func (s *sqlStore) DeleteRole(ctx context.Context, id int64) error {
	_, err := s.execContext(ctx, `DELETE FROM roles WHERE id = ?`, id)
	return err
}

// --- Users ---

func (s *sqlStore) CreateUser(ctx context.Context, u *User) (*User, error) {
	id, err := s.insertReturningID(ctx,
		`INSERT INTO users (email, password_hash, company_id, totp_secret) VALUES (?, ?, ?, ?)`,
		u.Email, u.PasswordHash, u.CompanyID, u.TOTPSecret)
	if err != nil {
		return nil, err
	}
	u.ID = id
	return u, nil
}

func (s *sqlStore) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CompanyID, &u.TOTPSecret); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *sqlStore) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.scanUser(s.queryRowContext(ctx,
		`SELECT id, email, password_hash, company_id, totp_secret FROM users WHERE id = ?`, id))
}

func (s *sqlStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.queryRowContext(ctx,
		`SELECT id, email, password_hash, company_id, totp_secret FROM users WHERE LOWER(email) = LOWER(?)`, email))
}

func (s *sqlStore) ListUsersByCompany(ctx context.Context, companyID int64) ([]*User, error) {
	rows, err := s.queryContext(ctx,
		`SELECT id, email, password_hash, company_id, totp_secret FROM users WHERE company_id = ? ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CompanyID, &u.TOTPSecret); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.queryContext(ctx,
		`SELECT id, email, password_hash, company_id, totp_secret FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CompanyID, &u.TOTPSecret); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateUser(ctx context.Context, u *User) error {
	_, err := s.execContext(ctx,
		`UPDATE users SET email = ?, password_hash = ?, company_id = ?, totp_secret = ? WHERE id = ?`,
		u.Email, u.PasswordHash, u.CompanyID, u.TOTPSecret, u.ID)
	return err
}

func (s *sqlStore) DeleteUser(ctx context.Context, id int64) error {
	_, err := s.execContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

func (s *sqlStore) AssignUserRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.execContext(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

func (s *sqlStore) RemoveUserRole(ctx context.Context, userID, roleID int64) error {
	_, err := s.execContext(ctx, `DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`, userID, roleID)
	return err
}

func (s *sqlStore) ListUserRoles(ctx context.Context, userID int64) ([]*Role, error) {
	rows, err := s.queryContext(ctx,
		`SELECT r.id, r.name, r.description FROM roles r
		 JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = ? ORDER BY r.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Role
	for rows.Next() {
		r := &Role{}
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountUserRoles(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.queryRowContext(ctx, `SELECT COUNT(*) FROM user_roles WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// --- Sites ---

func (s *sqlStore) CreateSite(ctx context.Context, site *Site) (*Site, error) {
	id, err := s.insertReturningID(ctx,
		`INSERT INTO sites (name, address, latitude, longitude, company_id) VALUES (?, ?, ?, ?, ?)`,
		site.Name, site.Address, site.Latitude, site.Longitude, site.CompanyID)
	if err != nil {
		return nil, err
	}
	site.ID = id
	return site, nil
}

func (s *sqlStore) scanSite(row *sql.Row) (*Site, error) {
	site := &Site{}
	if err := row.Scan(&site.ID, &site.Name, &site.Address, &site.Latitude, &site.Longitude, &site.CompanyID); err != nil {
		return nil, err
	}
	return site, nil
}

func (s *sqlStore) GetSite(ctx context.Context, id int64) (*Site, error) {
	return s.scanSite(s.queryRowContext(ctx,
		`SELECT id, name, address, latitude, longitude, company_id FROM sites WHERE id = ?`, id))
}

func (s *sqlStore) ListSitesByCompany(ctx context.Context, companyID int64) ([]*Site, error) {
	rows, err := s.queryContext(ctx,
		`SELECT id, name, address, latitude, longitude, company_id FROM sites WHERE company_id = ? ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Site
	for rows.Next() {
		site := &Site{}
		if err := rows.Scan(&site.ID, &site.Name, &site.Address, &site.Latitude, &site.Longitude, &site.CompanyID); err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateSite(ctx context.Context, site *Site) error {
	_, err := s.execContext(ctx,
		`UPDATE sites SET name = ?, address = ?, latitude = ?, longitude = ?, company_id = ? WHERE id = ?`,
		site.Name, site.Address, site.Latitude, site.Longitude, site.CompanyID, site.ID)
	return err
}

func (s *sqlStore) DeleteSite(ctx context.Context, id int64) error {
	_, err := s.execContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	return err
}

// --- Devices ---

func (s *sqlStore) CreateDevice(ctx context.Context, d *Device) (*Device, error) {
	id, err := s.insertReturningID(ctx,
		`INSERT INTO devices (name, type, model, description, serial, ip_address, install_date, company_id, site_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.Type, d.Model, d.Description, d.Serial, d.IPAddress, d.InstallDate, d.CompanyID, d.SiteID)
	if err != nil {
		return nil, err
	}
	d.ID = id
	return d, nil
}

func (s *sqlStore) scanDevice(row *sql.Row) (*Device, error) {
	d := &Device{}
	if err := row.Scan(&d.ID, &d.Name, &d.Type, &d.Model, &d.Description, &d.Serial, &d.IPAddress, &d.InstallDate, &d.CompanyID, &d.SiteID); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *sqlStore) GetDevice(ctx context.Context, id int64) (*Device, error) {
	return s.scanDevice(s.queryRowContext(ctx,
		`SELECT id, name, type, model, description, serial, ip_address, install_date, company_id, site_id
		 FROM devices WHERE id = ?`, id))
}

func (s *sqlStore) ListDevicesBySite(ctx context.Context, siteID int64) ([]*Device, error) {
	rows, err := s.queryContext(ctx,
		`SELECT id, name, type, model, description, serial, ip_address, install_date, company_id, site_id
		 FROM devices WHERE site_id = ? ORDER BY id`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Device
	for rows.Next() {
		d := &Device{}
		if err := rows.Scan(&d.ID, &d.Name, &d.Type, &d.Model, &d.Description, &d.Serial, &d.IPAddress, &d.InstallDate, &d.CompanyID, &d.SiteID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateDevice(ctx context.Context, d *Device) error {
	_, err := s.execContext(ctx,
		`UPDATE devices SET name = ?, type = ?, model = ?, description = ?, serial = ?, ip_address = ?, install_date = ?, company_id = ?, site_id = ?
		 WHERE id = ?`,
		d.Name, d.Type, d.Model, d.Description, d.Serial, d.IPAddress, d.InstallDate, d.CompanyID, d.SiteID, d.ID)
	return err
}

func (s *sqlStore) DeleteDevice(ctx context.Context, id int64) error {
	_, err := s.execContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	return err
}

// --- Schedule library ---

func (s *sqlStore) CreateLibraryItem(ctx context.Context, item *ScheduleLibraryItem) (*ScheduleLibraryItem, error) {
	id, err := s.insertReturningID(ctx,
		`INSERT INTO schedule_library_items (site_id, name, commands) VALUES (?, ?, ?)`,
		item.SiteID, item.Name, item.Commands)
	if err != nil {
		return nil, err
	}
	item.ID = id
	return item, nil
}

func (s *sqlStore) scanLibraryItem(row *sql.Row) (*ScheduleLibraryItem, error) {
	item := &ScheduleLibraryItem{}
	if err := row.Scan(&item.ID, &item.SiteID, &item.Name, &item.Commands); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *sqlStore) GetLibraryItem(ctx context.Context, id int64) (*ScheduleLibraryItem, error) {
	return s.scanLibraryItem(s.queryRowContext(ctx,
		`SELECT id, site_id, name, commands FROM schedule_library_items WHERE id = ?`, id))
}

func (s *sqlStore) GetLibraryItemByName(ctx context.Context, siteID int64, name string) (*ScheduleLibraryItem, error) {
	return s.scanLibraryItem(s.queryRowContext(ctx,
		`SELECT id, site_id, name, commands FROM schedule_library_items WHERE site_id = ? AND LOWER(name) = LOWER(?)`,
		siteID, name))
}

func (s *sqlStore) ListLibraryItemsBySite(ctx context.Context, siteID int64) ([]*ScheduleLibraryItem, error) {
	rows, err := s.queryContext(ctx,
		`SELECT id, site_id, name, commands FROM schedule_library_items WHERE site_id = ? ORDER BY id`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ScheduleLibraryItem
	for rows.Next() {
		item := &ScheduleLibraryItem{}
		if err := rows.Scan(&item.ID, &item.SiteID, &item.Name, &item.Commands); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateLibraryItem(ctx context.Context, item *ScheduleLibraryItem) error {
	_, err := s.execContext(ctx,
		`UPDATE schedule_library_items SET name = ?, commands = ? WHERE id = ?`, item.Name, item.Commands, item.ID)
	return err
}

func (s *sqlStore) DeleteLibraryItem(ctx context.Context, id int64) error {
	_, err := s.execContext(ctx, `DELETE FROM schedule_library_items WHERE id = ?`, id)
	return err
}

// --- Application rules ---

func (s *sqlStore) CreateApplicationRule(ctx context.Context, r *ApplicationRule) (*ApplicationRule, error) {
	var err error
	if r.RuleType == RuleDefault {
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if err := deleteDefaultRulesForSiteTx(ctx, tx, s.txQuery, r.TemplateID); err != nil {
				return err
			}
			id, err := s.insertApplicationRuleTx(ctx, tx, r)
			if err != nil {
				return err
			}
			r.ID = id
			return nil
		})
		return r, err
	}

	id, err := s.insertReturningID(ctx,
		`INSERT INTO application_rules (template_id, rule_type, days_of_week, specific_dates, override_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.TemplateID, string(r.RuleType), encodeIntSet(r.DaysOfWeek), encodeStringSet(r.SpecificDates), r.OverrideReason, nowOrSet(r.CreatedAt))
	if err != nil {
		return nil, err
	}
	r.ID = id
	return r, nil
}

func (s *sqlStore) insertApplicationRuleTx(ctx context.Context, tx *sql.Tx, r *ApplicationRule) (int64, error) {
	stmt := s.txQuery(
		`INSERT INTO application_rules (template_id, rule_type, days_of_week, specific_dates, override_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	args := []interface{}{r.TemplateID, string(r.RuleType), encodeIntSet(r.DaysOfWeek), encodeStringSet(r.SpecificDates), r.OverrideReason, nowOrSet(r.CreatedAt)}
	if s.dialect.Name() == "postgres" {
		var id int64
		err := tx.QueryRowContext(ctx, stmt+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func deleteDefaultRulesForSiteTx(ctx context.Context, tx *sql.Tx, q func(string) string, templateID int64) error {
	_, err := tx.ExecContext(ctx, q(
		`DELETE FROM application_rules WHERE rule_type = 'default' AND template_id IN (
			SELECT id FROM schedule_library_items WHERE site_id = (
				SELECT site_id FROM schedule_library_items WHERE id = ?
			)
		)`), templateID)
	return err
}

func nowOrSet(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func (s *sqlStore) scanApplicationRule(row *sql.Row) (*ApplicationRule, error) {
	r := &ApplicationRule{}
	var ruleType, days, dates string
	var daysNull, datesNull sql.NullString
	if err := row.Scan(&r.ID, &r.TemplateID, &ruleType, &daysNull, &datesNull, &r.OverrideReason, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.RuleType = RuleType(ruleType)
	days = daysNull.String
	dates = datesNull.String
	r.DaysOfWeek = decodeIntSet(days)
	r.SpecificDates = decodeStringSet(dates)
	return r, nil
}

func (s *sqlStore) GetApplicationRule(ctx context.Context, id int64) (*ApplicationRule, error) {
	return s.scanApplicationRule(s.queryRowContext(ctx,
		`SELECT id, template_id, rule_type, days_of_week, specific_dates, override_reason, created_at
		 FROM application_rules WHERE id = ?`, id))
}

func (s *sqlStore) ListApplicationRulesByTemplate(ctx context.Context, templateID int64) ([]*ApplicationRule, error) {
	rows, err := s.queryContext(ctx,
		`SELECT id, template_id, rule_type, days_of_week, specific_dates, override_reason, created_at
		 FROM application_rules WHERE template_id = ? ORDER BY created_at DESC`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApplicationRules(rows)
}

func (s *sqlStore) ListApplicationRulesBySite(ctx context.Context, siteID int64) ([]*ApplicationRule, error) {
	rows, err := s.queryContext(ctx,
		`SELECT ar.id, ar.template_id, ar.rule_type, ar.days_of_week, ar.specific_dates, ar.override_reason, ar.created_at
		 FROM application_rules ar
		 JOIN schedule_library_items sli ON sli.id = ar.template_id
		 WHERE sli.site_id = ?
		 ORDER BY ar.created_at DESC`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanApplicationRules(rows)
}

func scanApplicationRules(rows *sql.Rows) ([]*ApplicationRule, error) {
	var out []*ApplicationRule
	for rows.Next() {
		r := &ApplicationRule{}
		var ruleType string
		var days, dates sql.NullString
		if err := rows.Scan(&r.ID, &r.TemplateID, &ruleType, &days, &dates, &r.OverrideReason, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.RuleType = RuleType(ruleType)
		r.DaysOfWeek = decodeIntSet(days.String)
		r.SpecificDates = decodeStringSet(dates.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteDefaultRulesForSite(ctx context.Context, siteID int64) error {
	_, err := s.execContext(ctx,
		`DELETE FROM application_rules WHERE rule_type = 'default' AND template_id IN (
			SELECT id FROM schedule_library_items WHERE site_id = ?
		)`, siteID)
	return err
}

func (s *sqlStore) DeleteApplicationRule(ctx context.Context, id int64) error {
	_, err := s.execContext(ctx, `DELETE FROM application_rules WHERE id = ?`, id)
	return err
}

func encodeIntSet(vals []int) string {
	if len(vals) == 0 {
		return ""
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}

func decodeIntSet(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		var v int
		if _, err := fmt.Sscanf(p, "%d", &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func encodeStringSet(vals []string) string {
	return strings.Join(vals, ",")
}

func decodeStringSet(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// --- Scheduler scripts ---

func (s *sqlStore) CreateScript(ctx context.Context, sc *SchedulerScript) (*SchedulerScript, error) {
	id, err := s.insertReturningID(ctx,
		`INSERT INTO scheduler_scripts (site_id, name, script_content, language, is_active, version)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sc.SiteID, sc.Name, sc.ScriptContent, sc.Language, sc.IsActive, sc.Version)
	if err != nil {
		return nil, err
	}
	sc.ID = id
	return sc, nil
}

func (s *sqlStore) scanScript(row *sql.Row) (*SchedulerScript, error) {
	sc := &SchedulerScript{}
	if err := row.Scan(&sc.ID, &sc.SiteID, &sc.Name, &sc.ScriptContent, &sc.Language, &sc.IsActive, &sc.Version); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *sqlStore) GetScript(ctx context.Context, id int64) (*SchedulerScript, error) {
	return s.scanScript(s.queryRowContext(ctx,
		`SELECT id, site_id, name, script_content, language, is_active, version FROM scheduler_scripts WHERE id = ?`, id))
}

func (s *sqlStore) GetScriptByName(ctx context.Context, siteID int64, name string) (*SchedulerScript, error) {
	return s.scanScript(s.queryRowContext(ctx,
		`SELECT id, site_id, name, script_content, language, is_active, version
		 FROM scheduler_scripts WHERE site_id = ? AND LOWER(name) = LOWER(?)`, siteID, name))
}

func (s *sqlStore) ListScriptsBySite(ctx context.Context, siteID int64) ([]*SchedulerScript, error) {
	rows, err := s.queryContext(ctx,
		`SELECT id, site_id, name, script_content, language, is_active, version
		 FROM scheduler_scripts WHERE site_id = ? ORDER BY id`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SchedulerScript
	for rows.Next() {
		sc := &SchedulerScript{}
		if err := rows.Scan(&sc.ID, &sc.SiteID, &sc.Name, &sc.ScriptContent, &sc.Language, &sc.IsActive, &sc.Version); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetActiveScriptForSite(ctx context.Context, siteID int64) (*SchedulerScript, error) {
	sc, err := s.scanScript(s.queryRowContext(ctx,
		`SELECT id, site_id, name, script_content, language, is_active, version
		 FROM scheduler_scripts WHERE site_id = ? AND is_active = TRUE
		 ORDER BY version DESC, id DESC LIMIT 1`, siteID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sc, err
}

func (s *sqlStore) UpdateScript(ctx context.Context, sc *SchedulerScript) error {
	_, err := s.execContext(ctx,
		`UPDATE scheduler_scripts SET name = ?, script_content = ?, language = ?, is_active = ?, version = ? WHERE id = ?`,
		sc.Name, sc.ScriptContent, sc.Language, sc.IsActive, sc.Version, sc.ID)
	return err
}

func (s *sqlStore) DeleteScript(ctx context.Context, id int64) error {
	_, err := s.execContext(ctx, `DELETE FROM scheduler_scripts WHERE id = ?`, id)
	return err
}

// --- Scheduler overrides ---

func (s *sqlStore) CreateOverride(ctx context.Context, o *SchedulerOverride) (*SchedulerOverride, error) {
	id, err := s.insertReturningID(ctx,
		`INSERT INTO scheduler_overrides (site_id, state, start_time, end_time, reason, is_active, created_by_user_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.SiteID, string(o.State), o.StartTime, o.EndTime, o.Reason, o.IsActive, o.CreatedByUserID)
	if err != nil {
		return nil, err
	}
	o.ID = id
	return o, nil
}

func (s *sqlStore) scanOverride(row *sql.Row) (*SchedulerOverride, error) {
	o := &SchedulerOverride{}
	var state string
	if err := row.Scan(&o.ID, &o.SiteID, &state, &o.StartTime, &o.EndTime, &o.Reason, &o.IsActive, &o.CreatedByUserID); err != nil {
		return nil, err
	}
	o.State = SiteState(state)
	return o, nil
}

func (s *sqlStore) GetOverride(ctx context.Context, id int64) (*SchedulerOverride, error) {
	return s.scanOverride(s.queryRowContext(ctx,
		`SELECT id, site_id, state, start_time, end_time, reason, is_active, created_by_user_id
		 FROM scheduler_overrides WHERE id = ?`, id))
}

func (s *sqlStore) ListOverridesBySite(ctx context.Context, siteID int64) ([]*SchedulerOverride, error) {
	rows, err := s.queryContext(ctx,
		`SELECT id, site_id, state, start_time, end_time, reason, is_active, created_by_user_id
		 FROM scheduler_overrides WHERE site_id = ? ORDER BY start_time`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOverrides(rows)
}

func (s *sqlStore) ListOverlappingOverrides(ctx context.Context, siteID int64, start, end time.Time) ([]*SchedulerOverride, error) {
	rows, err := s.queryContext(ctx,
		`SELECT id, site_id, state, start_time, end_time, reason, is_active, created_by_user_id
		 FROM scheduler_overrides
		 WHERE site_id = ? AND is_active = TRUE AND start_time < ? AND end_time > ?`,
		siteID, end, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOverrides(rows)
}

func (s *sqlStore) GetActiveOverrideAt(ctx context.Context, siteID int64, at time.Time) (*SchedulerOverride, error) {
	row := s.queryRowContext(ctx,
		`SELECT id, site_id, state, start_time, end_time, reason, is_active, created_by_user_id
		 FROM scheduler_overrides
		 WHERE site_id = ? AND is_active = TRUE AND start_time <= ? AND end_time > ?
		 LIMIT 1`, siteID, at, at)
	o, err := s.scanOverride(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

func scanOverrides(rows *sql.Rows) ([]*SchedulerOverride, error) {
	var out []*SchedulerOverride
	for rows.Next() {
		o := &SchedulerOverride{}
		var state string
		if err := rows.Scan(&o.ID, &o.SiteID, &state, &o.StartTime, &o.EndTime, &o.Reason, &o.IsActive, &o.CreatedByUserID); err != nil {
			return nil, err
		}
		o.State = SiteState(state)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteOverride(ctx context.Context, id int64) error {
	_, err := s.execContext(ctx, `DELETE FROM scheduler_overrides WHERE id = ?`, id)
	return err
}

// --- Activity log ---

func (s *sqlStore) RecordActivity(ctx context.Context, a *EntityActivity) error {
	at := nowOrSet(a.At)
	_, err := s.execContext(ctx,
		`INSERT INTO entity_activity (entity_table, entity_id, action, user_id, at) VALUES (?, ?, ?, ?, ?)`,
		a.EntityTable, a.EntityID, string(a.Action), a.UserID, at)
	return err
}

func (s *sqlStore) EntityTimestamps(ctx context.Context, table string, entityID int64) (*time.Time, *time.Time, error) {
	// Scalar subqueries over the at column (rather than MIN/MAX aggregates)
	// keep its DATETIME declared type visible to the SQLite driver, which
	// otherwise hands back the stored text instead of a time value.
	row := s.queryRowContext(ctx,
		`SELECT
			(SELECT at FROM entity_activity WHERE entity_table = ? AND entity_id = ? AND action = 'create' ORDER BY at ASC LIMIT 1),
			(SELECT at FROM entity_activity WHERE entity_table = ? AND entity_id = ? ORDER BY at DESC LIMIT 1)`,
		table, entityID, table, entityID)
	var created, updated sql.NullTime
	if err := row.Scan(&created, &updated); err != nil {
		return nil, nil, err
	}
	var c, u *time.Time
	if created.Valid {
		c = &created.Time
	}
	if updated.Valid {
		u = &updated.Time
	}
	return c, u, nil
}
