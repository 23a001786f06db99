// Package config provides shared configuration types for the control plane,
// adapted from the teacher component's common/config package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// DatabaseConfig holds database connection settings supporting SQLite
// (default, via modernc.org/sqlite) and PostgreSQL (via jackc/pgx) backends.
type DatabaseConfig struct {
	Driver              string `toml:"driver"`
	Path                string `toml:"path"`
	DSN                 string `toml:"dsn"`
	Host                string `toml:"host"`
	Port                int    `toml:"port"`
	User                string `toml:"user"`
	Password            string `toml:"password"`
	Name                string `toml:"name"`
	SSLMode             string `toml:"ssl_mode"`
	MaxOpenConns        int    `toml:"max_open_conns"`
	MaxIdleConns        int    `toml:"max_idle_conns"`
	ConnMaxLifetimeSecs int    `toml:"conn_max_lifetime_secs"`
}

// EffectiveDriver returns the configured driver, defaulting to "sqlite".
func (c *DatabaseConfig) EffectiveDriver() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}

// BuildDSN returns the connection string for the configured driver. An
// explicit DSN always wins; otherwise one is assembled from the individual
// fields.
func (c *DatabaseConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}

	switch c.EffectiveDriver() {
	case "postgres", "postgresql":
		port := c.Port
		if port == 0 {
			port = 5432
		}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "prefer"
		}
		dbName := c.Name
		if dbName == "" {
			dbName = "gridctl"
		}
		host := c.Host
		if host == "" {
			host = "localhost"
		}
		user := c.User
		if user == "" {
			user = "gridctl"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			user, c.Password, host, port, dbName, sslMode)
	default:
		if c.Path != "" {
			return c.Path
		}
		return "gridctl.db"
	}
}

// ApplyDatabaseEnvOverrides applies DATABASE_URL (spec-level, takes
// precedence over everything else when set) and the finer-grained DB_*
// environment variables used by the teacher's config layer.
func ApplyDatabaseEnvOverrides(cfg *DatabaseConfig) {
	getEnv := func(key string) string {
		return os.Getenv("DB_" + key)
	}

	if val := getEnv("DRIVER"); val != "" {
		cfg.Driver = val
	}
	if val := getEnv("PATH"); val != "" {
		cfg.Path = val
	}
	if val := getEnv("DSN"); val != "" {
		cfg.DSN = val
	}
	if val := getEnv("HOST"); val != "" {
		cfg.Host = val
	}
	if val := getEnv("PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Port = port
		}
	}
	if val := getEnv("USER"); val != "" {
		cfg.User = val
	}
	if val := getEnv("PASSWORD"); val != "" {
		cfg.Password = val
	}
	if val := getEnv("NAME"); val != "" {
		cfg.Name = val
	}
	if val := getEnv("SSL_MODE"); val != "" {
		cfg.SSLMode = val
	}
	if val := getEnv("MAX_OPEN_CONNS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.MaxOpenConns = n
		}
	}
	if val := getEnv("MAX_IDLE_CONNS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.MaxIdleConns = n
		}
	}
	if val := getEnv("CONN_MAX_LIFETIME_SECS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.ConnMaxLifetimeSecs = n
		}
	}

	// DATABASE_URL is the documented wire-level override and takes
	// priority over every individual DB_* field, including an explicit DSN.
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.DSN = val
		if strings.HasPrefix(val, "postgres://") || strings.HasPrefix(val, "postgresql://") {
			cfg.Driver = "postgres"
		}
	}
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// ApplyLoggingEnvOverrides applies LOG_LEVEL.
func ApplyLoggingEnvOverrides(cfg *LoggingConfig) {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Level = val
	}
}

// BootstrapConfig names the platform operator company and the bootstrap
// admin account created on first startup (spec §6).
type BootstrapConfig struct {
	PlatformCompanyName string `toml:"platform_company_name"`
	DefaultAdminEmail   string `toml:"default_admin_email"`
}

// DefaultBootstrapConfig returns the documented defaults, then applies
// NEEMS_DEFAULT_USER if set.
func DefaultBootstrapConfig() BootstrapConfig {
	cfg := BootstrapConfig{
		PlatformCompanyName: "Newtown Energy",
		DefaultAdminEmail:   "superadmin@example.com",
	}
	if val := os.Getenv("NEEMS_DEFAULT_USER"); val != "" {
		cfg.DefaultAdminEmail = val
	}
	return cfg
}

// LoadTOML loads a TOML configuration file into the provided structure.
func LoadTOML(path string, out interface{}) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}
	if _, err := toml.DecodeFile(path, out); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// WriteTOML writes cfg to path, overwriting any existing file.
func WriteTOML(path string, cfg interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
