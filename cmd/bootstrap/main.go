// Command bootstrap wires storage, logging, and configuration together and
// runs the platform-operator bootstrap sequence (spec section on process
// startup). It is meant to be invoked once per environment, ahead of
// whatever REST/UI adapter a deployment puts in front of the core packages.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/newtownenergy/gridctl/config"
	"github.com/newtownenergy/gridctl/identity"
	"github.com/newtownenergy/gridctl/logger"
	"github.com/newtownenergy/gridctl/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bootstrap failed:", err)
		os.Exit(1)
	}
}

func run() error {
	var dbCfg config.DatabaseConfig
	var logCfg config.LoggingConfig
	if path := os.Getenv("GRIDCTL_CONFIG"); path != "" {
		var file struct {
			Database config.DatabaseConfig `toml:"database"`
			Logging  config.LoggingConfig  `toml:"logging"`
		}
		if err := config.LoadTOML(path, &file); err != nil {
			return err
		}
		dbCfg, logCfg = file.Database, file.Logging
	}
	config.ApplyDatabaseEnvOverrides(&dbCfg)
	config.ApplyLoggingEnvOverrides(&logCfg)

	log := logger.New(logger.LevelFromString(logCfg.Level), "", 1000)
	defer log.Close()

	store, err := storage.NewStore(dbCfg.BuildDSN())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	bootCfg := config.DefaultBootstrapConfig()

	// Password hashing is an external collaborator; bootstrap only ever
	// consumes an already-hashed credential. BOOTSTRAP_ADMIN_PASSWORD_HASH
	// must be set by whatever adapter owns the hashing scheme in a real
	// deployment, but we carry on with a clearly unusable placeholder so
	// the rest of the startup sequence (company, roles) is never blocked.
	passwordHash := os.Getenv("BOOTSTRAP_ADMIN_PASSWORD_HASH")
	if passwordHash == "" {
		passwordHash = "unset"
		log.Warn("BOOTSTRAP_ADMIN_PASSWORD_HASH not set, admin account will not be able to authenticate until its credential is rotated")
	}

	result, err := identity.New(store).Bootstrap(context.Background(), bootCfg.PlatformCompanyName, bootCfg.DefaultAdminEmail, passwordHash)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if result.Created {
		log.Info("platform operator bootstrapped", "company_id", result.PlatformCompany.ID, "admin_user_id", result.AdminUser.ID)
	} else {
		log.Info("platform operator already present", "company_id", result.PlatformCompany.ID, "admin_user_id", result.AdminUser.ID)
	}
	return nil
}
