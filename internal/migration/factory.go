package migration

import (
	"fmt"

	appconfig "github.com/pixelforge/pixelforge/config"
)

// ParseDatabaseType maps a config driver name onto a DatabaseType.
func ParseDatabaseType(driver string) (DatabaseType, error) {
	switch driver {
	case "postgres", "postgresql":
		return DatabaseTypePostgres, nil
	case "mysql":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3", "":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// BuildDatabaseURL assembles the migrate-compatible connection URL.
func BuildDatabaseURL(dbType DatabaseType, cfg appconfig.DatabaseConfig) string {
	switch dbType {
	case DatabaseTypePostgres:
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, sslMode)
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
	default:
		return fmt.Sprintf("file:%s?mode=rwc", cfg.Path)
	}
}

// NewMigratorFromDatabaseConfig builds a migrator from the application
// database settings.
func NewMigratorFromDatabaseConfig(cfg appconfig.DatabaseConfig) (*Migrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, cfg),
	})
}

// NewMigratorFromURL builds a migrator from an explicit driver and URL.
func NewMigratorFromURL(driver, url string) (*Migrator, error) {
	dbType, err := ParseDatabaseType(driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dbType, DatabaseURL: url})
}
