package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/pixelforge/pixelforge/config"
	"github.com/pixelforge/pixelforge/internal/migration"
)

func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		withMigrator("migrate up", subargs, func(ctx context.Context, m *migration.Migrator) error {
			if err := m.Up(ctx); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		})
	case "down":
		withMigrator("migrate down", subargs, func(ctx context.Context, m *migration.Migrator) error {
			if err := m.Down(ctx); err != nil {
				return err
			}
			fmt.Println("Rolled back one migration")
			return nil
		})
	case "reset":
		withMigrator("migrate reset", subargs, func(ctx context.Context, m *migration.Migrator) error {
			if err := m.DownAll(ctx); err != nil {
				return err
			}
			fmt.Println("All migrations rolled back")
			return nil
		})
	case "status":
		withMigrator("migrate status", subargs, func(ctx context.Context, m *migration.Migrator) error {
			statuses, err := m.StatusAll(ctx)
			if err != nil {
				return err
			}
			for _, st := range statuses {
				mark := " "
				if st.Applied {
					mark = "x"
				}
				dirty := ""
				if st.Dirty {
					dirty = " (dirty)"
				}
				fmt.Printf("[%s] %06d %s%s\n", mark, st.Version, st.Name, dirty)
			}
			return nil
		})
	case "version":
		withMigrator("migrate version", subargs, func(ctx context.Context, m *migration.Migrator) error {
			version, dirty, err := m.Version(ctx)
			if err != nil {
				return err
			}
			if dirty {
				fmt.Printf("%d (dirty)\n", version)
			} else {
				fmt.Println(version)
			}
			return nil
		})
	case "goto":
		if len(subargs) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: pixelforge migrate goto <version>")
			os.Exit(1)
		}
		version, err := strconv.ParseUint(subargs[0], 10, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", subargs[0])
			os.Exit(1)
		}
		withMigrator("migrate goto", subargs[1:], func(ctx context.Context, m *migration.Migrator) error {
			return m.Goto(ctx, uint(version))
		})
	case "force":
		if len(subargs) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: pixelforge migrate force <version>")
			os.Exit(1)
		}
		version, err := strconv.ParseInt(subargs[0], 10, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", subargs[0])
			os.Exit(1)
		}
		withMigrator("migrate force", subargs[1:], func(ctx context.Context, m *migration.Migrator) error {
			return m.Force(ctx, int(version))
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// withMigrator builds a migrator from the shared flags, runs fn and exits on
// failure.
func withMigrator(name string, args []string, fn func(context.Context, *migration.Migrator) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	fs.Parse(args)

	var migrator *migration.Migrator
	var err error

	if *dbType != "" && *dbURL != "" {
		migrator, err = migration.NewMigratorFromURL(*dbType, *dbURL)
	} else {
		loader := config.NewLoader()
		if *configPath != "" {
			loader = loader.WithConfigPath(*configPath)
		}
		cfg, loadErr := loader.Load()
		if loadErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", loadErr)
			os.Exit(1)
		}
		if *dbType != "" {
			cfg.Database.Driver = *dbType
		}
		migrator, err = migration.NewMigratorFromDatabaseConfig(cfg.Database)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := fn(context.Background(), migrator); err != nil {
		fmt.Fprintf(os.Stderr, "Migration command failed: %v\n", err)
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  pixelforge migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)`)
}
