package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pixelforge/pixelforge/config"
)

// Store wraps the gorm handle together with the settings repositories need.
type Store struct {
	db             *gorm.DB
	logger         *zap.Logger
	initialBalance int
	cacheDir       string
}

// Open connects to the configured database and returns a Store. Driver
// selection mirrors the DSN switch: sqlite (pure Go), postgres or mysql.
func Open(cfg config.DatabaseConfig, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return New(db, opts), nil
}

// Options carries the non-connection settings of a Store.
type Options struct {
	Logger         *zap.Logger
	InitialBalance int
	CacheDir       string
}

// New wraps an existing gorm handle. Used directly by tests with an in-memory
// sqlite database.
func New(db *gorm.DB, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		db:             db,
		logger:         opts.Logger,
		initialBalance: opts.InitialBalance,
		cacheDir:       opts.CacheDir,
	}
}

// AutoMigrate creates or updates every table. Production deployments run the
// versioned migrations instead; this covers dev and tests.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(AllModels()...)
}

// DB exposes the underlying handle for the migration runner.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
