package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelforge/pixelforge/config"
)

func TestNewMigrator_RequiresConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.Error(t, err)

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.Error(t, err)
}

func TestAvailableMigrations_SortedPerDriver(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypeSQLite, DatabaseTypePostgres, DatabaseTypeMySQL} {
		m := &Migrator{config: &Config{DatabaseType: dbType}}
		files, err := m.availableMigrations()
		require.NoError(t, err, string(dbType))
		require.Len(t, files, 2, string(dbType))

		assert.Equal(t, uint(1), files[0].version)
		assert.Equal(t, "init", files[0].name)
		assert.Equal(t, uint(2), files[1].version)
		assert.Equal(t, "favorites_and_cache", files[1].name)
	}
}

func TestAvailableMigrations_UnsupportedDriver(t *testing.T) {
	m := &Migrator{config: &Config{DatabaseType: "oracle"}}
	_, err := m.availableMigrations()
	assert.Error(t, err)
}

func TestParseDatabaseType(t *testing.T) {
	for input, want := range map[string]DatabaseType{
		"postgres":   DatabaseTypePostgres,
		"postgresql": DatabaseTypePostgres,
		"mysql":      DatabaseTypeMySQL,
		"sqlite":     DatabaseTypeSQLite,
		"sqlite3":    DatabaseTypeSQLite,
		"":           DatabaseTypeSQLite,
	} {
		got, err := ParseDatabaseType(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseDatabaseType("oracle")
	assert.Error(t, err)
}

func TestBuildDatabaseURL(t *testing.T) {
	pg := BuildDatabaseURL(DatabaseTypePostgres, config.DatabaseConfig{
		Host: "db", Port: 5432, User: "pf", Password: "secret", Name: "pixelforge",
	})
	assert.Equal(t, "postgres://pf:secret@db:5432/pixelforge?sslmode=disable", pg)

	my := BuildDatabaseURL(DatabaseTypeMySQL, config.DatabaseConfig{
		Host: "db", Port: 3306, User: "pf", Password: "secret", Name: "pixelforge",
	})
	assert.Equal(t, "pf:secret@tcp(db:3306)/pixelforge?parseTime=true&multiStatements=true", my)

	lite := BuildDatabaseURL(DatabaseTypeSQLite, config.DatabaseConfig{Path: "data/pf.db"})
	assert.Equal(t, "file:data/pf.db?mode=rwc", lite)
}

func TestCreateSourceDriver(t *testing.T) {
	m := &Migrator{config: &Config{DatabaseType: DatabaseTypeSQLite}}
	src, err := m.createSourceDriver()
	require.NoError(t, err)
	require.NotNil(t, src)

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)
}
