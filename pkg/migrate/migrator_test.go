package migrate_test

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/credits-backend/pkg/logger"
	"github.com/angelmondragon/credits-backend/pkg/migrate"
)

var probeMigrations = fstest.MapFS{
	"00001_create_probes.sql": {Data: []byte(`-- +goose Up
CREATE TABLE probes (id INTEGER PRIMARY KEY);

-- +goose Down
DROP TABLE probes;
`)},
	"00002_create_probe_names.sql": {Data: []byte(`-- +goose Up
CREATE TABLE probe_names (id INTEGER PRIMARY KEY, name TEXT NOT NULL);

-- +goose Down
DROP TABLE probe_names;
`)},
}

func newMigrator(t *testing.T) *migrate.Migrator {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	m, err := migrate.NewMigrator(sqlDB, "sqlite", probeMigrations, logger.Nop())
	require.NoError(t, err)
	return m
}

func TestMigratorUpDownAndTarget(t *testing.T) {
	ctx := context.Background()
	m := newMigrator(t)

	require.NoError(t, m.Up(ctx))
	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Equal(t, goose.StateApplied, st.State)
	}

	require.NoError(t, m.Down(ctx))
	version, err = m.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	require.NoError(t, m.MigrateTo(ctx, "2"))
	require.NoError(t, m.MigrateTo(ctx, "2"))
	version, err = m.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	require.NoError(t, m.MigrateTo(ctx, "0"))
	version, err = m.Version(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, version)

	assert.Error(t, m.MigrateTo(ctx, "yesterday"))
}

func TestNewMigratorRequiresDB(t *testing.T) {
	_, err := migrate.NewMigrator(nil, "postgres", probeMigrations, nil)
	assert.Error(t, err)
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, migrate.ValidateFS(migrate.Embedded()))
}
