package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSQLMigrationBumpsCollidingVersion(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := createSQLMigration(dir, "create probes", now)
	require.NoError(t, err)
	second, err := createSQLMigration(dir, "create probe names", now)
	require.NoError(t, err)

	assert.Equal(t, "20260301090000_create_probes.sql", filepath.Base(first))
	assert.Equal(t, "20260301090001_create_probe_names.sql", filepath.Base(second))
	require.NoError(t, ValidateDir(dir))
}

func TestValidateFSRejectsDownBeforeUp(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Down\nDROP TABLE x;\n-- +goose Up\nCREATE TABLE x (id int);\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301090000_swapped.sql"), []byte(body), 0o644))
	assert.ErrorContains(t, ValidateDir(dir), "Down before Up")
}

func TestValidateFSRejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	body := []byte("-- +goose Up\n-- +goose Down\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301090000_a.sql"), body, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301090000_b.sql"), body, 0o644))
	assert.ErrorContains(t, ValidateDir(dir), "duplicate migration version")
}
