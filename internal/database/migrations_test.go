package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/nikhilbhutani/docingest/internal/database/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundledMigrations(t *testing.T) {
	files, err := fs.Glob(migrations.Postgres, "*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"001_tenants.sql", "002_document_points.sql"}, files)

	tenants, err := fs.ReadFile(migrations.Postgres, "001_tenants.sql")
	require.NoError(t, err)
	assert.Contains(t, string(tenants), "CREATE TABLE IF NOT EXISTS tenants")
	assert.Contains(t, string(tenants), "namespace      TEXT NOT NULL UNIQUE")

	points, err := fs.ReadFile(migrations.Postgres, "002_document_points.sql")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(points), "CREATE EXTENSION IF NOT EXISTS vector"))
}
