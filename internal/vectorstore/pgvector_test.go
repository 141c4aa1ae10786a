package vectorstore

import (
	"context"
	"os"
	"testing"

	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/database"
	"github.com/stretchr/testify/require"
)

// Set TEST_DATABASE_URL to a disposable database with the vector extension
// available to run these tests.
func TestPgVectorStoreContract(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := database.NewPool(ctx, config.DatabaseConfig{URL: url, MaxConns: 4, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))

	runSinkContract(t, func(t *testing.T) Sink {
		_, err := pool.Exec(ctx, `TRUNCATE vector_namespaces CASCADE`)
		require.NoError(t, err)
		return NewPgVectorStore(pool)
	})
}
