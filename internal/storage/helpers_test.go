package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// closedDB is a PostgresDB whose pool is already closed, so every query fails
// without a server
func closedDB(t *testing.T) *PostgresDB {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), "postgres://trails@127.0.0.1:1/trails?sslmode=disable")
	require.NoError(t, err)
	pool.Close()
	return &PostgresDB{pool: pool}
}
