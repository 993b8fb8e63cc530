// Package pgtest opens a migrated Postgres database for integration tests.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-recurring/internal/platform/db"
	"github.com/odyssey-erp/odyssey-recurring/internal/platform/migrate"
)

// EnvDSN names the variable that enables integration tests.
const EnvDSN = "ODYSSEY_TEST_PG_DSN"

// Open connects to the database named by ODYSSEY_TEST_PG_DSN, applies migrations and
// empties every table. The test is skipped when the variable is unset.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set; skipping postgres integration test", EnvDSN)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, migrate.Up(pool))
	_, err = pool.Exec(ctx, `
		TRUNCATE invoice_lines, invoices, recurring_template_lines, recurring_templates,
			invoice_numbering, idempotency_keys RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return pool
}
