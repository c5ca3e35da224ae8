package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"papervenue/internal/db"
)

// SetupDB connects to the database named by TEST_DB_DSN, applies the schema
// and truncates all tables. Tests are skipped when the variable is unset so
// the suite passes without a database.
func SetupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, err = pool.Exec(ctx, "truncate users, instruments, positions, orders, settlements, engine_locks, request_guard restart identity cascade")
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}
