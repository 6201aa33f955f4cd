//go:build integration

// Package databasetest starts a disposable PostgreSQL container for
// integration tests.
package databasetest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/clinical-trial-extractor/internal/database"
)

// Image is the PostgreSQL image used by integration tests.
const Image = "postgres:16-alpine"

// MigrationsPath returns the absolute path of the repository's migrations directory.
func MigrationsPath(t *testing.T) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	path := filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
	_, err := os.Stat(path)
	require.NoError(t, err, "migrations directory not found")
	return path
}

// StartPostgres runs a PostgreSQL container for the lifetime of t and returns
// a connected DB. When migrate is true the schema is brought up to date.
func StartPostgres(t *testing.T, migrate bool) *database.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, Image,
		postgres.WithDatabase("clinical_trials_test"),
		postgres.WithUsername("ctextract"),
		postgres.WithPassword("ctextract"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	db := database.NewFromPool(pool, zerolog.Nop())
	t.Cleanup(db.Close)

	if migrate {
		m, err := database.NewMigrator(db, MigrationsPath(t), zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, m.Up())
		require.NoError(t, m.Close())
	}

	return db
}
