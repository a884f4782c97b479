//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/database"
	"github.com/stingnet/sting-engine/pkg/repositories"
	"github.com/stingnet/sting-engine/pkg/testhelpers"
)

// scratchDatabase creates a database and a login role owned by the test and
// drops both on cleanup. grantSchema controls whether the role may create tables
// in the public schema.
func scratchDatabase(t *testing.T, name, user string, grantSchema bool) string {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	drop := func() {
		_, _ = testDB.Pool.Exec(ctx, `
			SELECT pg_terminate_backend(pid)
			FROM pg_stat_activity
			WHERE datname = $1 AND pid <> pg_backend_pid()`, name)
		time.Sleep(100 * time.Millisecond)
		_, _ = testDB.Pool.Exec(ctx, "DROP DATABASE IF EXISTS "+name)
		_, _ = testDB.Pool.Exec(ctx, "DROP USER IF EXISTS "+user)
	}
	drop()
	t.Cleanup(drop)

	_, err := testDB.Pool.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)
	_, err = testDB.Pool.Exec(ctx, "CREATE USER "+user+" WITH PASSWORD 'test_password'")
	require.NoError(t, err)
	_, err = testDB.Pool.Exec(ctx, "GRANT ALL PRIVILEGES ON DATABASE "+name+" TO "+user)
	require.NoError(t, err)

	// PostgreSQL 15+ no longer grants CREATE on public to every role.
	if grantSchema {
		superConnStr, err := testDB.ConnString(ctx, testhelpers.SuperUser, testhelpers.SuperPassword, name)
		require.NoError(t, err)
		superDB, err := sql.Open("pgx", superConnStr)
		require.NoError(t, err)
		defer superDB.Close()

		_, err = superDB.Exec("GRANT ALL ON SCHEMA public TO " + user)
		require.NoError(t, err)
	}

	connStr, err := testDB.ConnString(ctx, user, "test_password", name)
	require.NoError(t, err)
	return connStr
}

func runMigrationsWithTimeout(t *testing.T, db *sql.DB, timeout time.Duration) error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- database.RunMigrations(db, zap.NewNop())
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.Fatal("TIMEOUT: migrations hung instead of returning")
		return nil
	}
}

// Test_Migrations_InsufficientPermissions verifies that migrations fail fast
// with a clear error when the role cannot create tables.
func Test_Migrations_InsufficientPermissions(t *testing.T) {
	connStr := scratchDatabase(t, "test_migration_perms", "restricted_user", false)

	// statement_timeout keeps a blocked DDL from hanging the migration.
	db, err := sql.Open("pgx", connStr+"&statement_timeout=5000")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping(), "restricted user should be able to connect")

	_, err = db.Exec("CREATE TABLE permission_check (id int)")
	require.Error(t, err, "restricted user should not be able to create tables")
	assert.Contains(t, err.Error(), "permission denied")

	err = runMigrationsWithTimeout(t, db, 30*time.Second)
	require.Error(t, err, "migrations should fail with insufficient permissions")
	assert.Contains(t, err.Error(), "permission denied")
}

// Test_Migrations_SuccessWithProperPermissions is the control case, and checks
// the migrations are idempotent.
func Test_Migrations_SuccessWithProperPermissions(t *testing.T) {
	connStr := scratchDatabase(t, "test_migration_success", "full_perms_user", true)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, runMigrationsWithTimeout(t, db, 60*time.Second))

	// RunMigrations closes the handle it was given.
	verifyDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	defer verifyDB.Close()

	for _, table := range []string{"conns", "urls", "samples", "conns_assocs", "ipranges"} {
		var exists bool
		err := verifyDB.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s should exist after migrations", table)
	}

	againDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	defer againDB.Close()
	assert.NoError(t, runMigrationsWithTimeout(t, againDB, 30*time.Second), "second run should be a no-op")
}

// Test_Wipe_AsSchemaOwner runs a bulk wipe as the non-superuser role that owns
// the migrated schema, the way production deployments connect.
func Test_Wipe_AsSchemaOwner(t *testing.T) {
	connStr := scratchDatabase(t, "test_wipe_perms", "wipe_user", true)
	ctx := context.Background()

	sqlDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	require.NoError(t, runMigrationsWithTimeout(t, sqlDB, 60*time.Second))

	db, err := database.NewConnection(ctx, &database.Config{URL: connStr, MaxConnections: 2})
	require.NoError(t, err)
	defer db.Close()

	var super bool
	require.NoError(t, db.QueryRow(ctx, `SELECT rolsuper FROM pg_roles WHERE rolname = current_user`).Scan(&super))
	require.False(t, super)
	_, err = db.Exec(ctx, `SET session_replication_role = replica`)
	require.Error(t, err, "replica mode needs superuser")

	var userID, connID, urlID, sampleID, tagID, malwareID, networkID int64
	require.NoError(t, db.QueryRow(ctx, `INSERT INTO users (username, password) VALUES ('collector', 'x') RETURNING id`).Scan(&userID))
	require.NoError(t, db.QueryRow(ctx, `INSERT INTO malware (name) VALUES ('Mirai') RETURNING id`).Scan(&malwareID))
	require.NoError(t, db.QueryRow(ctx, `INSERT INTO network (malware) VALUES ($1) RETURNING id`, malwareID).Scan(&networkID))
	require.NoError(t, db.QueryRow(ctx, `INSERT INTO samples (sha256, network) VALUES ('abc', $1) RETURNING id`, networkID).Scan(&sampleID))
	require.NoError(t, db.QueryRow(ctx, `INSERT INTO urls (url, sample, network) VALUES ('http://x/a', $1, $2) RETURNING id`, sampleID, networkID).Scan(&urlID))
	require.NoError(t, db.QueryRow(ctx, `INSERT INTO conns (date, backend_user_id, network) VALUES (1, $1, $2) RETURNING id`, userID, networkID).Scan(&connID))
	require.NoError(t, db.QueryRow(ctx, `INSERT INTO tags (name) VALUES ('wget') RETURNING id`).Scan(&tagID))
	_, err = db.Exec(ctx, `INSERT INTO conns_urls VALUES ($1, $2)`, connID, urlID)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO conns_tags VALUES ($1, $2)`, connID, tagID)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO conns_assocs VALUES ($1, $1)`, connID)
	require.NoError(t, err)

	scopedCtx, release, err := db.Scoped(ctx)
	require.NoError(t, err)
	defer release()
	require.NoError(t, repositories.NewAdminRepository().Wipe(scopedCtx))

	for _, table := range repositories.WipeTables {
		var n int64
		require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Zero(t, n, "%s should be empty after wipe", table)
	}
	var users int64
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&users))
	assert.Equal(t, int64(1), users)

	// Constraints are immediate again outside the wipe.
	_, err = db.Exec(ctx, `INSERT INTO conns_urls VALUES ($1, $2)`, connID, urlID)
	assert.Error(t, err, "links to wiped rows are rejected")
}
