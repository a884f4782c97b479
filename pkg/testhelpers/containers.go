package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/stingnet/sting-engine/pkg/database"
)

const (
	// PostgresImage is the server image integration tests run against.
	PostgresImage = "postgres:16-alpine"

	// Superuser credentials of the test container.
	SuperUser     = "sting"
	SuperPassword = "test_password"

	engineDBName = "sting_engine_test"
)

// TestDB holds a shared test database container and a superuser pool on the
// maintenance database.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

// ConnString returns the connection URL for dbName on the shared container.
func (tdb *TestDB) ConnString(ctx context.Context, user, password, dbName string) (string, error) {
	host, err := tdb.Container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := tdb.Container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port.Port(), dbName), nil
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "postgres",
			"POSTGRES_USER":     SuperUser,
			"POSTGRES_PASSWORD": SuperPassword,
		},
		// The entrypoint restarts the server once after init.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	tdb := &TestDB{Container: container}
	connStr, err := tdb.ConnString(ctx, SuperUser, SuperPassword, "postgres")
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("test database never became reachable: %w", err)
	}

	tdb.Pool = pool
	tdb.ConnStr = connStr
	return tdb, nil
}

// EngineDB holds the engine database connection with migrations applied.
// Use this for testing services and repositories against a real database.
type EngineDB struct {
	DB      *database.DB
	ConnStr string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared engine database for integration tests.
// The database has migrations applied and is reused across all tests; call
// ResetEngineDB for an empty one.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	// Ensure test container is running first
	testDB := GetTestDB(t)

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB(testDB)
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

func setupEngineDB(testDB *TestDB) (*EngineDB, error) {
	ctx := context.Background()

	if _, err := testDB.Pool.Exec(ctx, "CREATE DATABASE "+engineDBName); err != nil {
		return nil, fmt.Errorf("failed to create engine database: %w", err)
	}

	connStr, err := testDB.ConnString(ctx, SuperUser, SuperPassword, engineDBName)
	if err != nil {
		return nil, err
	}

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 25,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine database: %w", err)
	}

	return &EngineDB{
		DB:      db,
		ConnStr: connStr,
	}, nil
}

// engineTables is every table created by the migrations, in truncation order.
var engineTables = []string{
	"conns_assocs", "conns_tags", "conns_urls", "tags", "conns",
	"urls", "samples", "network", "malware", "ipranges", "asn", "users",
}

// ResetEngineDB empties every engine table and restarts identity sequences.
// Tests using it must not run in parallel with each other.
func ResetEngineDB(t *testing.T, edb *EngineDB) {
	t.Helper()

	query := "TRUNCATE " + strings.Join(engineTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := edb.DB.Exec(context.Background(), query); err != nil {
		t.Fatalf("Failed to reset engine database: %v", err)
	}
}

// CreateTestUser inserts a backend user directly and returns its id.
func CreateTestUser(t *testing.T, edb *EngineDB, username string) int64 {
	t.Helper()

	var id int64
	err := edb.DB.QueryRow(context.Background(),
		`INSERT INTO users (username, password) VALUES ($1, 'x') RETURNING id`, username).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return id
}
