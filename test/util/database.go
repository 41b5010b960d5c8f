// Package util provides PostgreSQL fixtures for persistence tests. Every
// test gets its own migrated schema on a shared server.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/database"
)

const defaultPostgresImage = "postgres:17-alpine"

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// TestDB is a migrated, per-test PostgreSQL schema.
type TestDB struct {
	// DB is pooled and has search_path set to Schema.
	DB *stdsql.DB
	// ConnString carries the same search_path, for dedicated pgx connections.
	ConnString string
	Schema     string
}

// SetupTestDatabase creates a migrated schema for the calling test and
// drops it on cleanup. The server is CI_DATABASE_URL when set, otherwise a
// testcontainer started once per package. Skipped with -short.
func SetupTestDatabase(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	schema, connStr := CreateMigratedSchema(t)
	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	t.Cleanup(func() { _ = db.Close() })

	return &TestDB{DB: db, ConnString: connStr, Schema: schema}
}

// CreateMigratedSchema creates a uniquely named schema, applies the
// migrations to it and registers its drop with t.Cleanup. It returns the
// schema name and a connection string scoped to it.
func CreateMigratedSchema(t *testing.T) (string, string) {
	t.Helper()
	ctx := context.Background()
	baseConnStr := GetBaseConnectionString(t)
	schema := GenerateSchemaName(t)

	admin, err := stdsql.Open("pgx", baseConnStr)
	require.NoError(t, err)
	defer func() { _ = admin.Close() }()
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema))
	require.NoError(t, err)
	t.Logf("Created test schema: %s", schema)

	// Registered before migrating so a failed migration still drops it.
	t.Cleanup(func() { dropSchema(t, baseConnStr, schema) })

	connStr := AddSearchPathToConnString(baseConnStr, schema)
	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, database.RunMigrations(ctx, db, "test"))

	return schema, connStr
}

func dropSchema(t *testing.T, baseConnStr, schema string) {
	db, err := stdsql.Open("pgx", baseConnStr)
	if err != nil {
		t.Logf("Warning: could not connect to drop schema %s: %v", schema, err)
		return
	}
	defer func() { _ = db.Close() }()
	if _, err := db.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
		t.Logf("Warning: failed to drop schema %s: %v", schema, err)
	}
}

// GetBaseConnectionString returns the connection string of the shared
// server, without a search_path.
func GetBaseConnectionString(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("CI_DATABASE_URL"); url != "" {
		return url
	}

	containerOnce.Do(func() {
		image := os.Getenv("TEST_POSTGRES_IMAGE")
		if image == "" {
			image = defaultPostgresImage
		}
		t.Logf("Starting shared PostgreSQL testcontainer (%s)", image)
		sharedConnStr, containerErr = startContainer(context.Background(), image)
	})

	require.NoError(t, containerErr, "failed to set up shared test container")
	return sharedConnStr
}

func startContainer(ctx context.Context, image string) (string, error) {
	pgContainer, err := postgres.Run(ctx, image,
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start postgres container: %w", err)
	}
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("failed to get connection string: %w", err)
	}
	return connStr, nil
}

// GenerateSchemaName returns a unique, PostgreSQL-safe schema name of the
// form test_<sanitized test name>_<random hex>.
func GenerateSchemaName(t *testing.T) string {
	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToLower(t.Name()))

	// Identifiers are limited to 63 bytes.
	if len(name) > 40 {
		name = name[:40]
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		t.Fatalf("failed to generate schema suffix: %v", err)
	}
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(suffix))
}

// AddSearchPathToConnString scopes every connection opened with connStr to
// schema.
func AddSearchPathToConnString(connStr, schema string) string {
	separator := "?"
	if strings.Contains(connStr, "?") {
		separator = "&"
	}
	return connStr + separator + "search_path=" + schema
}
