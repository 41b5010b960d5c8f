// Package database provides PostgreSQL fixtures for tests that boot more
// than one server against the same schema.
package database

import (
	stdsql "database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/database"
	"github.com/Littlefish319/autodeploy-agent-233/test/util"
)

// NewTestClient creates a migrated per-test schema and returns a client for
// it together with its connection string, which a NotifyListener needs for
// its dedicated connection.
func NewTestClient(t *testing.T) (*database.Client, string) {
	t.Helper()
	tdb := util.SetupTestDatabase(t)
	return database.NewClientFromDB(tdb.DB), tdb.ConnString
}

// SharedTestDB is one schema shared by several server replicas, each with
// its own pool, so cross-replica NOTIFY delivery and shared run history can
// be exercised.
type SharedTestDB struct {
	connStr string
}

// NewSharedTestDB creates and migrates the shared schema. It is dropped on
// cleanup, after the replicas registered later have shut down.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	_, connStr := util.CreateMigratedSchema(t)
	return &SharedTestDB{connStr: connStr}
}

// ConnString returns the connection string scoped to the shared schema.
func (s *SharedTestDB) ConnString() string {
	return s.connStr
}

// NewClient opens an independent pool on the shared schema, closed via
// t.Cleanup.
func (s *SharedTestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()
	db, err := stdsql.Open("pgx", s.connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	t.Cleanup(func() { _ = db.Close() })
	return database.NewClientFromDB(db)
}
