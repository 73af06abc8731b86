package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/testdb"
)

// InitTestDBManager performs the standard initialization of a *testdb.Manager for feedpipe. It requires a *testing.M to
// ensure it is only called by TestMain. It returns nil when TEST_DATABASE is not set. The databases must already be
// migrated. If something fails it calls os.Exit(1).
func InitTestDBManager(*testing.M) *testdb.Manager {
	dbname := os.Getenv("TEST_DATABASE")
	if dbname == "" {
		return nil
	}

	manager := &testdb.Manager{
		ResetDB: func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, `truncate "items", "feeds", "river_job" restart identity cascade`)
			return err
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	err := manager.Connect(ctx, fmt.Sprintf("dbname=%s", dbname))
	if err != nil {
		fmt.Println("failed to init testdb.Manager:", err)
		os.Exit(1)
	}

	return manager
}

// AcquirePool returns a pool connected to a freshly reset test database. The test is skipped when manager is nil.
func AcquirePool(t *testing.T, ctx context.Context, manager *testdb.Manager) *pgxpool.Pool {
	if manager == nil {
		t.Skip("TEST_DATABASE is not set")
	}

	db := manager.AcquireDB(t, ctx)
	return db.PoolConnect(t, ctx)
}
