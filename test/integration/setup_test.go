package integration

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/labprice/labprice/internal/domain/bundle"
	"github.com/labprice/labprice/internal/domain/catalog"
	"github.com/labprice/labprice/internal/domain/comparison"
	"github.com/labprice/labprice/internal/domain/mapping"
	"github.com/labprice/labprice/internal/platform/db"
	"github.com/labprice/labprice/migrations"
)

// globalPool is the shared database, initialized once in TestMain. It is nil
// in -short runs.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	pool, cleanup, err := setupPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up postgres container: %v\n", err)
		os.Exit(1)
	}
	globalPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "labprice",
				"POSTGRES_PASSWORD": "labprice",
				"POSTGRES_DB":       "labprice_test",
			},
			// postgres logs readiness twice: once for the init server, once for the real one
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("container port: %w", err)
	}

	url := fmt.Sprintf("postgres://labprice:labprice@%s:%s/labprice_test?sslmode=disable", host, port.Port())
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: url, MaxConns: 10})
	if err != nil {
		terminate()
		return nil, nil, err
	}

	if _, err := db.NewMigrator(pool, migrations.FS, "public").Up(ctx); err != nil {
		pool.Close()
		terminate()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}

	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}

// stack is the service graph wired the same way the server wires it.
type stack struct {
	catalog     *catalog.Service
	mappings    *mapping.Service
	deals       *bundle.Service
	comparisons *comparison.Service
}

// newStack truncates every table and returns fresh services.
func newStack(t *testing.T) *stack {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode (requires Docker)")
	}

	ctx := context.Background()
	_, err := globalPool.Exec(ctx, `
		TRUNCATE bundle_deal_mapping, bundle_deal, test_mapping_entry, test_mapping,
		         lab_test, price_list, laboratory`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}

	logger := zerolog.Nop()
	tx := db.NewTxRunner(globalPool)
	cat := catalog.NewService(
		catalog.NewLaboratoryRepoPG(globalPool),
		catalog.NewPriceListRepoPG(globalPool),
		catalog.NewTestRepoPG(globalPool),
		tx, logger,
	)
	maps := mapping.NewService(mapping.NewMappingRepoPG(globalPool), cat, tx, logger)
	cat.SetRepointer(maps)
	deals := bundle.NewService(bundle.NewDealRepoPG(globalPool), maps, tx, logger)

	return &stack{
		catalog:     cat,
		mappings:    maps,
		deals:       deals,
		comparisons: comparison.NewService(maps, deals, tx, logger),
	}
}
