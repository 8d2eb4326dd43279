package postgres_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/petreltrade/petrel/internal/audit"
	auditpg "github.com/petreltrade/petrel/internal/audit/postgres"
	"github.com/petreltrade/petrel/internal/migrations"
)

// The journal tests need Docker; enable them explicitly.
const integrationEnv = "PETREL_PG_INTEGRATION"

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	if os.Getenv(integrationEnv) == "" {
		fmt.Fprintf(os.Stderr, "postgres journal tests skipped: set %s=1 to enable\n", integrationEnv)
		os.Exit(0)
	}
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "petrel"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	exitCode := 1
	if err := initialiseDatabase(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres journal tests setup failed: %v\n", err)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	_ = pgContainer.Terminate(ctx)
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/petrel?sslmode=disable", host, port.Port())

	if err := migrations.Apply(ctx, dsn, migrationsDir(), nil); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", ".."))
	return filepath.Join(root, "db", "migrations")
}

func TestAppendAndRecent(t *testing.T) {
	sink := auditpg.NewSink(testPool)
	ctx := context.Background()

	first := audit.NewEvent(audit.EventOrderSubmitted, time.Now(), "journal-ref-1", map[string]string{
		"symbol": "BTCUSDT",
		"side":   "BUY",
	})
	second := audit.NewEvent(audit.EventOrderStateChanged, time.Now(), "journal-ref-1", map[string]string{
		"from": "Pending",
		"to":   "Submitted",
	})
	if err := sink.Append(ctx, first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Append(ctx, second); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("events = %d, want at least 2", len(events))
	}
	// newest first
	if events[0].Type != audit.EventOrderStateChanged {
		t.Fatalf("newest event = %s", events[0].Type)
	}
	if events[0].Fields["to"] != "Submitted" {
		t.Fatalf("fields = %v", events[0].Fields)
	}
	if events[1].ClientRef != "journal-ref-1" {
		t.Fatalf("client ref = %q", events[1].ClientRef)
	}
}

func TestAppendWithoutClientRef(t *testing.T) {
	sink := auditpg.NewSink(testPool)
	event := audit.NewEvent(audit.EventSessionActivated, time.Now(), "", map[string]string{
		"environment": "testnet",
	})
	if err := sink.Append(context.Background(), event); err != nil {
		t.Fatalf("Append: %v", err)
	}
	events, err := sink.Recent(context.Background(), 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if events[0].ClientRef != "" {
		t.Fatalf("client ref = %q, want empty", events[0].ClientRef)
	}
}
