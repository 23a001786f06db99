//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// postgresTestContainer holds a running Postgres container for integration tests.
type postgresTestContainer struct {
	Container testcontainers.Container
	DSN       string
}

func newPostgresTestContainer(t *testing.T) (*postgresTestContainer, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gridctl_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		pgContainer.Terminate(ctx)
		t.Fatalf("failed to get connection string: %v", err)
	}

	cleanup := func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}

	return &postgresTestContainer{Container: pgContainer, DSN: connStr}, cleanup
}

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker not available (panic recovered): %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		t.Skipf("docker not available, skipping integration test: %v", err)
		return
	}
	defer provider.Close()

	if _, err := provider.Client().Ping(ctx); err != nil {
		t.Skipf("docker not responding, skipping integration test: %v", err)
	}
}

func withPostgresStore(t *testing.T, fn func(t *testing.T, store *sqlStore)) {
	t.Helper()
	skipIfNoDocker(t)

	container, cleanup := newPostgresTestContainer(t)
	defer cleanup()

	store, err := NewPostgresStore(container.DSN)
	if err != nil {
		t.Fatalf("failed to create postgres store: %v", err)
	}
	defer store.Close()

	fn(t, store)
}
