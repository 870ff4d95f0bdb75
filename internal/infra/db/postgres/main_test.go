//go:build integration

package postgres

import (
	"context"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"content-batch-pipeline/internal/config"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("genbatch_test"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		log.Fatalf("could not start postgres container: %v. Is Docker running?", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		log.Fatalf("connection string: %v", err)
	}
	testPool, err = NewPgxPool(ctx, config.DatabaseConfig{URL: dsn, MaxConns: 8})
	if err != nil {
		_ = container.Terminate(ctx)
		log.Fatalf("unable to connect to test database: %v", err)
	}

	logger := zerolog.New(io.Discard)
	if err := Migrate(testPool, &logger); err != nil {
		_ = container.Terminate(ctx)
		log.Fatalf("could not apply schema: %v", err)
	}
	log.Println("Test database is ready.")

	exitCode := m.Run()

	testPool.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("could not stop postgres container: %v", err)
	}
	os.Exit(exitCode)
}

func cleanup(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`TRUNCATE pipeline_jobs, remote_batches, generated_content RESTART IDENTITY CASCADE;`)
	if err != nil {
		t.Fatalf("failed to clean up database: %v", err)
	}
}
