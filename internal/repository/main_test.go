package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rfichi/borrowed-book-api/internal/migrations"
	"github.com/rfichi/borrowed-book-api/pkg/database"
)

var (
	pgOnce    sync.Once
	pgBaseDSN string
	pgErr     error
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupServiceDB returns a pool on a fresh database migrated for service.
// Tests are skipped with -short or when Docker is unavailable.
func setupServiceDB(t *testing.T, service string) *database.ConnectionPool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres test in short mode")
	}

	pgOnce.Do(func() {
		pgBaseDSN, pgErr = startPostgres()
	})
	if pgErr != nil {
		t.Skipf("postgres container unavailable: %v", pgErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := sqlx.ConnectContext(ctx, "postgres", fmt.Sprintf(pgBaseDSN, "testdb"))
	if err != nil {
		t.Fatalf("connect admin: %v", err)
	}
	defer admin.Close()

	name := fmt.Sprintf("%s_%d", service, time.Now().UnixNano())
	if _, err := admin.ExecContext(ctx, "CREATE DATABASE "+name); err != nil {
		t.Fatalf("create database: %v", err)
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", fmt.Sprintf(pgBaseDSN, name))
	if err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Up(ctx, db.DB, service, quietLogger()); err != nil {
		t.Fatalf("migrate %s: %v", service, err)
	}
	return database.NewFromDB(db, quietLogger())
}

func startPostgres() (dsn string, err error) {
	defer func() {
		// testcontainers panics when no Docker host can be found
		if r := recover(); r != nil {
			err = fmt.Errorf("docker: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("get mapped port: %w", err)
	}

	return fmt.Sprintf("postgres://testuser:testpass@%s:%s/%%s?sslmode=disable", host, port.Port()), nil
}
