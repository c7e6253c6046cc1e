package tester

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/emrgen/catalog/internal/config"
	"github.com/emrgen/catalog/internal/model"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

const postgresImage = "postgres:16-alpine"

var (
	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error
)

// Postgres returns a migrated database on a shared postgres container.
// The test is skipped in short mode since it needs docker.
func Postgres(t *testing.T) *gorm.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	pgOnce.Do(func() {
		pgDB, pgErr = setupPostgres()
	})

	if pgErr != nil {
		t.Fatalf("Failed to setup postgres: %v", pgErr)
	}

	return pgDB
}

func setupPostgres() (*gorm.DB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "catalog",
			"POSTGRES_USER":     "catalog",
			"POSTGRES_PASSWORD": "catalog",
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
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	db, err := config.OpenDB(config.DatabaseConfig{
		Type:         "postgres",
		Host:         host,
		Port:         port.Int(),
		User:         "catalog",
		Password:     "catalog",
		Name:         "catalog",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	})
	if err != nil {
		return nil, err
	}

	if err := model.Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return db, nil
}
