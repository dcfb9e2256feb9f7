// Package testhelpers は統合テスト用の PostgreSQL コンテナを提供します。
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"review_pipeline/internal/app/config"
	"review_pipeline/internal/app/db"
	"review_pipeline/internal/app/logger"
)

const postgresImage = "postgres:16-alpine"

// TestDB はテスト実行全体で共有するコンテナと接続です。マイグレーション適用済みです。
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB は共有の PostgreSQL を返します。-short では Docker を使うテストをスキップします。
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})
	if sharedTestDBErr != nil {
		t.Skipf("PostgreSQL container unavailable: %v", sharedTestDBErr)
	}
	return sharedTestDB
}

// Truncate は全テーブルを空にします。各テストの先頭で呼びます。
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()
	err := tdb.DB.Exec("TRUNCATE company_topics, topics, reviews, ai_summaries, companies RESTART IDENTITY CASCADE").Error
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "trustpilot_test",
			"POSTGRES_USER":     "pipeline",
			"POSTGRES_PASSWORD": "test_password",
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
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	cfg := config.DatabaseConfig{
		URL:             fmt.Sprintf("postgres://pipeline:test_password@%s:%s/trustpilot_test?sslmode=disable", host, port.Port()),
		ConnectRetries:  10,
		ConnectInterval: 500 * time.Millisecond,
		MaxOpenConns:    5,
	}
	log := logger.Nop()

	gormDB, err := db.ConnectDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, cfg.DSN(), log); err != nil {
		return nil, err
	}

	return &TestDB{Container: container, DB: gormDB, DSN: cfg.DSN()}, nil
}
