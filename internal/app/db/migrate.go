package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"review_pipeline/internal/app/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations は未適用のマイグレーションを実行します。何度呼んでも安全です。
// migrate のドライバは終了時に接続を閉じるため、専用の接続を開きます。
func RunMigrations(ctx context.Context, dsn string, log *logger.Logger) error {
	m, err := newMigrate(ctx, dsn)
	if err != nil {
		return err
	}
	defer closeMigrate(m, log)

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("no migrations to apply (database up-to-date)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ := m.Version()
	log.Info("applied migrations successfully", "version", version)
	return nil
}

// DropAll はすべてのマイグレーションを巻き戻します。テストと運用者の明示的なリセット用です。
func DropAll(ctx context.Context, dsn string, log *logger.Logger) error {
	m, err := newMigrate(ctx, dsn)
	if err != nil {
		return err
	}
	defer closeMigrate(m, log)

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

func newMigrate(ctx context.Context, dsn string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	sqlDB, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

func closeMigrate(m *migrate.Migrate, log *logger.Logger) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		log.Warn("failed to close migration source", "error", srcErr)
	}
	if dbErr != nil {
		log.Warn("failed to close migration database", "error", dbErr)
	}
}
