package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQLドライバ (マイグレーション用)
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"review_pipeline/internal/app/config"
	"review_pipeline/internal/app/logger"
)

// Open は database/sql の接続を開き、Ping で確認します。失敗した場合は接続を閉じます。
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return sqlDB, nil
}

// ConnectDatabase は PostgreSQL に接続し、gorm のハンドルを返します。
// 起動直後のコンテナでは DB の準備が遅れるため、cfg.ConnectRetries 回まで再接続します。
func ConnectDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	maxRetries := cfg.ConnectRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	retryInterval := cfg.ConnectInterval

	var gormDB *gorm.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		log.Info("connecting to database", "attempt", i+1, "max_attempts", maxRetries, "host", cfg.Host)
		gormDB, err = openGorm(ctx, cfg, log)
		if err == nil {
			log.Info("successfully connected to database")
			return gormDB, nil
		}
		log.Warn("database not ready", "error", err, "retry_in", retryInterval.String())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return nil, fmt.Errorf("failed to connect to database after %d retries: %w", maxRetries, err)
}

func openGorm(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: NewGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return gormDB, nil
}

// Close は gorm の下にある *sql.DB を閉じます。
func Close(gormDB *gorm.DB) error {
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
