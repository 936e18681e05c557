package database

import (
	"context"
	"fmt"
	"time"

	"subscription-api/internal/config"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DefaultSQLitePath is used when DATABASE_URL is unset.
const DefaultSQLitePath = "subscription-api.db"

// Open connects to PostgreSQL, or to a local SQLite file for development
func Open(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		logging.Infof("Database URL not set, using SQLite for development")
		return OpenSQLite(DefaultSQLitePath)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), gormConfig(logger.Warn))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logging.Infof("Database connected successfully")
	return db, nil
}

// OpenSQLite opens a SQLite database. SQLite has no row locks, so the pool is
// pinned to one connection and transactions serialise on it.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig(logger.Silent))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return db, nil
}

func gormConfig(level logger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	}
}

// AutoMigrate creates or updates the ledger tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Subscription{},          // 订阅表
		&models.SubscriptionChangeLog{}, // 状态变更日志
		&models.PaymentHistory{},        // 支付记录
		&models.WebhookEvent{},          // Webhook 事件
	)
}

// OpenRedis connects to Redis. An empty URL returns a nil client and callers
// fall back to in-process state.
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		logging.Warnf("REDIS_URL is not set, webhook event guard runs in memory")
		return nil, nil
	}

	logging.Infof("Connecting to Redis: %s", maskRedisURL(redisURL))

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Infof("Redis connected successfully")
	return client, nil
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if len(url) > 20 {
		return url[:10] + "***" + url[len(url)-10:]
	}
	return "***"
}

// Close closes database and Redis connections
func Close(db *gorm.DB, rdb *redis.Client) {
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logging.Errorf("Failed to close database: %v", err)
			}
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logging.Errorf("Failed to close Redis: %v", err)
		}
	}
}
