// Package database 打开注册表 PostgreSQL 连接。
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sagerspace-tracker/internal/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	pingAttempts = 3
	pingTimeout  = 5 * time.Second
	pingBackoff  = time.Second
	connMaxIdle  = 5 * time.Minute
)

// NewPostgresDB 打开连接池并等待数据库可用（最多 pingAttempts 次）
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configurePool(db, cfg)

	if err := waitReady(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database %s@%s:%d not ready: %w", cfg.Database, cfg.Host, cfg.Port, err)
	}
	logger.Info("Connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)
	return db, nil
}

func configurePool(db *sql.DB, cfg *config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxIdleTime(connMaxIdle)
}

func waitReady(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == pingAttempts {
			break
		}
		logger.Warn("Database ping failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pingBackoff):
		}
	}
	return err
}
