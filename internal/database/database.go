package database

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB bundles the gorm handle with the underlying sql.DB. Repositories take
// whichever fits: gorm for model CRUD, sql.DB for the hot-path queries.
type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

// Connect opens a pooled connection to Postgres and verifies it.
func Connect(databaseURL string) (*DB, error) {
	gormDB, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Gorm: gormDB, SQL: sqlDB}, nil
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.SQL.Close()
}
