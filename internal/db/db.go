// Package db provides a wrapper around the database
package db

import (
	"context"
	"fmt"

	"remindme/internal/migrations"
	_ "remindme/internal/migrations/versions" // Import all migrations

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the database wrapper
type DB struct {
	conn *gorm.DB
}

// NewDB initializes a new database connection
func NewDB(postgresURL string) (*DB, error) {
	conn, err := gorm.Open(postgres.Open(postgresURL), &gorm.Config{
		// Disable foreign key constraints during AutoMigrate
		// We handle foreign keys explicitly in our migration files
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Migrator returns a migrator bound to this connection with every known
// migration registered
func (db *DB) Migrator() *migrations.Migrator {
	return migrations.NewMigrator(db.conn)
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
