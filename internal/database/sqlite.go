package database

import (
	"fmt"

	"github.com/pollhive/pollhive/backend/internal/polls"
	"github.com/pollhive/pollhive/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate ensures the schema for all persisted models is present.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&users.User{},
		&polls.Poll{},
		&polls.PollOption{},
		&polls.Vote{},
		&migrationRecord{},
	)
}
