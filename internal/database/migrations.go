package database

import (
	"errors"
	"time"

	"github.com/pollhive/pollhive/backend/internal/polls"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillShareTokens = "2026-04-12_backfill_missing_share_tokens"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillShareTokens, apply: backfillShareTokens},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillShareTokens assigns a share token to polls created before tokens
// were generated at creation time. Tokens are unique, so each row gets its
// own value.
func backfillShareTokens(db *gorm.DB) error {
	var pollIDs []string
	if err := db.Model(&polls.Poll{}).
		Where("share_token IS NULL OR share_token = ''").
		Pluck("id", &pollIDs).Error; err != nil {
		return err
	}
	for _, pollID := range pollIDs {
		token, err := uuid.NewV7()
		if err != nil {
			return err
		}
		if err := db.Model(&polls.Poll{}).
			Where("id = ?", pollID).
			Update("share_token", token.String()).Error; err != nil {
			return err
		}
	}
	return nil
}
