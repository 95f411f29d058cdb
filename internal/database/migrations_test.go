package database

import (
	"path/filepath"
	"testing"

	"github.com/pollhive/pollhive/backend/internal/polls"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsMissingShareTokens(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&polls.Poll{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := polls.Poll{
		ID:       "poll-legacy",
		Title:    "Lunch",
		Question: "Where to eat?",
		Status:   polls.StatusActive,
		OwnerID:  "user-1",
		IsPublic: true,
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy poll: %v", err)
	}
	tokenized := polls.Poll{
		ID:         "poll-tokenized",
		Title:      "Dinner",
		Question:   "Where to eat tonight?",
		Status:     polls.StatusActive,
		OwnerID:    "user-1",
		IsPublic:   true,
		ShareToken: "existing-token",
	}
	if err := database.Create(&tokenized).Error; err != nil {
		testContext.Fatalf("failed to insert tokenized poll: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var repaired polls.Poll
	if err := database.Where("id = ?", legacy.ID).Take(&repaired).Error; err != nil {
		testContext.Fatalf("failed to reload legacy poll: %v", err)
	}
	if repaired.ShareToken == "" {
		testContext.Fatalf("expected legacy poll to receive a share token")
	}

	var untouched polls.Poll
	if err := database.Where("id = ?", tokenized.ID).Take(&untouched).Error; err != nil {
		testContext.Fatalf("failed to reload tokenized poll: %v", err)
	}
	if untouched.ShareToken != "existing-token" {
		testContext.Fatalf("expected existing share token to survive, got %q", untouched.ShareToken)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillShareTokens).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&polls.Poll{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("first migration pass failed: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second migration pass failed: %v", err)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected one migration record, got %d", count)
	}
}
