package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/krishimitra/krishimitra-api/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens a private in-memory sqlite database with the full schema.
// The pool is pinned to one connection so background goroutines in tests
// never hit sqlite table locks.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SeedUser inserts a user with the given score and returns it.
func SeedUser(t *testing.T, db *gorm.DB, id string, score int) models.User {
	t.Helper()

	user := models.User{
		ID:           id,
		Email:        id + "@example.com",
		Name:         "Farmer " + id,
		PasswordHash: "x",
		TrustScore:   score,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return user
}
