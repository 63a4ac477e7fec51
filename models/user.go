package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
	Email          string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name           string         `gorm:"size:255;not null" json:"name"`
	Phone          string         `gorm:"size:20" json:"phone"`
	PasswordHash   string         `gorm:"size:255;not null" json:"-"`
	TrustScore     int            `gorm:"default:0" json:"trust_score"` // 0-100
	StellarAddress string         `gorm:"size:56" json:"stellar_address,omitempty"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}

// LoginHistory records one row per successful sign-in or registration.
type LoginHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:36;not null;index" json:"user_id"`
	Date      string    `gorm:"size:10" json:"date"` // YYYY-MM-DD
	Time      string    `gorm:"size:8" json:"time"`  // HH:MM:SS
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

func (LoginHistory) TableName() string {
	return "login_history"
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{}, &LoginHistory{}, &Transaction{}, &PendingScoreWrite{},
		&LedgerEntry{}, &SensorReport{}, &Voucher{}, &Feedback{},
	}
}
