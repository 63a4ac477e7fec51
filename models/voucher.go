package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	VoucherActive    = "active"
	VoucherRedeemed  = "redeemed"
	VoucherDisbursed = "disbursed"
)

type Voucher struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
	UserID     string         `gorm:"size:36;not null;uniqueIndex:idx_voucher_user,priority:1" json:"user_id"`
	VoucherID  string         `gorm:"size:8;not null;uniqueIndex:idx_voucher_user,priority:2" json:"id"` // v1, v2, v3
	Code       string         `gorm:"size:20;not null" json:"code"`
	PIN        string         `gorm:"size:6;not null" json:"pin"`
	Amount     float64        `gorm:"not null" json:"amount"`
	Category   string         `gorm:"size:20;not null" json:"category"`       // seeds, labor, harvest
	Status     string         `gorm:"size:20;default:'active'" json:"status"` // active, redeemed, disbursed
	RedeemedAt *time.Time     `json:"redeemed_at,omitempty"`
	// Set once a payout envelope has been issued for the voucher.
	DisbursedTo string     `gorm:"size:56" json:"disbursed_to,omitempty"`
	DisbursedAt *time.Time `json:"disbursed_at,omitempty"`
}

// TableName overrides the table name
func (Voucher) TableName() string {
	return "vouchers"
}

type Feedback struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Type      string    `gorm:"size:20;not null" json:"type"` // feedback, complaint, rating
	Content   *string   `gorm:"type:text" json:"content"`
	Rating    *int      `json:"rating"`
	UserID    *string   `gorm:"size:64" json:"user_id"`
	Email     *string   `gorm:"size:255" json:"email"`
}

func (Feedback) TableName() string {
	return "support_feedback"
}
