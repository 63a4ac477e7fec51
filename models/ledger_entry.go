package models

import "time"

// LedgerEntry is one namespaced per-user flag or value.
type LedgerEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
	Key       string    `gorm:"column:ledger_key;uniqueIndex;size:191;not null" json:"key"` // km_<base>_<userId>
	UserID    string    `gorm:"size:36;index" json:"user_id"`
	Value     string    `gorm:"type:text" json:"value"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
