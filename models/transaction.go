package models

import "time"

const (
	TransactionEarned   = "earned"
	TransactionDepleted = "depleted"
)

// Transaction is an append-only trust score change record.
type Transaction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"size:36;not null;index:idx_tx_user_time,priority:1" json:"user_id"`
	Date        string    `gorm:"size:10;not null" json:"date"` // YYYY-MM-DD
	Description string    `gorm:"size:255" json:"description"`
	Change      int       `gorm:"not null" json:"change"`
	Type        string    `gorm:"size:10;not null" json:"type"` // earned, depleted
	Timestamp   time.Time `gorm:"not null;index:idx_tx_user_time,priority:2" json:"timestamp"`
	// WriteKey is the pending score write that produced the row; replays of
	// the same write are dropped.
	WriteKey *string `gorm:"size:36;uniqueIndex" json:"-"`
}

func (Transaction) TableName() string {
	return "transactions"
}

const (
	ScoreWriteSet   = "set"
	ScoreWriteDelta = "delta"
)

// PendingScoreWrite is a score mutation that the profile store has not yet
// acknowledged. Rows are deleted once synced.
type PendingScoreWrite struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UserID      string    `gorm:"size:36;not null;index" json:"user_id"`
	Kind        string    `gorm:"size:10;not null" json:"kind"` // set, delta
	Score       int       `gorm:"not null" json:"score"`        // score after the mutation
	Change      int       `json:"change"`
	Description string    `gorm:"size:255" json:"description"`
	Attempts    int       `gorm:"default:0" json:"attempts"`
	LastError   string    `gorm:"type:text" json:"last_error,omitempty"`
	WriteKey    string    `gorm:"size:36;uniqueIndex" json:"write_key"`
}

func (PendingScoreWrite) TableName() string {
	return "pending_score_writes"
}
