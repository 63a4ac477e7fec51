// Package profile owns the authoritative trust score: the profile store
// (user record + transaction log), the in-memory session score, and the
// write-ahead log that reconciles the two.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/krishimitra/krishimitra-api/models"
	"github.com/krishimitra/krishimitra-api/scoring"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("user record not found")

// Record is the persisted view of a user.
type Record struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	TrustScore int    `json:"trustScore"`
}

// Update carries the fields to merge into a record; nil fields are left
// untouched.
type Update struct {
	Name       *string
	Phone      *string
	TrustScore *int
}

type Store interface {
	GetUserRecord(ctx context.Context, id string) (Record, error)
	SetUserRecord(ctx context.Context, id string, u Update) error
	AppendTransaction(ctx context.Context, id string, tx models.Transaction) error
	ListTransactions(ctx context.Context, id string) ([]models.Transaction, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetUserRecord(ctx context.Context, id string) (Record, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to load user record: %w", err)
	}
	return Record{
		ID:         user.ID,
		Name:       user.Name,
		Email:      user.Email,
		Phone:      user.Phone,
		TrustScore: user.TrustScore,
	}, nil
}

func (s *GormStore) SetUserRecord(ctx context.Context, id string, u Update) error {
	fields := map[string]interface{}{}
	if u.Name != nil {
		fields["name"] = *u.Name
	}
	if u.Phone != nil {
		fields["phone"] = *u.Phone
	}
	if u.TrustScore != nil {
		fields["trust_score"] = scoring.ClampScore(*u.TrustScore)
	}
	if len(fields) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update user record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTransaction records tx. A tx whose WriteKey was already recorded is
// ignored, so a replayed pending write never duplicates history.
func (s *GormStore) AppendTransaction(ctx context.Context, id string, tx models.Transaction) error {
	tx.ID = 0
	tx.UserID = id
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "write_key"}},
		DoNothing: true,
	}).Create(&tx).Error
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *GormStore) ListTransactions(ctx context.Context, id string) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", id).
		Order("timestamp desc").Order("id desc").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}
