package gating

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/krishimitra/krishimitra-api/ledger"
	"github.com/krishimitra/krishimitra-api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QualifiedAmount is the loan total split across the three stage vouchers.
const QualifiedAmount = 100.0

var (
	ErrVoucherNotFound   = errors.New("voucher not found")
	ErrInvalidPIN        = errors.New("invalid voucher PIN")
	ErrVoucherRedeemed   = errors.New("voucher already redeemed")
	ErrVoucherDisbursed  = errors.New("voucher already paid out")
	ErrVoucherNotCovered = errors.New("voucher stage is not active")
)

type voucherDef struct {
	ID       string
	Stage    ledger.Key
	Amount   float64
	Category string
}

var voucherDefs = []voucherDef{
	{ID: "v1", Stage: ledger.Stage1Active, Amount: 50, Category: "seeds"},
	{ID: "v2", Stage: ledger.Stage2Active, Amount: 30, Category: "labor"},
	{ID: "v3", Stage: ledger.Stage3Active, Amount: 20, Category: "harvest"},
}

// VoucherBook issues one voucher per active milestone stage and redeems
// them by PIN.
type VoucherBook struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	newPIN func() (string, error)
	now    func() time.Time
}

func NewVoucherBook(db *gorm.DB, l *ledger.Ledger) *VoucherBook {
	return &VoucherBook{db: db, ledger: l, newPIN: randomPIN, now: time.Now}
}

// List returns the vouchers of every active stage, issuing missing ones.
func (b *VoucherBook) List(ctx context.Context, userID string) ([]models.Voucher, error) {
	vouchers := make([]models.Voucher, 0, len(voucherDefs))
	for _, def := range voucherDefs {
		if !b.ledger.Flag(ctx, userID, def.Stage) {
			continue
		}
		v, err := b.ensure(ctx, userID, def)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, nil
}

// ensure creates the voucher once. Concurrent callers race on the unique
// (user, voucher) index and all read back the winner.
func (b *VoucherBook) ensure(ctx context.Context, userID string, def voucherDef) (models.Voucher, error) {
	var v models.Voucher
	err := b.db.WithContext(ctx).Where("user_id = ? AND voucher_id = ?", userID, def.ID).First(&v).Error
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Voucher{}, fmt.Errorf("failed to load voucher: %w", err)
	}

	pin, err := b.newPIN()
	if err != nil {
		return models.Voucher{}, fmt.Errorf("failed to generate PIN: %w", err)
	}
	v = models.Voucher{
		UserID:    userID,
		VoucherID: def.ID,
		Code:      "KVM-" + pin,
		PIN:       pin,
		Amount:    def.Amount,
		Category:  def.Category,
		Status:    models.VoucherActive,
	}
	if err := b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&v).Error; err != nil {
		return models.Voucher{}, fmt.Errorf("failed to issue voucher: %w", err)
	}
	var stored models.Voucher
	if err := b.db.WithContext(ctx).Where("user_id = ? AND voucher_id = ?", userID, def.ID).First(&stored).Error; err != nil {
		return models.Voucher{}, fmt.Errorf("failed to load voucher: %w", err)
	}
	return stored, nil
}

// Get returns an issued voucher whose stage is still active.
func (b *VoucherBook) Get(ctx context.Context, userID, voucherID string) (models.Voucher, error) {
	def, ok := lookupVoucher(voucherID)
	if !ok {
		return models.Voucher{}, ErrVoucherNotFound
	}
	if !b.ledger.Flag(ctx, userID, def.Stage) {
		return models.Voucher{}, ErrVoucherNotCovered
	}
	return b.ensure(ctx, userID, def)
}

// Redeem marks the voucher redeemed when the PIN matches.
func (b *VoucherBook) Redeem(ctx context.Context, userID, voucherID, pin string) (models.Voucher, error) {
	v, err := b.Get(ctx, userID, voucherID)
	if err != nil {
		return models.Voucher{}, err
	}
	if err := spent(v); err != nil {
		return models.Voucher{}, err
	}
	if pin != v.PIN {
		return models.Voucher{}, ErrInvalidPIN
	}

	now := b.now()
	if err := b.claim(ctx, v, map[string]interface{}{"status": models.VoucherRedeemed, "redeemed_at": now}); err != nil {
		return models.Voucher{}, err
	}
	v.Status = models.VoucherRedeemed
	v.RedeemedAt = &now
	return v, nil
}

// MarkDisbursed records that a payout envelope to destination was issued.
// Only an active voucher can be paid out, and only once.
func (b *VoucherBook) MarkDisbursed(ctx context.Context, v models.Voucher, destination string) (models.Voucher, error) {
	if err := spent(v); err != nil {
		return models.Voucher{}, err
	}
	now := b.now()
	err := b.claim(ctx, v, map[string]interface{}{
		"status":       models.VoucherDisbursed,
		"disbursed_to": destination,
		"disbursed_at": now,
	})
	if err != nil {
		return models.Voucher{}, err
	}
	v.Status = models.VoucherDisbursed
	v.DisbursedTo = destination
	v.DisbursedAt = &now
	return v, nil
}

// claim moves an active voucher to a final state. A concurrent claim that
// got there first wins and the loser sees why the voucher is spent.
func (b *VoucherBook) claim(ctx context.Context, v models.Voucher, updates map[string]interface{}) error {
	res := b.db.WithContext(ctx).Model(&models.Voucher{}).
		Where("id = ? AND status = ?", v.ID, models.VoucherActive).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update voucher: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var current models.Voucher
	if err := b.db.WithContext(ctx).First(&current, v.ID).Error; err != nil {
		return fmt.Errorf("failed to load voucher: %w", err)
	}
	if err := spent(current); err != nil {
		return err
	}
	return ErrVoucherRedeemed
}

// spent explains why a voucher can no longer be used, or returns nil.
func spent(v models.Voucher) error {
	switch v.Status {
	case models.VoucherRedeemed:
		return ErrVoucherRedeemed
	case models.VoucherDisbursed:
		return ErrVoucherDisbursed
	}
	return nil
}

func lookupVoucher(id string) (voucherDef, bool) {
	for _, def := range voucherDefs {
		if def.ID == id {
			return def, true
		}
	}
	return voucherDef{}, false
}

func randomPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
