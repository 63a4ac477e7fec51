package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/krishimitra/krishimitra-api/models"
)

// Sync pushes pending score writes to the store in log order. A failure
// stops that user's queue until the next pass so writes never reorder.
// It returns the number of writes acknowledged.
func (k *Keeper) Sync(ctx context.Context) (int, error) {
	var pending []models.PendingScoreWrite
	if err := k.db.WithContext(ctx).Order("id asc").Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("failed to load pending score writes: %w", err)
	}

	blocked := map[string]bool{}
	synced := 0
	for _, w := range pending {
		if blocked[w.UserID] {
			continue
		}
		if err := k.push(ctx, w); err != nil {
			blocked[w.UserID] = true
			w.Attempts++
			w.LastError = err.Error()
			if uerr := k.db.WithContext(ctx).Save(&w).Error; uerr != nil {
				k.log.Warn("failed to record sync attempt", "id", w.ID, "error", uerr)
			}
			k.log.Warn("score sync failed, will retry", "user_id", w.UserID, "id", w.ID, "attempts", w.Attempts, "error", err)
			continue
		}
		if err := k.db.WithContext(ctx).Delete(&models.PendingScoreWrite{}, w.ID).Error; err != nil {
			return synced, fmt.Errorf("failed to clear synced score write: %w", err)
		}
		synced++
	}
	return synced, nil
}

func (k *Keeper) push(ctx context.Context, w models.PendingScoreWrite) error {
	score := w.Score
	if err := k.remote.SetUserRecord(ctx, w.UserID, Update{TrustScore: &score}); err != nil {
		return err
	}
	if w.Kind != models.ScoreWriteDelta {
		return nil
	}
	txType := models.TransactionEarned
	if w.Change < 0 {
		txType = models.TransactionDepleted
	}
	description := w.Description
	if description == "" {
		description = "Trust score change"
	}
	tx := models.Transaction{
		Date:        w.CreatedAt.UTC().Format("2006-01-02"),
		Description: description,
		Change:      w.Change,
		Type:        txType,
		Timestamp:   w.CreatedAt,
	}
	if w.WriteKey != "" {
		key := w.WriteKey
		tx.WriteKey = &key
	}
	return k.remote.AppendTransaction(ctx, w.UserID, tx)
}

// Run syncs every interval and whenever a new write is queued, until ctx is
// cancelled.
func (k *Keeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-k.wake:
		}
		if n, err := k.Sync(ctx); err != nil {
			k.log.Error("score sync pass failed", "error", err)
		} else if n > 0 {
			k.log.Debug("score writes synced", "count", n)
		}
	}
}
