package profile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krishimitra/krishimitra-api/gating"
	"github.com/krishimitra/krishimitra-api/models"
	"github.com/krishimitra/krishimitra-api/notify"
	"github.com/krishimitra/krishimitra-api/scoring"
	"gorm.io/gorm"
)

// Keeper holds each user's live score for the session. Mutations are applied
// in memory first, written to the pending_score_writes log, and pushed to the
// Store by Sync. The in-memory value is what clients see.
type Keeper struct {
	db       *gorm.DB
	remote   Store
	notifier notify.Notifier
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	scores map[string]int

	wake chan struct{}
}

func NewKeeper(db *gorm.DB, remote Store, notifier notify.Notifier, logger *slog.Logger) *Keeper {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		db:       db,
		remote:   remote,
		notifier: notifier,
		log:      logger.With("component", "score_keeper"),
		now:      time.Now,
		scores:   make(map[string]int),
		wake:     make(chan struct{}, 1),
	}
}

// Load seeds the session score, typically right after sign-in. A score
// still waiting in the pending log is newer than the stored one and wins.
func (k *Keeper) Load(ctx context.Context, userID string, score int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if pending, ok := k.latestPending(ctx, userID); ok {
		score = pending
	}
	k.scores[userID] = scoring.ClampScore(score)
}

// Forget drops the session score on sign-out.
func (k *Keeper) Forget(userID string) {
	k.mu.Lock()
	delete(k.scores, userID)
	k.mu.Unlock()
}

// Score returns the live score, falling back to the store on a cold cache.
func (k *Keeper) Score(ctx context.Context, userID string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.scoreLocked(ctx, userID)
}

func (k *Keeper) scoreLocked(ctx context.Context, userID string) (int, error) {
	if s, ok := k.scores[userID]; ok {
		return s, nil
	}
	rec, err := k.remote.GetUserRecord(ctx, userID)
	if err != nil {
		return 0, err
	}
	s := scoring.ClampScore(rec.TrustScore)
	if pending, ok := k.latestPending(ctx, userID); ok {
		s = scoring.ClampScore(pending)
	}
	k.scores[userID] = s
	return s, nil
}

// ApplyDelta adds points to the live score (clamped to [0,100]) and queues
// the new score plus a transaction record for the store.
func (k *Keeper) ApplyDelta(ctx context.Context, userID string, points int, description string) (int, error) {
	if description == "" {
		if points >= 0 {
			description = fmt.Sprintf("+%d points", points)
		} else {
			description = fmt.Sprintf("%d points", points)
		}
	}

	k.mu.Lock()
	prev, err := k.scoreLocked(ctx, userID)
	if err != nil {
		k.mu.Unlock()
		return 0, err
	}
	next := scoring.ClampScore(prev + points)
	k.scores[userID] = next
	k.enqueue(ctx, models.PendingScoreWrite{
		UserID:      userID,
		Kind:        models.ScoreWriteDelta,
		Score:       next,
		Change:      points,
		Description: description,
	})
	k.mu.Unlock()

	if points >= 0 {
		k.notifier.Notify(userID, notify.Notification{Type: notify.TypeSuccess, Title: "Trust score earned", Message: description})
	} else {
		k.notifier.Notify(userID, notify.Notification{Type: notify.TypeWarning, Title: "Trust score deducted", Message: description})
	}
	k.notifyEligible(userID, prev, next)
	k.signal()
	return next, nil
}

// SetScore overwrites the live score. No transaction record is written.
func (k *Keeper) SetScore(ctx context.Context, userID string, score int) (int, error) {
	k.mu.Lock()
	prev, err := k.scoreLocked(ctx, userID)
	if err != nil {
		k.mu.Unlock()
		return 0, err
	}
	next := scoring.ClampScore(score)
	k.scores[userID] = next
	k.enqueue(ctx, models.PendingScoreWrite{
		UserID: userID,
		Kind:   models.ScoreWriteSet,
		Score:  next,
	})
	k.mu.Unlock()

	k.notifier.Notify(userID, notify.Notification{
		Type:    notify.TypeInfo,
		Title:   "Trust score updated",
		Message: fmt.Sprintf("Your score is now %d.", next),
	})
	k.notifyEligible(userID, prev, next)
	k.signal()
	return next, nil
}

func (k *Keeper) notifyEligible(userID string, prev, next int) {
	if next >= gating.EligibleScore && prev < gating.EligibleScore {
		k.notifier.Notify(userID, notify.Notification{
			Type:    notify.TypeLoan,
			Title:   "Loan eligible",
			Message: "You have reached a score of 80+. Loan, Vouchers and Pay-as-you-Grow are now unlocked.",
		})
	}
}

// enqueue must be called with k.mu held so log order matches apply order.
func (k *Keeper) enqueue(ctx context.Context, w models.PendingScoreWrite) {
	w.CreatedAt = k.now().UTC()
	w.WriteKey = uuid.NewString()
	if err := k.db.WithContext(ctx).Create(&w).Error; err != nil {
		k.log.Error("failed to record pending score write", "user_id", w.UserID, "kind", w.Kind, "error", err)
	}
}

// latestPending returns the score of the newest unsynced write.
func (k *Keeper) latestPending(ctx context.Context, userID string) (int, bool) {
	var w models.PendingScoreWrite
	err := k.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc").Limit(1).Find(&w).Error
	if err != nil {
		k.log.Warn("failed to read pending score writes", "user_id", userID, "error", err)
		return 0, false
	}
	if w.ID == 0 {
		return 0, false
	}
	return w.Score, true
}

func (k *Keeper) signal() {
	select {
	case k.wake <- struct{}{}:
	default:
	}
}

// Pending reports whether userID has score writes the store has not
// acknowledged yet.
func (k *Keeper) Pending(ctx context.Context, userID string) bool {
	var n int64
	if err := k.db.WithContext(ctx).Model(&models.PendingScoreWrite{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		k.log.Warn("failed to count pending score writes", "user_id", userID, "error", err)
		return false
	}
	return n > 0
}
