package scoring

import (
	"context"

	"github.com/krishimitra/krishimitra-api/ledger"
)

// Evaluation is the result of recomputing the score from the ledger.
type Evaluation struct {
	Total         int                     `json:"total"`
	Eligible      bool                    `json:"eligible"`
	Contributions map[ledger.Activity]int `json:"contributions"`
	Score         int                     `json:"score"`
}

// Contributions returns the net points each activity completed this session
// counts for. A penalty replaces the positive award of the same activity.
func Contributions(ctx context.Context, l *ledger.Ledger, userID string) map[ledger.Activity]int {
	c := make(map[ledger.Activity]int, len(ledger.Activities))
	for _, act := range ledger.Activities {
		if !l.Done(ctx, userID, act) {
			continue
		}
		switch act {
		case ledger.Profile:
			if l.Flag(ctx, userID, ledger.ProfileAwarded) {
				c[act] = ProfilePoints
			}
		case ledger.Bank:
			if l.Flag(ctx, userID, ledger.PenaltyBankAwarded) {
				c[act] = BankInactivityPenalty
			} else if l.Flag(ctx, userID, ledger.BankAwarded) {
				c[act] = BankActivePoints
			}
		case ledger.Sensor:
			if n := l.Int(ctx, userID, ledger.SensorAwarded); n > 0 {
				c[act] = n
			} else {
				c[act] = LegacyComponents{
					PH:       l.Flag(ctx, userID, ledger.PHAwarded),
					Soil:     l.Flag(ctx, userID, ledger.SoilAwarded),
					Nitrogen: l.Flag(ctx, userID, ledger.NitrogenAwarded),
				}.Total()
			}
		case ledger.Crop:
			c[act] = l.Int(ctx, userID, ledger.CropAwarded)
		case ledger.Quiz:
			c[act] = l.Int(ctx, userID, ledger.QuizAwarded)
		case ledger.Weather:
			if l.Flag(ctx, userID, ledger.PenaltyDroughtAwarded) || l.Flag(ctx, userID, ledger.PenaltyFloodAwarded) {
				c[act] = DroughtPenalty
			} else if l.Flag(ctx, userID, ledger.WeatherAwarded) {
				c[act] = WeatherPoints
			}
		}
	}
	return c
}

// Total sums contributions and clamps to [0,100].
func Total(c map[ledger.Activity]int) int {
	sum := 0
	for _, v := range c {
		sum += v
	}
	return ClampScore(sum)
}

// Evaluate overwrites the live score with the ledger-derived total and
// records evaluated/eligible. Score drift from incremental deltas is
// discarded.
func (a *Awarder) Evaluate(ctx context.Context, userID string) (Evaluation, error) {
	c := Contributions(ctx, a.ledger, userID)
	total := Total(c)

	score, err := a.keeper.SetScore(ctx, userID, total)
	if err != nil {
		return Evaluation{}, err
	}
	eligible := total >= EligibilityScore
	a.ledger.SetFlag(ctx, userID, ledger.Evaluated, true)
	a.ledger.SetFlag(ctx, userID, ledger.Eligible, eligible)

	a.log.Info("score evaluated", "user_id", userID, "total", total, "eligible", eligible)
	return Evaluation{Total: total, Eligible: eligible, Contributions: c, Score: score}, nil
}
