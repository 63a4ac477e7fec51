// Package gating decides which dashboard features a user may open, and
// runs the milestone and voucher flows that sit behind loan eligibility.
package gating

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/krishimitra/krishimitra-api/ledger"
)

// EligibleScore is the minimum trust score for loan features.
const EligibleScore = 80

var (
	ErrNotStarted     = errors.New("start the trust score journey first")
	ErrNotEligible    = errors.New("evaluate your trust score and reach 80 to unlock this feature")
	ErrUnknownFeature = errors.New("unknown feature")
)

type Feature string

const (
	Home       Feature = "home"
	Profile    Feature = "profile"
	Bank       Feature = "bank"
	Sensor     Feature = "sensor"
	Crop       Feature = "crop"
	Quiz       Feature = "quiz"
	Weather    Feature = "weather"
	Milestones Feature = "milestones"
	Vouchers   Feature = "vouchers"
)

var Features = []Feature{Home, Profile, Bank, Sensor, Crop, Quiz, Weather, Milestones, Vouchers}

func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Features {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFeature, s)
}

// RequiresEligibility reports whether the feature is a loan feature.
func (f Feature) RequiresEligibility() bool {
	return f == Milestones || f == Vouchers
}

// ScoreSource reads the user's live trust score.
type ScoreSource interface {
	Score(ctx context.Context, userID string) (int, error)
}

type Policy struct {
	ledger *ledger.Ledger
	scores ScoreSource
}

func NewPolicy(l *ledger.Ledger, scores ScoreSource) *Policy {
	return &Policy{ledger: l, scores: scores}
}

func (p *Policy) HasStarted(ctx context.Context, userID string) bool {
	return p.ledger.Flag(ctx, userID, ledger.Started)
}

// Start marks the journey as begun, unlocking the earning activities.
func (p *Policy) Start(ctx context.Context, userID string) {
	p.ledger.SetFlag(ctx, userID, ledger.Started, true)
}

func (p *Policy) Evaluated(ctx context.Context, userID string) bool {
	return p.ledger.Flag(ctx, userID, ledger.Evaluated)
}

// Eligible is true once the score was evaluated and the live score is at
// least 80. A later drop below 80 re-locks the loan features.
func (p *Policy) Eligible(ctx context.Context, userID string) (bool, error) {
	if !p.Evaluated(ctx, userID) {
		return false, nil
	}
	score, err := p.scores.Score(ctx, userID)
	if err != nil {
		return false, err
	}
	return score >= EligibleScore, nil
}

// Check returns nil when the feature is open, or the reason it is locked.
func (p *Policy) Check(ctx context.Context, userID string, f Feature) error {
	if f == Home {
		return nil
	}
	if !p.HasStarted(ctx, userID) {
		return ErrNotStarted
	}
	if !f.RequiresEligibility() {
		return nil
	}
	ok, err := p.Eligible(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotEligible
	}
	return nil
}

func (p *Policy) IsLocked(ctx context.Context, userID string, f Feature) (bool, error) {
	err := p.Check(ctx, userID, f)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, ErrNotStarted), errors.Is(err, ErrNotEligible):
		return true, nil
	default:
		return true, err
	}
}

// Locks returns the lock state of every feature.
func (p *Policy) Locks(ctx context.Context, userID string) (map[Feature]bool, error) {
	locks := make(map[Feature]bool, len(Features))
	for _, f := range Features {
		locked, err := p.IsLocked(ctx, userID, f)
		if err != nil {
			return nil, err
		}
		locks[f] = locked
	}
	return locks, nil
}
