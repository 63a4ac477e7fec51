package gating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/krishimitra/krishimitra-api/ledger"
	"github.com/krishimitra/krishimitra-api/models"
	"github.com/krishimitra/krishimitra-api/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticScore struct {
	score int
	err   error
}

func (s staticScore) Score(context.Context, string) (int, error) { return s.score, s.err }

func newLedger() *ledger.Ledger {
	return ledger.New(ledger.NewMemoryStore(), nil)
}

func TestPolicyEveryFlagCombination(t *testing.T) {
	ctx := context.Background()
	for _, started := range []bool{false, true} {
		for _, evaluated := range []bool{false, true} {
			for _, score := range []int{79, 80} {
				name := fmt.Sprintf("started=%v/evaluated=%v/score=%d", started, evaluated, score)
				t.Run(name, func(t *testing.T) {
					l := newLedger()
					l.SetFlag(ctx, "u1", ledger.Started, started)
					l.SetFlag(ctx, "u1", ledger.Evaluated, evaluated)
					p := NewPolicy(l, staticScore{score: score})

					locks, err := p.Locks(ctx, "u1")
					require.NoError(t, err)
					assert.False(t, locks[Home], "home is never locked")
					for _, f := range []Feature{Profile, Bank, Sensor, Crop, Quiz, Weather} {
						assert.Equal(t, !started, locks[f], f)
					}
					loanOpen := started && evaluated && score >= EligibleScore
					assert.Equal(t, !loanOpen, locks[Milestones])
					assert.Equal(t, !loanOpen, locks[Vouchers])

					eligible, err := p.Eligible(ctx, "u1")
					require.NoError(t, err)
					assert.Equal(t, evaluated && score >= EligibleScore, eligible)
				})
			}
		}
	}
}

func TestPolicyCheckReasons(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	p := NewPolicy(l, staticScore{score: 95})

	assert.ErrorIs(t, p.Check(ctx, "u1", Bank), ErrNotStarted)
	p.Start(ctx, "u1")
	assert.True(t, p.HasStarted(ctx, "u1"))
	assert.NoError(t, p.Check(ctx, "u1", Bank))
	assert.ErrorIs(t, p.Check(ctx, "u1", Vouchers), ErrNotEligible)

	l.SetFlag(ctx, "u1", ledger.Evaluated, true)
	assert.NoError(t, p.Check(ctx, "u1", Vouchers))
}

func TestPolicyScoreErrorKeepsLoanFeaturesLocked(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	l.SetFlag(ctx, "u1", ledger.Started, true)
	l.SetFlag(ctx, "u1", ledger.Evaluated, true)
	p := NewPolicy(l, staticScore{err: errors.New("db down")})

	locked, err := p.IsLocked(ctx, "u1", Milestones)
	assert.Error(t, err)
	assert.True(t, locked)
}

func TestParseFeature(t *testing.T) {
	f, err := ParseFeature(" Vouchers ")
	require.NoError(t, err)
	assert.Equal(t, Vouchers, f)
	_, err = ParseFeature("settings")
	assert.ErrorIs(t, err, ErrUnknownFeature)
}

func TestPeriodAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, Sowing, PeriodAt(start, start))
	assert.Equal(t, Sowing, PeriodAt(start, start.AddDate(0, 0, 59)))
	assert.Equal(t, Growth, PeriodAt(start, start.AddDate(0, 0, 60)))
	assert.Equal(t, Growth, PeriodAt(start, start.AddDate(0, 0, 179)))
	assert.Equal(t, Harvest, PeriodAt(start, start.AddDate(0, 0, 180)))
}

func newMilestones(l *ledger.Ledger, now time.Time) *MilestoneTracker {
	m := NewMilestoneTracker(l)
	m.now = func() time.Time { return now }
	return m
}

func statuses(ov Overview) []StageStatus {
	out := make([]StageStatus, 0, len(ov.Stages))
	for _, s := range ov.Stages {
		out = append(out, s.Status)
	}
	return out
}

func TestMilestonesDefaultLoanStart(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	now := time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)
	m := newMilestones(l, now)

	ov := m.Overview(ctx, "u1")
	assert.Equal(t, "2026-09-04", ov.LoanStart)
	assert.Equal(t, Sowing, ov.Period)
	assert.Equal(t, []StageStatus{StageActive, StageLocked, StageLocked}, statuses(ov))
	assert.Equal(t, 1, ov.Unlocked)
	assert.True(t, l.Flag(ctx, "u1", ledger.Stage1Active))

	saved, ok := l.Get(ctx, "u1", ledger.LoanStart)
	require.True(t, ok)
	assert.Equal(t, "2026-09-04", saved)
}

func TestMilestonesLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newLedger()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	m := newMilestones(l, now)

	_, err := m.SetLoanStart(ctx, "u1", "19/10/2026")
	assert.ErrorIs(t, err, ErrInvalidDate)

	// Sowing: moisture is time locked.
	_, err = m.SetLoanStart(ctx, "u1", "2026-10-01")
	require.NoError(t, err)
	_, err = m.SubmitMoisture(ctx, "u1", 55)
	assert.ErrorIs(t, err, ErrTimeLocked)

	// Growth.
	ov, err := m.SetLoanStart(ctx, "u1", "2026-07-01")
	require.NoError(t, err)
	assert.Equal(t, Growth, ov.Period)
	assert.Equal(t, []StageStatus{StageCompleted, StageLocked, StageLocked}, statuses(ov))

	_, err = m.SubmitMoisture(ctx, "u1", 140)
	assert.ErrorIs(t, err, ErrInvalidMoisture)
	_, err = m.SubmitMoisture(ctx, "u1", 40)
	assert.ErrorIs(t, err, ErrMoistureTooLow)
	ov, err = m.SubmitMoisture(ctx, "u1", 41)
	require.NoError(t, err)
	assert.Equal(t, []StageStatus{StageCompleted, StageActive, StageLocked}, statuses(ov))

	// Harvest photo during growth does not unlock stage 3.
	harvest := StageEvidence{Confidence: "High", Observations: json.RawMessage(`[{"type":"Harvest","description":"cut grain bundles"}]`)}
	v, err := m.VerifyStage(ctx, "u1", 3, harvest)
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.False(t, v.Stage3Active)

	// Harvest.
	ov, err = m.SetLoanStart(ctx, "u1", "2026-01-01")
	require.NoError(t, err)
	assert.Equal(t, []StageStatus{StageCompleted, StageCompleted, StageLocked}, statuses(ov))
	v, err = m.VerifyStage(ctx, "u1", 3, harvest)
	require.NoError(t, err)
	assert.Equal(t, 10, v.AwardedPoints)
	assert.True(t, v.Stage3Active)
	ov = m.Overview(ctx, "u1")
	assert.Equal(t, []StageStatus{StageCompleted, StageCompleted, StageActive}, statuses(ov))
	assert.Equal(t, 3, ov.Unlocked)
}

func TestVerifyStagePoints(t *testing.T) {
	ctx := context.Background()
	m := newMilestones(newLedger(), time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name   string
		stage  int
		ev     StageEvidence
		points int
		ok     bool
	}{
		{"high confidence", 1, StageEvidence{Confidence: "High", Observations: json.RawMessage(`["early seedlings"]`)}, 10, true},
		{"medium confidence", 2, StageEvidence{Confidence: "Medium", Issues: json.RawMessage(`["yellow LEAF tips"]`)}, 8, true},
		{"unclear", 3, StageEvidence{Confidence: "High", Observations: json.RawMessage(`["empty field"]`)}, 5, false},
		{"empty analysis", 2, StageEvidence{}, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := m.VerifyStage(ctx, "u1", tt.stage, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.points, v.AwardedPoints)
			assert.Equal(t, tt.ok, v.Verified)
		})
	}

	_, err := m.VerifyStage(ctx, "u1", 4, StageEvidence{})
	assert.ErrorIs(t, err, ErrInvalidStage)
}

func TestVoucherBook(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	l := newLedger()
	book := NewVoucherBook(db, l)
	pins := []string{"123456", "654321", "111111"}
	book.newPIN = func() (string, error) {
		p := pins[0]
		pins = pins[1:]
		return p, nil
	}

	vouchers, err := book.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, vouchers)

	l.SetFlag(ctx, "u1", ledger.Stage1Active, true)
	l.SetFlag(ctx, "u1", ledger.Stage2Active, true)
	vouchers, err = book.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, vouchers, 2)
	assert.Equal(t, "v1", vouchers[0].VoucherID)
	assert.Equal(t, "KVM-123456", vouchers[0].Code)
	assert.Equal(t, 50.0, vouchers[0].Amount)
	assert.Equal(t, "seeds", vouchers[0].Category)
	assert.Equal(t, "v2", vouchers[1].VoucherID)
	assert.Equal(t, 30.0, vouchers[1].Amount)

	again, err := book.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, vouchers[0].PIN, again[0].PIN, "vouchers are issued once")

	_, err = book.Redeem(ctx, "u1", "v3", "111111")
	assert.ErrorIs(t, err, ErrVoucherNotCovered)
	_, err = book.Redeem(ctx, "u1", "v9", "111111")
	assert.ErrorIs(t, err, ErrVoucherNotFound)
	_, err = book.Redeem(ctx, "u1", "v1", "000000")
	assert.ErrorIs(t, err, ErrInvalidPIN)

	v, err := book.Redeem(ctx, "u1", "v1", "123456")
	require.NoError(t, err)
	assert.Equal(t, "redeemed", v.Status)
	assert.NotNil(t, v.RedeemedAt)

	_, err = book.Redeem(ctx, "u1", "v1", "123456")
	assert.ErrorIs(t, err, ErrVoucherRedeemed)
	_, err = book.MarkDisbursed(ctx, v, "GDEST")
	assert.ErrorIs(t, err, ErrVoucherRedeemed)
}

func TestVoucherBookDisbursesOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	l := newLedger()
	book := NewVoucherBook(db, l)
	l.SetFlag(ctx, "u1", ledger.Stage1Active, true)

	v, err := book.Get(ctx, "u1", "v1")
	require.NoError(t, err)

	paid, err := book.MarkDisbursed(ctx, v, "GFIRST")
	require.NoError(t, err)
	assert.Equal(t, models.VoucherDisbursed, paid.Status)
	assert.Equal(t, "GFIRST", paid.DisbursedTo)
	require.NotNil(t, paid.DisbursedAt)

	// A stale copy still reading "active" loses the conditional update.
	_, err = book.MarkDisbursed(ctx, v, "GSECOND")
	assert.ErrorIs(t, err, ErrVoucherDisbursed)

	stored, err := book.Get(ctx, "u1", "v1")
	require.NoError(t, err)
	assert.Equal(t, "GFIRST", stored.DisbursedTo)

	_, err = book.Redeem(ctx, "u1", "v1", stored.PIN)
	assert.ErrorIs(t, err, ErrVoucherDisbursed)
}

func TestRandomPIN(t *testing.T) {
	for i := 0; i < 20; i++ {
		pin, err := randomPIN()
		require.NoError(t, err)
		assert.Len(t, pin, 6)
		assert.NotEqual(t, byte('0'), pin[0])
	}
}
