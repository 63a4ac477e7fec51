package gating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/krishimitra/krishimitra-api/ledger"
)

const (
	SowingDays            = 60
	GrowthDays            = 120
	DefaultLoanOffsetDays = 45
	MoistureThreshold     = 40.0

	dateLayout = "2006-01-02"
)

var (
	ErrInvalidDate     = errors.New("loan start must be a YYYY-MM-DD date")
	ErrInvalidMoisture = errors.New("moisture must be a number between 0 and 100")
	ErrMoistureTooLow  = fmt.Errorf("soil moisture must be above %.0f%% to unlock stage 2", MoistureThreshold)
	ErrTimeLocked      = errors.New("this stage is not available in the current period")
	ErrInvalidStage    = errors.New("stage must be 1, 2 or 3")
)

type Period string

const (
	Sowing  Period = "sowing"
	Growth  Period = "growth"
	Harvest Period = "harvest"
)

// PeriodAt places now within the crop cycle that began at start.
func PeriodAt(start, now time.Time) Period {
	days := DaysBetween(start, now)
	switch {
	case days < SowingDays:
		return Sowing
	case days < SowingDays+GrowthDays:
		return Growth
	default:
		return Harvest
	}
}

// DaysBetween counts whole days from start to now.
func DaysBetween(start, now time.Time) int {
	return int(now.Sub(start).Hours() / 24)
}

type StageStatus string

const (
	StageActive    StageStatus = "active"
	StageLocked    StageStatus = "locked"
	StageCompleted StageStatus = "completed"
)

type Stage struct {
	ID              int         `json:"id"`
	Title           string      `json:"title"`
	Period          Period      `json:"period"`
	UnlockCondition string      `json:"unlockCondition"`
	Status          StageStatus `json:"status"`
	TimeLocked      bool        `json:"timeLocked"`
}

var stageDefs = []Stage{
	{ID: 1, Title: "Seeds & Fertilizer", Period: Sowing, UnlockCondition: "Available from day 1"},
	{ID: 2, Title: "Labor / Weeding / Pesticides", Period: Growth, UnlockCondition: "Submit soil moisture reading above 40%"},
	{ID: 3, Title: "Harvest / Transport", Period: Harvest, UnlockCondition: "Crop photo analysis confirms harvest"},
}

type Overview struct {
	LoanStart      string  `json:"loanStart"`
	DaysSinceStart int     `json:"daysSinceStart"`
	Period         Period  `json:"period"`
	Stages         []Stage `json:"stages"`
	Unlocked       int     `json:"unlocked"`
}

// MilestoneTracker releases loan money in stages tied to the crop cycle.
type MilestoneTracker struct {
	ledger *ledger.Ledger
	now    func() time.Time
}

func NewMilestoneTracker(l *ledger.Ledger) *MilestoneTracker {
	return &MilestoneTracker{ledger: l, now: time.Now}
}

// LoanStart returns the saved loan start, defaulting to 45 days ago and
// saving the default.
func (m *MilestoneTracker) LoanStart(ctx context.Context, userID string) time.Time {
	if v, ok := m.ledger.Get(ctx, userID, ledger.LoanStart); ok {
		if t, err := time.Parse(dateLayout, v); err == nil {
			return t
		}
	}
	start := m.today().AddDate(0, 0, -DefaultLoanOffsetDays)
	m.ledger.Set(ctx, userID, ledger.LoanStart, start.Format(dateLayout))
	return start
}

func (m *MilestoneTracker) SetLoanStart(ctx context.Context, userID, date string) (Overview, error) {
	if _, err := time.Parse(dateLayout, strings.TrimSpace(date)); err != nil {
		return Overview{}, ErrInvalidDate
	}
	m.ledger.Set(ctx, userID, ledger.LoanStart, strings.TrimSpace(date))
	return m.Overview(ctx, userID), nil
}

func (m *MilestoneTracker) Period(ctx context.Context, userID string) Period {
	return PeriodAt(m.LoanStart(ctx, userID), m.now())
}

// Overview computes the period and every stage status. Stage 1 is
// activated as a side effect while sowing.
func (m *MilestoneTracker) Overview(ctx context.Context, userID string) Overview {
	start := m.LoanStart(ctx, userID)
	period := PeriodAt(start, m.now())
	if period == Sowing {
		m.ledger.SetFlag(ctx, userID, ledger.Stage1Active, true)
	}

	ov := Overview{
		LoanStart:      start.Format(dateLayout),
		DaysSinceStart: DaysBetween(start, m.now()),
		Period:         period,
		Stages:         make([]Stage, 0, len(stageDefs)),
	}
	for _, def := range stageDefs {
		s := def
		s.TimeLocked = period != s.Period
		s.Status = m.stageStatus(ctx, userID, s.ID, period)
		if s.Status != StageLocked {
			ov.Unlocked++
		}
		ov.Stages = append(ov.Stages, s)
	}
	return ov
}

func (m *MilestoneTracker) stageStatus(ctx context.Context, userID string, id int, period Period) StageStatus {
	switch id {
	case 1:
		if period == Sowing {
			return StageActive
		}
		return StageCompleted
	case 2:
		switch period {
		case Harvest:
			return StageCompleted
		case Growth:
			if m.ledger.Flag(ctx, userID, ledger.Stage2Active) {
				return StageActive
			}
		}
		return StageLocked
	case 3:
		if period == Harvest && m.ledger.Flag(ctx, userID, ledger.Stage3Active) {
			return StageActive
		}
	}
	return StageLocked
}

// SubmitMoisture activates stage 2 for a growth-period reading above 40%.
func (m *MilestoneTracker) SubmitMoisture(ctx context.Context, userID string, moisture float64) (Overview, error) {
	if moisture < 0 || moisture > 100 {
		return Overview{}, ErrInvalidMoisture
	}
	if m.Period(ctx, userID) != Growth {
		return Overview{}, ErrTimeLocked
	}
	if moisture <= MoistureThreshold {
		return Overview{}, ErrMoistureTooLow
	}
	m.ledger.SetFlag(ctx, userID, ledger.Stage2Active, true)
	return m.Overview(ctx, userID), nil
}

// StageEvidence is what the image analysis saw.
type StageEvidence struct {
	Confidence   string          `json:"confidence"`
	Issues       json.RawMessage `json:"issues"`
	Observations json.RawMessage `json:"observations"`
}

var stageKeywords = map[int][]string{
	1: {"seed", "sowing", "seedling"},
	2: {"leaf", "growth", "stem", "green"},
	3: {"harvest", "grain", "bundle", "transport"},
}

type Verification struct {
	Stage         int    `json:"stage"`
	Verified      bool   `json:"verified"`
	AwardedPoints int    `json:"awardedPoints"`
	Reason        string `json:"reason"`
	Stage3Active  bool   `json:"stage3Active"`
}

// VerifyStage matches the analysis against the stage's keywords. The points
// are informational and never reach the trust score. A verified harvest
// photo during harvest, with stage 2 active, activates stage 3.
func (m *MilestoneTracker) VerifyStage(ctx context.Context, userID string, stage int, ev StageEvidence) (Verification, error) {
	words, ok := stageKeywords[stage]
	if !ok {
		return Verification{}, ErrInvalidStage
	}

	text := strings.ToLower(string(ev.Issues) + " " + string(ev.Observations))
	v := Verification{Stage: stage}
	for _, w := range words {
		if strings.Contains(text, w) {
			v.Verified = true
			break
		}
	}
	switch {
	case v.Verified && strings.EqualFold(ev.Confidence, "high"):
		v.AwardedPoints, v.Reason = 10, "Stage verified with high confidence"
	case v.Verified:
		v.AwardedPoints, v.Reason = 8, "Stage verified"
	default:
		v.AwardedPoints, v.Reason = 5, "Stage unclear, partial points"
	}

	if stage == 3 && v.Verified &&
		m.Period(ctx, userID) == Harvest &&
		m.ledger.Flag(ctx, userID, ledger.Stage2Active) {
		m.ledger.SetFlag(ctx, userID, ledger.Stage3Active, true)
	}
	v.Stage3Active = m.ledger.Flag(ctx, userID, ledger.Stage3Active)
	return v, nil
}

func (m *MilestoneTracker) today() time.Time {
	now := m.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
