// Package scoring holds the trust score rules: the six activity award
// modules, which apply points at most once per login session, and the
// evaluation that recomputes the authoritative score from the ledger.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/krishimitra/krishimitra-api/ledger"
)

var (
	ErrProfileIncomplete = errors.New("nominee, date of birth, address and phone are required")
	ErrNoRainfall        = errors.New("no rainfall reading: upload sensor data with rainfall first")
	ErrNoQuizScore       = errors.New("quiz score must be between 1 and the question total")
)

// ScoreKeeper applies score mutations to the live score.
type ScoreKeeper interface {
	Score(ctx context.Context, userID string) (int, error)
	ApplyDelta(ctx context.Context, userID string, points int, description string) (int, error)
	SetScore(ctx context.Context, userID string, score int) (int, error)
}

// Award is one delta applied to the live score.
type Award struct {
	Points      int    `json:"points"`
	Description string `json:"description"`
}

// Outcome reports what an activity submission did.
type Outcome struct {
	Activity      ledger.Activity `json:"activity"`
	Awards        []Award         `json:"awards"`
	Points        int             `json:"points"`
	AlreadyScored bool            `json:"alreadyScored"`
	Score         int             `json:"score"`
}

type Awarder struct {
	ledger *ledger.Ledger
	keeper ScoreKeeper
	log    *slog.Logger
}

func NewAwarder(l *ledger.Ledger, keeper ScoreKeeper, logger *slog.Logger) *Awarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Awarder{ledger: l, keeper: keeper, log: logger.With("component", "scoring")}
}

// alreadyScored builds the no-op outcome for a repeated submission.
func (a *Awarder) alreadyScored(ctx context.Context, userID string, act ledger.Activity) (Outcome, error) {
	score, err := a.keeper.Score(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Activity: act, Awards: []Award{}, AlreadyScored: true, Score: score}, nil
}

// apply pushes each award through the keeper in order.
func (a *Awarder) apply(ctx context.Context, userID string, act ledger.Activity, awards []Award) (Outcome, error) {
	out := Outcome{Activity: act, Awards: awards}
	score, err := a.keeper.Score(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	for _, aw := range awards {
		score, err = a.keeper.ApplyDelta(ctx, userID, aw.Points, aw.Description)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to apply %s award: %w", act, err)
		}
		out.Points += aw.Points
	}
	out.Score = score
	if out.Awards == nil {
		out.Awards = []Award{}
	}
	a.log.Info("activity scored", "user_id", userID, "activity", act, "points", out.Points, "score", score)
	return out, nil
}

// AwardProfile saves the profile and awards +10 once it is complete.
func (a *Awarder) AwardProfile(ctx context.Context, userID string, form ProfileForm) (Outcome, error) {
	if !form.Complete() {
		return Outcome{}, ErrProfileIncomplete
	}

	unlock := a.ledger.Lock(userID, ledger.Profile)
	defer unlock()

	if b, err := json.Marshal(form); err == nil {
		a.ledger.Set(ctx, userID, ledger.ProfileData, string(b))
	}
	if a.ledger.Done(ctx, userID, ledger.Profile) {
		return a.alreadyScored(ctx, userID, ledger.Profile)
	}

	out, err := a.apply(ctx, userID, ledger.Profile, []Award{{Points: ProfilePoints, Description: "Profile completed"}})
	if err != nil {
		return Outcome{}, err
	}
	a.ledger.SetFlag(ctx, userID, ledger.ProfileAwarded, true)
	a.ledger.SetFlag(ctx, userID, ledger.Profile.SessionKey(), true)
	return out, nil
}

// SavedProfile returns the last saved profile form, if any.
func (a *Awarder) SavedProfile(ctx context.Context, userID string) (ProfileForm, bool) {
	var form ProfileForm
	v, ok := a.ledger.Get(ctx, userID, ledger.ProfileData)
	if !ok || json.Unmarshal([]byte(v), &form) != nil {
		return ProfileForm{}, false
	}
	return form, true
}

// BankResult is the bank-statement analyzer verdict.
type BankResult struct {
	Active     bool
	TrustDelta int
}

// AwardBank applies the analyzer's delta and, for an inactive account, a
// separate -15 penalty.
func (a *Awarder) AwardBank(ctx context.Context, userID string, res BankResult) (Outcome, error) {
	unlock := a.ledger.Lock(userID, ledger.Bank)
	defer unlock()

	if a.ledger.Done(ctx, userID, ledger.Bank) {
		return a.alreadyScored(ctx, userID, ledger.Bank)
	}

	awards := []Award{{Points: res.TrustDelta, Description: "Bank statement activity"}}
	if !res.Active {
		awards = append(awards, Award{Points: BankInactivityPenalty, Description: "Bank inactivity penalty"})
	}
	out, err := a.apply(ctx, userID, ledger.Bank, awards)
	if err != nil {
		return Outcome{}, err
	}
	if res.TrustDelta > 0 {
		a.ledger.SetFlag(ctx, userID, ledger.BankAwarded, true)
	}
	if !res.Active {
		a.ledger.SetInt(ctx, userID, ledger.PenaltyBank, BankInactivityPenalty)
		a.ledger.SetFlag(ctx, userID, ledger.PenaltyBankAwarded, true)
	}
	a.ledger.SetFlag(ctx, userID, ledger.Bank.SessionKey(), true)
	return out, nil
}

// SensorReading is the sensor analyzer output. TrustScore is nil when the
// analyzer could not score the upload, in which case the per-metric legacy
// rule applies. Report is cached verbatim for the weather check.
type SensorReading struct {
	TrustScore *float64
	Metrics    Metrics
	Report     json.RawMessage
}

// AwardSensor caches the report and awards up to 30 points. Nothing is
// recorded, and the session is not consumed, when the points come to zero.
func (a *Awarder) AwardSensor(ctx context.Context, userID string, r SensorReading) (Outcome, error) {
	unlock := a.ledger.Lock(userID, ledger.Sensor)
	defer unlock()

	if len(r.Report) > 0 {
		a.ledger.Set(ctx, userID, ledger.LastSensor, string(r.Report))
	}
	if a.ledger.Done(ctx, userID, ledger.Sensor) {
		return a.alreadyScored(ctx, userID, ledger.Sensor)
	}

	var points int
	var legacy *LegacyComponents
	if r.TrustScore != nil {
		points = SensorPoints(*r.TrustScore)
	} else {
		c := LegacySensor(r.Metrics)
		legacy = &c
		points = c.Total()
	}
	if points <= 0 {
		score, err := a.keeper.Score(ctx, userID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Activity: ledger.Sensor, Awards: []Award{}, Score: score}, nil
	}

	out, err := a.apply(ctx, userID, ledger.Sensor, []Award{{Points: points, Description: "Sensor readings verified"}})
	if err != nil {
		return Outcome{}, err
	}
	a.ledger.SetInt(ctx, userID, ledger.SensorAwarded, points)
	if legacy != nil {
		a.ledger.SetFlag(ctx, userID, ledger.PHAwarded, legacy.PH)
		a.ledger.SetFlag(ctx, userID, ledger.SoilAwarded, legacy.Soil)
		a.ledger.SetFlag(ctx, userID, ledger.NitrogenAwarded, legacy.Nitrogen)
	}
	a.ledger.SetFlag(ctx, userID, ledger.Sensor.SessionKey(), true)
	return out, nil
}

// LastSensorReport returns the cached sensor report.
func (a *Awarder) LastSensorReport(ctx context.Context, userID string) (json.RawMessage, bool) {
	v, ok := a.ledger.Get(ctx, userID, ledger.LastSensor)
	if !ok || v == "" || !json.Valid([]byte(v)) {
		return nil, false
	}
	return json.RawMessage(v), true
}

// AwardCrop awards the vision model's 0-10 quality score.
func (a *Awarder) AwardCrop(ctx context.Context, userID string, quality *float64) (Outcome, error) {
	unlock := a.ledger.Lock(userID, ledger.Crop)
	defer unlock()

	if a.ledger.Done(ctx, userID, ledger.Crop) {
		return a.alreadyScored(ctx, userID, ledger.Crop)
	}

	points := CropPoints(quality)
	out, err := a.apply(ctx, userID, ledger.Crop, []Award{{Points: points, Description: "Crop quality analysis"}})
	if err != nil {
		return Outcome{}, err
	}
	a.ledger.SetInt(ctx, userID, ledger.CropAwarded, points)
	a.ledger.SetFlag(ctx, userID, ledger.Crop.SessionKey(), true)
	return out, nil
}

// AwardQuiz gives proportional credit from the quest pool. The ledger keeps
// the best award across sessions.
func (a *Awarder) AwardQuiz(ctx context.Context, userID string, correct, total, pool int) (Outcome, error) {
	if correct <= 0 || total <= 0 || correct > total {
		return Outcome{}, ErrNoQuizScore
	}
	if pool <= 0 {
		pool = QuizPointPool
	}

	unlock := a.ledger.Lock(userID, ledger.Quiz)
	defer unlock()

	if a.ledger.Done(ctx, userID, ledger.Quiz) {
		return a.alreadyScored(ctx, userID, ledger.Quiz)
	}

	points := QuizPoints(correct, total, pool)
	out, err := a.apply(ctx, userID, ledger.Quiz, []Award{{Points: points, Description: "Financial quest completed"}})
	if err != nil {
		return Outcome{}, err
	}
	best := a.ledger.Int(ctx, userID, ledger.QuizAwarded)
	if points > best {
		best = points
	}
	a.ledger.SetInt(ctx, userID, ledger.QuizAwarded, best)
	a.ledger.SetFlag(ctx, userID, ledger.Quiz.SessionKey(), true)
	return out, nil
}

// WeatherCheck pairs the rainfall classification with the scoring outcome.
type WeatherCheck struct {
	Outcome
	Rainfall WeatherOutcome `json:"rainfall"`
}

// AwardWeather scores the cached 30-day rainfall: +10 in [25,75] mm, a
// one-time -10 drought penalty below 10 mm and a one-time -10 flood penalty
// above 100 mm.
func (a *Awarder) AwardWeather(ctx context.Context, userID string) (WeatherCheck, error) {
	unlock := a.ledger.Lock(userID, ledger.Weather)
	defer unlock()

	mm, ok := a.cachedRainfall(ctx, userID)
	if !ok {
		return WeatherCheck{}, ErrNoRainfall
	}
	w := ClassifyRainfall(mm)

	if a.ledger.Done(ctx, userID, ledger.Weather) {
		out, err := a.alreadyScored(ctx, userID, ledger.Weather)
		return WeatherCheck{Outcome: out, Rainfall: w}, err
	}

	var awards []Award
	if w.InRange {
		awards = append(awards, Award{Points: WeatherPoints, Description: "Rainfall within insured range"})
	}
	drought := w.Drought && !a.ledger.Flag(ctx, userID, ledger.PenaltyDroughtAwarded)
	if drought {
		awards = append(awards, Award{Points: DroughtPenalty, Description: "Drought penalty"})
	}
	flood := w.Flood && !a.ledger.Flag(ctx, userID, ledger.PenaltyFloodAwarded)
	if flood {
		awards = append(awards, Award{Points: FloodPenalty, Description: "Flood penalty"})
	}

	out, err := a.apply(ctx, userID, ledger.Weather, awards)
	if err != nil {
		return WeatherCheck{}, err
	}
	if w.InRange {
		a.ledger.SetFlag(ctx, userID, ledger.WeatherAwarded, true)
	}
	if drought {
		a.ledger.SetInt(ctx, userID, ledger.PenaltyDrought, DroughtPenalty)
		a.ledger.SetFlag(ctx, userID, ledger.PenaltyDroughtAwarded, true)
	}
	if flood {
		a.ledger.SetInt(ctx, userID, ledger.PenaltyFlood, FloodPenalty)
		a.ledger.SetFlag(ctx, userID, ledger.PenaltyFloodAwarded, true)
	}
	a.ledger.SetFlag(ctx, userID, ledger.Weather.SessionKey(), true)
	return WeatherCheck{Outcome: out, Rainfall: w}, nil
}

// cachedRainfall reads rainfallTotal (or rainfall) from the last sensor
// report. Numeric strings are accepted.
func (a *Awarder) cachedRainfall(ctx context.Context, userID string) (float64, bool) {
	raw, ok := a.LastSensorReport(ctx, userID)
	if !ok {
		return 0, false
	}
	var report map[string]interface{}
	if err := json.Unmarshal(raw, &report); err != nil {
		return 0, false
	}
	for _, k := range []string{"rainfallTotal", "rainfall"} {
		switch v := report[k].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
