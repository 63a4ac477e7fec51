package scoring

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/krishimitra/krishimitra-api/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeeper struct {
	mu     sync.Mutex
	scores map[string]int
	deltas []Award
	sets   []int
}

func newFakeKeeper(score int) *fakeKeeper {
	return &fakeKeeper{scores: map[string]int{"u1": score}}
}

func (k *fakeKeeper) Score(_ context.Context, userID string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.scores[userID], nil
}

func (k *fakeKeeper) ApplyDelta(_ context.Context, userID string, points int, description string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.scores[userID] = ClampScore(k.scores[userID] + points)
	k.deltas = append(k.deltas, Award{Points: points, Description: description})
	return k.scores[userID], nil
}

func (k *fakeKeeper) SetScore(_ context.Context, userID string, score int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.scores[userID] = ClampScore(score)
	k.sets = append(k.sets, score)
	return k.scores[userID], nil
}

func setup(score int) (*Awarder, *ledger.Ledger, *fakeKeeper) {
	l := ledger.New(ledger.NewMemoryStore(), nil)
	k := newFakeKeeper(score)
	return NewAwarder(l, k, nil), l, k
}

func fptr(f float64) *float64 { return &f }

func sensorReport(t *testing.T, rainfall float64) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{"trustScore": 20, "rainfallTotal": rainfall})
	require.NoError(t, err)
	return b
}

func TestRules(t *testing.T) {
	assert.Equal(t, 15, QuizPoints(3, 4, 20))
	assert.Equal(t, 20, QuizPoints(4, 4, 20))
	assert.Equal(t, 7, QuizPoints(1, 3, 20), "6.67 rounds to 7")
	assert.Equal(t, 0, QuizPoints(0, 4, 20))

	assert.Equal(t, 30, SensorPoints(42))
	assert.Equal(t, 0, SensorPoints(-3))
	assert.Equal(t, 13, SensorPoints(12.5))

	assert.Equal(t, 7, CropPoints(nil))
	assert.Equal(t, 10, CropPoints(fptr(14)))
	assert.Equal(t, 9, CropPoints(fptr(8.6)))

	c := LegacySensor(Metrics{PH: fptr(6.5), Moisture: fptr(70), Nitrogen: fptr(300)})
	assert.True(t, c.PH)
	assert.False(t, c.Soil)
	assert.True(t, c.Nitrogen)
	assert.Equal(t, 20, c.Total())
	assert.Equal(t, 0, LegacySensor(Metrics{}).Total())

	assert.True(t, ClassifyRainfall(50).InRange)
	assert.True(t, ClassifyRainfall(5).Drought)
	assert.True(t, ClassifyRainfall(120).Flood)
	w := ClassifyRainfall(9.6)
	assert.Equal(t, 10, w.RainfallMM)
	assert.False(t, w.Drought, "rainfall is rounded before classification")

	assert.True(t, ProfileForm{Nominee: "Sita", DOB: "1980-01-01", Address: "Nashik", Phone: "98"}.Complete())
	assert.False(t, ProfileForm{Nominee: "  ", DOB: "1980-01-01", Address: "Nashik", Phone: "98"}.Complete())
}

func TestEveryActivityScoresOncePerSession(t *testing.T) {
	ctx := context.Background()
	profile := ProfileForm{Nominee: "Sita", DOB: "1980-01-01", Address: "Nashik", Phone: "9876543210"}

	cases := []struct {
		name     string
		activity ledger.Activity
		prepare  func(a *Awarder, l *ledger.Ledger)
		trigger  func(a *Awarder) (Outcome, error)
		points   int
	}{
		{"profile", ledger.Profile, nil, func(a *Awarder) (Outcome, error) { return a.AwardProfile(ctx, "u1", profile) }, 10},
		{"bank", ledger.Bank, nil, func(a *Awarder) (Outcome, error) {
			return a.AwardBank(ctx, "u1", BankResult{Active: true, TrustDelta: 20})
		}, 20},
		{"sensor", ledger.Sensor, nil, func(a *Awarder) (Outcome, error) {
			return a.AwardSensor(ctx, "u1", SensorReading{TrustScore: fptr(24)})
		}, 24},
		{"crop", ledger.Crop, nil, func(a *Awarder) (Outcome, error) { return a.AwardCrop(ctx, "u1", fptr(8)) }, 8},
		{"quiz", ledger.Quiz, nil, func(a *Awarder) (Outcome, error) { return a.AwardQuiz(ctx, "u1", 3, 4, QuizPointPool) }, 15},
		{"weather", ledger.Weather, func(a *Awarder, l *ledger.Ledger) {
			l.Set(ctx, "u1", ledger.LastSensor, `{"rainfallTotal": 50}`)
		}, func(a *Awarder) (Outcome, error) {
			w, err := a.AwardWeather(ctx, "u1")
			return w.Outcome, err
		}, 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, l, k := setup(50)
			if tc.prepare != nil {
				tc.prepare(a, l)
			}

			first, err := tc.trigger(a)
			require.NoError(t, err)
			assert.False(t, first.AlreadyScored)
			assert.Equal(t, tc.points, first.Points)
			assert.Equal(t, 50+tc.points, first.Score)
			assert.True(t, l.Done(ctx, "u1", tc.activity))

			deltas := len(k.deltas)
			second, err := tc.trigger(a)
			require.NoError(t, err)
			assert.True(t, second.AlreadyScored)
			assert.Equal(t, 0, second.Points)
			assert.Equal(t, first.Score, second.Score)
			assert.Len(t, k.deltas, deltas, "second trigger must not touch the score")
		})
	}
}

func TestConcurrentSubmissionsAwardOnce(t *testing.T) {
	ctx := context.Background()
	a, _, k := setup(0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.AwardCrop(ctx, "u1", fptr(9))
		}()
	}
	wg.Wait()

	assert.Len(t, k.deltas, 1)
	assert.Equal(t, 9, k.scores["u1"])
}

func TestAwardProfileIncomplete(t *testing.T) {
	a, l, k := setup(50)
	_, err := a.AwardProfile(context.Background(), "u1", ProfileForm{Nominee: "Sita"})
	assert.ErrorIs(t, err, ErrProfileIncomplete)
	assert.Empty(t, k.deltas)
	_, ok := l.Get(context.Background(), "u1", ledger.ProfileData)
	assert.False(t, ok, "validation errors mutate nothing")
}

func TestAwardProfileSavesData(t *testing.T) {
	ctx := context.Background()
	a, _, _ := setup(50)
	form := ProfileForm{Nominee: "Sita", DOB: "1980-01-01", Address: "Nashik", Phone: "9876543210"}
	_, err := a.AwardProfile(ctx, "u1", form)
	require.NoError(t, err)

	saved, ok := a.SavedProfile(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, form, saved)
}

func TestAwardBankInactive(t *testing.T) {
	ctx := context.Background()
	a, l, k := setup(50)

	out, err := a.AwardBank(ctx, "u1", BankResult{Active: false, TrustDelta: 20})
	require.NoError(t, err)
	assert.Equal(t, 5, out.Points)
	assert.Equal(t, []Award{
		{Points: 20, Description: "Bank statement activity"},
		{Points: -15, Description: "Bank inactivity penalty"},
	}, k.deltas)
	assert.True(t, l.Flag(ctx, "u1", ledger.BankAwarded))
	assert.True(t, l.Flag(ctx, "u1", ledger.PenaltyBankAwarded))
	assert.Equal(t, -15, l.Int(ctx, "u1", ledger.PenaltyBank))

	c := Contributions(ctx, l, "u1")
	assert.Equal(t, -15, c[ledger.Bank], "penalty overrides the positive delta")
}

func TestAwardSensorZeroPointsDoesNotConsumeSession(t *testing.T) {
	ctx := context.Background()
	a, l, k := setup(50)
	report := sensorReport(t, 40)

	out, err := a.AwardSensor(ctx, "u1", SensorReading{TrustScore: fptr(0), Report: report})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Points)
	assert.Empty(t, k.deltas)
	assert.False(t, l.Done(ctx, "u1", ledger.Sensor))

	cached, ok := a.LastSensorReport(ctx, "u1")
	require.True(t, ok)
	assert.JSONEq(t, string(report), string(cached), "the report is cached even without an award")

	out, err = a.AwardSensor(ctx, "u1", SensorReading{TrustScore: fptr(18)})
	require.NoError(t, err)
	assert.Equal(t, 18, out.Points)
}

func TestAwardSensorLegacyFallback(t *testing.T) {
	ctx := context.Background()
	a, l, _ := setup(0)

	out, err := a.AwardSensor(ctx, "u1", SensorReading{
		Metrics: Metrics{PH: fptr(6.5), Moisture: fptr(70), Nitrogen: fptr(300)},
	})
	require.NoError(t, err)
	assert.Equal(t, 20, out.Points)
	assert.True(t, l.Flag(ctx, "u1", ledger.PHAwarded))
	assert.False(t, l.Flag(ctx, "u1", ledger.SoilAwarded))
	assert.True(t, l.Flag(ctx, "u1", ledger.NitrogenAwarded))

	// Ledgers written before sensor_awarded existed only carry the components.
	l.Remove(ctx, "u1", ledger.SensorAwarded)
	assert.Equal(t, 20, Contributions(ctx, l, "u1")[ledger.Sensor])
}

func TestAwardQuizKeepsBest(t *testing.T) {
	ctx := context.Background()
	a, l, _ := setup(0)

	l.SetInt(ctx, "u1", ledger.QuizAwarded, 20)
	out, err := a.AwardQuiz(ctx, "u1", 2, 4, QuizPointPool)
	require.NoError(t, err)
	assert.Equal(t, 10, out.Points)
	assert.Equal(t, 20, l.Int(ctx, "u1", ledger.QuizAwarded))

	_, err = a.AwardQuiz(ctx, "u2", 0, 4, QuizPointPool)
	assert.ErrorIs(t, err, ErrNoQuizScore)
}

func TestAwardQuizRejectsScoreAboveTotal(t *testing.T) {
	ctx := context.Background()
	a, l, k := setup(70)

	_, err := a.AwardQuiz(ctx, "u1", 100, 4, QuizPointPool)
	assert.ErrorIs(t, err, ErrNoQuizScore)
	assert.Equal(t, 70, k.scores["u1"])
	assert.Equal(t, 0, l.Int(ctx, "u1", ledger.QuizAwarded))
	assert.False(t, l.Done(ctx, "u1", ledger.Quiz))

	assert.Equal(t, QuizPointPool, QuizPoints(9, 4, QuizPointPool))
}

func TestAwardWeather(t *testing.T) {
	ctx := context.Background()

	t.Run("drought", func(t *testing.T) {
		a, l, k := setup(50)
		l.Set(ctx, "u1", ledger.LastSensor, `{"rainfallTotal": 5}`)
		w, err := a.AwardWeather(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, w.Rainfall.Drought)
		assert.Equal(t, -10, w.Points)
		assert.True(t, l.Flag(ctx, "u1", ledger.PenaltyDroughtAwarded))

		// A new session must not charge the drought penalty twice.
		l.ResetSession(ctx, "u1")
		w, err = a.AwardWeather(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, w.Points)
		assert.Len(t, k.deltas, 1)
		assert.Equal(t, -10, Contributions(ctx, l, "u1")[ledger.Weather])
	})

	t.Run("in range", func(t *testing.T) {
		a, l, _ := setup(50)
		l.Set(ctx, "u1", ledger.LastSensor, `{"rainfall": "50"}`)
		w, err := a.AwardWeather(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 10, w.Points)
		assert.Equal(t, 10, Contributions(ctx, l, "u1")[ledger.Weather])
	})

	t.Run("flood", func(t *testing.T) {
		a, l, _ := setup(50)
		l.Set(ctx, "u1", ledger.LastSensor, `{"rainfallTotal": 120}`)
		w, err := a.AwardWeather(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, w.Rainfall.Flood)
		assert.Equal(t, -10, w.Points)
		assert.True(t, l.Flag(ctx, "u1", ledger.PenaltyFloodAwarded))
	})

	t.Run("neutral rainfall consumes the session", func(t *testing.T) {
		a, l, k := setup(50)
		l.Set(ctx, "u1", ledger.LastSensor, `{"rainfallTotal": 15}`)
		w, err := a.AwardWeather(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, w.Points)
		assert.Empty(t, k.deltas)
		assert.True(t, l.Done(ctx, "u1", ledger.Weather))
	})

	t.Run("no reading", func(t *testing.T) {
		a, l, _ := setup(50)
		_, err := a.AwardWeather(ctx, "u1")
		assert.ErrorIs(t, err, ErrNoRainfall)
		assert.False(t, l.Done(ctx, "u1", ledger.Weather))
	})
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	a, l, k := setup(63)

	_, err := a.AwardProfile(ctx, "u1", ProfileForm{Nominee: "Sita", DOB: "1980-01-01", Address: "Nashik", Phone: "98"})
	require.NoError(t, err)
	_, err = a.AwardBank(ctx, "u1", BankResult{Active: true, TrustDelta: 20})
	require.NoError(t, err)
	_, err = a.AwardSensor(ctx, "u1", SensorReading{TrustScore: fptr(30), Report: sensorReport(t, 50)})
	require.NoError(t, err)
	_, err = a.AwardCrop(ctx, "u1", fptr(10))
	require.NoError(t, err)
	_, err = a.AwardQuiz(ctx, "u1", 4, 4, QuizPointPool)
	require.NoError(t, err)
	_, err = a.AwardWeather(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, k.scores["u1"], "the delta path clamps at 100")

	ev, err := a.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, ev.Total) // 10+20+30+10+20+10
	assert.True(t, ev.Eligible)
	assert.True(t, l.Flag(ctx, "u1", ledger.Evaluated))
	assert.True(t, l.Flag(ctx, "u1", ledger.Eligible))

	again, err := a.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, ev.Total, again.Total)
	assert.Equal(t, ev.Contributions, again.Contributions)
	assert.Equal(t, []int{100, 100}, k.sets)
}

func TestEvaluateIgnoresDriftAndUnfinishedActivities(t *testing.T) {
	ctx := context.Background()
	a, l, k := setup(95)

	_, err := a.AwardCrop(ctx, "u1", fptr(6))
	require.NoError(t, err)
	// Awarded in an earlier session but not redone in this one.
	l.SetFlag(ctx, "u1", ledger.ProfileAwarded, true)

	ev, err := a.Evaluate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 6, ev.Total)
	assert.False(t, ev.Eligible)
	assert.Equal(t, 6, k.scores["u1"])
	v, _ := l.Get(ctx, "u1", ledger.Eligible)
	assert.Equal(t, "0", v)
}

func TestTotalClampsNegative(t *testing.T) {
	assert.Equal(t, 0, Total(map[ledger.Activity]int{ledger.Bank: -15, ledger.Weather: -10}))
	assert.Equal(t, 100, Total(map[ledger.Activity]int{ledger.Sensor: 90, ledger.Quiz: 20}))
}
