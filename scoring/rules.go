package scoring

import (
	"math"
	"strings"
)

const (
	ProfilePoints = 10

	// BankActivePoints is what an awarded bank statement counts for at
	// evaluation time.
	BankActivePoints      = 20
	BankInactivityPenalty = -15

	SensorMaxPoints       = 30
	SensorComponentPoints = 10

	CropMaxPoints      = 10
	CropDefaultQuality = 7

	QuizPointPool = 20

	WeatherPoints  = 10
	DroughtPenalty = -10
	FloodPenalty   = -10

	RainfallLowMM  = 25
	RainfallHighMM = 75
	DroughtBelowMM = 10
	FloodAboveMM   = 100

	EligibilityScore = 80
	MaxTrustScore    = 100
	MinTrustScore    = 0
)

// ProfileForm is the farmer's profile submission.
type ProfileForm struct {
	Nominee string `json:"nominee"`
	DOB     string `json:"dob"`
	Address string `json:"addr"`
	Phone   string `json:"phone"`
}

// Complete reports whether every required field is non-blank.
func (f ProfileForm) Complete() bool {
	return strings.TrimSpace(f.Nominee) != "" &&
		f.DOB != "" &&
		strings.TrimSpace(f.Address) != "" &&
		strings.TrimSpace(f.Phone) != ""
}

// Metrics are the soil readings extracted from a sensor upload.
type Metrics struct {
	PH       *float64 `json:"ph"`
	Moisture *float64 `json:"moisture"`
	Nitrogen *float64 `json:"nitrogen"`
}

// LegacyComponents is the per-metric breakdown used when no aggregate sensor
// score is available.
type LegacyComponents struct {
	PH       bool
	Soil     bool
	Nitrogen bool
}

func (c LegacyComponents) Total() int {
	total := 0
	for _, ok := range []bool{c.PH, c.Soil, c.Nitrogen} {
		if ok {
			total += SensorComponentPoints
		}
	}
	return total
}

// LegacySensor awards 10 points per metric in range: pH 6.0-7.5,
// moisture 20-60, nitrogen 240-480.
func LegacySensor(m Metrics) LegacyComponents {
	return LegacyComponents{
		PH:       inRange(m.PH, 6.0, 7.5),
		Soil:     inRange(m.Moisture, 20, 60),
		Nitrogen: inRange(m.Nitrogen, 240, 480),
	}
}

// SensorPoints converts an analyzer score (0-30) to whole points.
func SensorPoints(trustScore float64) int {
	return round(clamp(trustScore, 0, SensorMaxPoints))
}

// CropPoints converts a 0-10 quality score to points, defaulting a missing
// score to 7.
func CropPoints(quality *float64) int {
	q := float64(CropDefaultQuality)
	if quality != nil {
		q = *quality
	}
	return round(clamp(q, 0, CropMaxPoints))
}

// QuizPoints gives proportional credit out of the quest pool. The result
// never exceeds the pool.
func QuizPoints(correct, total, pool int) int {
	if correct <= 0 || total <= 0 {
		return 0
	}
	if correct > total {
		correct = total
	}
	return round(float64(correct) * (float64(pool) / float64(total)))
}

// WeatherOutcome is the classification of a 30-day rainfall reading.
type WeatherOutcome struct {
	RainfallMM int  `json:"rainfallMm"`
	InRange    bool `json:"inRange"`
	Drought    bool `json:"drought"`
	Flood      bool `json:"flood"`
}

// ClassifyRainfall rounds the reading to whole millimetres first.
func ClassifyRainfall(mm float64) WeatherOutcome {
	r := round(mm)
	return WeatherOutcome{
		RainfallMM: r,
		InRange:    r >= RainfallLowMM && r <= RainfallHighMM,
		Drought:    r < DroughtBelowMM,
		Flood:      r > FloodAboveMM,
	}
}

// ClampScore bounds a trust score to [0,100].
func ClampScore(n int) int {
	if n < MinTrustScore {
		return MinTrustScore
	}
	if n > MaxTrustScore {
		return MaxTrustScore
	}
	return n
}

func inRange(v *float64, lo, hi float64) bool {
	return v != nil && *v >= lo && *v <= hi
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round rounds half up, so 2.5 -> 3 and -2.5 -> -2.
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}
