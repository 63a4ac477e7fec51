package ledger

import "fmt"

// Key is the base name of a ledger entry. Only the constants below are
// permitted; the stored form is produced by Namespaced.
type Key string

const (
	Started   Key = "started"
	Evaluated Key = "evaluated"
	Eligible  Key = "eligible"

	ProfileAwarded        Key = "profile_awarded"
	BankAwarded           Key = "bank_awarded"
	PenaltyBank           Key = "penalty_bank"
	PenaltyBankAwarded    Key = "penalty_bank_awarded"
	SensorAwarded         Key = "sensor_awarded"
	SoilAwarded           Key = "soil_awarded"
	NitrogenAwarded       Key = "n_awarded"
	PHAwarded             Key = "ph_awarded"
	CropAwarded           Key = "crop_awarded"
	QuizAwarded           Key = "quiz_awarded"
	WeatherAwarded        Key = "weather_awarded"
	PenaltyDrought        Key = "penalty_drought"
	PenaltyDroughtAwarded Key = "penalty_drought_awarded"
	PenaltyFlood          Key = "penalty_flood"
	PenaltyFloodAwarded   Key = "penalty_flood_awarded"

	LoanStart    Key = "loan_start"
	Stage1Active Key = "stage1_active"
	Stage2Active Key = "stage2_active"
	Stage3Active Key = "stage3_active"

	ProfileData Key = "profile_data"
	LastSensor  Key = "last_sensor"
)

// Activity is one of the six score-earning tasks.
type Activity string

const (
	Profile Activity = "profile"
	Bank    Activity = "bank"
	Sensor  Activity = "sensor"
	Crop    Activity = "crop"
	Quiz    Activity = "quiz"
	Weather Activity = "weather"
)

// Activities lists the earning tasks in dashboard order.
var Activities = []Activity{Profile, Bank, Sensor, Crop, Quiz, Weather}

// ParseActivity validates a client-supplied activity name.
func ParseActivity(s string) (Activity, error) {
	for _, a := range Activities {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown activity %q", s)
}

// SessionKey is the at-most-once guard for the activity.
func (a Activity) SessionKey() Key {
	return Key("session_used_" + string(a))
}

// AwardedKey holds the points (or "1" flag) recorded for the activity.
func (a Activity) AwardedKey() Key {
	return Key(string(a) + "_awarded")
}

// AllKeys is the full per-user key set removed by ClearAll.
var AllKeys = []Key{
	Started, Evaluated, Eligible,
	Profile.SessionKey(), Bank.SessionKey(), Sensor.SessionKey(),
	Crop.SessionKey(), Quiz.SessionKey(), Weather.SessionKey(),
	ProfileAwarded, BankAwarded, PenaltyBankAwarded, SensorAwarded, SoilAwarded, NitrogenAwarded, PHAwarded,
	CropAwarded, QuizAwarded, WeatherAwarded, PenaltyDroughtAwarded, PenaltyFloodAwarded,
	PenaltyDrought, PenaltyFlood, PenaltyBank,
	LoanStart, Stage1Active, Stage2Active, Stage3Active,
	ProfileData, LastSensor,
}

// Namespaced returns the storage key km_<base>_<userId>, or km_<base> when
// no user is known.
func Namespaced(base Key, userID string) string {
	if userID == "" {
		return "km_" + string(base)
	}
	return "km_" + string(base) + "_" + userID
}
