package models

import (
	"time"

	"gorm.io/datatypes"
)

type SensorReport struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt        time.Time      `json:"created_at"`
	UserID           string         `gorm:"size:36;index" json:"user_id"`
	OriginalFilename string         `gorm:"size:255" json:"original_filename"`
	TrustScore       float64        `json:"trust_score"` // 0-30
	Metrics          datatypes.JSON `json:"metrics"`
	AddressText      string         `gorm:"type:text" json:"address_text"`
	Lat              *float64       `json:"lat"`
	Lon              *float64       `json:"lon"`
	RainfallTotal    *float64       `json:"rainfall_total"`
}

func (SensorReport) TableName() string {
	return "sensor_reports"
}
