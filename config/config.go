package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/krishimitra/krishimitra-api/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Port             string
	DatabaseURL      string
	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	AllowedOrigin    string

	GeminiAPIKey  string
	GeminiModel   string
	WeatherAPIURL string
	GeocodeAPIURL string

	SyncInterval   time.Duration
	MaxUploadBytes int64

	HorizonURL          string
	NetworkPassphrase   string
	DisbursementAccount string
	DisbursementAsset   string
	DisbursementIssuer  string
	DisbursementSecret  string
}

// LoadConfig reads the environment, after loading envFiles (or .env when
// none are given).
func LoadConfig(envFiles ...string) (*Config, error) {
	godotenv.Load(envFiles...)

	syncInterval, err := time.ParseDuration(getEnvOrDefault("SYNC_INTERVAL", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}
	maxUpload, err := strconv.ParseInt(getEnvOrDefault("MAX_UPLOAD_BYTES", "16777216"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_BYTES: %w", err)
	}

	cfg := &Config{
		Port:             getEnvOrDefault("PORT", "8080"),
		DatabaseURL:      getEnvOrDefault("DATABASE_URL", "sqlite:krishimitra.db"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		AllowedOrigin:    getEnvOrDefault("ALLOWED_ORIGIN", "*"),

		GeminiAPIKey:  firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
		GeminiModel:   getEnvOrDefault("GEMINI_MODEL", "gemini-pro"),
		WeatherAPIURL: getEnvOrDefault("WEATHER_API_URL", "https://api.open-meteo.com/v1/forecast"),
		GeocodeAPIURL: getEnvOrDefault("GEOCODE_API_URL", "https://nominatim.openstreetmap.org/search"),

		SyncInterval:   syncInterval,
		MaxUploadBytes: maxUpload,

		HorizonURL:          getEnvOrDefault("HORIZON_URL", "https://horizon-testnet.stellar.org"),
		NetworkPassphrase:   getEnvOrDefault("NETWORK_PASSPHRASE", "Test SDF Network ; September 2015"),
		DisbursementAccount: os.Getenv("DISBURSEMENT_ACCOUNT"),
		DisbursementAsset:   getEnvOrDefault("DISBURSEMENT_ASSET", "XLM"),
		DisbursementIssuer:  os.Getenv("DISBURSEMENT_ISSUER"),
		DisbursementSecret:  os.Getenv("DISBURSEMENT_SECRET"),
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.JWTRefreshSecret == "" {
		cfg.JWTRefreshSecret = cfg.JWTSecret
	}
	return cfg, nil
}

// Dialector picks the gorm driver from the DATABASE_URL scheme.
func Dialector(databaseURL string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"),
		strings.HasPrefix(databaseURL, "host="):
		return postgres.Open(databaseURL), nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite:")), nil
	case strings.HasPrefix(databaseURL, "file:"):
		return sqlite.Open(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL %q", databaseURL)
	}
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
