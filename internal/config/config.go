package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	JWTSecret string

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	// Collaborator calls are bounded; a timeout is recoverable, never fatal.
	CollaboratorTimeout time.Duration
	DecomposeRetries    int
	DecomposeBackoff    time.Duration

	ProximityRadiusM  float64
	BusinessOpenHour  int
	BusinessCloseHour int

	// Empty means no places backend; fuzzy locations then match nothing.
	GeoBaseURL string

	RecurrenceSweep time.Duration
}

func Load() *Config {
	return &Config{
		Port: envStr("PORT", "8080"),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     envInt("DB_PORT", 5432),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),

		JWTSecret: envStr("JWT_SECRET", "dev-secret-change-me"),

		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   envStr("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),

		CollaboratorTimeout: time.Duration(envInt("AI_TIMEOUT_SEC", 20)) * time.Second,
		DecomposeRetries:    envInt("AI_DECOMPOSE_RETRIES", 3),
		DecomposeBackoff:    time.Duration(envInt("AI_BACKOFF_MS", 500)) * time.Millisecond,

		ProximityRadiusM:  float64(envInt("PROXIMITY_RADIUS_M", 500)),
		BusinessOpenHour:  envInt("BUSINESS_OPEN_HOUR", 9),
		BusinessCloseHour: envInt("BUSINESS_CLOSE_HOUR", 17),

		GeoBaseURL: os.Getenv("NOMINATIM_URL"),

		RecurrenceSweep: time.Duration(envInt("RECURRENCE_SWEEP_SEC", 300)) * time.Second,
	}
}

func (c *Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName,
	)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
