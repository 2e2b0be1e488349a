package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the report service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port          string
	PublicBaseURL string
	LogLevel      string

	// RabbitMQ, optional. Publishing is disabled when AMQPURL is empty.
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Image hosting
	ImageHost           string // "cloud" or "local"
	CloudUploadURL      string
	CloudDestroyURL     string
	CloudAPIKey         string
	CloudAPISecret      string
	CloudUploadPreset   string
	CloudFolder         string
	LocalUploadDir      string
	UploadTimeout       time.Duration
	MaxUploadBytes      int64
	MaxImageDimension   int
	ImageQuality        int
	BreakerMaxFailures  int
	BreakerOpenInterval time.Duration

	// Submission policy
	RequireConsent bool
	SubmitPerMin   int
	SubmitBurst    int

	// Location acquisition
	AcquisitionProfile      string
	AcquisitionProfilesFile string
	RequireSecureContext    bool

	// Map
	MapFallbackLat float64
	MapFallbackLng float64
	MapZoom        int
	MapTimezone    string
}

// Load loads configuration from a .env file, if present, and the environment
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to load .env: %v", err)
	}

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret"),
		DBName:     getEnv("DB_NAME", "olhovivo"),

		Port:          getEnv("PORT", "8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "olhovivo"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "report.created"),

		ImageHost:           getEnv("IMAGE_HOST", "local"),
		CloudUploadURL:      getEnv("CLOUD_UPLOAD_URL", ""),
		CloudDestroyURL:     getEnv("CLOUD_DESTROY_URL", ""),
		CloudAPIKey:         getEnv("CLOUD_API_KEY", ""),
		CloudAPISecret:      getEnv("CLOUD_API_SECRET", ""),
		CloudUploadPreset:   getEnv("CLOUD_UPLOAD_PRESET", ""),
		CloudFolder:         getEnv("CLOUD_FOLDER", "denuncias-roo"),
		LocalUploadDir:      getEnv("LOCAL_UPLOAD_DIR", "uploads"),
		UploadTimeout:       getDurationEnv("UPLOAD_TIMEOUT", 30*time.Second),
		MaxUploadBytes:      int64(getIntEnv("MAX_UPLOAD_BYTES", 10<<20)),
		MaxImageDimension:   getIntEnv("MAX_IMAGE_DIMENSION", 1600),
		ImageQuality:        getIntEnv("IMAGE_QUALITY", 85),
		BreakerMaxFailures:  getIntEnv("BREAKER_MAX_FAILURES", 5),
		BreakerOpenInterval: getDurationEnv("BREAKER_OPEN_INTERVAL", 30*time.Second),

		RequireConsent: getBoolEnv("REQUIRE_CONSENT", false),
		SubmitPerMin:   getIntEnv("SUBMIT_RATE_PER_MIN", 10),
		SubmitBurst:    getIntEnv("SUBMIT_BURST", 3),

		AcquisitionProfile:      getEnv("ACQUISITION_PROFILE", "precise"),
		AcquisitionProfilesFile: getEnv("ACQUISITION_PROFILES_FILE", ""),
		RequireSecureContext:    getBoolEnv("REQUIRE_SECURE_CONTEXT", true),

		MapFallbackLat: getFloatEnv("MAP_FALLBACK_LAT", -16.4677),
		MapFallbackLng: getFloatEnv("MAP_FALLBACK_LNG", -54.6368),
		MapZoom:        getIntEnv("MAP_ZOOM", 13),
		MapTimezone:    getEnv("MAP_TIMEZONE", "America/Cuiaba"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Warnf("invalid duration for %s: %q, using %v", key, value, defaultValue)
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warnf("invalid integer for %s: %q, using %d", key, value, defaultValue)
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Warnf("invalid number for %s: %q, using %v", key, value, defaultValue)
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Warnf("invalid boolean for %s: %q, using %v", key, value, defaultValue)
	}
	return defaultValue
}
