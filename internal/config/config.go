package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis RedisConfig

	Insight InsightConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// InsightConfig carries the fixed, restart-only settings of the insight
// engine. Tunables that may change at runtime live in InsightTuning.
type InsightConfig struct {
	TTL              time.Duration
	DailyQuota       int
	StoreTimeout     time.Duration
	DirectoryTTL     time.Duration
	Location         string
	ChangeChannel    string
	ChangeDebounce   time.Duration
	ScanBatchSize    int
	RunMigrations    bool
	TuningConfigPath string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "insightdesk"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		NodeID:            getenvInt64("NODE_ID", 1),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Insight: InsightConfig{
			TTL:              time.Duration(getenvInt("INSIGHT_TTL_DAYS", 30)) * 24 * time.Hour,
			DailyQuota:       getenvInt("INSIGHT_DAILY_QUOTA", 5),
			StoreTimeout:     getenvDuration("INSIGHT_STORE_TIMEOUT", 10*time.Second),
			DirectoryTTL:     getenvDuration("INSIGHT_DIRECTORY_TTL", 5*time.Minute),
			Location:         getenv("INSIGHT_LOCATION", "UTC"),
			ChangeChannel:    getenv("INSIGHT_CHANGE_CHANNEL", "insightdesk:ai_insights:changes"),
			ChangeDebounce:   getenvDuration("INSIGHT_CHANGE_DEBOUNCE", 500*time.Millisecond),
			ScanBatchSize:    getenvInt("INSIGHT_SCAN_BATCH_SIZE", 500),
			RunMigrations:    getenvBool("INSIGHT_RUN_MIGRATIONS", true),
			TuningConfigPath: strings.TrimSpace(getenv("INSIGHT_TUNING_PATH", "")),
		},
	}

	return cfg
}

// IsProduction reports whether the app runs in the production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// LoadLocation resolves the location used for "today" boundaries, falling
// back to UTC for unknown names.
func (c InsightConfig) LoadLocation() *time.Location {
	name := strings.TrimSpace(c.Location)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
