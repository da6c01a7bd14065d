package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Collector strategy names accepted in COLLECTOR_STRATEGY.
const (
	StrategyBrowser = "browser"
	StrategyHTTP    = "http"
)

// AppConfig holds all configuration for the application.
// The values are loaded from environment variables.
type AppConfig struct {
	// Core settings
	Port         string
	DatabasePath string
	LogLevel     string

	// Upstream portal settings
	UpstreamBaseURL   string
	XSRFToken         string
	SessionToken      string
	SessionCookieName string
	CollectorStrategy string

	// Ingestion engine knobs
	FetchWidth       int
	PerPage          int
	RetryCeiling     int
	RoundDelay       time.Duration
	ExhaustThreshold int
	NavigateTimeout  time.Duration
	TableTimeout     time.Duration

	// Locale settings for the upstream's rendered timestamps
	TimestampLayout    string
	TimestampSuffix    string
	MonthAbbreviations map[string]string
	LoadingPlaceholder string

	// Frontend URL for reference (e.g., CORS)
	FrontendBaseURL string
}

// Cfg is a global instance of the AppConfig.
var Cfg *AppConfig

// defaultThaiMonths maps the upstream's Thai month abbreviations onto the
// English ones Go's time package understands. Overridable via MONTH_ABBREVS
// ("ม.ค.=Jan,ก.พ.=Feb,...") when the upstream's locale drifts.
var defaultThaiMonths = map[string]string{
	"ม.ค.":  "Jan",
	"ก.พ.":  "Feb",
	"มี.ค.": "Mar",
	"เม.ย.": "Apr",
	"พ.ค.":  "May",
	"มิ.ย.": "Jun",
	"ก.ค.":  "Jul",
	"ส.ค.":  "Aug",
	"ก.ย.":  "Sep",
	"ต.ค.":  "Oct",
	"พ.ย.":  "Nov",
	"ธ.ค.":  "Dec",
}

// LoadConfig loads configuration from environment variables or a .env file.
// It centralizes all configuration logic for the application.
func LoadConfig() {
	// 1. Try loading from the current directory (standard behavior)
	errEnv := godotenv.Load()

	// 2. If not found, try loading from the parent directory (common when running from /backend)
	if errEnv != nil {
		errEnv = godotenv.Load("../.env")
	}

	if errEnv != nil {
		if os.IsNotExist(errEnv) {
			log.Println("Info: No .env file found in current or parent directory. Relying on OS environment variables (expected in production).")
		} else {
			log.Printf("Warning: Error loading .env file: %v. Relying on OS environment variables.", errEnv)
		}
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	// --- Upstream session credentials (secrets) ---
	xsrfToken := getRequiredEnv("UPSTREAM_XSRF_TOKEN")
	sessionToken := getRequiredEnv("UPSTREAM_SESSION_TOKEN")

	strategy := strings.ToLower(getEnv("COLLECTOR_STRATEGY", StrategyBrowser))
	if strategy != StrategyBrowser && strategy != StrategyHTTP {
		log.Printf("WARNING: Unknown COLLECTOR_STRATEGY '%s', falling back to '%s'.", strategy, StrategyBrowser)
		strategy = StrategyBrowser
	}

	// --- Populate the Global Config Struct ---
	Cfg = &AppConfig{
		// Core
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./depositmirror.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		// Upstream
		UpstreamBaseURL:   getEnv("UPSTREAM_BASE_URL", "https://admin.kingwin88.online/report/deposit"),
		XSRFToken:         xsrfToken,
		SessionToken:      sessionToken,
		SessionCookieName: getEnv("UPSTREAM_SESSION_COOKIE", "kingwin88_session"),
		CollectorStrategy: strategy,

		// Engine
		FetchWidth:       getEnvAsInt("FETCH_WIDTH", 2),
		PerPage:          getEnvAsInt("PER_PAGE", 100),
		RetryCeiling:     getEnvAsInt("RETRY_CEILING", 3),
		RoundDelay:       getEnvAsDuration("ROUND_DELAY", 2*time.Second),
		ExhaustThreshold: getEnvAsInt("EXHAUST_THRESHOLD", 2),
		NavigateTimeout:  getEnvAsDuration("NAVIGATE_TIMEOUT", 60*time.Second),
		TableTimeout:     getEnvAsDuration("TABLE_TIMEOUT", 30*time.Second),

		// Locale
		TimestampLayout:    getEnv("TIMESTAMP_LAYOUT", "2 Jan 06 15:04"),
		TimestampSuffix:    getEnv("TIMESTAMP_SUFFIX", "น."),
		MonthAbbreviations: getMonthAbbreviations("MONTH_ABBREVS"),
		LoadingPlaceholder: getEnv("LOADING_PLACEHOLDER", "กำลังโหลด..."),

		// Frontend
		FrontendBaseURL: getEnv("APP_BASE_URL", "http://localhost:3000"),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, Strategy=%s, Upstream=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.CollectorStrategy, Cfg.UpstreamBaseURL)
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

// getRequiredEnv retrieves an environment variable or terminates the application if not set.
func getRequiredEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set or is empty. Application cannot start securely.", key)
	}
	return value
}

// getEnvAsInt retrieves an environment variable as an integer or returns a fallback.
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

// getEnvAsDuration retrieves an environment variable as a time.Duration or returns a fallback.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

// getMonthAbbreviations parses a comma-separated list of "localized=english"
// month pairs, falling back to the built-in Thai table.
func getMonthAbbreviations(key string) map[string]string {
	pairsStr := getEnv(key, "")
	if pairsStr == "" {
		return defaultThaiMonths
	}
	months := make(map[string]string)
	for _, pair := range strings.Split(pairsStr, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			log.Printf("Invalid month abbreviation pair '%s' in %s, ignoring.", pair, key)
			continue
		}
		months[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	if len(months) == 0 {
		return defaultThaiMonths
	}
	return months
}
