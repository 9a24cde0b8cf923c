package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr               string
	BackendBaseURL         string
	IdentityBaseURL        string
	IdentityAPIKey         string
	RedisAddr              string
	RedisPassword          string
	SessionSecret          string
	SessionIssuer          string
	SessionCookieName      string
	SessionTTL             time.Duration
	SessionRevalidateAfter time.Duration
	RequestTimeout         time.Duration
	SearchDebounce         time.Duration
	SearchMinQueryLen      int
	SessionSweepEnabled    bool
	SessionSweepInterval   time.Duration
	SessionSweepTimeout    time.Duration
}

func Load() Config {
	return Config{
		HTTPAddr:               getenv("HTTP_ADDR", ":8084"),
		BackendBaseURL:         getenv("BACKEND_BASE_URL", "http://127.0.0.1:8080/api"),
		IdentityBaseURL:        getenv("IDENTITY_BASE_URL", "http://127.0.0.1:8090/v1"),
		IdentityAPIKey:         getenv("IDENTITY_API_KEY", ""),
		RedisAddr:              getenv("REDIS_ADDR", ""),
		RedisPassword:          getenv("REDIS_PASSWORD", ""),
		SessionSecret:          getenv("SESSION_SECRET", "dev-secret"),
		SessionIssuer:          getenv("SESSION_ISSUER", "apnastudent-portal"),
		SessionCookieName:      getenv("SESSION_COOKIE_NAME", "portal_session"),
		SessionTTL:             getenvDuration("SESSION_TTL", 7*24*time.Hour),
		SessionRevalidateAfter: getenvDuration("SESSION_REVALIDATE_AFTER", 30*time.Minute),
		RequestTimeout:         getenvDuration("REQUEST_TIMEOUT", 10*time.Second),
		SearchDebounce:         getenvDuration("SEARCH_DEBOUNCE", 300*time.Millisecond),
		SearchMinQueryLen:      getenvInt("SEARCH_MIN_QUERY_LEN", 2),
		SessionSweepEnabled:    getenvBool("SESSION_SWEEP_ENABLED", true),
		SessionSweepInterval:   getenvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		SessionSweepTimeout:    getenvDuration("SESSION_SWEEP_TIMEOUT", 10*time.Second),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}
