package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every runtime knob the service reads from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	LogLevel    string
	LogFormat   string

	// Finance upstream (Finnhub-style push feed + quote endpoint).
	FinnhubAPIKey  string
	FinnhubWSURL   string
	FinnhubRESTURL string
	Symbols        []string
	Sectors        map[string]string

	// Sports upstream (scoreboard polling).
	ScoresBaseURL string
	Leagues       []string

	// Fan-out tuning.
	ThrottleWindow   time.Duration
	SnapshotTTL      time.Duration
	SnapshotSafeDrop time.Duration
	ResultCacheTTL   time.Duration
	ProbeInterval    time.Duration
	StaleDataAfter   time.Duration
	MaxClients       int
}

// Load reads configuration from the environment, applying defaults and
// validating required fields.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),

		FinnhubAPIKey:  getEnv("FINNHUB_API_KEY", ""),
		FinnhubWSURL:   getEnv("FINNHUB_WS_URL", "wss://ws.finnhub.io"),
		FinnhubRESTURL: getEnv("FINNHUB_REST_URL", "https://finnhub.io/api/v1"),
		Symbols:        splitList(getEnv("TRACKED_SYMBOLS", "AAPL,MSFT,GOOGL,AMZN,TSLA,NVDA,META")),
		Sectors:        parsePairs(getEnv("SYMBOL_SECTORS", "")),

		ScoresBaseURL: getEnv("SCORES_BASE_URL", "https://site.api.espn.com/apis/site/v2/sports"),
		Leagues:       splitList(getEnv("TRACKED_LEAGUES", "NFL,NBA,MLB,NHL")),
	}

	var err error
	if cfg.ThrottleWindow, err = getDurationEnv("BROADCAST_THROTTLE", time.Second); err != nil {
		return nil, err
	}
	if cfg.SnapshotTTL, err = getDurationEnv("SNAPSHOT_TTL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SnapshotSafeDrop, err = getDurationEnv("SNAPSHOT_SAFE_DROP", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ResultCacheTTL, err = getDurationEnv("RESULT_CACHE_TTL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProbeInterval, err = getDurationEnv("PROBE_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.StaleDataAfter, err = getDurationEnv("STALE_DATA_AFTER", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxClients, err = getIntEnv("MAX_CLIENTS", 500); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.FinnhubAPIKey == "" {
		return nil, fmt.Errorf("FINNHUB_API_KEY is required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("TRACKED_SYMBOLS must name at least one symbol")
	}
	if len(cfg.Leagues) == 0 {
		return nil, fmt.Errorf("TRACKED_LEAGUES must name at least one league")
	}
	if cfg.SnapshotSafeDrop < cfg.SnapshotTTL {
		return nil, fmt.Errorf("SNAPSHOT_SAFE_DROP must not be smaller than SNAPSHOT_TTL")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	return d, nil
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePairs parses "AAPL:technology,XOM:energy" into a lookup map.
func parsePairs(value string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || key == "" || val == "" {
			continue
		}
		out[strings.ToUpper(key)] = strings.ToLower(val)
	}
	return out
}
