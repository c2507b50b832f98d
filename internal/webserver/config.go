package webserver

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the webserver configuration.
type Config struct {
	Port               string
	CorsAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	MaxConcurrency     int64
}

// NewConfig initializes the webserver configuration from environment
// variables.
func NewConfig() (*Config, error) {
	config := &Config{
		Port:           getEnv("PORT", "8080"),
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		MaxConcurrency: 8,
	}

	for _, origin := range strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			config.CorsAllowedOrigins = append(config.CorsAllowedOrigins, origin)
		}
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing RATE_LIMIT_RPS: %w", err)
		}
		config.RateLimitRPS = rps
	}

	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("error parsing RATE_LIMIT_BURST: %w", err)
		}
		config.RateLimitBurst = burst
	}

	if v := os.Getenv("MAX_CONCURRENT_SEARCHES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("error parsing MAX_CONCURRENT_SEARCHES: %w", err)
		}
		if n < 1 {
			return nil, fmt.Errorf("MAX_CONCURRENT_SEARCHES must be at least 1")
		}
		config.MaxConcurrency = n
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
