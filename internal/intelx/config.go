package intelx

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://2.intelx.io"

// Config holds the intelligence API client configuration.
type Config struct {
	APIKey   string
	BaseURL  string
	DemoMode bool

	// Rate limiting of outbound calls (requests per second, burst).
	Rate  rate.Limit
	Burst int
}

// LoadConfig loads the client configuration from environment variables.
// Demo mode is an explicit switch, never inferred from the key value.
func LoadConfig() (*Config, error) {
	config := &Config{
		APIKey:  os.Getenv("INTELX_API_KEY"),
		BaseURL: os.Getenv("INTELX_BASE_URL"),
		Rate:    2,
		Burst:   4,
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	if demoStr := os.Getenv("INTELX_DEMO_MODE"); demoStr != "" {
		demo, err := strconv.ParseBool(demoStr)
		if err != nil {
			return nil, fmt.Errorf("invalid INTELX_DEMO_MODE value: %s", demoStr)
		}
		config.DemoMode = demo
	}

	if rateStr := os.Getenv("INTELX_RATE_LIMIT"); rateStr != "" {
		r, err := strconv.ParseFloat(rateStr, 64)
		if err != nil || r <= 0 {
			return nil, fmt.Errorf("invalid INTELX_RATE_LIMIT value: %s", rateStr)
		}
		config.Rate = rate.Limit(r)
	}

	if config.APIKey == "" && !config.DemoMode {
		return nil, fmt.Errorf("INTELX_API_KEY is required unless INTELX_DEMO_MODE is enabled")
	}

	return config, nil
}
