package notifications

import (
	"os"
	"strings"
)

// Config holds the notification-related configuration.
type Config struct {
	ShoutrrrURLs []string
}

// LoadConfig loads notification configuration from environment variables.
// SHOUTRRR_URLS is optional; without it notifications are disabled.
func LoadConfig() (*Config, error) {
	return &Config{
		ShoutrrrURLs: parseShoutrrrURLs(os.Getenv("SHOUTRRR_URLS")),
	}, nil
}

// parseShoutrrrURLs parses a comma-separated list of Shoutrrr URLs.
func parseShoutrrrURLs(urls string) []string {
	var result []string
	for _, url := range strings.Split(urls, ",") {
		trimmed := strings.TrimSpace(url)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
