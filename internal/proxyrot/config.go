package proxyrot

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the proxy pool configuration.
type Config struct {
	Pool             []Endpoint
	RotationInterval time.Duration
}

// LoadConfig loads the proxy pool from environment variables.
// PROXY_POOL is a comma-separated list of protocol://host:port entries and
// may be empty (direct connections only).
func LoadConfig() (*Config, error) {
	config := &Config{
		RotationInterval: 5 * time.Minute,
	}

	intervalStr := os.Getenv("PROXY_ROTATION_MINUTES")
	if intervalStr != "" {
		minutes, err := strconv.Atoi(intervalStr)
		if err != nil || minutes <= 0 {
			return nil, fmt.Errorf("invalid PROXY_ROTATION_MINUTES value: %s", intervalStr)
		}
		config.RotationInterval = time.Duration(minutes) * time.Minute
	}

	poolStr := os.Getenv("PROXY_POOL")
	if poolStr == "" {
		return config, nil
	}

	for _, entry := range strings.Split(poolStr, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		ep, err := parseEndpoint(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid PROXY_POOL entry '%s': %w", entry, err)
		}
		config.Pool = append(config.Pool, ep)
	}

	return config, nil
}

func parseEndpoint(entry string) (Endpoint, error) {
	u, err := url.Parse(entry)
	if err != nil {
		return Endpoint{}, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("unsupported protocol: %s", u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return Endpoint{}, fmt.Errorf("host and port are required")
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Protocol: u.Scheme, Host: u.Hostname(), Port: port}, nil
}
