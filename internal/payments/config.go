package payments

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const defaultAPIURL = "https://www.coinpayments.net/api.php"

// Config holds the payment processor configuration. PublicKey and
// PrivateKey may be empty: the service then runs in manual-fallback mode
// where user-supplied transaction hashes are accepted as proof.
type Config struct {
	PublicKey  string
	PrivateKey string
	IPNSecret  string
	APIURL     string

	PriceUSD  float64
	IntentTTL time.Duration
}

// Configured reports whether a real processor is wired up.
func (c *Config) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// LoadConfig loads payment configuration from environment variables.
func LoadConfig() (*Config, error) {
	config := &Config{
		PublicKey:  os.Getenv("COINPAYMENTS_PUBLIC_KEY"),
		PrivateKey: os.Getenv("COINPAYMENTS_PRIVATE_KEY"),
		IPNSecret:  os.Getenv("COINPAYMENTS_IPN_SECRET"),
		APIURL:     os.Getenv("COINPAYMENTS_API_URL"),
		PriceUSD:   29.0,
		IntentTTL:  24 * time.Hour,
	}
	if config.APIURL == "" {
		config.APIURL = defaultAPIURL
	}

	if priceStr := os.Getenv("PREMIUM_PRICE_USD"); priceStr != "" {
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("invalid PREMIUM_PRICE_USD value: %s", priceStr)
		}
		config.PriceUSD = price
	}

	if ttlStr := os.Getenv("PAYMENT_INTENT_TTL_HOURS"); ttlStr != "" {
		hours, err := strconv.Atoi(ttlStr)
		if err != nil || hours <= 0 {
			return nil, fmt.Errorf("invalid PAYMENT_INTENT_TTL_HOURS value: %s", ttlStr)
		}
		config.IntentTTL = time.Duration(hours) * time.Hour
	}

	if config.Configured() && config.IPNSecret == "" {
		return nil, fmt.Errorf("COINPAYMENTS_IPN_SECRET is required when processor keys are set")
	}

	return config, nil
}
