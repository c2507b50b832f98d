package payments

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const rateCacheTTL = 5 * time.Minute

// Static fallback rates used when the rate source is unreachable. Rough
// but sufficient to keep the upgrade flow alive.
var fallbackRates = map[string]float64{
	"BTC":  65000,
	"ETH":  3500,
	"LTC":  80,
	"XMR":  160,
	"USDT": 1,
}

// RateSource is anything that can serve current USD exchange rates.
type RateSource interface {
	Rates(ctx context.Context) (map[string]float64, error)
}

// RateCache caches exchange rates for a few minutes and degrades to
// static rates when the source fails.
type RateCache struct {
	source RateSource
	logger *logrus.Logger

	mu        sync.Mutex
	rates     map[string]float64
	fetchedAt time.Time
}

// NewRateCache initializes a rate cache. A nil source means static rates
// only.
func NewRateCache(source RateSource, logger *logrus.Logger) *RateCache {
	return &RateCache{source: source, logger: logger}
}

// USDRate returns the USD value of one unit of the given crypto currency.
func (rc *RateCache) USDRate(ctx context.Context, cryptoType string) (float64, bool) {
	symbol := strings.ToUpper(cryptoType)

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.source != nil && time.Since(rc.fetchedAt) > rateCacheTTL {
		rates, err := rc.source.Rates(ctx)
		if err != nil {
			rc.logger.WithError(err).Warn("Rate source unreachable, using cached or fallback rates")
		} else {
			rc.rates = rates
			rc.fetchedAt = time.Now()
		}
	}

	if rate, ok := rc.rates[symbol]; ok && rate > 0 {
		return rate, true
	}
	rate, ok := fallbackRates[symbol]
	return rate, ok
}
