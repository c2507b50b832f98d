package proxyrot

import (
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Endpoint is one member of the outbound proxy pool.
type Endpoint struct {
	Protocol string `json:"protocol"` // http or https
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// URL renders the endpoint as protocol://host:port.
func (e Endpoint) URL() string {
	return fmt.Sprintf("%s://%s:%d", e.Protocol, e.Host, e.Port)
}

// Rotator selects an egress proxy per upstream request. The index and last
// rotation timestamp are shared across concurrent requests; updates are
// atomic single read-modify-writes. A rotation lost to a race only shifts
// the cadence, it never corrupts the index.
type Rotator struct {
	pool     atomic.Value // []Endpoint
	interval time.Duration
	index    atomic.Int64
	lastRot  atomic.Int64 // unix nanos of the last rotation
	logger   *logrus.Logger
}

// New initializes a Rotator over the given pool. An empty pool is valid:
// every request then goes out directly.
func New(pool []Endpoint, interval time.Duration, logger *logrus.Logger) *Rotator {
	r := &Rotator{
		interval: interval,
		logger:   logger,
	}
	r.pool.Store(pool)
	r.lastRot.Store(time.Now().UnixNano())
	return r
}

func (r *Rotator) endpoints() []Endpoint {
	pool, _ := r.pool.Load().([]Endpoint)
	return pool
}

// Current returns the proxy at the current index, rotating first if more
// than the configured interval has elapsed since the last rotation.
// Returns nil when the pool is empty.
func (r *Rotator) Current() *Endpoint {
	pool := r.endpoints()
	if len(pool) == 0 {
		return nil
	}

	last := r.lastRot.Load()
	if time.Since(time.Unix(0, last)) > r.interval {
		// Only one racer wins the swap; the rest reuse the fresh index.
		if r.lastRot.CompareAndSwap(last, time.Now().UnixNano()) {
			r.advance()
		}
	}

	idx := int(r.index.Load()) % len(pool)
	if idx < 0 {
		idx = 0
	}
	ep := pool[idx]
	return &ep
}

// ForceRotate unconditionally advances the index. Called after upstream
// 429/403 responses so the next attempt leaves through a different egress
// point. It does not retry the failed call.
func (r *Rotator) ForceRotate() {
	pool := r.endpoints()
	if len(pool) == 0 {
		return
	}
	r.advance()
	r.lastRot.Store(time.Now().UnixNano())
	r.logger.WithField("index", r.index.Load()%int64(len(pool))).Info("Forced proxy rotation")
}

func (r *Rotator) advance() {
	pool := r.endpoints()
	if n := int64(len(pool)); n > 0 {
		next := r.index.Add(1)
		// Keep the counter small so it never wraps in practice.
		if next >= n*1000 {
			r.index.Store(next % n)
		}
	}
}

// Refresh replaces the pool and resets the rotation state.
func (r *Rotator) Refresh(pool []Endpoint) {
	r.pool.Store(pool)
	r.index.Store(0)
	r.lastRot.Store(time.Now().UnixNano())
}

// Transport builds an HTTP transport routed through the current proxy.
// Proxy unavailability never blocks a request: an empty pool or an
// unparsable endpoint degrades to a direct connection.
func (r *Rotator) Transport() *http.Transport {
	ep := r.Current()
	if ep == nil {
		return &http.Transport{}
	}

	proxyURL, err := url.Parse(ep.URL())
	if err != nil {
		r.logger.WithError(err).WithField("proxy", ep.URL()).
			Warn("Invalid proxy endpoint, falling back to direct connection")
		return &http.Transport{}
	}

	return &http.Transport{Proxy: http.ProxyURL(proxyURL)}
}
