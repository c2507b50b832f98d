package quota

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leakpeek/leakpeek/internal/storage"
	"github.com/leakpeek/leakpeek/internal/storage/models"
)

// FreeDailyLimit is the number of searches a free account gets per day.
const FreeDailyLimit = 3

// resetWindow: counters older than this are considered stale.
const resetWindow = 24 * time.Hour

// ErrQuotaExceeded signals that the free-tier daily limit is reached.
var ErrQuotaExceeded = errors.New("daily search limit reached")

// Gate decides whether an account may search and maintains its daily
// counter through the store's atomic primitives.
type Gate struct {
	store  storage.Store
	logger *logrus.Logger
}

// NewGate initializes a new quota gate.
func NewGate(store storage.Store, logger *logrus.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

// IsPremium reports whether the account has an active, unexpired
// subscription. An account whose expiry has passed stops being premium on
// the next evaluation without any explicit status change.
func IsPremium(acct models.Account, now time.Time) bool {
	if acct.Status != models.SubscriptionActive {
		return false
	}
	return acct.ExpiresAt == nil || acct.ExpiresAt.After(now)
}

// Remaining returns the number of searches left today, or nil for
// unlimited (premium) accounts.
func Remaining(acct models.Account, now time.Time) *int {
	if IsPremium(acct, now) {
		return nil
	}
	left := FreeDailyLimit - acct.DailyQueryCount
	if left < 0 {
		left = 0
	}
	return &left
}

// ResetIfStale zeroes the daily counter when the last reset is more than
// 24 hours old. The passed account is updated in place.
func (g *Gate) ResetIfStale(ctx context.Context, acct *models.Account, now time.Time) error {
	if now.Sub(acct.LastReset) <= resetWindow {
		return nil
	}
	if err := g.store.ResetDailyQueries(ctx, acct.UserID, now); err != nil {
		return err
	}
	acct.DailyQueryCount = 0
	acct.LastReset = now
	g.logger.WithField("user_id", acct.UserID).Debug("Daily quota reset")
	return nil
}

// Check refuses the search when a free account has exhausted its daily
// limit. It never consumes quota itself.
func (g *Gate) Check(acct models.Account, now time.Time) error {
	if IsPremium(acct, now) {
		return nil
	}
	if acct.DailyQueryCount >= FreeDailyLimit {
		return ErrQuotaExceeded
	}
	return nil
}

// ConsumeAfterSuccess increments the counter for free accounts. It is
// called only after a successful upstream search: a failed search never
// burns quota.
func (g *Gate) ConsumeAfterSuccess(ctx context.Context, acct *models.Account, now time.Time) error {
	if IsPremium(*acct, now) {
		return nil
	}
	count, err := g.store.IncrementDailyQueries(ctx, acct.UserID)
	if err != nil {
		return err
	}
	acct.DailyQueryCount = count
	return nil
}
