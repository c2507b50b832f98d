package storage

import (
	"context"
	"errors"
	"time"

	"github.com/leakpeek/leakpeek/internal/storage/models"
)

// Store defines the methods required for account, payment and history storage.
type Store interface {
	// Initialize sets up the necessary buckets/tables.
	Initialize(ctx context.Context) error

	Close(ctx context.Context) error

	// GetAccount retrieves an account by user id.
	GetAccount(ctx context.Context, userID string) (models.Account, error)

	// PutAccount creates or replaces an account.
	PutAccount(ctx context.Context, acct models.Account) error

	// ExtendSubscription marks an account active until the given time.
	ExtendSubscription(ctx context.Context, userID string, until time.Time) error

	// IncrementDailyQueries atomically bumps the daily counter and returns
	// the new value. Callers must not read-modify-write the counter in
	// application memory.
	IncrementDailyQueries(ctx context.Context, userID string) (int, error)

	// ResetDailyQueries zeroes the daily counter and stamps the reset time.
	ResetDailyQueries(ctx context.Context, userID string, at time.Time) error

	// PutIntent persists a new payment intent.
	PutIntent(ctx context.Context, intent models.PaymentIntent) error

	// GetIntent retrieves a payment intent by id.
	GetIntent(ctx context.Context, id string) (models.PaymentIntent, error)

	// GetIntentByTxn retrieves a payment intent by the processor's
	// transaction id.
	GetIntentByTxn(ctx context.Context, txnID string) (models.PaymentIntent, error)

	// MarkIntentConfirmed transitions an intent to confirmed and records
	// the external transaction id.
	MarkIntentConfirmed(ctx context.Context, id, txnID string, at time.Time) error

	// MarkIntentExpired transitions an intent to expired.
	MarkIntentExpired(ctx context.Context, id string) error

	// ListPendingIntents returns all intents still in the pending state.
	ListPendingIntents(ctx context.Context) ([]models.PaymentIntent, error)

	// AddSearch appends a search history record.
	AddSearch(ctx context.Context, rec models.SearchRecord) error

	// RecentSearches returns up to limit history records for a user,
	// newest first.
	RecentSearches(ctx context.Context, userID string, limit int) ([]models.SearchRecord, error)

	// AddBlacklistedToken adds a token string to the blacklist with its
	// expiration time.
	AddBlacklistedToken(ctx context.Context, tokenString string, exp int64) error

	// IsTokenBlacklisted checks if a token is in the blacklist.
	IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error)

	// StoreRefreshToken saves a refresh token with associated user and expiration.
	StoreRefreshToken(ctx context.Context, token string, userID string, expiresAt time.Time) error

	// ValidateRefreshToken checks if a refresh token is valid and not expired.
	// Returns the associated userID if valid.
	ValidateRefreshToken(ctx context.Context, token string) (string, error)

	// RevokeRefreshToken removes a refresh token from the store.
	RevokeRefreshToken(ctx context.Context, token string) error
}

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrIntentNotFound  = errors.New("payment intent not found")
)
