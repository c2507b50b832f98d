package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/leakpeek/leakpeek/internal/storage/models"
	"github.com/leakpeek/leakpeek/pkg/auth"
)

// Bucket names used by the bolt backend.
var (
	bucketAccounts     = []byte("Accounts")
	bucketIntents      = []byte("PaymentIntents")
	bucketIntentsByTxn = []byte("PaymentIntentsByTxn")
	bucketHistory      = []byte("SearchHistory")
	bucketBlacklist    = []byte("BlacklistedTokens")
	bucketRefresh      = []byte("RefreshTokens")
)

// BoltStore implements the Store interface using bbolt.
type BoltStore struct {
	db     *bbolt.DB
	path   string
	logger *logrus.Logger
}

// NewBoltStore opens the bolt file and creates the buckets.
func NewBoltStore(path string, logger *logrus.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	store := &BoltStore{
		db:     db,
		path:   path,
		logger: logger,
	}

	if err := store.Initialize(context.Background()); err != nil {
		return nil, err
	}

	return store, nil
}

// Initialize sets up the necessary buckets.
func (b *BoltStore) Initialize(ctx context.Context) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketAccounts,
			bucketIntents,
			bucketIntentsByTxn,
			bucketHistory,
			bucketBlacklist,
			bucketRefresh,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create %s bucket: %v", name, err)
			}
		}
		return nil
	})
}

func (b *BoltStore) Close(ctx context.Context) error {
	return b.db.Close()
}

// GetAccount retrieves an account by user id.
func (b *BoltStore) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	var acct models.Account
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get([]byte(userID))
		if data == nil {
			return ErrAccountNotFound
		}
		return json.Unmarshal(data, &acct)
	})
	return acct, err
}

// PutAccount creates or replaces an account.
func (b *BoltStore) PutAccount(ctx context.Context, acct models.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to marshal Account: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put([]byte(acct.UserID), data)
	})
}

// ExtendSubscription marks an account active until the given time.
func (b *BoltStore) ExtendSubscription(ctx context.Context, userID string, until time.Time) error {
	return b.updateAccount(userID, func(acct *models.Account) {
		acct.Status = models.SubscriptionActive
		acct.ExpiresAt = &until
	})
}

// IncrementDailyQueries bumps the daily counter inside one write
// transaction and returns the new value.
func (b *BoltStore) IncrementDailyQueries(ctx context.Context, userID string) (int, error) {
	var count int
	err := b.updateAccount(userID, func(acct *models.Account) {
		acct.DailyQueryCount++
		count = acct.DailyQueryCount
	})
	return count, err
}

// ResetDailyQueries zeroes the daily counter and stamps the reset time.
func (b *BoltStore) ResetDailyQueries(ctx context.Context, userID string, at time.Time) error {
	return b.updateAccount(userID, func(acct *models.Account) {
		acct.DailyQueryCount = 0
		acct.LastReset = at
	})
}

func (b *BoltStore) updateAccount(userID string, mutate func(*models.Account)) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAccounts)
		data := bucket.Get([]byte(userID))
		if data == nil {
			return ErrAccountNotFound
		}
		var acct models.Account
		if err := json.Unmarshal(data, &acct); err != nil {
			return err
		}
		mutate(&acct)
		updated, err := json.Marshal(acct)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(userID), updated)
	})
}

// PutIntent persists a new payment intent and indexes it by transaction id.
func (b *BoltStore) PutIntent(ctx context.Context, intent models.PaymentIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal PaymentIntent: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketIntents).Put([]byte(intent.ID), data); err != nil {
			return err
		}
		if intent.ExternalTxnID != "" {
			return tx.Bucket(bucketIntentsByTxn).Put([]byte(intent.ExternalTxnID), []byte(intent.ID))
		}
		return nil
	})
}

// GetIntent retrieves a payment intent by id.
func (b *BoltStore) GetIntent(ctx context.Context, id string) (models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketIntents).Get([]byte(id))
		if data == nil {
			return ErrIntentNotFound
		}
		return json.Unmarshal(data, &intent)
	})
	return intent, err
}

// GetIntentByTxn retrieves a payment intent by the processor's transaction id.
func (b *BoltStore) GetIntentByTxn(ctx context.Context, txnID string) (models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketIntentsByTxn).Get([]byte(txnID))
		if id == nil {
			return ErrIntentNotFound
		}
		data := tx.Bucket(bucketIntents).Get(id)
		if data == nil {
			return ErrIntentNotFound
		}
		return json.Unmarshal(data, &intent)
	})
	return intent, err
}

// MarkIntentConfirmed transitions an intent to confirmed.
func (b *BoltStore) MarkIntentConfirmed(ctx context.Context, id, txnID string, at time.Time) error {
	return b.updateIntent(id, func(intent *models.PaymentIntent) {
		intent.Status = models.IntentConfirmed
		intent.ExternalTxnID = txnID
		intent.ConfirmedAt = &at
	})
}

// MarkIntentExpired transitions an intent to expired.
func (b *BoltStore) MarkIntentExpired(ctx context.Context, id string) error {
	return b.updateIntent(id, func(intent *models.PaymentIntent) {
		intent.Status = models.IntentExpired
	})
}

func (b *BoltStore) updateIntent(id string, mutate func(*models.PaymentIntent)) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketIntents)
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrIntentNotFound
		}
		var intent models.PaymentIntent
		if err := json.Unmarshal(data, &intent); err != nil {
			return err
		}
		mutate(&intent)
		updated, err := json.Marshal(intent)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(id), updated); err != nil {
			return err
		}
		if intent.ExternalTxnID != "" {
			return tx.Bucket(bucketIntentsByTxn).Put([]byte(intent.ExternalTxnID), []byte(intent.ID))
		}
		return nil
	})
}

// ListPendingIntents returns all intents still in the pending state.
func (b *BoltStore) ListPendingIntents(ctx context.Context) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIntents).ForEach(func(k, v []byte) error {
			var intent models.PaymentIntent
			if err := json.Unmarshal(v, &intent); err != nil {
				b.logger.WithError(err).Warn("Skipping undecodable payment intent")
				return nil
			}
			if intent.Status == models.IntentPending {
				intents = append(intents, intent)
			}
			return nil
		})
	})
	return intents, err
}

// AddSearch appends a search history record. Keys are userID:unixnano so a
// prefix scan returns one user's history in time order.
func (b *BoltStore) AddSearch(ctx context.Context, rec models.SearchRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal SearchRecord: %w", err)
	}
	key := fmt.Sprintf("%s:%020d", rec.UserID, rec.CreatedAt.UnixNano())
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketHistory).Put([]byte(key), data)
	})
}

// RecentSearches returns up to limit history records for a user, newest first.
func (b *BoltStore) RecentSearches(ctx context.Context, userID string, limit int) ([]models.SearchRecord, error) {
	var records []models.SearchRecord
	prefix := []byte(userID + ":")
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec models.SearchRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys come back oldest first; flip and trim.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// AddBlacklistedToken adds a token string to the blacklist with its expiration time.
func (b *BoltStore) AddBlacklistedToken(ctx context.Context, tokenString string, exp int64) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlacklist).Put([]byte(tokenString), []byte(fmt.Sprintf("%d", exp)))
	})
}

// IsTokenBlacklisted checks if a token is in the blacklist. Expired entries
// are removed on read.
func (b *BoltStore) IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	var blacklisted bool
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlacklist)
		data := bucket.Get([]byte(tokenString))
		if data == nil {
			return nil
		}
		var exp int64
		if _, err := fmt.Sscanf(string(data), "%d", &exp); err != nil {
			return bucket.Delete([]byte(tokenString))
		}
		if time.Now().Unix() > exp {
			return bucket.Delete([]byte(tokenString))
		}
		blacklisted = true
		return nil
	})
	return blacklisted, err
}

type refreshTokenRecord struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StoreRefreshToken saves a refresh token with associated user and expiration.
func (b *BoltStore) StoreRefreshToken(ctx context.Context, token string, userID string, expiresAt time.Time) error {
	data, err := json.Marshal(refreshTokenRecord{UserID: userID, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRefresh).Put([]byte(token), data)
	})
}

// ValidateRefreshToken checks if a refresh token is valid and not expired.
func (b *BoltStore) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	var rec refreshTokenRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRefresh).Get([]byte(token))
		if data == nil {
			return auth.ErrTokenNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return "", err
	}
	if time.Now().After(rec.ExpiresAt) {
		return "", fmt.Errorf("refresh token expired")
	}
	return rec.UserID, nil
}

// RevokeRefreshToken removes a refresh token.
func (b *BoltStore) RevokeRefreshToken(ctx context.Context, token string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRefresh).Delete([]byte(token))
	})
}
