package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/leakpeek/leakpeek/internal/storage/models"
	"github.com/leakpeek/leakpeek/pkg/auth"
)

// RedisStore implements the Store interface using Redis.
//
// The daily query counter lives under its own key so INCR stays a single
// atomic server-side operation; the rest of the account is a JSON blob.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore initializes a new RedisStore instance.
func NewRedisStore(cfg *Config) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}

	return &RedisStore{client: rdb}, nil
}

// Initialize is a no-op; Redis is schema-less.
func (r *RedisStore) Initialize(ctx context.Context) error {
	return nil
}

func (r *RedisStore) Close(ctx context.Context) error {
	return r.client.Close()
}

func accountKey(userID string) string { return fmt.Sprintf("account:%s", userID) }
func quotaKey(userID string) string   { return fmt.Sprintf("quota:%s", userID) }
func intentKey(id string) string      { return fmt.Sprintf("intent:%s", id) }
func intentTxnKey(txn string) string  { return fmt.Sprintf("intent_txn:%s", txn) }
func historyKey(userID string) string { return fmt.Sprintf("history:%s", userID) }

// GetAccount retrieves an account, merging in the live counter key.
func (r *RedisStore) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	var acct models.Account
	val, err := r.client.Get(ctx, accountKey(userID)).Result()
	if err == redis.Nil {
		return acct, ErrAccountNotFound
	}
	if err != nil {
		return acct, err
	}
	if err := json.Unmarshal([]byte(val), &acct); err != nil {
		return acct, fmt.Errorf("failed to unmarshal Account: %w", err)
	}

	count, err := r.client.Get(ctx, quotaKey(userID)).Int()
	if err != nil && err != redis.Nil {
		return acct, err
	}
	acct.DailyQueryCount = count
	return acct, nil
}

// PutAccount creates or replaces the account profile. The daily counter
// lives under its own key and is never written here: a profile update
// carrying a count read earlier must not clobber INCRs that landed in
// between. A missing counter key reads as zero, so new accounts need no
// initialization either.
func (r *RedisStore) PutAccount(ctx context.Context, acct models.Account) error {
	acct.DailyQueryCount = 0 // counter is stored separately
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("failed to marshal Account: %w", err)
	}
	return r.client.Set(ctx, accountKey(acct.UserID), data, 0).Err()
}

// ExtendSubscription marks an account active until the given time.
func (r *RedisStore) ExtendSubscription(ctx context.Context, userID string, until time.Time) error {
	return r.updateAccount(ctx, userID, func(acct *models.Account) {
		acct.Status = models.SubscriptionActive
		acct.ExpiresAt = &until
	})
}

// IncrementDailyQueries uses Redis INCR for the atomic bump.
func (r *RedisStore) IncrementDailyQueries(ctx context.Context, userID string) (int, error) {
	count, err := r.client.Incr(ctx, quotaKey(userID)).Result()
	return int(count), err
}

// ResetDailyQueries zeroes the counter and stamps the reset time.
func (r *RedisStore) ResetDailyQueries(ctx context.Context, userID string, at time.Time) error {
	if err := r.client.Set(ctx, quotaKey(userID), 0, 0).Err(); err != nil {
		return err
	}
	return r.updateAccount(ctx, userID, func(acct *models.Account) {
		acct.LastReset = at
	})
}

func (r *RedisStore) updateAccount(ctx context.Context, userID string, mutate func(*models.Account)) error {
	val, err := r.client.Get(ctx, accountKey(userID)).Result()
	if err == redis.Nil {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	var acct models.Account
	if err := json.Unmarshal([]byte(val), &acct); err != nil {
		return err
	}
	mutate(&acct)
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, accountKey(userID), data, 0).Err()
}

// PutIntent persists a new payment intent and indexes it by transaction id.
func (r *RedisStore) PutIntent(ctx context.Context, intent models.PaymentIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal PaymentIntent: %w", err)
	}
	if err := r.client.Set(ctx, intentKey(intent.ID), data, 0).Err(); err != nil {
		return err
	}
	if intent.ExternalTxnID != "" {
		return r.client.Set(ctx, intentTxnKey(intent.ExternalTxnID), intent.ID, 0).Err()
	}
	return nil
}

// GetIntent retrieves a payment intent by id.
func (r *RedisStore) GetIntent(ctx context.Context, id string) (models.PaymentIntent, error) {
	var intent models.PaymentIntent
	val, err := r.client.Get(ctx, intentKey(id)).Result()
	if err == redis.Nil {
		return intent, ErrIntentNotFound
	}
	if err != nil {
		return intent, err
	}
	err = json.Unmarshal([]byte(val), &intent)
	return intent, err
}

// GetIntentByTxn retrieves a payment intent by the processor's transaction id.
func (r *RedisStore) GetIntentByTxn(ctx context.Context, txnID string) (models.PaymentIntent, error) {
	id, err := r.client.Get(ctx, intentTxnKey(txnID)).Result()
	if err == redis.Nil {
		return models.PaymentIntent{}, ErrIntentNotFound
	}
	if err != nil {
		return models.PaymentIntent{}, err
	}
	return r.GetIntent(ctx, id)
}

// MarkIntentConfirmed transitions an intent to confirmed.
func (r *RedisStore) MarkIntentConfirmed(ctx context.Context, id, txnID string, at time.Time) error {
	return r.updateIntent(ctx, id, func(intent *models.PaymentIntent) {
		intent.Status = models.IntentConfirmed
		intent.ExternalTxnID = txnID
		intent.ConfirmedAt = &at
	})
}

// MarkIntentExpired transitions an intent to expired.
func (r *RedisStore) MarkIntentExpired(ctx context.Context, id string) error {
	return r.updateIntent(ctx, id, func(intent *models.PaymentIntent) {
		intent.Status = models.IntentExpired
	})
}

func (r *RedisStore) updateIntent(ctx context.Context, id string, mutate func(*models.PaymentIntent)) error {
	intent, err := r.GetIntent(ctx, id)
	if err != nil {
		return err
	}
	mutate(&intent)
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, intentKey(id), data, 0).Err(); err != nil {
		return err
	}
	if intent.ExternalTxnID != "" {
		return r.client.Set(ctx, intentTxnKey(intent.ExternalTxnID), intent.ID, 0).Err()
	}
	return nil
}

// ListPendingIntents scans all intent keys and filters on status.
func (r *RedisStore) ListPendingIntents(ctx context.Context) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	iter := r.client.Scan(ctx, 0, "intent:*", 0).Iterator()
	for iter.Next(ctx) {
		val, err := r.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var intent models.PaymentIntent
		if err := json.Unmarshal([]byte(val), &intent); err != nil {
			continue
		}
		if intent.Status == models.IntentPending {
			intents = append(intents, intent)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return intents, nil
}

// AddSearch pushes a history record onto the user's list, newest first.
func (r *RedisStore) AddSearch(ctx context.Context, rec models.SearchRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal SearchRecord: %w", err)
	}
	return r.client.LPush(ctx, historyKey(rec.UserID), data).Err()
}

// RecentSearches returns up to limit history records, newest first.
func (r *RedisStore) RecentSearches(ctx context.Context, userID string, limit int) ([]models.SearchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	vals, err := r.client.LRange(ctx, historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	records := make([]models.SearchRecord, 0, len(vals))
	for _, val := range vals {
		var rec models.SearchRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// AddBlacklistedToken stores the token with a TTL so Redis evicts it itself.
func (r *RedisStore) AddBlacklistedToken(ctx context.Context, tokenString string, exp int64) error {
	ttl := time.Until(time.Unix(exp, 0))
	if ttl <= 0 {
		return nil
	}
	key := fmt.Sprintf("blacklist:%s", tokenString)
	return r.client.Set(ctx, key, "1", ttl).Err()
}

// IsTokenBlacklisted checks if a token is in the blacklist.
func (r *RedisStore) IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	key := fmt.Sprintf("blacklist:%s", tokenString)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// StoreRefreshToken saves a refresh token with a TTL matching its expiry.
func (r *RedisStore) StoreRefreshToken(ctx context.Context, token string, userID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}
	key := fmt.Sprintf("refresh:%s", token)
	return r.client.Set(ctx, key, userID, ttl).Err()
}

// ValidateRefreshToken returns the associated userID if the token is live.
func (r *RedisStore) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	key := fmt.Sprintf("refresh:%s", token)
	userID, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", auth.ErrTokenNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// RevokeRefreshToken removes a refresh token.
func (r *RedisStore) RevokeRefreshToken(ctx context.Context, token string) error {
	key := fmt.Sprintf("refresh:%s", token)
	return r.client.Del(ctx, key).Err()
}
