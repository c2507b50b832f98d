package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/leakpeek/leakpeek/internal/storage/models"
	"github.com/leakpeek/leakpeek/pkg/auth"
)

// blacklistedToken and refreshToken are the auth support tables.
type blacklistedToken struct {
	Token     string `gorm:"primaryKey;size:1024"`
	ExpiresAt int64
}

type refreshToken struct {
	Token     string `gorm:"primaryKey;size:1024"`
	UserID    string `gorm:"size:128"`
	ExpiresAt time.Time
}

// PostgresStore implements the Store interface using gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects and runs the auto-migration.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	store := &PostgresStore{db: db}
	if err := store.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

// Initialize auto-migrates the models.
func (p *PostgresStore) Initialize(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(
		&models.Account{},
		&models.PaymentIntent{},
		&models.SearchRecord{},
		&blacklistedToken{},
		&refreshToken{},
	)
}

func (p *PostgresStore) Close(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetAccount retrieves an account by user id.
func (p *PostgresStore) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	var acct models.Account
	err := p.db.WithContext(ctx).First(&acct, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return acct, ErrAccountNotFound
	}
	return acct, err
}

// PutAccount creates or replaces an account.
func (p *PostgresStore) PutAccount(ctx context.Context, acct models.Account) error {
	return p.db.WithContext(ctx).Save(&acct).Error
}

// ExtendSubscription marks an account active until the given time.
func (p *PostgresStore) ExtendSubscription(ctx context.Context, userID string, until time.Time) error {
	res := p.db.WithContext(ctx).Model(&models.Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"status":     models.SubscriptionActive,
			"expires_at": until,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// IncrementDailyQueries bumps the counter server-side so concurrent
// searches by the same user cannot lose updates.
func (p *PostgresStore) IncrementDailyQueries(ctx context.Context, userID string) (int, error) {
	var count int
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Account{}).
			Where("user_id = ?", userID).
			UpdateColumn("daily_query_count", gorm.Expr("daily_query_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}
		var acct models.Account
		if err := tx.First(&acct, "user_id = ?", userID).Error; err != nil {
			return err
		}
		count = acct.DailyQueryCount
		return nil
	})
	return count, err
}

// ResetDailyQueries zeroes the counter and stamps the reset time.
func (p *PostgresStore) ResetDailyQueries(ctx context.Context, userID string, at time.Time) error {
	res := p.db.WithContext(ctx).Model(&models.Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"daily_query_count": 0,
			"last_reset":        at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// PutIntent persists a new payment intent.
func (p *PostgresStore) PutIntent(ctx context.Context, intent models.PaymentIntent) error {
	return p.db.WithContext(ctx).Create(&intent).Error
}

// GetIntent retrieves a payment intent by id.
func (p *PostgresStore) GetIntent(ctx context.Context, id string) (models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := p.db.WithContext(ctx).First(&intent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return intent, ErrIntentNotFound
	}
	return intent, err
}

// GetIntentByTxn retrieves a payment intent by the processor's transaction id.
func (p *PostgresStore) GetIntentByTxn(ctx context.Context, txnID string) (models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := p.db.WithContext(ctx).First(&intent, "external_txn_id = ?", txnID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return intent, ErrIntentNotFound
	}
	return intent, err
}

// MarkIntentConfirmed transitions an intent to confirmed.
func (p *PostgresStore) MarkIntentConfirmed(ctx context.Context, id, txnID string, at time.Time) error {
	res := p.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.IntentConfirmed,
			"external_txn_id": txnID,
			"confirmed_at":    at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// MarkIntentExpired transitions an intent to expired.
func (p *PostgresStore) MarkIntentExpired(ctx context.Context, id string) error {
	res := p.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("id = ?", id).
		Update("status", models.IntentExpired)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// ListPendingIntents returns all intents still in the pending state.
func (p *PostgresStore) ListPendingIntents(ctx context.Context) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := p.db.WithContext(ctx).
		Where("status = ?", models.IntentPending).
		Find(&intents).Error
	return intents, err
}

// AddSearch appends a search history record.
func (p *PostgresStore) AddSearch(ctx context.Context, rec models.SearchRecord) error {
	return p.db.WithContext(ctx).Create(&rec).Error
}

// RecentSearches returns up to limit history records, newest first.
func (p *PostgresStore) RecentSearches(ctx context.Context, userID string, limit int) ([]models.SearchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.SearchRecord
	err := p.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// AddBlacklistedToken adds a token string to the blacklist.
func (p *PostgresStore) AddBlacklistedToken(ctx context.Context, tokenString string, exp int64) error {
	return p.db.WithContext(ctx).Save(&blacklistedToken{Token: tokenString, ExpiresAt: exp}).Error
}

// IsTokenBlacklisted checks the blacklist, deleting expired entries on read.
func (p *PostgresStore) IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	var entry blacklistedToken
	err := p.db.WithContext(ctx).First(&entry, "token = ?", tokenString).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if time.Now().Unix() > entry.ExpiresAt {
		return false, p.db.WithContext(ctx).Delete(&entry).Error
	}
	return true, nil
}

// StoreRefreshToken saves a refresh token with associated user and expiration.
func (p *PostgresStore) StoreRefreshToken(ctx context.Context, token string, userID string, expiresAt time.Time) error {
	return p.db.WithContext(ctx).Save(&refreshToken{Token: token, UserID: userID, ExpiresAt: expiresAt}).Error
}

// ValidateRefreshToken returns the associated userID if the token is live.
func (p *PostgresStore) ValidateRefreshToken(ctx context.Context, token string) (string, error) {
	var entry refreshToken
	err := p.db.WithContext(ctx).First(&entry, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", auth.ErrTokenNotFound
	}
	if err != nil {
		return "", err
	}
	if time.Now().After(entry.ExpiresAt) {
		return "", errors.New("refresh token expired")
	}
	return entry.UserID, nil
}

// RevokeRefreshToken removes a refresh token.
func (p *PostgresStore) RevokeRefreshToken(ctx context.Context, token string) error {
	return p.db.WithContext(ctx).Delete(&refreshToken{}, "token = ?", token).Error
}
