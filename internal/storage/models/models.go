package models

import "time"

// Subscription status values for an Account.
const (
	SubscriptionFree    = "free"
	SubscriptionActive  = "active"
	SubscriptionExpired = "expired"
)

// Account represents a registered user and their subscription state.
type Account struct {
	UserID          string     `json:"user_id" gorm:"primaryKey;size:128"`
	Email           string     `json:"email" gorm:"size:255"`
	Name            string     `json:"name" gorm:"size:255"`
	Status          string     `json:"status" gorm:"size:20;default:'free'"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	DailyQueryCount int        `json:"daily_query_count"`
	LastReset       time.Time  `json:"last_reset"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

// Payment intent status values.
const (
	IntentPending   = "pending"
	IntentConfirmed = "confirmed"
	IntentExpired   = "expired"
)

// PaymentIntent is a pending cryptocurrency payment awaiting confirmation.
type PaymentIntent struct {
	ID            string     `json:"id" gorm:"primaryKey;size:64"`
	UserID        string     `json:"user_id" gorm:"index;size:128"`
	CryptoType    string     `json:"crypto_type" gorm:"size:10"`
	USDAmount     float64    `json:"usd_amount"`
	CryptoAmount  float64    `json:"crypto_amount"`
	Address       string     `json:"address" gorm:"size:128"`
	Status        string     `json:"status" gorm:"size:20;default:'pending'"`
	ExternalTxnID string     `json:"external_txn_id,omitempty" gorm:"index;size:128"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	ExpiresAt     time.Time  `json:"expires_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
}

// Expired reports whether a still-pending intent has passed its deadline.
func (p *PaymentIntent) Expired(now time.Time) bool {
	return p.Status == IntentPending && now.After(p.ExpiresAt)
}

// SearchRecord is one entry of a user's search history.
type SearchRecord struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index;size:128"`
	Term      string    `json:"term" gorm:"size:512"`
	Type      string    `json:"type" gorm:"size:16"`
	Results   int       `json:"results"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
