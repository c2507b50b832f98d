package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/leakpeek/leakpeek/internal/storage"
	"github.com/leakpeek/leakpeek/internal/storage/models"
)

// subscriptionPeriod is granted per confirmed payment, counted from the
// confirmation time, not added to any prior expiry.
const subscriptionPeriod = 30 * 24 * time.Hour

// minManualProofLength is the minimum transaction hash length accepted in
// manual-fallback mode.
const minManualProofLength = 16

var (
	// ErrVerification: the processor is unreachable, rejected the call or
	// an IPN signature did not match. Distinct from "not yet paid".
	ErrVerification = errors.New("payment verification failed")

	ErrAlreadyConfirmed    = errors.New("payment intent already confirmed")
	ErrIntentExpired       = errors.New("payment intent expired")
	ErrInvalidProof        = errors.New("transaction hash too short")
	ErrUnsupportedCurrency = errors.New("unsupported crypto currency")
)

// Notifier receives payment lifecycle events.
type Notifier interface {
	Send(title, message string)
}

// Service implements the payment confirmation flow.
type Service struct {
	config    *Config
	store     storage.Store
	processor *Processor // nil in manual-fallback mode
	rates     *RateCache
	notifier  Notifier // may be nil
	logger    *logrus.Logger
}

// NewService initializes the payment service. processor may be nil when no
// processor is configured; confirmation then falls back to user-supplied
// transaction hashes.
func NewService(config *Config, store storage.Store, processor *Processor, rates *RateCache, notifier Notifier, logger *logrus.Logger) *Service {
	return &Service{
		config:    config,
		store:     store,
		processor: processor,
		rates:     rates,
		notifier:  notifier,
		logger:    logger,
	}
}

// CreateIntent computes the crypto amount for the monthly price, allocates
// a receiving address and persists a pending intent.
func (s *Service) CreateIntent(ctx context.Context, userID, cryptoType string) (models.PaymentIntent, error) {
	symbol := strings.ToUpper(cryptoType)
	rate, ok := s.rates.USDRate(ctx, symbol)
	if !ok {
		return models.PaymentIntent{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, cryptoType)
	}

	now := time.Now().UTC()
	intent := models.PaymentIntent{
		ID:           uuid.New().String(),
		UserID:       userID,
		CryptoType:   symbol,
		USDAmount:    s.config.PriceUSD,
		CryptoAmount: roundCrypto(s.config.PriceUSD / rate),
		Status:       models.IntentPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.config.IntentTTL),
	}

	if s.processor != nil {
		created, err := s.processor.CreateTransaction(ctx, intent.USDAmount, symbol, userID)
		if err != nil {
			return models.PaymentIntent{}, err
		}
		intent.Address = created.Address
		intent.ExternalTxnID = created.TxnID
		if amount, err := strconv.ParseFloat(created.Amount, 64); err == nil && amount > 0 {
			intent.CryptoAmount = amount
		}
	} else {
		intent.Address = placeholderAddress(intent.ID, symbol)
	}

	if err := s.store.PutIntent(ctx, intent); err != nil {
		return models.PaymentIntent{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"intent_id": intent.ID,
		"user_id":   userID,
		"crypto":    symbol,
		"amount":    intent.CryptoAmount,
	}).Info("Payment intent created")

	return intent, nil
}

// Confirm attempts to confirm an intent. A still-pending payment is not an
// error: the returned intent simply keeps its pending status. proof is the
// user-supplied transaction hash, only consulted in manual-fallback mode.
func (s *Service) Confirm(ctx context.Context, intentID, proof string) (models.PaymentIntent, error) {
	intent, err := s.loadIntent(ctx, intentID)
	if err != nil {
		return models.PaymentIntent{}, err
	}

	switch intent.Status {
	case models.IntentConfirmed:
		return intent, ErrAlreadyConfirmed
	case models.IntentExpired:
		return intent, ErrIntentExpired
	}

	if s.processor != nil {
		info, err := s.processor.GetTxInfo(ctx, intent.ExternalTxnID)
		if err != nil {
			return intent, err
		}
		switch {
		case info.Status >= txnStatusConfirmed:
			return s.confirmIntent(ctx, intent, intent.ExternalTxnID)
		case info.Status == txnStatusCancelled:
			if err := s.store.MarkIntentExpired(ctx, intent.ID); err != nil {
				return intent, err
			}
			intent.Status = models.IntentExpired
			return intent, ErrIntentExpired
		default:
			// Not yet paid; the caller polls again later.
			return intent, nil
		}
	}

	// Manual fallback: a plausible transaction hash is sufficient proof.
	if len(strings.TrimSpace(proof)) < minManualProofLength {
		return intent, ErrInvalidProof
	}
	return s.confirmIntent(ctx, intent, strings.TrimSpace(proof))
}

// HandleIPN processes a webhook callback. The signature is verified over
// the raw body before anything else; a mismatch rejects the payload
// without side effects.
func (s *Service) HandleIPN(ctx context.Context, body []byte, signature string) error {
	if !VerifyIPN(body, signature, s.config.IPNSecret) {
		return fmt.Errorf("%w: IPN signature mismatch", ErrVerification)
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("%w: malformed IPN payload: %v", ErrVerification, err)
	}

	txnID := values.Get("txn_id")
	if txnID == "" {
		return fmt.Errorf("%w: IPN payload missing txn_id", ErrVerification)
	}
	status, err := strconv.Atoi(values.Get("status"))
	if err != nil {
		return fmt.Errorf("%w: IPN payload has invalid status: %v", ErrVerification, err)
	}

	intent, err := s.loadIntentByTxn(ctx, txnID)
	if err != nil {
		return err
	}
	if intent.Status != models.IntentPending {
		s.logger.WithFields(logrus.Fields{
			"intent_id": intent.ID,
			"status":    intent.Status,
		}).Info("IPN for non-pending intent ignored")
		return nil
	}

	switch {
	case status >= txnStatusConfirmed:
		_, err := s.confirmIntent(ctx, intent, txnID)
		return err
	case status == txnStatusCancelled:
		return s.store.MarkIntentExpired(ctx, intent.ID)
	default:
		return nil
	}
}

// ExpireStale transitions all pending intents past their deadline to
// expired. Used by the background sweep.
func (s *Service) ExpireStale(ctx context.Context) error {
	intents, err := s.store.ListPendingIntents(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, intent := range intents {
		if !intent.Expired(now) {
			continue
		}
		if err := s.store.MarkIntentExpired(ctx, intent.ID); err != nil {
			s.logger.WithError(err).WithField("intent_id", intent.ID).
				Error("Failed to expire payment intent")
			continue
		}
		s.logger.WithField("intent_id", intent.ID).Info("Payment intent expired")
	}
	return nil
}

// confirmIntent applies the confirmation transition: intent confirmed,
// subscription extended to now + 30 days.
func (s *Service) confirmIntent(ctx context.Context, intent models.PaymentIntent, txnID string) (models.PaymentIntent, error) {
	now := time.Now().UTC()
	if err := s.store.MarkIntentConfirmed(ctx, intent.ID, txnID, now); err != nil {
		return intent, err
	}

	until := now.Add(subscriptionPeriod)
	if err := s.store.ExtendSubscription(ctx, intent.UserID, until); err != nil {
		return intent, err
	}

	intent.Status = models.IntentConfirmed
	intent.ExternalTxnID = txnID
	intent.ConfirmedAt = &now

	s.logger.WithFields(logrus.Fields{
		"intent_id": intent.ID,
		"user_id":   intent.UserID,
		"until":     until,
	}).Info("Payment confirmed, subscription extended")

	if s.notifier != nil {
		s.notifier.Send("Payment confirmed",
			fmt.Sprintf("User **%s** paid %.8f %s ($%.2f). Subscription active until %s.",
				intent.UserID, intent.CryptoAmount, intent.CryptoType,
				intent.USDAmount, until.Format(time.RFC3339)))
	}

	return intent, nil
}

// loadIntent fetches an intent, transitioning it to expired first when its
// deadline has passed.
func (s *Service) loadIntent(ctx context.Context, id string) (models.PaymentIntent, error) {
	intent, err := s.store.GetIntent(ctx, id)
	if err != nil {
		return intent, err
	}
	return s.expireOnRead(ctx, intent)
}

func (s *Service) loadIntentByTxn(ctx context.Context, txnID string) (models.PaymentIntent, error) {
	intent, err := s.store.GetIntentByTxn(ctx, txnID)
	if err != nil {
		return intent, err
	}
	return s.expireOnRead(ctx, intent)
}

func (s *Service) expireOnRead(ctx context.Context, intent models.PaymentIntent) (models.PaymentIntent, error) {
	if intent.Expired(time.Now().UTC()) {
		if err := s.store.MarkIntentExpired(ctx, intent.ID); err != nil {
			return intent, err
		}
		intent.Status = models.IntentExpired
	}
	return intent, nil
}

// placeholderAddress derives a deterministic pseudo-address for the
// non-configured fallback mode.
func placeholderAddress(intentID, symbol string) string {
	sum := sha256.Sum256([]byte(symbol + ":" + intentID))
	return strings.ToLower(symbol) + "1" + hex.EncodeToString(sum[:])[:38]
}

func roundCrypto(amount float64) float64 {
	return math.Round(amount*1e8) / 1e8
}
