package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/leakpeek/leakpeek/internal/storage"
	"github.com/leakpeek/leakpeek/internal/storage/models"
)

// memStore keeps intents and subscriptions in maps.
type memStore struct {
	storage.Store

	intents       map[string]models.PaymentIntent
	byTxn         map[string]string
	extendedUser  string
	extendedUntil time.Time
}

func newMemStore() *memStore {
	return &memStore{
		intents: make(map[string]models.PaymentIntent),
		byTxn:   make(map[string]string),
	}
}

func (m *memStore) PutIntent(ctx context.Context, intent models.PaymentIntent) error {
	m.intents[intent.ID] = intent
	if intent.ExternalTxnID != "" {
		m.byTxn[intent.ExternalTxnID] = intent.ID
	}
	return nil
}

func (m *memStore) GetIntent(ctx context.Context, id string) (models.PaymentIntent, error) {
	intent, ok := m.intents[id]
	if !ok {
		return models.PaymentIntent{}, storage.ErrIntentNotFound
	}
	return intent, nil
}

func (m *memStore) GetIntentByTxn(ctx context.Context, txnID string) (models.PaymentIntent, error) {
	id, ok := m.byTxn[txnID]
	if !ok {
		return models.PaymentIntent{}, storage.ErrIntentNotFound
	}
	return m.GetIntent(ctx, id)
}

func (m *memStore) MarkIntentConfirmed(ctx context.Context, id, txnID string, at time.Time) error {
	intent, ok := m.intents[id]
	if !ok {
		return storage.ErrIntentNotFound
	}
	intent.Status = models.IntentConfirmed
	intent.ExternalTxnID = txnID
	intent.ConfirmedAt = &at
	m.intents[id] = intent
	m.byTxn[txnID] = id
	return nil
}

func (m *memStore) MarkIntentExpired(ctx context.Context, id string) error {
	intent, ok := m.intents[id]
	if !ok {
		return storage.ErrIntentNotFound
	}
	intent.Status = models.IntentExpired
	m.intents[id] = intent
	return nil
}

func (m *memStore) ListPendingIntents(ctx context.Context) ([]models.PaymentIntent, error) {
	var pending []models.PaymentIntent
	for _, intent := range m.intents {
		if intent.Status == models.IntentPending {
			pending = append(pending, intent)
		}
	}
	return pending, nil
}

func (m *memStore) ExtendSubscription(ctx context.Context, userID string, until time.Time) error {
	m.extendedUser = userID
	m.extendedUntil = until
	return nil
}

type recordingNotifier struct {
	titles []string
}

func (n *recordingNotifier) Send(title, message string) {
	n.titles = append(n.titles, title)
}

func manualService(store *memStore, notifier Notifier) *Service {
	config := &Config{
		IPNSecret: "ipn-secret",
		PriceUSD:  29.0,
		IntentTTL: 24 * time.Hour,
	}
	rates := NewRateCache(nil, testLogger())
	return NewService(config, store, nil, rates, notifier, testLogger())
}

func TestCreateIntentManualMode(t *testing.T) {
	store := newMemStore()
	svc := manualService(store, nil)

	intent, err := svc.CreateIntent(context.Background(), "user-1", "btc")
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}

	if intent.Status != models.IntentPending {
		t.Errorf("Status = %q", intent.Status)
	}
	if intent.CryptoType != "BTC" {
		t.Errorf("CryptoType = %q", intent.CryptoType)
	}
	if intent.USDAmount != 29.0 {
		t.Errorf("USDAmount = %f", intent.USDAmount)
	}
	// Static fallback rate: 29 / 65000.
	want := 29.0 / 65000
	if diff := intent.CryptoAmount - want; diff > 1e-8 || diff < -1e-8 {
		t.Errorf("CryptoAmount = %.8f, want %.8f", intent.CryptoAmount, want)
	}
	if !strings.HasPrefix(intent.Address, "btc1") {
		t.Errorf("Address = %q, want btc1 prefix", intent.Address)
	}
	if _, ok := store.intents[intent.ID]; !ok {
		t.Error("intent not persisted")
	}
	if !intent.ExpiresAt.After(intent.CreatedAt) {
		t.Error("intent must expire after creation")
	}
}

func TestCreateIntentUnsupportedCurrency(t *testing.T) {
	svc := manualService(newMemStore(), nil)
	_, err := svc.CreateIntent(context.Background(), "user-1", "DOGE")
	if !errors.Is(err, ErrUnsupportedCurrency) {
		t.Errorf("error = %v, want ErrUnsupportedCurrency", err)
	}
}

func TestConfirmManualProof(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	svc := manualService(store, notifier)

	created, err := svc.CreateIntent(context.Background(), "user-1", "eth")
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}

	proof := "0xdeadbeefcafebabe1234"
	confirmed, err := svc.Confirm(context.Background(), created.ID, proof)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != models.IntentConfirmed {
		t.Errorf("Status = %q", confirmed.Status)
	}
	if confirmed.ExternalTxnID != proof {
		t.Errorf("ExternalTxnID = %q", confirmed.ExternalTxnID)
	}
	if store.extendedUser != "user-1" {
		t.Errorf("subscription extended for %q", store.extendedUser)
	}
	wantUntil := time.Now().UTC().Add(subscriptionPeriod)
	if store.extendedUntil.Before(wantUntil.Add(-time.Minute)) || store.extendedUntil.After(wantUntil.Add(time.Minute)) {
		t.Errorf("extendedUntil = %v, want about %v", store.extendedUntil, wantUntil)
	}
	if len(notifier.titles) != 1 || notifier.titles[0] != "Payment confirmed" {
		t.Errorf("notifier titles = %v", notifier.titles)
	}
}

func TestConfirmShortProofRejected(t *testing.T) {
	store := newMemStore()
	svc := manualService(store, nil)

	created, _ := svc.CreateIntent(context.Background(), "user-1", "ltc")
	_, err := svc.Confirm(context.Background(), created.ID, "abc123")
	if !errors.Is(err, ErrInvalidProof) {
		t.Errorf("error = %v, want ErrInvalidProof", err)
	}
	if store.intents[created.ID].Status != models.IntentPending {
		t.Error("intent must stay pending after a rejected proof")
	}
	if store.extendedUser != "" {
		t.Error("subscription must not be extended on a rejected proof")
	}
}

func TestConfirmTwiceIsConflict(t *testing.T) {
	store := newMemStore()
	svc := manualService(store, nil)

	created, _ := svc.CreateIntent(context.Background(), "user-1", "xmr")
	if _, err := svc.Confirm(context.Background(), created.ID, "proofproofproof123"); err != nil {
		t.Fatalf("first Confirm: %v", err)
	}
	_, err := svc.Confirm(context.Background(), created.ID, "proofproofproof123")
	if !errors.Is(err, ErrAlreadyConfirmed) {
		t.Errorf("error = %v, want ErrAlreadyConfirmed", err)
	}
}

func TestConfirmExpiresLazily(t *testing.T) {
	store := newMemStore()
	svc := manualService(store, nil)

	intent := models.PaymentIntent{
		ID:        "stale-intent",
		UserID:    "user-1",
		Status:    models.IntentPending,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-24 * time.Hour),
	}
	store.PutIntent(context.Background(), intent)

	_, err := svc.Confirm(context.Background(), "stale-intent", "someproofhash1234567")
	if !errors.Is(err, ErrIntentExpired) {
		t.Errorf("error = %v, want ErrIntentExpired", err)
	}
	if store.intents["stale-intent"].Status != models.IntentExpired {
		t.Error("reading a stale intent must persist the expired state")
	}
}

func TestConfirmUnknownIntent(t *testing.T) {
	svc := manualService(newMemStore(), nil)
	_, err := svc.Confirm(context.Background(), "missing", "someproofhash1234567")
	if !errors.Is(err, storage.ErrIntentNotFound) {
		t.Errorf("error = %v, want ErrIntentNotFound", err)
	}
}

func signIPN(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleIPNConfirms(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	svc := manualService(store, notifier)

	intent := models.PaymentIntent{
		ID:            "intent-1",
		UserID:        "user-1",
		Status:        models.IntentPending,
		ExternalTxnID: "tx-9",
		ExpiresAt:     time.Now().UTC().Add(time.Hour),
	}
	store.PutIntent(context.Background(), intent)

	body := []byte("txn_id=tx-9&status=100")
	if err := svc.HandleIPN(context.Background(), body, signIPN(body, "ipn-secret")); err != nil {
		t.Fatalf("HandleIPN: %v", err)
	}
	if store.intents["intent-1"].Status != models.IntentConfirmed {
		t.Error("intent not confirmed by IPN")
	}
	if store.extendedUser != "user-1" {
		t.Error("subscription not extended by IPN")
	}
}

func TestHandleIPNBadSignature(t *testing.T) {
	store := newMemStore()
	svc := manualService(store, nil)

	intent := models.PaymentIntent{
		ID:            "intent-1",
		UserID:        "user-1",
		Status:        models.IntentPending,
		ExternalTxnID: "tx-9",
		ExpiresAt:     time.Now().UTC().Add(time.Hour),
	}
	store.PutIntent(context.Background(), intent)

	body := []byte("txn_id=tx-9&status=100")
	err := svc.HandleIPN(context.Background(), body, "bogus-signature")
	if !errors.Is(err, ErrVerification) {
		t.Fatalf("error = %v, want ErrVerification", err)
	}
	if store.intents["intent-1"].Status != models.IntentPending {
		t.Error("a rejected IPN must not change intent state")
	}
	if store.extendedUser != "" {
		t.Error("a rejected IPN must not extend any subscription")
	}
}

func TestHandleIPNCancelled(t *testing.T) {
	store := newMemStore()
	svc := manualService(store, nil)

	intent := models.PaymentIntent{
		ID:            "intent-1",
		UserID:        "user-1",
		Status:        models.IntentPending,
		ExternalTxnID: "tx-9",
		ExpiresAt:     time.Now().UTC().Add(time.Hour),
	}
	store.PutIntent(context.Background(), intent)

	body := []byte("status=-1&txn_id=tx-9")
	if err := svc.HandleIPN(context.Background(), body, signIPN(body, "ipn-secret")); err != nil {
		t.Fatalf("HandleIPN: %v", err)
	}
	if store.intents["intent-1"].Status != models.IntentExpired {
		t.Error("cancelled payment must expire the intent")
	}
}

func TestHandleIPNIgnoresNonPending(t *testing.T) {
	store := newMemStore()
	svc := manualService(store, nil)

	confirmedAt := time.Now().UTC()
	intent := models.PaymentIntent{
		ID:            "intent-1",
		UserID:        "user-1",
		Status:        models.IntentConfirmed,
		ExternalTxnID: "tx-9",
		ExpiresAt:     time.Now().UTC().Add(time.Hour),
		ConfirmedAt:   &confirmedAt,
	}
	store.PutIntent(context.Background(), intent)

	body := []byte("txn_id=tx-9&status=-1")
	if err := svc.HandleIPN(context.Background(), body, signIPN(body, "ipn-secret")); err != nil {
		t.Fatalf("HandleIPN: %v", err)
	}
	if store.intents["intent-1"].Status != models.IntentConfirmed {
		t.Error("a duplicate IPN must not touch a confirmed intent")
	}
}

func TestExpireStale(t *testing.T) {
	store := newMemStore()
	svc := manualService(store, nil)

	now := time.Now().UTC()
	store.PutIntent(context.Background(), models.PaymentIntent{
		ID: "stale", Status: models.IntentPending, ExpiresAt: now.Add(-time.Hour),
	})
	store.PutIntent(context.Background(), models.PaymentIntent{
		ID: "fresh", Status: models.IntentPending, ExpiresAt: now.Add(time.Hour),
	})

	if err := svc.ExpireStale(context.Background()); err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if store.intents["stale"].Status != models.IntentExpired {
		t.Error("stale intent not expired")
	}
	if store.intents["fresh"].Status != models.IntentPending {
		t.Error("fresh intent must stay pending")
	}
}

func TestConfirmViaProcessor(t *testing.T) {
	statuses := map[string]int{"tx-paid": 1, "tx-waiting": 0, "tx-gone": -1}

	store := newMemStore()
	processor := processorWithServer(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		status := statuses[r.PostForm.Get("txid")]
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"error":"ok","result":{"status":%d,"status_text":""}}`, status)
	})

	config := &Config{
		PublicKey:  "pub",
		PrivateKey: "priv",
		IPNSecret:  "ipn-secret",
		PriceUSD:   29.0,
		IntentTTL:  24 * time.Hour,
	}
	svc := NewService(config, store, processor, NewRateCache(nil, testLogger()), nil, testLogger())

	now := time.Now().UTC()
	for id, txn := range map[string]string{"i-paid": "tx-paid", "i-waiting": "tx-waiting", "i-gone": "tx-gone"} {
		store.PutIntent(context.Background(), models.PaymentIntent{
			ID: id, UserID: "user-1", Status: models.IntentPending,
			ExternalTxnID: txn, ExpiresAt: now.Add(time.Hour),
		})
	}

	confirmed, err := svc.Confirm(context.Background(), "i-paid", "")
	if err != nil {
		t.Fatalf("Confirm paid: %v", err)
	}
	if confirmed.Status != models.IntentConfirmed {
		t.Errorf("paid intent status = %q", confirmed.Status)
	}

	pending, err := svc.Confirm(context.Background(), "i-waiting", "")
	if err != nil {
		t.Fatalf("Confirm waiting: %v", err)
	}
	if pending.Status != models.IntentPending {
		t.Errorf("waiting intent status = %q, want pending", pending.Status)
	}

	if _, err := svc.Confirm(context.Background(), "i-gone", ""); !errors.Is(err, ErrIntentExpired) {
		t.Errorf("cancelled confirm error = %v, want ErrIntentExpired", err)
	}
	if store.intents["i-gone"].Status != models.IntentExpired {
		t.Error("cancelled intent not marked expired")
	}
}

func TestRateCacheFallback(t *testing.T) {
	rates := NewRateCache(nil, testLogger())
	rate, ok := rates.USDRate(context.Background(), "usdt")
	if !ok || rate != 1 {
		t.Errorf("USDT fallback = %f, %v", rate, ok)
	}
	if _, ok := rates.USDRate(context.Background(), "SHIB"); ok {
		t.Error("unknown currency must not resolve")
	}
}
