package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/leakpeek/leakpeek/internal/intelx"
	"github.com/leakpeek/leakpeek/internal/payments"
	"github.com/leakpeek/leakpeek/internal/quota"
	"github.com/leakpeek/leakpeek/internal/search"
	"github.com/leakpeek/leakpeek/internal/storage"
	"github.com/leakpeek/leakpeek/internal/storage/models"
	"github.com/leakpeek/leakpeek/pkg/auth"
)

const historyPageSize = 20

// WebServer holds the server's dependencies.
type WebServer struct {
	Config   *Config
	Store    storage.Store
	Search   *search.Service
	Payments *payments.Service
	Auth     *auth.Handler
	Logger   *logrus.Logger

	limiter *ipLimiter
	server  *http.Server
}

// NewWebServer initializes the web server.
func NewWebServer(
	config *Config,
	store storage.Store,
	searchSvc *search.Service,
	paymentsSvc *payments.Service,
	authHandler *auth.Handler,
	logger *logrus.Logger,
) *WebServer {
	return &WebServer{
		Config:   config,
		Store:    store,
		Search:   searchSvc,
		Payments: paymentsSvc,
		Auth:     authHandler,
		Logger:   logger,
		limiter:  newIPLimiter(config.RateLimitRPS, config.RateLimitBurst),
	}
}

// InitRouter builds the HTTP route table.
func (ws *WebServer) InitRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(ws.loggingMiddleware)
	router.Use(ws.rateLimitMiddleware)

	router.HandleFunc("/healthz", ws.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ipn", ws.handleIPN).Methods(http.MethodPost)

	ws.Auth.RegisterRoutes(func(path string, handler http.HandlerFunc) {
		router.HandleFunc(path, handler)
	})

	api := router.PathPrefix("/api").Subrouter()
	api.Use(ws.Auth.Middleware.AuthMiddleware)
	api.HandleFunc("/search", ws.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/record/{bucket}/{id}", ws.handleRecord).Methods(http.MethodGet)
	api.HandleFunc("/me", ws.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/history", ws.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/upgrade", ws.handleUpgrade).Methods(http.MethodPost)
	api.HandleFunc("/payments/{id}/confirm", ws.handleConfirmPayment).Methods(http.MethodPost)

	return router
}

// Start runs the HTTP server until the context is cancelled, then shuts
// down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   ws.Config.CorsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "HMAC"},
		AllowCredentials: true,
	})

	ws.server = &http.Server{
		Addr:         ":" + ws.Config.Port,
		Handler:      corsHandler.Handler(ws.InitRouter()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		ws.Logger.WithField("port", ws.Config.Port).Info("Starting web server")
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ws.server.Shutdown(shutdownCtx)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	auth.WriteSuccessResponse(w, "ok", nil)
}

// currentAccount loads the authenticated user's account, creating a free
// one on first sight. Accounts are normally provisioned at login; the
// lazy creation covers the auth-disabled development mode.
func (ws *WebServer) currentAccount(r *http.Request) (models.Account, error) {
	userID := auth.Identity(r)
	if userID == "" {
		return models.Account{}, errors.New("unauthenticated request")
	}

	acct, err := ws.Store.GetAccount(r.Context(), userID)
	if errors.Is(err, storage.ErrAccountNotFound) {
		now := time.Now().UTC()
		acct = models.Account{
			UserID:    userID,
			Status:    models.SubscriptionFree,
			LastReset: now,
			CreatedAt: now,
		}
		if err := ws.Store.PutAccount(r.Context(), acct); err != nil {
			return models.Account{}, err
		}
		return acct, nil
	}
	return acct, err
}

func (ws *WebServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("term")
	searchType := r.URL.Query().Get("type")
	if term == "" {
		auth.WriteErrorResponse(w, "Missing search term", http.StatusBadRequest)
		return
	}
	if !intelx.ValidType(searchType) {
		auth.WriteErrorResponse(w, "Invalid search type", http.StatusBadRequest)
		return
	}

	acct, err := ws.currentAccount(r)
	if err != nil {
		ws.Logger.WithError(err).Error("Failed to load account")
		auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	result, err := ws.Search.Do(r.Context(), &acct, intelx.SearchRequest{
		Term: term,
		Type: searchType,
	})
	if err != nil {
		ws.writeSearchError(w, err)
		return
	}

	auth.WriteSuccessResponse(w, "", result)
}

func (ws *WebServer) writeSearchError(w http.ResponseWriter, err error) {
	if errors.Is(err, quota.ErrQuotaExceeded) {
		zero := 0
		auth.WriteErrorResponseData(w,
			"Daily search limit reached. Upgrade to premium for unlimited searches.",
			map[string]interface{}{"remaining_queries": &zero},
			http.StatusTooManyRequests)
		return
	}

	var upstreamErr *intelx.UpstreamError
	if errors.As(err, &upstreamErr) {
		ws.Logger.WithError(err).Warn("Upstream search failed")
		auth.WriteErrorResponse(w, "The intelligence service is temporarily unavailable", http.StatusBadGateway)
		return
	}

	ws.Logger.WithError(err).Error("Search failed")
	auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
}

func (ws *WebServer) handleRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket := vars["bucket"]
	recordID := vars["id"]
	if bucket == "" || recordID == "" {
		auth.WriteErrorResponse(w, "Missing bucket or record id", http.StatusBadRequest)
		return
	}

	if _, err := ws.currentAccount(r); err != nil {
		ws.Logger.WithError(err).Error("Failed to load account")
		auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	content := ws.Search.Record(r.Context(), recordID, bucket)
	auth.WriteSuccessResponse(w, "", map[string]string{"content": content})
}

func (ws *WebServer) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, err := ws.currentAccount(r)
	if err != nil {
		ws.Logger.WithError(err).Error("Failed to load account")
		auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	auth.WriteSuccessResponse(w, "", map[string]interface{}{
		"user_id":           acct.UserID,
		"email":             acct.Email,
		"name":              acct.Name,
		"premium":           quota.IsPremium(acct, now),
		"expires_at":        acct.ExpiresAt,
		"remaining_queries": quota.Remaining(acct, now),
	})
}

func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	acct, err := ws.currentAccount(r)
	if err != nil {
		ws.Logger.WithError(err).Error("Failed to load account")
		auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	records, err := ws.Store.RecentSearches(r.Context(), acct.UserID, historyPageSize)
	if err != nil {
		ws.Logger.WithError(err).Error("Failed to load search history")
		auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.SearchRecord{}
	}

	auth.WriteSuccessResponse(w, "", records)
}

type upgradeRequest struct {
	CryptoType string `json:"crypto_type"`
}

func (ws *WebServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	acct, err := ws.currentAccount(r)
	if err != nil {
		ws.Logger.WithError(err).Error("Failed to load account")
		auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CryptoType == "" {
		auth.WriteErrorResponse(w, "Missing crypto_type", http.StatusBadRequest)
		return
	}

	intent, err := ws.Payments.CreateIntent(r.Context(), acct.UserID, req.CryptoType)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedCurrency) {
			auth.WriteErrorResponse(w, "Unsupported crypto currency", http.StatusBadRequest)
			return
		}
		ws.Logger.WithError(err).Error("Failed to create payment intent")
		auth.WriteErrorResponse(w, "Failed to create payment intent", http.StatusBadGateway)
		return
	}

	auth.WriteSuccessResponse(w, "Payment intent created", intent)
}

type confirmRequest struct {
	TxnHash string `json:"txn_hash"`
}

func (ws *WebServer) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	acct, err := ws.currentAccount(r)
	if err != nil {
		ws.Logger.WithError(err).Error("Failed to load account")
		auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	intentID := mux.Vars(r)["id"]

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		auth.WriteErrorResponse(w, "Malformed request body", http.StatusBadRequest)
		return
	}

	// Ownership check before any state transition.
	existing, err := ws.Store.GetIntent(r.Context(), intentID)
	if errors.Is(err, storage.ErrIntentNotFound) || (err == nil && existing.UserID != acct.UserID) {
		auth.WriteErrorResponse(w, "Payment intent not found", http.StatusNotFound)
		return
	}
	if err != nil {
		ws.Logger.WithError(err).Error("Failed to load payment intent")
		auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	intent, err := ws.Payments.Confirm(r.Context(), intentID, req.TxnHash)

	switch {
	case err == nil:
		if intent.Status == models.IntentConfirmed {
			auth.WriteSuccessResponse(w, "Payment confirmed", intent)
		} else {
			auth.WriteSuccessResponse(w, "Payment not yet confirmed", intent)
		}
	case errors.Is(err, storage.ErrIntentNotFound):
		auth.WriteErrorResponse(w, "Payment intent not found", http.StatusNotFound)
	case errors.Is(err, payments.ErrAlreadyConfirmed):
		auth.WriteErrorResponseData(w, "Payment already confirmed", intent, http.StatusConflict)
	case errors.Is(err, payments.ErrIntentExpired):
		auth.WriteErrorResponse(w, "Payment intent expired", http.StatusGone)
	case errors.Is(err, payments.ErrInvalidProof):
		auth.WriteErrorResponse(w, "Transaction hash too short", http.StatusBadRequest)
	case errors.Is(err, payments.ErrVerification):
		auth.WriteErrorResponse(w, "Payment verification failed", http.StatusBadGateway)
	default:
		ws.Logger.WithError(err).Error("Payment confirmation failed")
		auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (ws *WebServer) handleIPN(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		auth.WriteErrorResponse(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("HMAC")
	if err := ws.Payments.HandleIPN(r.Context(), body, signature); err != nil {
		if errors.Is(err, payments.ErrVerification) {
			ws.Logger.WithError(err).Warn("Rejected IPN")
			auth.WriteErrorResponse(w, "Invalid IPN", http.StatusBadRequest)
			return
		}
		if errors.Is(err, storage.ErrIntentNotFound) {
			auth.WriteErrorResponse(w, "Unknown transaction", http.StatusNotFound)
			return
		}
		ws.Logger.WithError(err).Error("IPN processing failed")
		auth.WriteErrorResponse(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	auth.WriteSuccessResponse(w, "IPN processed", nil)
}
