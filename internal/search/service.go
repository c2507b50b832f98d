package search

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/leakpeek/leakpeek/internal/intelx"
	"github.com/leakpeek/leakpeek/internal/quota"
	"github.com/leakpeek/leakpeek/internal/storage"
	"github.com/leakpeek/leakpeek/internal/storage/models"
)

// Result is the service-level search response.
type Result struct {
	Results   []intelx.NormalizedResult `json:"results"`
	Total     int                       `json:"total"`
	Buckets   map[string]int            `json:"buckets"`
	Remaining *int                      `json:"remaining_queries"` // nil for premium
}

// Service ties the quota gate, the intelligence client and search history
// together for one user search.
type Service struct {
	store  storage.Store
	gate   *quota.Gate
	client *intelx.Client
	sem    *semaphore.Weighted
	logger *logrus.Logger
}

// NewService initializes the search service. maxConcurrency bounds the
// number of in-flight upstream searches across all users.
func NewService(store storage.Store, gate *quota.Gate, client *intelx.Client, maxConcurrency int64, logger *logrus.Logger) *Service {
	return &Service{
		store:  store,
		gate:   gate,
		client: client,
		sem:    semaphore.NewWeighted(maxConcurrency),
		logger: logger,
	}
}

// Do runs one search for the given account. The quota counter is only
// consumed after the upstream search succeeds, so upstream failures never
// cost a free user a query.
func (s *Service) Do(ctx context.Context, acct *models.Account, req intelx.SearchRequest) (*Result, error) {
	now := time.Now().UTC()

	if err := s.gate.ResetIfStale(ctx, acct, now); err != nil {
		return nil, err
	}
	if err := s.gate.Check(*acct, now); err != nil {
		return nil, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	outcome, err := s.client.Search(ctx, req, quota.IsPremium(*acct, now))
	s.sem.Release(1)
	if err != nil {
		return nil, err
	}

	if err := s.store.AddSearch(ctx, models.SearchRecord{
		UserID:    acct.UserID,
		Term:      req.Term,
		Type:      req.Type,
		Results:   len(outcome.Results),
		CreatedAt: now,
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to persist search history")
	}

	if err := s.gate.ConsumeAfterSuccess(ctx, acct, now); err != nil {
		s.logger.WithError(err).Error("Failed to consume quota after successful search")
	}

	return &Result{
		Results:   outcome.Results,
		Total:     outcome.Total,
		Buckets:   outcome.Buckets,
		Remaining: quota.Remaining(*acct, now),
	}, nil
}

// Record fetches display text for one record; it always returns something
// renderable.
func (s *Service) Record(ctx context.Context, recordID, bucket string) string {
	return s.client.GetRecord(ctx, recordID, bucket)
}
