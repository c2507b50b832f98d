package sweeper

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/leakpeek/leakpeek/internal/payments"
)

// Sweeper periodically expires stale pending payment intents. Reads of an
// intent already expire lazily; the sweep keeps intents nobody polls from
// lingering as pending forever.
type Sweeper struct {
	payments  *payments.Service
	scheduler *gocron.Scheduler
	logger    *logrus.Logger
}

// New initializes the sweeper.
func New(paymentsSvc *payments.Service, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		payments:  paymentsSvc,
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    logger,
	}
}

// Start schedules the sweep and runs it asynchronously.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.scheduler.Every(1).Minute().Do(func() {
		if err := s.payments.ExpireStale(ctx); err != nil {
			s.logger.WithError(err).Error("Payment intent sweep failed")
		}
	})
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop halts the scheduler.
func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}
