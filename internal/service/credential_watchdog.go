package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
	"github.com/sirosfoundation/go-dcp-holder/pkg/logging"
)

// watchedStatuses are the states a credential can still leave over time
var watchedStatuses = []domain.VcStatus{
	domain.VcStatusIssued,
	domain.VcStatusNotYetValid,
	domain.VcStatusSuspended,
}

// CredentialWatchdog periodically re-evaluates stored credentials so the
// persisted status follows expiry, activation and status list changes.
type CredentialWatchdog struct {
	interval  time.Duration
	store     storage.Store
	evaluator *CredentialStatusEvaluator
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCredentialWatchdog creates a new watchdog. A zero interval disables it.
func NewCredentialWatchdog(interval time.Duration, store storage.Store, evaluator *CredentialStatusEvaluator, logger *zap.Logger) *CredentialWatchdog {
	return &CredentialWatchdog{
		interval:  interval,
		store:     store,
		evaluator: evaluator,
		logger:    logger.Named(logging.ComponentWatchdog),
	}
}

// Start begins the watchdog in the background
func (w *CredentialWatchdog) Start() {
	if w.interval <= 0 {
		w.logger.Info("Credential watchdog disabled")
		return
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.wg.Add(1)

	go w.run()

	w.logger.Info("Credential watchdog started", zap.Duration("interval", w.interval))
}

// Stop gracefully stops the watchdog
func (w *CredentialWatchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("Credential watchdog stopped")
}

func (w *CredentialWatchdog) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.pass()
		}
	}
}

func (w *CredentialWatchdog) pass() {
	ctx, cancel := context.WithTimeout(w.ctx, w.interval)
	defer cancel()

	updated, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Warn("Credential watchdog pass had failures", zap.Int("updated", updated), zap.Error(err))
		return
	}
	w.logger.Debug("Completed credential watchdog pass", zap.Int("updated", updated))
}

// RunOnce re-evaluates all watched credentials and persists changed states.
// Credentials whose evaluation fails keep their state; the failures are joined
// into the returned error.
func (w *CredentialWatchdog) RunOnce(ctx context.Context) (int, error) {
	list, err := w.store.Credentials().ListByStatus(ctx, watchedStatuses...)
	if err != nil {
		return 0, err
	}

	var (
		updated int
		errs    []error
	)
	for _, res := range list {
		status, err := w.evaluator.Evaluate(ctx, res)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if status == res.State {
			continue
		}

		w.logger.Info("Credential status changed",
			zap.String("credential_id", res.ID),
			zap.String("from", string(res.State)),
			zap.String("to", string(status)))
		res.State = status
		if err := w.store.Credentials().Update(ctx, res); err != nil {
			errs = append(errs, err)
			continue
		}
		updated++
	}
	return updated, errors.Join(errs...)
}
