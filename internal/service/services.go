package service

import (
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
)

// Services aggregates all application services
type Services struct {
	Requests    *HolderRequestManager
	Writer      *CredentialWriter
	Evaluator   *CredentialStatusEvaluator
	Credentials *CredentialService
	Watchdog    *CredentialWatchdog
}

// NewServices creates a new Services instance
func NewServices(store storage.Store, cfg *config.Config, deps Collaborators, revocation RevocationRegistry, logger *zap.Logger) *Services {
	deps.setDefaults()
	evaluator := NewCredentialStatusEvaluator(revocation, deps.Clock)

	return &Services{
		Requests:    NewHolderRequestManager(store, deps, cfg.Requests.TimeLimit(), logger),
		Writer:      NewCredentialWriter(store, evaluator, deps.Events, deps.Clock, logger),
		Evaluator:   evaluator,
		Credentials: NewCredentialService(store, evaluator, logger),
		Watchdog:    NewCredentialWatchdog(cfg.Watchdog.Interval(), store, evaluator, logger),
	}
}

// Start starts background workers
func (s *Services) Start() {
	if s.Watchdog != nil {
		s.Watchdog.Start()
	}
}

// Stop gracefully stops background workers
func (s *Services) Stop() {
	if s.Watchdog != nil {
		s.Watchdog.Stop()
	}
}
