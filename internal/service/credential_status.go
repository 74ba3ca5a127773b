package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/statuslist"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
)

// RevocationRegistry reports the status purpose set for a credential, or ""
type RevocationRegistry interface {
	GetRevocationStatus(ctx context.Context, cred domain.VerifiableCredential) (string, error)
}

// CredentialStatusEvaluator classifies a stored credential at the current time.
// It never mutates the resource.
type CredentialStatusEvaluator struct {
	revocation RevocationRegistry
	clock      clockwork.Clock
}

// NewCredentialStatusEvaluator creates a new CredentialStatusEvaluator
func NewCredentialStatusEvaluator(revocation RevocationRegistry, clock clockwork.Clock) *CredentialStatusEvaluator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CredentialStatusEvaluator{revocation: revocation, clock: clock}
}

// Evaluate returns the first of REVOKED, SUSPENDED, EXPIRED, NOT_YET_VALID
// that applies, or ISSUED. A failed revocation lookup is an error.
func (e *CredentialStatusEvaluator) Evaluate(ctx context.Context, res *domain.VerifiableCredentialResource) (domain.VcStatus, error) {
	purpose, err := e.revocation.GetRevocationStatus(ctx, res.Credential)
	if err != nil {
		return "", fmt.Errorf("revocation status lookup failed: %w", err)
	}

	switch purpose {
	case statuslist.PurposeRevocation:
		return domain.VcStatusRevoked, nil
	case statuslist.PurposeSuspension:
		return domain.VcStatusSuspended, nil
	}
	return e.TimeStatus(res.Credential), nil
}

// TimeStatus applies only the validity period checks
func (e *CredentialStatusEvaluator) TimeStatus(cred domain.VerifiableCredential) domain.VcStatus {
	now := e.clock.Now()
	switch {
	case cred.ExpirationDate != nil && cred.ExpirationDate.Before(now):
		return domain.VcStatusExpired
	case cred.IssuanceDate.After(now):
		return domain.VcStatusNotYetValid
	default:
		return domain.VcStatusIssued
	}
}

// CredentialService answers status queries about stored credentials
type CredentialService struct {
	store     storage.Store
	evaluator *CredentialStatusEvaluator
	logger    *zap.Logger
}

// NewCredentialService creates a new CredentialService
func NewCredentialService(store storage.Store, evaluator *CredentialStatusEvaluator, logger *zap.Logger) *CredentialService {
	return &CredentialService{
		store:     store,
		evaluator: evaluator,
		logger:    logger.Named("credential-service"),
	}
}

// Status evaluates a credential of the participant afresh
func (s *CredentialService) Status(ctx context.Context, participantContextID, credentialID string) (domain.VcStatus, error) {
	res, err := s.store.Credentials().FindByID(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", domain.NotFound("no credential with id %s", credentialID)
		}
		return "", domain.Unexpected("failed to load credential %s", credentialID)
	}
	if res.ParticipantContextID != participantContextID {
		return "", domain.NotFound("no credential with id %s", credentialID)
	}

	status, err := s.evaluator.Evaluate(ctx, res)
	if err != nil {
		s.logger.Warn("Credential status evaluation failed", zap.String("credential_id", credentialID), zap.Error(err))
		return "", domain.Unexpected("credential status could not be determined")
	}
	return status, nil
}

// List returns the stored credentials of a participant
func (s *CredentialService) List(ctx context.Context, participantContextID string) ([]*domain.VerifiableCredentialResource, error) {
	list, err := s.store.Credentials().ListByParticipant(ctx, participantContextID)
	if err != nil {
		return nil, domain.Unexpected("failed to list credentials")
	}
	return list, nil
}
