package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/events"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
	"github.com/sirosfoundation/go-dcp-holder/internal/vc"
	"github.com/sirosfoundation/go-dcp-holder/pkg/logging"
)

// CredentialWriteRequest is one credential delivered by an issuer
type CredentialWriteRequest struct {
	CredentialType string
	Format         string
	Payload        string
}

// CredentialWriter stores credentials pushed by issuers and completes the
// matching holder request.
type CredentialWriter struct {
	store     storage.Store
	evaluator *CredentialStatusEvaluator
	events    events.Publisher
	clock     clockwork.Clock
	logger    *zap.Logger
}

// NewCredentialWriter creates a new CredentialWriter
func NewCredentialWriter(store storage.Store, evaluator *CredentialStatusEvaluator, publisher events.Publisher, clock clockwork.Clock, logger *zap.Logger) *CredentialWriter {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CredentialWriter{
		store:     store,
		evaluator: evaluator,
		events:    publisher,
		clock:     clock,
		logger:    logger.Named(logging.ComponentWriter),
	}
}

// Write stores all credentials and moves the request to ISSUED in one
// transaction. Nothing is persisted when any credential is rejected.
func (w *CredentialWriter) Write(ctx context.Context, holderPID, issuerPID string, credentials []CredentialWriteRequest, participantContextID string) error {
	var issued *domain.HolderCredentialRequest

	err := w.store.RunInTx(ctx, func(ctx context.Context) error {
		req, err := w.store.HolderRequests().FindByIDAndLease(ctx, holderPID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return domain.NotFound("no holder request with id %s", holderPID)
		case errors.Is(err, storage.ErrLeased):
			return domain.Conflict("holder request %s is being processed", holderPID)
		case err != nil:
			return fmt.Errorf("failed to lease holder request: %w", err)
		}

		if req.ParticipantContextID != participantContextID {
			return domain.Unauthorized("holder request %s does not belong to participant %s", holderPID, participantContextID)
		}
		if req.State != domain.RequestStateRequested && req.State != domain.RequestStateIssued {
			return domain.BadRequest("holder request %s is in state %s", holderPID, req.State)
		}
		if req.IssuerPID != "" && issuerPID != "" && req.IssuerPID != issuerPID {
			return domain.Unauthorized("issuer pid %s does not match holder request %s", issuerPID, holderPID)
		}
		if len(credentials) == 0 {
			return domain.BadRequest("no credentials delivered")
		}

		for i, c := range credentials {
			res, err := w.resource(req, c)
			if err != nil {
				return err
			}
			if err := w.store.Credentials().Create(ctx, res); err != nil {
				return fmt.Errorf("failed to store credential %d: %w", i, err)
			}
		}

		next, err := req.TransitionIssued(issuerPID, w.clock.Now())
		if err != nil {
			return domain.BadRequest("%v", err)
		}
		if err := w.store.HolderRequests().Save(ctx, next); err != nil {
			return fmt.Errorf("failed to save holder request: %w", err)
		}
		issued = next
		return nil
	})
	if err != nil {
		var se *domain.ServiceError
		if errors.As(err, &se) {
			w.logger.Info("Credential delivery rejected",
				zap.String("holder_pid", holderPID),
				zap.String("reason", se.Reason.String()),
				zap.String("message", se.Message))
			return se
		}
		w.logger.Error("Credential delivery failed", zap.String("holder_pid", holderPID), zap.Error(err))
		return domain.Unexpected("failed to store credentials")
	}

	w.logger.Info("Credentials stored",
		zap.String("holder_pid", holderPID),
		zap.Int("count", len(credentials)))
	publishStateChange(ctx, w.events, issued, w.logger)
	return nil
}

// resource parses one delivered credential and matches it against the
// credentials the holder asked for
func (w *CredentialWriter) resource(req *domain.HolderCredentialRequest, c CredentialWriteRequest) (*domain.VerifiableCredentialResource, error) {
	format, err := domain.ParseCredentialFormat(c.Format)
	if err != nil {
		return nil, domain.BadRequest("%v", err)
	}

	if c.CredentialType == "" {
		return nil, domain.BadRequest("credential type is required")
	}

	cred, err := vc.Parse(c.Payload, format)
	if err != nil {
		return nil, domain.BadRequest("invalid %s credential: %v", format, err)
	}
	if !cred.HasType(c.CredentialType) {
		return nil, domain.Unauthorized("declared type %s is not among the credential types %v", c.CredentialType, cred.Types)
	}

	requested, ok := lo.Find(req.RequestedCredentials, func(rc domain.RequestedCredential) bool {
		return rc.Format == format && rc.CredentialType == c.CredentialType
	})
	if !ok {
		return nil, domain.Unauthorized("credential of type %s and format %s was not requested", c.CredentialType, format)
	}

	issuer := cred.Issuer
	if issuer == "" {
		issuer = req.IssuerDID
	}
	holder := req.ParticipantContextID
	if len(cred.Subjects) > 0 {
		if id, ok := cred.Subjects[0]["id"].(string); ok && id != "" {
			holder = id
		}
	}

	return &domain.VerifiableCredentialResource{
		ID:                   uuid.New().String(),
		ParticipantContextID: req.ParticipantContextID,
		HolderID:             holder,
		IssuerID:             issuer,
		Format:               format,
		RawVC:                c.Payload,
		Credential:           *cred,
		State:                w.evaluator.TimeStatus(*cred),
		Metadata: map[string]any{
			domain.MetadataCredentialObjectID: requested.ID,
		},
	}, nil
}
