package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/dcp"
	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/events"
	"github.com/sirosfoundation/go-dcp-holder/internal/poller"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
	"github.com/sirosfoundation/go-dcp-holder/internal/sts"
	"github.com/sirosfoundation/go-dcp-holder/pkg/logging"
)

// DefaultTimeLimit is how long a request may wait in REQUESTED for the issuer
const DefaultTimeLimit = time.Hour

// Processor names
const (
	ProcessorCreated    = "created"
	ProcessorRequesting = "requesting"
	ProcessorRequested  = "requested"
)

// EndpointResolver finds the credential request endpoint of an issuer
type EndpointResolver interface {
	Resolve(ctx context.Context, issuerDID string) (string, error)
}

// IssuerClient carries DCP messages to issuers
type IssuerClient interface {
	RequestCredentials(ctx context.Context, endpoint, token string, msg *dcp.CredentialRequestMessage) (string, error)
	GetRequestStatus(ctx context.Context, endpoint, token, holderPID string) (string, error)
}

// TokenProvider mints self-issued bearer tokens
type TokenProvider interface {
	SelfIssued(ctx context.Context, participantContextID, audience string) (*sts.TokenRepresentation, error)
}

// Collaborators bundles the outbound dependencies of the request manager
type Collaborators struct {
	Participants sts.ParticipantRegistry
	Endpoints    EndpointResolver
	Issuer       IssuerClient
	Tokens       TokenProvider
	Events       events.Publisher
	Clock        clockwork.Clock
}

func (c *Collaborators) setDefaults() {
	if c.Events == nil {
		c.Events = events.NoopPublisher{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// HolderRequestManager creates holder credential requests and drives them
// through the request state machine from the polling engine.
type HolderRequestManager struct {
	store     storage.Store
	deps      Collaborators
	timeLimit time.Duration
	logger    *zap.Logger
}

// NewHolderRequestManager creates a new HolderRequestManager. A zero timeLimit
// means DefaultTimeLimit.
func NewHolderRequestManager(store storage.Store, deps Collaborators, timeLimit time.Duration, logger *zap.Logger) *HolderRequestManager {
	deps.setDefaults()
	if timeLimit <= 0 {
		timeLimit = DefaultTimeLimit
	}
	return &HolderRequestManager{
		store:     store,
		deps:      deps,
		timeLimit: timeLimit,
		logger:    logger.Named(logging.ComponentRequests),
	}
}

// Initiate records a new request in CREATED and returns its holder pid. An
// empty holderPID is replaced by a generated one. Repeating a request with
// the same holder pid for the same participant returns the existing pid.
func (m *HolderRequestManager) Initiate(ctx context.Context, participantContextID, issuerDID, holderPID string, requested []domain.RequestedCredential) (string, error) {
	if _, err := m.deps.Participants.Get(ctx, participantContextID); err != nil {
		return "", domain.BadRequest("unknown participant context %s", participantContextID)
	}
	if holderPID == "" {
		holderPID = uuid.New().String()
	}

	req, err := domain.NewHolderCredentialRequest(holderPID, participantContextID, issuerDID, requested, m.deps.Clock.Now())
	if err != nil {
		return "", domain.BadRequest("%v", err)
	}

	if err := m.store.HolderRequests().Create(ctx, req); err != nil {
		if !errors.Is(err, storage.ErrAlreadyExists) {
			m.logger.Error("Failed to create holder request", zap.String("holder_pid", holderPID), zap.Error(err))
			return "", domain.Unexpected("failed to create holder request")
		}
		existing, ferr := m.store.HolderRequests().FindByID(ctx, holderPID)
		if ferr != nil {
			return "", domain.Unexpected("failed to load holder request %s", holderPID)
		}
		if existing.ParticipantContextID != participantContextID {
			return "", domain.Conflict("holder request %s already exists", holderPID)
		}
		return existing.ID, nil
	}

	m.logger.Info("Holder request created",
		zap.String("holder_pid", req.ID),
		zap.String("participant", participantContextID),
		zap.String("issuer", issuerDID))
	m.publish(ctx, req)
	return req.ID, nil
}

// FindByID returns a request by holder pid
func (m *HolderRequestManager) FindByID(ctx context.Context, holderPID string) (*domain.HolderCredentialRequest, error) {
	req, err := m.store.HolderRequests().FindByID(ctx, holderPID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound("no holder request with id %s", holderPID)
		}
		return nil, domain.Unexpected("failed to load holder request %s", holderPID)
	}
	return req, nil
}

// FindForParticipant is FindByID restricted to one participant context.
// Requests of other participants are reported as not found.
func (m *HolderRequestManager) FindForParticipant(ctx context.Context, participantContextID, holderPID string) (*domain.HolderCredentialRequest, error) {
	req, err := m.FindByID(ctx, holderPID)
	if err != nil {
		return nil, err
	}
	if req.ParticipantContextID != participantContextID {
		return nil, domain.NotFound("no holder request with id %s", holderPID)
	}
	return req, nil
}

// Processors returns the polling processors of the non-terminal states.
// requestedInterval throttles status polls of acknowledged requests.
func (m *HolderRequestManager) Processors(requestedInterval time.Duration) []poller.Processor[*domain.HolderCredentialRequest] {
	return []poller.Processor[*domain.HolderCredentialRequest]{
		{
			Name:     ProcessorCreated,
			Criteria: []storage.Criterion{storage.StateIs(domain.RequestStateCreated)},
			Handler:  m.handleCreated,
		},
		{
			Name:     ProcessorRequesting,
			Criteria: []storage.Criterion{storage.StateIs(domain.RequestStateRequesting)},
			Handler:  m.handleRequesting,
		},
		{
			Name:     ProcessorRequested,
			Criteria: []storage.Criterion{storage.StateIs(domain.RequestStateRequested)},
			Interval: requestedInterval,
			Handler:  m.handleRequested,
		},
	}
}

// handleCreated persists REQUESTING before any message leaves the process,
// then sends in the same tick.
func (m *HolderRequestManager) handleCreated(ctx context.Context, req *domain.HolderCredentialRequest) bool {
	endpoint, err := m.deps.Endpoints.Resolve(ctx, req.IssuerDID)
	if err != nil {
		return m.fail(ctx, req, fmt.Sprintf("Issuer endpoint resolution failed: %v", err))
	}

	next, err := req.TransitionRequesting(m.deps.Clock.Now())
	if err != nil {
		m.logger.Error("Unexpected transition failure", zap.String("holder_pid", req.ID), zap.Error(err))
		return false
	}
	if err := m.store.HolderRequests().Update(ctx, next); err != nil {
		m.logger.Warn("Failed to persist REQUESTING", zap.String("holder_pid", req.ID), zap.Error(err))
		return false
	}
	m.publish(ctx, next)

	return m.send(ctx, next, endpoint)
}

func (m *HolderRequestManager) handleRequesting(ctx context.Context, req *domain.HolderCredentialRequest) bool {
	endpoint, err := m.deps.Endpoints.Resolve(ctx, req.IssuerDID)
	if err != nil {
		return m.fail(ctx, req, fmt.Sprintf("Issuer endpoint resolution failed: %v", err))
	}
	return m.send(ctx, req, endpoint)
}

func (m *HolderRequestManager) send(ctx context.Context, req *domain.HolderCredentialRequest, endpoint string) bool {
	token, err := m.deps.Tokens.SelfIssued(ctx, req.ParticipantContextID, req.IssuerDID)
	if err != nil {
		return m.fail(ctx, req, fmt.Sprintf("Token creation failed: %v", err))
	}

	objects := make([]dcp.CredentialObject, 0, len(req.RequestedCredentials))
	for _, rc := range req.RequestedCredentials {
		objects = append(objects, dcp.CredentialObject{ID: rc.ID, Type: rc.CredentialType, Format: string(rc.Format)})
	}

	issuerPID, err := m.deps.Issuer.RequestCredentials(ctx, endpoint, token.Token, dcp.NewCredentialRequestMessage(req.ID, objects))
	if err != nil {
		return m.fail(ctx, req, fmt.Sprintf("Credential request failed: %v", err))
	}

	next, err := req.TransitionRequested(issuerPID, m.deps.Clock.Now())
	if err != nil {
		return m.fail(ctx, req, fmt.Sprintf("Invalid issuer response: %v", err))
	}
	m.logger.Info("Credential request acknowledged",
		zap.String("holder_pid", req.ID),
		zap.String("issuer_pid", issuerPID))
	return m.save(ctx, next)
}

func (m *HolderRequestManager) handleRequested(ctx context.Context, req *domain.HolderCredentialRequest) bool {
	if m.deps.Clock.Since(req.StateTimestamp) > m.timeLimit {
		return m.fail(ctx, req, "Time limit exceeded")
	}

	endpoint, err := m.deps.Endpoints.Resolve(ctx, req.IssuerDID)
	if err != nil {
		return m.fail(ctx, req, fmt.Sprintf("Issuer endpoint resolution failed: %v", err))
	}
	token, err := m.deps.Tokens.SelfIssued(ctx, req.ParticipantContextID, req.IssuerDID)
	if err != nil {
		return m.fail(ctx, req, fmt.Sprintf("Token creation failed: %v", err))
	}

	status, err := m.deps.Issuer.GetRequestStatus(ctx, endpoint, token.Token, req.ID)
	if err != nil {
		return m.fail(ctx, req, fmt.Sprintf("Status request failed: %v", err))
	}

	switch {
	case strings.Contains(status, dcp.StatusRejected):
		return m.fail(ctx, req, "Credential request rejected by issuer")
	case strings.Contains(status, dcp.StatusIssued):
		// the pushed credential message was missed or is still in flight
		next, err := req.TransitionIssued("", m.deps.Clock.Now())
		if err != nil {
			m.logger.Error("Unexpected transition failure", zap.String("holder_pid", req.ID), zap.Error(err))
			return false
		}
		return m.save(ctx, next)
	case strings.Contains(status, dcp.StatusReceived):
		m.logger.Debug("Credential request still pending", zap.String("holder_pid", req.ID))
		return false
	default:
		return m.fail(ctx, req, fmt.Sprintf("Invalid status response: %.200s", status))
	}
}

func (m *HolderRequestManager) fail(ctx context.Context, req *domain.HolderCredentialRequest, detail string) bool {
	next, err := req.TransitionError(detail, m.deps.Clock.Now())
	if err != nil {
		m.logger.Error("Unexpected transition failure", zap.String("holder_pid", req.ID), zap.Error(err))
		return false
	}
	m.logger.Warn("Holder request failed",
		zap.String("holder_pid", req.ID),
		zap.String("state", req.State.String()),
		zap.String("detail", detail))
	return m.save(ctx, next)
}

// save persists next and releases the lease
func (m *HolderRequestManager) save(ctx context.Context, next *domain.HolderCredentialRequest) bool {
	if err := m.store.HolderRequests().Save(ctx, next); err != nil {
		m.logger.Warn("Failed to save holder request",
			zap.String("holder_pid", next.ID),
			zap.String("state", next.State.String()),
			zap.Error(err))
		return false
	}
	m.publish(ctx, next)
	return true
}

func (m *HolderRequestManager) publish(ctx context.Context, req *domain.HolderCredentialRequest) {
	publishStateChange(ctx, m.deps.Events, req, m.logger)
}

func publishStateChange(ctx context.Context, publisher events.Publisher, req *domain.HolderCredentialRequest, logger *zap.Logger) {
	err := publisher.Publish(ctx, events.Event{
		Type:                 events.TypeRequestStateChanged,
		RequestID:            req.ID,
		ParticipantContextID: req.ParticipantContextID,
		IssuerDID:            req.IssuerDID,
		State:                req.State.String(),
		ErrorDetail:          req.ErrorDetail,
		OccurredAt:           req.StateTimestamp,
	})
	if err != nil {
		logger.Warn("Failed to publish request event", zap.String("holder_pid", req.ID), zap.Error(err))
	}
}
