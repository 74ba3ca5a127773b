package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/dcp"
	"github.com/sirosfoundation/go-dcp-holder/internal/did"
	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/events"
	"github.com/sirosfoundation/go-dcp-holder/internal/poller"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage/memory"
	"github.com/sirosfoundation/go-dcp-holder/internal/sts"
)

const (
	participantID = "p1"
	holderDID     = "did:web:holder"
	issuerDID     = "did:web:issuer"
)

type staticResolver map[string]*did.Document

func (s staticResolver) Resolve(ctx context.Context, id string) (*did.Document, error) {
	doc, ok := s[id]
	if !ok {
		return nil, did.ErrNotResolvable
	}
	return doc, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) states(holderPID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.RequestID == holderPID {
			out = append(out, e.State)
		}
	}
	return out
}

// fakeIssuer is an httptest issuer whose responses the test can change
type fakeIssuer struct {
	*httptest.Server

	mu          sync.Mutex
	requestCode int
	requestBody string
	statusCode  int
	statusBody  string
	received    []dcp.CredentialRequestMessage
	statusPolls int
	authHeaders []string

	statusGate    chan struct{}
	statusEntered chan struct{}
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	f := &fakeIssuer{
		requestCode: http.StatusCreated,
		requestBody: "issuer-pid-42",
		statusCode:  http.StatusOK,
		statusBody:  `{"status":"RECEIVED"}`,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/issuance/credentials", func(w http.ResponseWriter, r *http.Request) {
		var msg dcp.CredentialRequestMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.received = append(f.received, msg)
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		w.WriteHeader(f.requestCode)
		_, _ = w.Write([]byte(f.requestBody))
	})
	mux.HandleFunc("GET /api/issuance/request/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		gate, entered := f.statusGate, f.statusEntered
		f.mu.Unlock()
		if gate != nil {
			entered <- struct{}{}
			<-gate
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		f.statusPolls++
		f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
		w.WriteHeader(f.statusCode)
		_, _ = w.Write([]byte(f.statusBody))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

// holdStatus blocks status requests until release is called. entered
// receives once per blocked request.
func (f *fakeIssuer) holdStatus() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	in := make(chan struct{}, 1)
	f.statusGate, f.statusEntered = gate, in
	return in, func() {
		f.mu.Lock()
		f.statusGate, f.statusEntered = nil, nil
		f.mu.Unlock()
		close(gate)
	}
}

func (f *fakeIssuer) setStatus(code int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCode, f.statusBody = code, body
}

func (f *fakeIssuer) requests() []dcp.CredentialRequestMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dcp.CredentialRequestMessage(nil), f.received...)
}

func (f *fakeIssuer) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusPolls
}

func (f *fakeIssuer) authorizations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authHeaders...)
}

func (f *fakeIssuer) setRequestResponse(code int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestCode, f.requestBody = code, body
}

type harness struct {
	clock     *clockwork.FakeClock
	store     *memory.Store
	issuer    *fakeIssuer
	events    *recordingPublisher
	manager   *HolderRequestManager
	writer    *CredentialWriter
	engine    *poller.Engine[*domain.HolderCredentialRequest]
	issuerKey *ecdsa.PrivateKey
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	tokens     TokenProvider
	resolver   staticResolver
	revocation RevocationRegistry
}

func withTokens(tokens TokenProvider) harnessOption {
	return func(c *harnessConfig) { c.tokens = tokens }
}

func withResolver(r staticResolver) harnessOption {
	return func(c *harnessConfig) { c.resolver = r }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memory.NewStore(memory.WithClock(clock))
	issuer := newFakeIssuer(t)

	holderKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	participants := sts.NewStaticRegistry(&sts.Participant{
		ContextID: participantID,
		DID:       holderDID,
		KeyID:     holderDID + "#key-1",
		Key:       holderKey,
	})

	cfg := harnessConfig{
		tokens: sts.NewTokenService(participants, clock, 0),
		resolver: staticResolver{
			issuerDID: {ID: issuerDID, Service: []did.Service{
				{Type: dcp.ServiceTypeIssuer, ServiceEndpoint: issuer.URL + "/api/issuance/"},
			}},
		},
		revocation: staticRevocation{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	publisher := &recordingPublisher{}
	deps := Collaborators{
		Participants: participants,
		Endpoints:    dcp.NewEndpointResolver(cfg.resolver),
		Issuer:       dcp.NewIssuerClient(5 * time.Second),
		Tokens:       cfg.tokens,
		Events:       publisher,
		Clock:        clock,
	}
	logger := zap.NewNop()
	manager := NewHolderRequestManager(store, deps, 0, logger)
	writer := NewCredentialWriter(store, NewCredentialStatusEvaluator(cfg.revocation, clock), publisher, clock, logger)

	engine := poller.New[*domain.HolderCredentialRequest](store.HolderRequests(), poller.WithLogger(logger))
	for _, p := range manager.Processors(0) {
		require.NoError(t, engine.Register(p))
	}

	return &harness{
		clock:     clock,
		store:     store,
		issuer:    issuer,
		events:    publisher,
		manager:   manager,
		writer:    writer,
		engine:    engine,
		issuerKey: issuerKey,
	}
}

func (h *harness) tick(t *testing.T, processor string) int {
	t.Helper()
	n, err := h.engine.Tick(context.Background(), processor)
	require.NoError(t, err)
	return n
}

func (h *harness) request(t *testing.T, holderPID string) *domain.HolderCredentialRequest {
	t.Helper()
	req, err := h.manager.FindByID(context.Background(), holderPID)
	require.NoError(t, err)
	return req
}

func membership() []domain.RequestedCredential {
	return []domain.RequestedCredential{{ID: "c1", CredentialType: "MembershipCredential", Format: domain.FormatVC1JWT}}
}

// initiate creates req-1 and drives it to REQUESTED
func (h *harness) initiate(t *testing.T) *domain.HolderCredentialRequest {
	t.Helper()
	pid, err := h.manager.Initiate(context.Background(), participantID, issuerDID, "req-1", membership())
	require.NoError(t, err)
	require.Equal(t, 1, h.tick(t, ProcessorCreated))
	req := h.request(t, pid)
	require.Equal(t, domain.RequestStateRequested, req.State, req.ErrorDetail)
	return req
}

// jwtCredential signs a VC 1.1 JWT credential of the given type
func (h *harness) jwtCredential(t *testing.T, credentialType string, nbf time.Time, exp *time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": issuerDID,
		"sub": holderDID,
		"nbf": nbf.Unix(),
		"vc": map[string]any{
			"@context":          []string{"https://www.w3.org/2018/credentials/v1"},
			"type":              []string{"VerifiableCredential", credentialType},
			"credentialSubject": map[string]any{"id": holderDID, "memberOf": "dataspace"},
		},
	}
	if exp != nil {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(h.issuerKey)
	require.NoError(t, err)
	return token
}

type staticRevocation struct {
	purpose string
	err     error
}

func (s staticRevocation) GetRevocationStatus(ctx context.Context, cred domain.VerifiableCredential) (string, error) {
	return s.purpose, s.err
}
