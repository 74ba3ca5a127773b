package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Request errors
var (
	ErrInvalidRequest    = errors.New("invalid holder credential request")
	ErrIllegalTransition = errors.New("illegal state transition")
)

// RequestState is the lifecycle state of a holder credential request
type RequestState int

const (
	RequestStateCreated    RequestState = 100
	RequestStateRequesting RequestState = 200
	RequestStateRequested  RequestState = 300
	RequestStateIssued     RequestState = 400
	RequestStateError      RequestState = -1
)

var requestStateNames = map[RequestState]string{
	RequestStateCreated:    "CREATED",
	RequestStateRequesting: "REQUESTING",
	RequestStateRequested:  "REQUESTED",
	RequestStateIssued:     "ISSUED",
	RequestStateError:      "ERROR",
}

// String returns the protocol name of the state
func (s RequestState) String() string {
	if name, ok := requestStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// MarshalJSON renders the state by name
func (s RequestState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a state name
func (s *RequestState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseRequestState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no further transitions are possible from s
// other than ISSUED re-delivery.
func (s RequestState) IsTerminal() bool {
	return s == RequestStateIssued || s == RequestStateError
}

// ParseRequestState converts a state name to a RequestState
func ParseRequestState(name string) (RequestState, error) {
	for state, n := range requestStateNames {
		if n == name {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown request state %q", name)
}

// allowedTransitions lists the legal successor states for each state.
var allowedTransitions = map[RequestState][]RequestState{
	RequestStateCreated:    {RequestStateRequesting, RequestStateError},
	RequestStateRequesting: {RequestStateRequested, RequestStateError},
	RequestStateRequested:  {RequestStateIssued, RequestStateError},
	RequestStateIssued:     {RequestStateIssued},
}

// CanTransitionTo reports whether moving from s to next is permitted
func (s RequestState) CanTransitionTo(next RequestState) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RequestedCredential describes one credential asked of the issuer
type RequestedCredential struct {
	ID             string           `json:"id" bson:"id"`
	CredentialType string           `json:"credentialType" bson:"credential_type"`
	Format         CredentialFormat `json:"format" bson:"format"`
}

// HolderCredentialRequest tracks a credential request from the holder's side.
// Values are treated as immutable snapshots: transitions return a new value.
type HolderCredentialRequest struct {
	ID                   string                `json:"holderPid" bson:"_id"`
	ParticipantContextID string                `json:"participantContextId" bson:"participant_context_id"`
	IssuerDID            string                `json:"issuerDid" bson:"issuer_did"`
	IssuerPID            string                `json:"issuerPid,omitempty" bson:"issuer_pid,omitempty"`
	RequestedCredentials []RequestedCredential `json:"requestedCredentials" bson:"requested_credentials"`
	State                RequestState          `json:"state" bson:"state"`
	StateTimestamp       time.Time             `json:"stateTimestamp" bson:"state_timestamp"`
	StateCount           int                   `json:"stateCount" bson:"state_count"`
	ErrorDetail          string                `json:"errorDetail,omitempty" bson:"error_detail,omitempty"`
	CreatedAt            time.Time             `json:"createdAt" bson:"created_at"`
	UpdatedAt            time.Time             `json:"updatedAt" bson:"updated_at"`

	// Version is bumped by the store on every write; a write carrying an
	// older version fails.
	Version int64 `json:"-" bson:"version"`
	// LeaseToken identifies the lease this snapshot was read under. Empty
	// when the snapshot was read without leasing.
	LeaseToken string `json:"-" bson:"-"`
}

// NewHolderCredentialRequest creates a request in the CREATED state
func NewHolderCredentialRequest(id, participantContextID, issuerDID string, requested []RequestedCredential, now time.Time) (*HolderCredentialRequest, error) {
	switch {
	case id == "":
		return nil, fmt.Errorf("%w: holder pid is required", ErrInvalidRequest)
	case participantContextID == "":
		return nil, fmt.Errorf("%w: participant context id is required", ErrInvalidRequest)
	case issuerDID == "":
		return nil, fmt.Errorf("%w: issuer DID is required", ErrInvalidRequest)
	case len(requested) == 0:
		return nil, fmt.Errorf("%w: at least one credential must be requested", ErrInvalidRequest)
	}

	creds := make([]RequestedCredential, len(requested))
	for i, rc := range requested {
		if rc.CredentialType == "" {
			return nil, fmt.Errorf("%w: credential %d has no type", ErrInvalidRequest, i)
		}
		if _, err := ParseCredentialFormat(string(rc.Format)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		creds[i] = rc
	}

	return &HolderCredentialRequest{
		ID:                   id,
		ParticipantContextID: participantContextID,
		IssuerDID:            issuerDID,
		RequestedCredentials: creds,
		State:                RequestStateCreated,
		StateTimestamp:       now,
		StateCount:           1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// GetID returns the holder pid
func (r *HolderCredentialRequest) GetID() string {
	return r.ID
}

// IsTerminal reports whether the request reached ISSUED or ERROR
func (r *HolderCredentialRequest) IsTerminal() bool {
	return r.State.IsTerminal()
}

// Clone returns a deep copy of the request
func (r *HolderCredentialRequest) Clone() *HolderCredentialRequest {
	c := *r
	c.RequestedCredentials = append([]RequestedCredential(nil), r.RequestedCredentials...)
	return &c
}

// TransitionRequesting moves a CREATED request to REQUESTING
func (r *HolderCredentialRequest) TransitionRequesting(now time.Time) (*HolderCredentialRequest, error) {
	return r.transition(RequestStateRequesting, now, nil)
}

// TransitionRequested records the issuer pid acknowledging the request
func (r *HolderCredentialRequest) TransitionRequested(issuerPID string, now time.Time) (*HolderCredentialRequest, error) {
	if issuerPID == "" {
		return nil, fmt.Errorf("%w: issuer pid is required", ErrInvalidRequest)
	}
	return r.transition(RequestStateRequested, now, func(n *HolderCredentialRequest) {
		n.IssuerPID = issuerPID
	})
}

// TransitionIssued finalizes the request. An empty issuerPID keeps the one
// recorded at acknowledgement.
func (r *HolderCredentialRequest) TransitionIssued(issuerPID string, now time.Time) (*HolderCredentialRequest, error) {
	return r.transition(RequestStateIssued, now, func(n *HolderCredentialRequest) {
		if issuerPID != "" {
			n.IssuerPID = issuerPID
		}
	})
}

// TransitionError moves a non-terminal request to ERROR with the given detail
func (r *HolderCredentialRequest) TransitionError(detail string, now time.Time) (*HolderCredentialRequest, error) {
	return r.transition(RequestStateError, now, func(n *HolderCredentialRequest) {
		n.ErrorDetail = detail
	})
}

func (r *HolderCredentialRequest) transition(next RequestState, now time.Time, mutate func(*HolderCredentialRequest)) (*HolderCredentialRequest, error) {
	if !r.State.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.State, next)
	}

	n := r.Clone()
	if next == r.State {
		n.StateCount++
	} else {
		n.StateCount = 1
	}
	n.State = next
	// stateTimestamp never moves backwards, even with clock skew between workers
	if now.Before(r.StateTimestamp) {
		now = r.StateTimestamp
	}
	n.StateTimestamp = now
	n.UpdatedAt = now
	if mutate != nil {
		mutate(n)
	}
	return n, nil
}
