package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func membership() []RequestedCredential {
	return []RequestedCredential{{ID: "c1", CredentialType: "MembershipCredential", Format: FormatVC1JWT}}
}

func TestNewHolderCredentialRequest(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	req, err := NewHolderCredentialRequest("req-1", "p1", "did:web:issuer", membership(), now)
	require.NoError(t, err)
	assert.Equal(t, RequestStateCreated, req.State)
	assert.Equal(t, now, req.StateTimestamp)
	assert.Empty(t, req.IssuerPID)
	assert.Empty(t, req.ErrorDetail)
	assert.Equal(t, 1, req.StateCount)
}

func TestNewHolderCredentialRequest_Invalid(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name        string
		id          string
		participant string
		issuer      string
		requested   []RequestedCredential
	}{
		{"missing id", "", "p1", "did:web:issuer", membership()},
		{"missing participant", "req-1", "", "did:web:issuer", membership()},
		{"missing issuer", "req-1", "p1", "", membership()},
		{"no credentials", "req-1", "p1", "did:web:issuer", nil},
		{"bad format", "req-1", "p1", "did:web:issuer", []RequestedCredential{{CredentialType: "X", Format: "jwt"}}},
		{"no id or type", "req-1", "p1", "did:web:issuer", []RequestedCredential{{Format: FormatVC1JWT}}},
		{"id without type", "req-1", "p1", "did:web:issuer", []RequestedCredential{{ID: "c1", Format: FormatVC1JWT}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHolderCredentialRequest(tt.id, tt.participant, tt.issuer, tt.requested, now)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestTransitions_HappyPath(t *testing.T) {
	now := time.Now()
	created, err := NewHolderCredentialRequest("req-1", "p1", "did:web:issuer", membership(), now)
	require.NoError(t, err)

	requesting, err := created.TransitionRequesting(now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, RequestStateRequesting, requesting.State)
	assert.Equal(t, RequestStateCreated, created.State, "original snapshot must not change")

	requested, err := requesting.TransitionRequested("issuer-pid-42", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "issuer-pid-42", requested.IssuerPID)
	assert.Empty(t, requesting.IssuerPID)

	issued, err := requested.TransitionIssued("", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, RequestStateIssued, issued.State)
	assert.Equal(t, "issuer-pid-42", issued.IssuerPID)

	reissued, err := issued.TransitionIssued("issuer-pid-43", now.Add(4*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "issuer-pid-43", reissued.IssuerPID)
	assert.Equal(t, 2, reissued.StateCount)
}

func TestTransitions_Illegal(t *testing.T) {
	now := time.Now()
	created, err := NewHolderCredentialRequest("req-1", "p1", "did:web:issuer", membership(), now)
	require.NoError(t, err)

	_, err = created.TransitionRequested("pid", now)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = created.TransitionIssued("pid", now)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	failed, err := created.TransitionError("boom", now)
	require.NoError(t, err)
	assert.Equal(t, "boom", failed.ErrorDetail)

	for name, fn := range map[string]func() (*HolderCredentialRequest, error){
		"requesting": func() (*HolderCredentialRequest, error) { return failed.TransitionRequesting(now) },
		"requested":  func() (*HolderCredentialRequest, error) { return failed.TransitionRequested("pid", now) },
		"issued":     func() (*HolderCredentialRequest, error) { return failed.TransitionIssued("pid", now) },
		"error":      func() (*HolderCredentialRequest, error) { return failed.TransitionError("again", now) },
	} {
		t.Run("from error to "+name, func(t *testing.T) {
			_, err := fn()
			assert.True(t, errors.Is(err, ErrIllegalTransition))
		})
	}
}

func TestTransition_TimestampNeverGoesBack(t *testing.T) {
	now := time.Now()
	created, err := NewHolderCredentialRequest("req-1", "p1", "did:web:issuer", membership(), now)
	require.NoError(t, err)

	next, err := created.TransitionRequesting(now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, now, next.StateTimestamp)
}

func TestRequestState_JSON(t *testing.T) {
	data, err := json.Marshal(RequestStateRequested)
	require.NoError(t, err)
	assert.JSONEq(t, `"REQUESTED"`, string(data))

	var s RequestState
	require.NoError(t, json.Unmarshal([]byte(`"ERROR"`), &s))
	assert.Equal(t, RequestStateError, s)

	assert.Error(t, json.Unmarshal([]byte(`"DONE"`), &s))
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, ReasonBadRequest, ReasonOf(BadRequest("bad %s", "input")))
	assert.Equal(t, ReasonNotFound, ReasonOf(NotFound("missing")))
	assert.Equal(t, ReasonUnexpected, ReasonOf(errors.New("plain")))
	assert.Equal(t, "bad input", BadRequest("bad %s", "input").Error())
}
