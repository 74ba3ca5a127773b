package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/statuslist"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage/memory"
)

func resource(issued time.Time, expires *time.Time) *domain.VerifiableCredentialResource {
	return &domain.VerifiableCredentialResource{
		ID:                   "vc-1",
		ParticipantContextID: participantID,
		Format:               domain.FormatVC1JWT,
		State:                domain.VcStatusIssued,
		Credential: domain.VerifiableCredential{
			Types:          []string{"VerifiableCredential", "MembershipCredential"},
			Issuer:         issuerDID,
			IssuanceDate:   issued,
			ExpirationDate: expires,
		},
	}
}

func TestCredentialStatusEvaluator_Precedence(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
	now := clock.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		purpose string
		issued  time.Time
		expires *time.Time
		want    domain.VcStatus
	}{
		{"valid", "", past, &future, domain.VcStatusIssued},
		{"no expiry", "", past, nil, domain.VcStatusIssued},
		{"expired", "", past.Add(-time.Hour), &past, domain.VcStatusExpired},
		{"not yet valid", "", future, nil, domain.VcStatusNotYetValid},
		{"expiry beats not yet valid", "", future, &past, domain.VcStatusExpired},
		{"suspended", statuslist.PurposeSuspension, past, &future, domain.VcStatusSuspended},
		{"suspension beats expiry", statuslist.PurposeSuspension, past.Add(-time.Hour), &past, domain.VcStatusSuspended},
		{"revoked", statuslist.PurposeRevocation, past, &future, domain.VcStatusRevoked},
		{"revocation beats expiry", statuslist.PurposeRevocation, past.Add(-time.Hour), &past, domain.VcStatusRevoked},
		{"revocation beats not yet valid", statuslist.PurposeRevocation, future, nil, domain.VcStatusRevoked},
		{"expires exactly now", "", past, &now, domain.VcStatusIssued},
		{"issued exactly now", "", now, nil, domain.VcStatusIssued},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evaluator := NewCredentialStatusEvaluator(staticRevocation{purpose: tt.purpose}, clock)
			got, err := evaluator.Evaluate(context.Background(), resource(tt.issued, tt.expires))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCredentialStatusEvaluator_LookupFailure(t *testing.T) {
	evaluator := NewCredentialStatusEvaluator(staticRevocation{err: errors.New("status list unavailable")}, nil)
	_, err := evaluator.Evaluate(context.Background(), resource(time.Now().Add(-time.Hour), nil))
	assert.Error(t, err, "a failed lookup is never treated as valid")
}

func TestCredentialService_Status(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := memory.NewStore(memory.WithClock(clock))
	require.NoError(t, store.Credentials().Create(ctx, resource(clock.Now().Add(-time.Hour), nil)))

	svc := NewCredentialService(store, NewCredentialStatusEvaluator(staticRevocation{purpose: statuslist.PurposeRevocation}, clock), zap.NewNop())

	status, err := svc.Status(ctx, participantID, "vc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VcStatusRevoked, status)

	_, err = svc.Status(ctx, "p2", "vc-1")
	assert.Equal(t, domain.ReasonNotFound, domain.ReasonOf(err))

	_, err = svc.Status(ctx, participantID, "missing")
	assert.Equal(t, domain.ReasonNotFound, domain.ReasonOf(err))

	failing := NewCredentialService(store, NewCredentialStatusEvaluator(staticRevocation{err: errors.New("down")}, clock), zap.NewNop())
	_, err = failing.Status(ctx, participantID, "vc-1")
	assert.Equal(t, domain.ReasonUnexpected, domain.ReasonOf(err))

	list, err := svc.List(ctx, participantID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
