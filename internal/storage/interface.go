package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrLeased        = errors.New("entity is leased by another holder")
	ErrStale         = errors.New("entity was modified since it was read")
)

// DefaultLeaseDuration is used when a store is created without an explicit lease duration
const DefaultLeaseDuration = 60 * time.Second

// Criterion operators
const (
	OpEqual = "="
	OpIn    = "in"
)

// Criterion fields understood by every store implementation
const (
	FieldState       = "state"
	FieldParticipant = "participantContextId"
	FieldIssuerDID   = "issuerDid"
)

// Criterion is a single filter predicate for NextNotLeased
type Criterion struct {
	Field    string
	Operator string
	Value    any
}

func (c Criterion) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
}

// StateIs matches requests in any of the given states
func StateIs(states ...domain.RequestState) Criterion {
	if len(states) == 1 {
		return Criterion{Field: FieldState, Operator: OpEqual, Value: states[0]}
	}
	return Criterion{Field: FieldState, Operator: OpIn, Value: states}
}

// ParticipantIs matches requests owned by a participant context
func ParticipantIs(participantContextID string) Criterion {
	return Criterion{Field: FieldParticipant, Operator: OpEqual, Value: participantContextID}
}

// HolderRequestStore defines the interface for holder credential request storage.
//
// Every lease acquisition issues its own token, returned on the snapshot as
// LeaseToken. A lease is exclusive while unexpired: no other acquisition
// succeeds, not even through the same store value. Writes must carry the
// token of the current lease (or no token when the entity is not leased)
// and the Version that was read; otherwise they fail with ErrLeased or
// ErrStale.
type HolderRequestStore interface {
	// Create persists a new request, failing with ErrAlreadyExists on a duplicate id
	Create(ctx context.Context, req *domain.HolderCredentialRequest) error

	// FindByID retrieves a request without leasing it
	FindByID(ctx context.Context, id string) (*domain.HolderCredentialRequest, error)

	// FindByIDAndLease retrieves a request and leases it, failing with ErrLeased
	// while any unexpired lease exists
	FindByIDAndLease(ctx context.Context, id string) (*domain.HolderCredentialRequest, error)

	// NextNotLeased atomically leases up to limit requests matching all criteria,
	// oldest state timestamp first. Concurrent callers never receive the same request.
	NextNotLeased(ctx context.Context, limit int, criteria ...Criterion) ([]*domain.HolderCredentialRequest, error)

	// Update persists the request and renews the caller's lease. On success
	// req.Version and req.LeaseToken reflect the stored row.
	Update(ctx context.Context, req *domain.HolderCredentialRequest) error

	// Save persists the request and releases the caller's lease. On success
	// req.Version reflects the stored row.
	Save(ctx context.Context, req *domain.HolderCredentialRequest) error

	// BreakLease releases the lease req was read under
	BreakLease(ctx context.Context, req *domain.HolderCredentialRequest) error
}

// CredentialStore defines the interface for verifiable credential storage
type CredentialStore interface {
	// Create stores a new credential resource
	Create(ctx context.Context, res *domain.VerifiableCredentialResource) error

	// FindByID retrieves a credential resource by ID
	FindByID(ctx context.Context, id string) (*domain.VerifiableCredentialResource, error)

	// ListByParticipant returns all credentials of a participant context
	ListByParticipant(ctx context.Context, participantContextID string) ([]*domain.VerifiableCredentialResource, error)

	// ListByStatus returns credentials in any of the given states
	ListByStatus(ctx context.Context, statuses ...domain.VcStatus) ([]*domain.VerifiableCredentialResource, error)

	// Update replaces a credential resource
	Update(ctx context.Context, res *domain.VerifiableCredentialResource) error
}

// Transactor runs a function in an all-or-nothing scope. Store calls made with
// the context passed to fn take part in the transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store aggregates all storage interfaces
type Store interface {
	Transactor

	HolderRequests() HolderRequestStore
	Credentials() CredentialStore

	// Close closes the storage connection
	Close() error

	// Ping checks the storage connection
	Ping(ctx context.Context) error
}
