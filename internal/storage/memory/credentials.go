package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
)

// CredentialStore implements in-memory credential storage
type CredentialStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.VerifiableCredentialResource
	clock clockwork.Clock
}

func cloneResource(res *domain.VerifiableCredentialResource) *domain.VerifiableCredentialResource {
	c := *res
	c.Metadata = maps.Clone(res.Metadata)
	c.Credential.Types = slices.Clone(res.Credential.Types)
	c.Credential.CredentialStatus = slices.Clone(res.Credential.CredentialStatus)
	return &c
}

func (s *CredentialStore) Create(ctx context.Context, res *domain.VerifiableCredentialResource) error {
	if res.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[res.ID]; exists {
		return storage.ErrAlreadyExists
	}

	now := s.clock.Now()
	res.CreatedAt = now
	res.UpdatedAt = now
	s.data[res.ID] = cloneResource(res)

	id := res.ID
	recordUndo(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.data, id)
	})
	return nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*domain.VerifiableCredentialResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneResource(res), nil
}

func (s *CredentialStore) ListByParticipant(ctx context.Context, participantContextID string) ([]*domain.VerifiableCredentialResource, error) {
	return s.list(func(res *domain.VerifiableCredentialResource) bool {
		return res.ParticipantContextID == participantContextID
	}), nil
}

func (s *CredentialStore) ListByStatus(ctx context.Context, statuses ...domain.VcStatus) ([]*domain.VerifiableCredentialResource, error) {
	return s.list(func(res *domain.VerifiableCredentialResource) bool {
		return slices.Contains(statuses, res.State)
	}), nil
}

func (s *CredentialStore) list(keep func(*domain.VerifiableCredentialResource) bool) []*domain.VerifiableCredentialResource {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.VerifiableCredentialResource
	for _, res := range s.data {
		if keep(res) {
			result = append(result, cloneResource(res))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func (s *CredentialStore) Update(ctx context.Context, res *domain.VerifiableCredentialResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.data[res.ID]
	if !exists {
		return storage.ErrNotFound
	}

	res.UpdatedAt = s.clock.Now()
	s.data[res.ID] = cloneResource(res)

	recordUndo(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.data[prev.ID] = prev
	})
	return nil
}
