package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
)

type lease struct {
	token   string
	holder  string
	expires time.Time
}

func (l lease) activeAt(now time.Time) bool {
	return now.Before(l.expires)
}

// requestTable is shared by all peers of a store
type requestTable struct {
	mu     sync.Mutex
	data   map[string]*domain.HolderCredentialRequest
	leases map[string]lease
}

func newRequestTable() *requestTable {
	return &requestTable{
		data:   make(map[string]*domain.HolderCredentialRequest),
		leases: make(map[string]lease),
	}
}

// HolderRequestStore implements in-memory holder credential request storage
type HolderRequestStore struct {
	table         *requestTable
	holder        string
	leaseDuration time.Duration
	clock         clockwork.Clock
}

func (s *HolderRequestStore) Create(ctx context.Context, req *domain.HolderCredentialRequest) error {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.data[req.ID]; exists {
		return storage.ErrAlreadyExists
	}
	s.snapshot(ctx, req.ID)
	row := req.Clone()
	row.LeaseToken = ""
	t.data[req.ID] = row
	return nil
}

func (s *HolderRequestStore) FindByID(ctx context.Context, id string) (*domain.HolderCredentialRequest, error) {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return req.Clone(), nil
}

func (s *HolderRequestStore) FindByIDAndLease(ctx context.Context, id string) (*domain.HolderCredentialRequest, error) {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if l, leased := t.leases[id]; leased && l.activeAt(s.clock.Now()) {
		return nil, storage.ErrLeased
	}
	return s.acquire(ctx, req), nil
}

func (s *HolderRequestStore) NextNotLeased(ctx context.Context, limit int, criteria ...storage.Criterion) ([]*domain.HolderCredentialRequest, error) {
	if limit <= 0 {
		return nil, nil
	}
	for _, c := range criteria {
		if err := validateCriterion(c); err != nil {
			return nil, err
		}
	}

	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	now := s.clock.Now()
	candidates := make([]*domain.HolderCredentialRequest, 0)
	for id, req := range t.data {
		if l, leased := t.leases[id]; leased && l.activeAt(now) {
			continue
		}
		if matchesAll(req, criteria) {
			candidates = append(candidates, req)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].StateTimestamp.Before(candidates[j].StateTimestamp)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*domain.HolderCredentialRequest, 0, len(candidates))
	for _, req := range candidates {
		result = append(result, s.acquire(ctx, req))
	}
	return result, nil
}

func (s *HolderRequestStore) Update(ctx context.Context, req *domain.HolderCredentialRequest) error {
	return s.write(ctx, req, true)
}

func (s *HolderRequestStore) Save(ctx context.Context, req *domain.HolderCredentialRequest) error {
	return s.write(ctx, req, false)
}

func (s *HolderRequestStore) write(ctx context.Context, req *domain.HolderCredentialRequest, keepLease bool) error {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	stored, ok := t.data[req.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if err := s.checkLease(req); err != nil {
		return err
	}
	if stored.Version != req.Version {
		return storage.ErrStale
	}

	s.snapshot(ctx, req.ID)
	row := req.Clone()
	row.Version++
	row.LeaseToken = ""
	t.data[req.ID] = row
	req.Version = row.Version

	if keepLease {
		token := req.LeaseToken
		if token == "" {
			token = uuid.NewString()
		}
		t.leases[req.ID] = s.newLease(token)
		req.LeaseToken = token
	} else {
		delete(t.leases, req.ID)
	}
	return nil
}

func (s *HolderRequestStore) BreakLease(ctx context.Context, req *domain.HolderCredentialRequest) error {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.data[req.ID]; !ok {
		return storage.ErrNotFound
	}
	if err := s.checkLease(req); err != nil {
		return err
	}
	s.snapshot(ctx, req.ID)
	delete(t.leases, req.ID)
	return nil
}

// acquire records a fresh lease on req and returns a copy carrying its token.
// Caller holds the lock.
func (s *HolderRequestStore) acquire(ctx context.Context, req *domain.HolderCredentialRequest) *domain.HolderCredentialRequest {
	s.snapshot(ctx, req.ID)
	l := s.newLease(uuid.NewString())
	s.table.leases[req.ID] = l

	c := req.Clone()
	c.LeaseToken = l.token
	return c
}

// checkLease fails unless req carries the token of the recorded lease, or
// carries none and no lease is active. Caller holds the lock.
func (s *HolderRequestStore) checkLease(req *domain.HolderCredentialRequest) error {
	l, ok := s.table.leases[req.ID]
	if req.LeaseToken != "" {
		if !ok || l.token != req.LeaseToken {
			return storage.ErrLeased
		}
		return nil
	}
	if ok && l.activeAt(s.clock.Now()) {
		return storage.ErrLeased
	}
	return nil
}

func (s *HolderRequestStore) newLease(token string) lease {
	return lease{token: token, holder: s.holder, expires: s.clock.Now().Add(s.leaseDuration)}
}

// snapshot records the current row and lease for rollback. Caller holds the lock.
func (s *HolderRequestStore) snapshot(ctx context.Context, id string) {
	if txFrom(ctx) == nil {
		return
	}
	t := s.table
	prev, hadPrev := t.data[id]
	if hadPrev {
		prev = prev.Clone()
	}
	prevLease, hadLease := t.leases[id]

	recordUndo(ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if hadPrev {
			t.data[id] = prev
		} else {
			delete(t.data, id)
		}
		if hadLease {
			t.leases[id] = prevLease
		} else {
			delete(t.leases, id)
		}
	})
}

func validateCriterion(c storage.Criterion) error {
	switch c.Field {
	case storage.FieldState, storage.FieldParticipant, storage.FieldIssuerDID:
	default:
		return fmt.Errorf("%w: unsupported criterion %s", storage.ErrInvalidInput, c)
	}
	if c.Operator != storage.OpEqual && c.Operator != storage.OpIn {
		return fmt.Errorf("%w: unsupported operator %s", storage.ErrInvalidInput, c)
	}
	return nil
}

func matchesAll(req *domain.HolderCredentialRequest, criteria []storage.Criterion) bool {
	for _, c := range criteria {
		if !matches(req, c) {
			return false
		}
	}
	return true
}

func matches(req *domain.HolderCredentialRequest, c storage.Criterion) bool {
	switch c.Field {
	case storage.FieldState:
		switch v := c.Value.(type) {
		case domain.RequestState:
			return req.State == v
		case []domain.RequestState:
			return slices.Contains(v, req.State)
		}
	case storage.FieldParticipant:
		return req.ParticipantContextID == c.Value
	case storage.FieldIssuerDID:
		return req.IssuerDID == c.Value
	}
	return false
}
