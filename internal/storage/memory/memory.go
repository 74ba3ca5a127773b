package memory

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
)

// Store implements an in-memory storage
type Store struct {
	clock       clockwork.Clock
	txMu        *sync.Mutex
	requests    *HolderRequestStore
	credentials *CredentialStore
}

// Option configures the in-memory store
type Option func(*options)

type options struct {
	clock         clockwork.Clock
	leaseDuration time.Duration
	leaseHolder   string
}

// WithClock sets the clock used for timestamps and lease expiry
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLeaseDuration sets how long a lease stays valid
func WithLeaseDuration(d time.Duration) Option {
	return func(o *options) { o.leaseDuration = d }
}

// WithLeaseHolder sets the identity recorded on leases taken by this store
func WithLeaseHolder(holder string) Option {
	return func(o *options) { o.leaseHolder = holder }
}

// NewStore creates a new in-memory store
func NewStore(opts ...Option) *Store {
	o := &options{
		clock:         clockwork.NewRealClock(),
		leaseDuration: storage.DefaultLeaseDuration,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.leaseHolder == "" {
		o.leaseHolder = defaultLeaseHolder()
	}

	return &Store{
		clock: o.clock,
		txMu:  &sync.Mutex{},
		requests: &HolderRequestStore{
			table:         newRequestTable(),
			holder:        o.leaseHolder,
			leaseDuration: o.leaseDuration,
			clock:         o.clock,
		},
		credentials: &CredentialStore{
			data:  make(map[string]*domain.VerifiableCredentialResource),
			clock: o.clock,
		},
	}
}

func (s *Store) HolderRequests() storage.HolderRequestStore { return s.requests }
func (s *Store) Credentials() storage.CredentialStore       { return s.credentials }
func (s *Store) Close() error                               { return nil }
func (s *Store) Ping(ctx context.Context) error             { return nil }

// RunInTx runs fn in a transaction. Writes made through ctx are undone in
// reverse order when fn fails. Transactions are serialized.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := &tx{}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		t.rollback()
		return err
	}
	return nil
}

type txKey struct{}

// tx is an undo log of the writes made inside RunInTx
type tx struct {
	mu   sync.Mutex
	undo []func()
}

func txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// recordUndo registers fn to run on rollback when ctx carries a transaction
func recordUndo(ctx context.Context, fn func()) {
	if t := txFrom(ctx); t != nil {
		t.mu.Lock()
		t.undo = append(t.undo, fn)
		t.mu.Unlock()
	}
}

func (t *tx) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func defaultLeaseHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return host + ":" + uuid.NewString()
}
