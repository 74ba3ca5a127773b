package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/internal/domain"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
	"github.com/sirosfoundation/go-dcp-holder/internal/storage/memory"
)

type request = *domain.HolderCredentialRequest

func seed(t *testing.T, store *memory.Store, n int, state domain.RequestState) {
	t.Helper()
	for i := 0; i < n; i++ {
		req, err := domain.NewHolderCredentialRequest(fmt.Sprintf("%s-%d", state, i), "p1", "did:web:issuer",
			[]domain.RequestedCredential{{ID: "c1", CredentialType: "MembershipCredential", Format: domain.FormatVC1JWT}},
			time.Now().Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		req.State = state
		require.NoError(t, store.HolderRequests().Create(context.Background(), req))
	}
}

func newEngine(store *memory.Store, opts ...Option) *Engine[request] {
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	return New[request](store.HolderRequests(), opts...)
}

func TestEngine_TickProcessesBatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, 3, domain.RequestStateCreated)
	seed(t, store, 2, domain.RequestStateIssued)

	engine := newEngine(store, WithBatchSize(10))
	require.NoError(t, engine.Register(Processor[request]{
		Name:     "created",
		Criteria: []storage.Criterion{storage.StateIs(domain.RequestStateCreated)},
		Handler: func(ctx context.Context, req request) bool {
			next, err := req.TransitionRequesting(time.Now())
			if !assert.NoError(t, err) {
				return false
			}
			return assert.NoError(t, store.HolderRequests().Save(ctx, next))
		},
	}))

	n, err := engine.Tick(ctx, "created")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "terminal entities are not leased")

	n, err = engine.Tick(ctx, "created")
	require.NoError(t, err)
	assert.Zero(t, n)

	for i := 0; i < 3; i++ {
		req, err := store.HolderRequests().FindByID(ctx, fmt.Sprintf("CREATED-%d", i))
		require.NoError(t, err)
		assert.Equal(t, domain.RequestStateRequesting, req.State)
	}
}

func TestEngine_NotProcessedReleasesLease(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, 2, domain.RequestStateRequested)

	var calls atomic.Int32
	engine := newEngine(store)
	require.NoError(t, engine.Register(Processor[request]{
		Name:     "requested",
		Criteria: []storage.Criterion{storage.StateIs(domain.RequestStateRequested)},
		Handler: func(ctx context.Context, req request) bool {
			calls.Add(1)
			return false
		},
	}))

	for i := 0; i < 3; i++ {
		n, err := engine.Tick(ctx, "requested")
		require.NoError(t, err)
		assert.Equal(t, 2, n, "released entities are eligible again on the next tick")
	}
	assert.Equal(t, int32(6), calls.Load())
}

func TestEngine_PanicIsolation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, 4, domain.RequestStateCreated)

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	engine := newEngine(store, WithConcurrency(4), WithMetrics(metrics))
	require.NoError(t, engine.Register(Processor[request]{
		Name:     "created",
		Criteria: []storage.Criterion{storage.StateIs(domain.RequestStateCreated)},
		Handler: func(ctx context.Context, req request) bool {
			if req.ID == "CREATED-0" {
				panic("boom")
			}
			failed, err := req.TransitionError("done", time.Now())
			if !assert.NoError(t, err) {
				return false
			}
			return assert.NoError(t, store.HolderRequests().Save(ctx, failed))
		},
	}))

	n, err := engine.Tick(ctx, "created")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Entities.WithLabelValues("created", OutcomeProcessed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Entities.WithLabelValues("created", OutcomePanic)))

	batch, err := store.HolderRequests().NextNotLeased(ctx, 10, storage.StateIs(domain.RequestStateCreated))
	require.NoError(t, err)
	require.Len(t, batch, 1, "the panicking entity was released for retry")
	assert.Equal(t, "CREATED-0", batch[0].ID)
}

func TestEngine_ConcurrentTicksNeverShareEntities(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, 50, domain.RequestStateCreated)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	handler := func(ctx context.Context, req request) bool {
		mu.Lock()
		seen[req.ID]++
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return true
	}

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		engine := newEngine(store, WithBatchSize(4), WithConcurrency(2))
		require.NoError(t, engine.Register(Processor[request]{
			Name:     "created",
			Criteria: []storage.Criterion{storage.StateIs(domain.RequestStateCreated)},
			Handler:  handler,
		}))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n, err := engine.Tick(ctx, "created")
				if err != nil || n == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	for id, n := range seen {
		assert.Equal(t, 1, n, "entity %s handled twice", id)
	}
}

func TestEngine_Register(t *testing.T) {
	engine := newEngine(memory.NewStore())
	noop := func(ctx context.Context, req request) bool { return true }

	require.NoError(t, engine.Register(Processor[request]{Name: "a", Handler: noop}))
	assert.Error(t, engine.Register(Processor[request]{Name: "a", Handler: noop}))
	assert.Error(t, engine.Register(Processor[request]{Name: "b"}))

	_, err := engine.Tick(context.Background(), "missing")
	assert.Error(t, err)

	engine.Start()
	assert.Error(t, engine.Register(Processor[request]{Name: "c", Handler: noop}))
	require.NoError(t, engine.Stop(context.Background()))
}

func TestEngine_StartStop(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, 1, domain.RequestStateCreated)

	handled := make(chan string, 1)
	engine := newEngine(store, WithPollInterval(10*time.Millisecond))
	require.NoError(t, engine.Register(Processor[request]{
		Name:     "created",
		Criteria: []storage.Criterion{storage.StateIs(domain.RequestStateCreated)},
		Handler: func(ctx context.Context, req request) bool {
			failed, err := req.TransitionError("stop", time.Now())
			if err == nil {
				err = store.HolderRequests().Save(ctx, failed)
			}
			handled <- req.ID
			return err == nil
		},
	}))

	engine.Start()
	select {
	case id := <-handled:
		assert.Equal(t, "CREATED-0", id)
	case <-time.After(2 * time.Second):
		t.Fatal("processor never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, engine.Stop(ctx))
	require.NoError(t, engine.Stop(ctx), "stop is idempotent")
}
