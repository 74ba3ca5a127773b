// Package poller implements a lease-based polling engine. Each registered
// processor runs its own ticker loop, leases a bounded batch of matching
// entities from the store and hands each one to a handler. Entities the
// handler reports as not processed have their lease released so a later
// tick can retry them; leases that are never released expire in the store.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/go-dcp-holder/internal/storage"
)

// Entity is anything the engine can lease
type Entity interface {
	GetID() string
}

// Source is the lease-aware store the engine pulls work from. BreakLease
// receives the entity exactly as NextNotLeased returned it.
type Source[T Entity] interface {
	NextNotLeased(ctx context.Context, limit int, criteria ...storage.Criterion) ([]T, error)
	BreakLease(ctx context.Context, entity T) error
}

// Handler handles one leased entity. It returns true when it persisted a new
// state (which releases the lease) and false when the entity should be
// retried later without a state change.
type Handler[T Entity] func(ctx context.Context, entity T) bool

// Processor binds a filter to a handler
type Processor[T Entity] struct {
	Name     string
	Criteria []storage.Criterion
	// BatchSize overrides the engine default when positive
	BatchSize int
	// Interval overrides the engine poll interval when positive
	Interval time.Duration
	Handler  Handler[T]
}

// Option configures the Engine.
type Option func(*settings)

type settings struct {
	batchSize    int
	pollInterval time.Duration
	concurrency  int
	metrics      *Metrics
	tracer       trace.Tracer
	logger       *zap.Logger
}

// WithBatchSize sets the default number of entities leased per tick.
func WithBatchSize(size int) Option {
	return func(s *settings) {
		s.batchSize = size
	}
}

// WithPollInterval sets the default interval between ticks.
func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) {
		s.pollInterval = interval
	}
}

// WithConcurrency limits how many handlers of one batch run at once.
func WithConcurrency(n int) Option {
	return func(s *settings) {
		s.concurrency = n
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithTracer sets the OpenTelemetry tracer used for per-entity spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *settings) {
		s.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// Engine runs registered processors against a Source.
type Engine[T Entity] struct {
	source     Source[T]
	settings   settings
	processors []Processor[T]

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new polling engine.
func New[T Entity](source Source[T], opts ...Option) *Engine[T] {
	s := settings{
		batchSize:    5,
		pollInterval: time.Second,
		concurrency:  1,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/sirosfoundation/go-dcp-holder/internal/poller")
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}

	return &Engine[T]{
		source:   source,
		settings: s,
	}
}

// Register adds a processor. Processors must be registered before Start.
func (e *Engine[T]) Register(p Processor[T]) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errors.New("engine already started")
	}
	if p.Name == "" || p.Handler == nil {
		return errors.New("processor needs a name and a handler")
	}
	for _, existing := range e.processors {
		if existing.Name == p.Name {
			return fmt.Errorf("processor %q already registered", p.Name)
		}
	}
	e.processors = append(e.processors, p)
	return nil
}

// Start launches one polling loop per processor.
func (e *Engine[T]) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(context.Background())

	for _, p := range e.processors {
		e.wg.Add(1)
		go e.run(p)
	}

	e.settings.logger.Info("Polling engine started", zap.Int("processors", len(e.processors)))
}

// Stop stops all loops and waits for in-flight ticks to finish or ctx to expire.
func (e *Engine[T]) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.cancel()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.settings.logger.Info("Polling engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("polling engine did not stop in time: %w", ctx.Err())
	}
}

// Tick runs a single tick of the named processor and returns the number of
// entities it leased.
func (e *Engine[T]) Tick(ctx context.Context, name string) (int, error) {
	for _, p := range e.processors {
		if p.Name == name {
			return e.tick(ctx, p)
		}
	}
	return 0, fmt.Errorf("unknown processor %q", name)
}

func (e *Engine[T]) run(p Processor[T]) {
	defer e.wg.Done()

	interval := e.settings.pollInterval
	if p.Interval > 0 {
		interval = p.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			// handlers must not observe shutdown as a transport failure
			if _, err := e.tick(context.WithoutCancel(e.ctx), p); err != nil {
				e.settings.logger.Warn("Polling tick failed",
					zap.String("processor", p.Name), zap.Error(err))
			}
		}
	}
}

func (e *Engine[T]) tick(ctx context.Context, p Processor[T]) (int, error) {
	start := time.Now()
	defer func() { e.settings.metrics.observeTick(p.Name, time.Since(start)) }()

	limit := e.settings.batchSize
	if p.BatchSize > 0 {
		limit = p.BatchSize
	}

	batch, err := e.source.NextNotLeased(ctx, limit, p.Criteria...)
	if err != nil {
		e.settings.metrics.incFetchFailure(p.Name)
		return 0, fmt.Errorf("failed to lease batch: %w", err)
	}
	e.settings.metrics.observeBatch(p.Name, len(batch))
	if len(batch) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(e.settings.concurrency)
	for _, entity := range batch {
		g.Go(func() error {
			e.process(ctx, p, entity)
			return nil
		})
	}
	_ = g.Wait()

	return len(batch), nil
}

// process runs the handler for one entity and releases the lease unless the
// handler reports success.
func (e *Engine[T]) process(ctx context.Context, p Processor[T], entity T) {
	id := entity.GetID()
	ctx, span := e.settings.tracer.Start(ctx, "poller."+p.Name,
		trace.WithAttributes(attribute.String("entity.id", id)))
	defer span.End()

	start := time.Now()
	processed, panicked := e.invoke(ctx, p, entity)

	outcome := OutcomeProcessed
	switch {
	case panicked:
		outcome = OutcomePanic
		span.SetStatus(codes.Error, "handler panicked")
	case !processed:
		outcome = OutcomeReleased
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	e.settings.metrics.observeEntity(p.Name, outcome, time.Since(start))

	if processed {
		return
	}
	if err := e.source.BreakLease(ctx, entity); err != nil {
		e.settings.metrics.incLeaseFailure(p.Name)
		e.settings.logger.Warn("Failed to release lease",
			zap.String("processor", p.Name),
			zap.String("id", id),
			zap.Error(err))
	}
}

func (e *Engine[T]) invoke(ctx context.Context, p Processor[T], entity T) (processed, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			e.settings.logger.Error("Processor handler panicked",
				zap.String("processor", p.Name),
				zap.String("id", entity.GetID()),
				zap.Any("panic", r))
			processed, panicked = false, true
		}
	}()
	return p.Handler(ctx, entity), false
}
